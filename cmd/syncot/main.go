// Command syncot serves and calls SyncOT services over WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SyncOT/SyncOT-sub002/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔═╗┬ ┬┌┐┌┌─┐╔═╗╔╦╗
  ╚═╗└┬┘││││  ║ ║ ║
  ╚═╝ ┴ ┘└┘└─┘╚═╝ ╩
`

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncot",
		Short: "Serve and call SyncOT services",
		Long: `syncot runs SyncOT services over WebSocket and talks to them.

Services exchange TSON-encoded messages over a single connection:

  • Requests with value or error replies
  • Bidirectional streams
  • Events pushed from services to proxies`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		callCmd(),
		tsonCmd(),
		configCmd(),
		versionCmd(),
	)
	return cmd
}

// printBanner prints the ASCII art banner.
func printBanner(cmd *cobra.Command) {
	fmt.Fprint(cmd.OutOrStdout(), banner)
}

// success prints a success message.
func success(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", fmt.Sprintf(format, args...))
}
