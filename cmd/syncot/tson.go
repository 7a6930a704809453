package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/SyncOT/SyncOT-sub002/internal/errors"
	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

func tsonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tson",
		Short: "Convert between JSON and TSON",
	}
	cmd.AddCommand(tsonEncodeCmd(), tsonDecodeCmd())
	return cmd
}

func tsonEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <json>",
		Short: "Encode a JSON value as TSON and print it in hex",
		Example: `  syncot tson encode '{"a":[1,2.5,"x"]}'
  syncot tson encode null`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseJSONValue(args[0])
			if err != nil {
				return errors.New("E121").Wrap(err)
			}
			data, err := tson.Encode(v)
			if err != nil {
				return errors.New("E160").Wrap(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
			return nil
		},
	}
}

func tsonDecodeCmd() *cobra.Command {
	var indent bool

	cmd := &cobra.Command{
		Use:     "decode <hex>",
		Short:   "Decode hex TSON and print it as JSON",
		Example: `  syncot tson decode 12010c01610301`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Map(func(r rune) rune {
				if unicode.IsSpace(r) {
					return -1
				}
				return r
			}, strings.Join(args, ""))

			data, err := hex.DecodeString(input)
			if err != nil {
				return errors.New("E122").Wrap(err)
			}
			v, err := tson.DecodeOrdered(data)
			if err != nil {
				return errors.New("E161").Wrap(err)
			}
			return writeJSON(cmd.OutOrStdout(), v, indent)
		},
	}

	cmd.Flags().BoolVarP(&indent, "indent", "i", false, "Indent the JSON output")

	return cmd
}
