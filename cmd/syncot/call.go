package main

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/SyncOT/SyncOT-sub002/internal/errors"
	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
	"github.com/SyncOT/SyncOT-sub002/pkg/transport"
)

func callCmd() *cobra.Command {
	var (
		timeout time.Duration
		raw     bool
		indent  bool
	)

	cmd := &cobra.Command{
		Use:   "call <url> <service> <request> [args...]",
		Short: "Call a request on a remote service",
		Long: `Connect to a SyncOT WebSocket endpoint, send one request and print the
reply as JSON.

Arguments are parsed as JSON; arguments that are not valid JSON are sent as
strings. When the reply is a stream, every item is printed on its own line
until the stream ends.`,
		Example: `  syncot call ws://localhost:8080/sync echo ping
  syncot call ws://localhost:8080/sync echo echo '{"a":1}' 2 three
  syncot call --raw ws://localhost:8080/sync objects get notes.txt`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			reqArgs := make([]any, 0, len(args)-3)
			for _, a := range args[3:] {
				reqArgs = append(reqArgs, parseArg(a))
			}
			return runCall(ctx, cmd.OutOrStdout(), args[0], args[1], args[2], reqArgs, callOutput{raw: raw, indent: indent})
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Give up after this long")
	cmd.Flags().BoolVar(&raw, "raw", false, "Write binary stream items as raw bytes")
	cmd.Flags().BoolVarP(&indent, "indent", "i", false, "Indent the JSON output")

	return cmd
}

type callOutput struct {
	raw    bool
	indent bool
}

func (o callOutput) write(w io.Writer, v any) error {
	if b, ok := v.([]byte); ok && o.raw {
		_, err := w.Write(b)
		return err
	}
	return writeJSON(w, v, o.indent)
}

func runCall(ctx context.Context, w io.Writer, url, service, request string, args []any, out callOutput) error {
	ch, err := transport.DialWebSocket(ctx, url, nil)
	if err != nil {
		return errors.New("E140").WithSuggestion("Check that 'syncot serve' is running at " + url).Wrap(err)
	}

	conn := connection.New()
	defer conn.Destroy()
	p, err := conn.RegisterProxy(connection.ProxyDescriptor{Name: service, Requests: []string{request}})
	if err != nil {
		ch.Close()
		return errors.New("E120").Wrap(err)
	}
	if err := conn.Connect(ch); err != nil {
		ch.Close()
		return errors.New("E140").Wrap(err)
	}

	res := p.Invoke(request, args...)
	if err := res.Wait(ctx); err != nil {
		return callError(err)
	}

	s := res.Stream()
	if s == nil {
		return out.write(w, res.Value())
	}
	defer s.Destroy(nil)
	for {
		v, err := s.Read(ctx)
		if err == io.EOF {
			s.End()
			return nil
		}
		if err != nil {
			return callError(err)
		}
		if err := out.write(w, v); err != nil {
			return err
		}
	}
}

func callError(err error) error {
	var re *connection.RemoteError
	switch {
	case stderrors.As(err, &re) && !stderrors.Is(err, connection.ErrDisconnected):
		return errors.New("E170").WithDetail(re.Name + ": " + re.Message)
	case stderrors.Is(err, connection.ErrDisconnected), stderrors.Is(err, context.DeadlineExceeded):
		return errors.New("E142").Wrap(err)
	default:
		return errors.New("E170").Wrap(err)
	}
}
