// Package echo provides a small demonstration service.
//
// The service answers requests with their own arguments, streams input back
// to its sender and re-broadcasts messages as events. The CLI registers it on
// every connection it serves, which makes it handy for checking a deployment
// with `syncot call`.
package echo

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

// Name is the name the service registers under.
const Name = "echo"

// EventMessage is emitted by the broadcast request.
const EventMessage = "message"

// ErrorName is the wire name of errors returned by the fail request.
const ErrorName = "EchoError"

// Requests lists the requests the service answers.
var Requests = []string{"echo", "ping", "fail", "pipe", "broadcast"}

// Events lists the events the service emits.
var Events = []string{EventMessage}

// Service implements the echo requests.
type Service struct {
	conn *connection.Connection
	log  zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// New creates an echo service that emits events on conn.
func New(conn *connection.Connection, opts ...Option) *Service {
	s := &Service{conn: conn, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the service and registers it on conn.
func Register(conn *connection.Connection, opts ...Option) (*Service, error) {
	s := New(conn, opts...)
	if err := conn.RegisterService(s.Descriptor()); err != nil {
		return nil, err
	}
	return s, nil
}

// Descriptor returns the service descriptor for registration.
func (s *Service) Descriptor() connection.Service {
	return connection.Service{
		Name:     Name,
		Requests: Requests,
		Events:   Events,
		Instance: s,
	}
}

// Echo returns its arguments.
func (s *Service) Echo(args ...any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

// Ping returns "pong".
func (s *Service) Ping() string {
	return "pong"
}

// Fail returns an error carrying message.
func (s *Service) Fail(message string) error {
	return tson.NewError(ErrorName, message)
}

// Broadcast emits message as an event and reports the number of bytes sent.
func (s *Service) Broadcast(message string) (int, error) {
	if err := s.conn.Emit(Name, EventMessage, message); err != nil {
		return 0, err
	}
	return len(message), nil
}

// Pipe returns a stream that writes back every item it receives and ends
// when its input ends.
func (s *Service) Pipe() *connection.Stream {
	stream := connection.NewStream()
	go s.pump(stream)
	return stream
}

func (s *Service) pump(stream *connection.Stream) {
	n := 0
	for {
		v, err := stream.Recv()
		if err == io.EOF {
			s.log.Debug().Int("items", n).Msg("echo pipe input ended")
			stream.End()
			return
		}
		if err != nil {
			s.log.Debug().Err(err).Int("items", n).Msg("echo pipe destroyed")
			return
		}
		if err := stream.Write(v); err != nil {
			s.log.Warn().Err(err).Msg("echo pipe write failed")
			stream.Destroy(err)
			return
		}
		n++
	}
}
