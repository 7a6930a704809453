package connection

import (
	"context"
	"io"
	"sync"
)

// streamSink connects a stream to the connection carrying it.
type streamSink interface {
	data(v any) error
	end() error
	destroy(err error)
	closed()
}

// Stream is a duplex stream of values multiplexed over a connection under
// one request id.
//
// A service opens a stream by returning a *Stream from a request method; the
// proxy receives the other end as the request's result. Values written on one
// end are read on the other in order. Ending the output delivers io.EOF to
// the remote reader. Destroying either end destroys both. A stream closes
// exactly once: when destroyed or when both directions have ended.
type Stream struct {
	// sendMu orders outgoing traffic; it is held while a message is handed
	// to the connection.
	sendMu sync.Mutex

	mu        sync.Mutex
	sink      streamSink
	buffered  []any // outgoing values written before the stream was attached
	endQueued bool
	in        []any
	limit     int
	inEnded   bool
	outEnded  bool
	destroyed bool
	closed    bool
	err       error
	ready     chan struct{}
	done      chan struct{}
}

// NewStream creates an open stream that is not yet attached to a
// connection. Writes are buffered until it is.
func NewStream() *Stream {
	return &Stream{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Write sends v to the remote end. Writing nil is a no-op.
func (s *Stream) Write(v any) error {
	if v == nil {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	sink := s.sink
	if sink == nil {
		s.buffered = append(s.buffered, v)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return sink.data(v)
}

// End finishes the output direction. The remote reader sees io.EOF after the
// values written so far.
func (s *Stream) End() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.outEnded = true
	sink := s.sink
	if sink == nil {
		s.endQueued = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := sink.end()
	s.mu.Lock()
	s.maybeCloseLocked()
	s.mu.Unlock()
	return err
}

func (s *Stream) writableLocked() error {
	switch {
	case s.destroyed:
		return s.errLocked()
	case s.outEnded:
		return ErrStreamEnded
	}
	return nil
}

func (s *Stream) errLocked() error {
	if s.err != nil {
		return s.err
	}
	return ErrStreamDestroyed
}

// Read returns the next value from the remote end. It returns io.EOF after
// the remote end finished its output, and the destroy error (or
// ErrStreamDestroyed) once the stream is destroyed.
func (s *Stream) Read(ctx context.Context) (any, error) {
	for {
		s.mu.Lock()
		if s.destroyed {
			err := s.errLocked()
			s.mu.Unlock()
			return nil, err
		}
		if len(s.in) > 0 {
			v := s.in[0]
			s.in[0] = nil
			s.in = s.in[1:]
			s.mu.Unlock()
			return v, nil
		}
		if s.inEnded {
			s.mu.Unlock()
			return nil, io.EOF
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Recv is Read without a deadline.
func (s *Stream) Recv() (any, error) {
	return s.Read(context.Background())
}

// Destroy tears the stream down and tells the remote end to do the same.
// err, which may be nil, is reported to readers on both ends.
func (s *Stream) Destroy(err error) {
	s.mu.Lock()
	if s.destroyed || s.closed {
		s.mu.Unlock()
		return
	}
	s.markDestroyedLocked(err)
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		s.sendMu.Lock()
		sink.destroy(err)
		s.sendMu.Unlock()
		sink.closed()
	}
}

// Done is closed when the stream closes.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the stream was destroyed with, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Destroyed reports whether the stream was destroyed.
func (s *Stream) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Usable reports whether the stream is open in both directions.
func (s *Stream) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.destroyed && !s.closed && !s.inEnded && !s.outEnded
}

func (s *Stream) markDestroyedLocked(err error) {
	s.destroyed = true
	s.err = err
	s.in = nil
	s.buffered = nil
	s.wakeLocked()
	s.closeLocked()
}

func (s *Stream) wakeLocked() {
	close(s.ready)
	s.ready = make(chan struct{})
}

func (s *Stream) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// maybeCloseLocked closes the stream once both directions have ended and
// reports whether it did.
func (s *Stream) maybeCloseLocked() bool {
	if s.closed || s.destroyed || !s.inEnded || !s.outEnded || s.sink == nil {
		return false
	}
	s.closeLocked()
	sink := s.sink
	s.mu.Unlock()
	sink.closed()
	s.mu.Lock()
	return true
}

// attach binds the stream to a connection. open runs first, then buffered
// writes are flushed, all before any concurrent Write proceeds.
func (s *Stream) attach(sink streamSink, open func() error, limit int) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.sink != nil || s.destroyed || s.closed {
		s.mu.Unlock()
		return ErrInvalidStream
	}
	s.sink = sink
	s.limit = limit
	buffered, endQueued := s.buffered, s.endQueued
	s.buffered, s.endQueued = nil, false
	s.mu.Unlock()

	if open != nil {
		if err := open(); err != nil {
			return err
		}
	}
	for _, v := range buffered {
		if err := sink.data(v); err != nil {
			return err
		}
	}
	if endQueued {
		if err := sink.end(); err != nil {
			return err
		}
		s.mu.Lock()
		s.maybeCloseLocked()
		s.mu.Unlock()
	}
	return nil
}

// push delivers a value received from the remote end.
func (s *Stream) push(v any) {
	s.mu.Lock()
	if s.destroyed || s.closed || s.inEnded {
		s.mu.Unlock()
		return
	}
	if s.limit > 0 && len(s.in) >= s.limit {
		s.mu.Unlock()
		s.Destroy(ErrStreamOverflow)
		return
	}
	s.in = append(s.in, v)
	s.wakeLocked()
	s.mu.Unlock()
}

// pushEnd records that the remote end finished its output.
func (s *Stream) pushEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.closed || s.inEnded {
		return
	}
	s.inEnded = true
	s.wakeLocked()
	s.maybeCloseLocked()
}

// destroyRemote destroys the stream without notifying the remote end, which
// either asked for it or is gone.
func (s *Stream) destroyRemote(err error) {
	s.mu.Lock()
	if s.destroyed || s.closed {
		s.mu.Unlock()
		return
	}
	s.markDestroyedLocked(err)
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.closed()
	}
}
