package transport

import (
	"io"
	"sync"

	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
)

// pipe is the state shared by both ends of a Pipe.
type pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues [2][][]byte
	closed bool
}

// PipeChannel is one end of an in-memory channel pair. Messages are encoded
// on Send and decoded on Receive, so values cross the pipe exactly as they
// would cross a network.
type PipeChannel struct {
	p    *pipe
	side int
}

// Pipe returns the two connected ends of an in-memory channel. Sends never
// block. Closing either end closes both; messages already queued can still
// be received by the other end.
func Pipe() (*PipeChannel, *PipeChannel) {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mu)
	return &PipeChannel{p: p, side: 0}, &PipeChannel{p: p, side: 1}
}

// Send encodes msg and queues it for the other end.
func (c *PipeChannel) Send(msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if c.p.closed {
		return ErrClosed
	}
	peer := 1 - c.side
	c.p.queues[peer] = append(c.p.queues[peer], data)
	c.p.cond.Broadcast()
	return nil
}

// Receive returns the next message sent by the other end.
func (c *PipeChannel) Receive() (protocol.Message, error) {
	c.p.mu.Lock()
	for len(c.p.queues[c.side]) == 0 && !c.p.closed {
		c.p.cond.Wait()
	}
	q := c.p.queues[c.side]
	if len(q) == 0 {
		c.p.mu.Unlock()
		return protocol.Message{}, io.EOF
	}
	data := q[0]
	q[0] = nil
	c.p.queues[c.side] = q[1:]
	c.p.mu.Unlock()

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return protocol.Message{}, decodeError(err)
	}
	return msg, nil
}

// Close closes both ends.
func (c *PipeChannel) Close() error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if !c.p.closed {
		c.p.closed = true
		c.p.cond.Broadcast()
	}
	return nil
}

// Usable reports whether the pipe is open.
func (c *PipeChannel) Usable() bool {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return !c.p.closed
}

// Inject queues raw encoded bytes for this end to receive, as if the other
// end had sent them. It is meant for exercising decode failures.
func (c *PipeChannel) Inject(data []byte) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.queues[c.side] = append(c.p.queues[c.side], append([]byte(nil), data...))
	c.p.cond.Broadcast()
}
