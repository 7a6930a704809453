package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
)

// StreamOptions configures a StreamChannel.
type StreamOptions struct {
	// MaxMessageSize bounds received frames. Zero means
	// protocol.DefaultMaxFrameSize.
	MaxMessageSize int

	// ReadBufferSize sizes the buffered reader. Zero means 4096.
	ReadBufferSize int
}

// StreamChannel carries length-prefixed TSON frames over a byte stream such
// as a TCP connection.
type StreamChannel struct {
	rwc     io.ReadWriteCloser
	r       *bufio.Reader
	maxSize int

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
	err    error
}

// NewStreamChannel wraps rwc.
func NewStreamChannel(rwc io.ReadWriteCloser, opts StreamOptions) *StreamChannel {
	size := opts.ReadBufferSize
	if size <= 0 {
		size = 4096
	}
	max := opts.MaxMessageSize
	if max <= 0 {
		max = protocol.DefaultMaxFrameSize
	}
	return &StreamChannel{rwc: rwc, r: bufio.NewReaderSize(rwc, size), maxSize: max}
}

// Send writes msg as one frame.
func (c *StreamChannel) Send(msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	frame := protocol.AppendFrame(make([]byte, 0, protocol.FrameHeaderSize+len(data)), data)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if _, err := c.rwc.Write(frame); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive reads the next frame. It returns io.EOF when the stream ends
// between frames or the channel was closed.
func (c *StreamChannel) Receive() (protocol.Message, error) {
	payload, err := protocol.ReadFrame(c.r, c.maxSize)
	if err != nil {
		if c.closed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return protocol.Message{}, io.EOF
		}
		return protocol.Message{}, err
	}
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		return protocol.Message{}, decodeError(err)
	}
	return msg, nil
}

// Close closes the underlying stream.
func (c *StreamChannel) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.err = c.rwc.Close()
	})
	return c.err
}

// Usable reports whether Close has not been called.
func (c *StreamChannel) Usable() bool {
	return !c.closed.Load()
}
