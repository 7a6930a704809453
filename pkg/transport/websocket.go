package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
)

// WebSocketConfig holds websocket channel settings.
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	CheckOrigin     func(r *http.Request) bool
}

// DefaultWebSocketConfig returns a WebSocketConfig with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  protocol.DefaultMaxFrameSize,
		WriteTimeout:    10 * time.Second,
	}
}

// WebSocketOption configures a WebSocketConfig.
type WebSocketOption func(*WebSocketConfig)

// WithBufferSizes sets the read and write buffer sizes.
func WithBufferSizes(read, write int) WebSocketOption {
	return func(c *WebSocketConfig) {
		c.ReadBufferSize = read
		c.WriteBufferSize = write
	}
}

// WithMaxMessageSize sets the largest message accepted from the peer.
func WithMaxMessageSize(n int64) WebSocketOption {
	return func(c *WebSocketConfig) {
		c.MaxMessageSize = n
	}
}

// WithWriteTimeout sets the deadline applied to each write.
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(c *WebSocketConfig) {
		c.WriteTimeout = d
	}
}

// WithCheckOrigin sets the origin check used by Upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(c *WebSocketConfig) {
		c.CheckOrigin = fn
	}
}

func newWebSocketConfig(opts []WebSocketOption) WebSocketConfig {
	cfg := DefaultWebSocketConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Upgrader returns a websocket upgrader configured by opts.
func Upgrader(opts ...WebSocketOption) *websocket.Upgrader {
	cfg := newWebSocketConfig(opts)
	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}
}

// WebSocketChannel sends each message as one binary websocket message.
type WebSocketChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
	err    error
}

// NewWebSocketChannel wraps an established websocket connection.
func NewWebSocketChannel(conn *websocket.Conn, opts ...WebSocketOption) *WebSocketChannel {
	cfg := newWebSocketConfig(opts)
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &WebSocketChannel{conn: conn, writeTimeout: cfg.WriteTimeout}
}

// DialWebSocket connects to url and returns the channel.
func DialWebSocket(ctx context.Context, url string, header http.Header, opts ...WebSocketOption) (*WebSocketChannel, error) {
	cfg := newWebSocketConfig(opts)
	dialer := websocket.Dialer{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: 45 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return NewWebSocketChannel(conn, opts...), nil
}

// Send writes msg as one binary message.
func (c *WebSocketChannel) Send(msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive reads the next binary message. A normal close by either side
// yields io.EOF.
func (c *WebSocketChannel) Receive() (protocol.Message, error) {
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.closed.Load() || errors.Is(err, io.EOF) || websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway) {
			return protocol.Message{}, io.EOF
		}
		return protocol.Message{}, err
	}
	if kind != websocket.BinaryMessage {
		return protocol.Message{}, decodeError(fmt.Errorf("unexpected websocket message type %d", kind))
	}
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return protocol.Message{}, decodeError(err)
	}
	return msg, nil
}

// Close sends a close frame and closes the connection.
func (c *WebSocketChannel) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		// WriteControl may run concurrently with a pending WriteMessage.
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.err = c.conn.Close()
	})
	return c.err
}

// Usable reports whether Close has not been called.
func (c *WebSocketChannel) Usable() bool {
	return !c.closed.Load()
}
