package connection

import (
	"github.com/rs/zerolog"
)

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Connection) {
		c.log = log.With().Str("component", "connection").Logger()
	}
}

// WithMiddleware appends service middleware. The first middleware added is
// the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Connection) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamBuffer limits how many received items a stream holds before it
// is destroyed with ErrStreamOverflow. Zero, the default, means unbounded.
func WithStreamBuffer(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.streamBuffer = n
		}
	}
}
