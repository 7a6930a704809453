package transport

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrClosed is returned by Send on a closed channel. It wraps
	// net.ErrClosed.
	ErrClosed = fmt.Errorf("transport: channel closed: %w", net.ErrClosed)

	// ErrDecode wraps failures to decode a received message.
	ErrDecode = errors.New("transport: decode failed")
)

func decodeError(err error) error {
	return fmt.Errorf("%w: %w", ErrDecode, err)
}
