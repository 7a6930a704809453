package connection

import (
	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
)

// Channel is an ordered, reliable duplex carrier of whole messages.
//
// Send may be called from several goroutines at once; Receive is only called
// from the connection's reader goroutine.
type Channel interface {
	// Send delivers one message. An error wrapping protocol.ErrInvalidEntity
	// or protocol.ErrUnencodable rejects only that message; any other error
	// means the channel has failed.
	Send(msg protocol.Message) error

	// Receive blocks until the next message arrives. It returns io.EOF once
	// the channel is closed by either side. Messages that fail decoding or
	// validation are reported with an error wrapping the cause.
	Receive() (protocol.Message, error)

	// Close closes the channel and unblocks Receive.
	Close() error

	// Usable reports whether the channel is open for reading and writing.
	Usable() bool
}
