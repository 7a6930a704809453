// Package transport provides message channels for the connection engine.
//
// Every channel carries protocol.Message values encoded as TSON:
//
//   - Pipe: an in-memory pair, useful in tests and for same-process peers.
//   - StreamChannel: length-prefixed frames over any byte stream.
//   - WebSocketChannel: one binary websocket message per protocol message.
//
// All channels allow concurrent Send calls and a single reader.
package transport
