// Package protocol defines the messages exchanged between two connections.
//
// A Message carries a type, the name of the service it addresses, a request
// id, an optional request or event name and a payload. Messages travel over a
// channel either as Go values (in-process) or as TSON-encoded objects:
//
//	{type: int, service: string, id: int, name: string|null, data: any}
//
// Byte-stream transports wrap each encoded message in a frame with a 4-byte
// little-endian length prefix:
//
//	┌───────────────────────────────┬──────────────────────────────┐
//	│ Payload Length                │ Payload (TSON message)       │
//	│ (4 bytes, little-endian)      │ (variable length)            │
//	└───────────────────────────────┴──────────────────────────────┘
//
// # Message Types
//
//   - EVENT (0): fire-and-forget notification from a service
//   - REQUEST (1): proxy calls a service method
//   - REPLY_VALUE (2), REPLY_ERROR (3): request settled
//   - REPLY_STREAM (4): request opened a stream under its id
//   - STREAM_INPUT_DATA/END/DESTROY (5-7): proxy to service stream traffic
//   - STREAM_OUTPUT_DATA/END/DESTROY (8-10): service to proxy stream traffic
//
// Request-class messages (REQUEST, STREAM_INPUT_*) are routed to services;
// reply-class messages (REPLY_*, STREAM_OUTPUT_*) are routed to proxies.
// EVENT is routed to proxies as well.
//
// # Usage Example
//
//	msg := protocol.Message{
//	    Type:    protocol.TypeRequest,
//	    Service: "echo",
//	    ID:      1,
//	    Name:    "ping",
//	    Data:    []any{},
//	}
//	data, err := protocol.EncodeMessage(msg)
//
//	decoded, err := protocol.DecodeMessage(data)
package protocol
