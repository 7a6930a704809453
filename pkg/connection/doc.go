// Package connection implements the SyncOT connection engine.
//
// A Connection carries request/reply traffic, events and duplex streams
// between local services and remote proxies over a Channel. Channels come and
// go; the Connection survives them and is reattached with Connect after a
// disconnect.
//
// # Services
//
// A service is any value whose request names resolve to handlers:
//
//	type Greeter struct{}
//
//	func (Greeter) Hello(ctx context.Context, name string) (string, error) {
//		return "hello " + name, nil
//	}
//
//	conn.RegisterService(connection.Service{
//		Name:     "greeter",
//		Requests: []string{"hello"},
//		Instance: Greeter{},
//	})
//
// A handler that returns a *Stream opens a stream to the caller instead of
// replying with a value.
//
// # Proxies
//
//	greeter, _ := conn.RegisterProxy(connection.ProxyDescriptor{
//		Name:     "greeter",
//		Requests: []string{"hello"},
//	})
//	v, err := greeter.Call(ctx, "hello", "world")
//
// # Disconnects
//
// A disconnect emits the disconnect event, destroys service streams, then
// proxy streams, then rejects pending requests, all with ErrDisconnected, and
// closes the channel. Work that completes after a disconnect is discarded.
//
// # Lifecycle events
//
// OnConnect, OnDisconnect, OnError and OnDestroy listeners run on a single
// dispatcher goroutine in emission order, never on the caller's goroutine.
package connection
