package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
)

// ReservedNames lists the names a proxy may not declare as requests or
// events. Peers in other runtimes expose proxies as objects that already
// carry these members.
var ReservedNames = map[string]bool{
	"constructor":          true,
	"hasOwnProperty":       true,
	"isPrototypeOf":        true,
	"propertyIsEnumerable": true,
	"toLocaleString":       true,
	"toString":             true,
	"valueOf":              true,
	"__defineGetter__":     true,
	"__defineSetter__":     true,
	"__lookupGetter__":     true,
	"__lookupSetter__":     true,
	"__proto__":            true,
	// EventEmitter
	"addListener":         true,
	"emit":                true,
	"eventNames":          true,
	"getMaxListeners":     true,
	"listenerCount":       true,
	"listeners":           true,
	"off":                 true,
	"on":                  true,
	"once":                true,
	"prependListener":     true,
	"prependOnceListener": true,
	"rawListeners":        true,
	"removeAllListeners":  true,
	"removeListener":      true,
	"setMaxListeners":     true,
}

// ProxyDescriptor describes the remote service a proxy mirrors.
type ProxyDescriptor struct {
	Name     string
	Requests []string
	Events   []string
}

// Invoker calls one remote request.
type Invoker func(args ...any) *Result

// Proxy is the local stub of a remote service.
type Proxy struct {
	conn     *Connection
	name     string
	requests []string
	events   []string
	known    map[string]bool
	declared map[string]bool

	// Guarded by conn.mu.
	nextID  uint32
	pending map[uint32]*Result
	streams map[uint32]*Stream

	lmu       sync.Mutex
	nextLID   uint64
	listeners map[string][]eventListener
}

type eventListener struct {
	id uint64
	fn func(data any)
}

// Name returns the remote service name.
func (p *Proxy) Name() string { return p.name }

// Requests returns the declared request names.
func (p *Proxy) Requests() []string { return append([]string(nil), p.requests...) }

// Events returns the declared event names.
func (p *Proxy) Events() []string { return append([]string(nil), p.events...) }

// Invoke sends request name with args and returns its deferred result. It
// fails at once with ErrDisconnected when no channel is attached, without
// using up a request id.
func (p *Proxy) Invoke(name string, args ...any) *Result {
	r := newResult()
	if !p.known[name] {
		r.settle(nil, nil, &Error{Op: "invoke", Service: p.name, Err: fmt.Errorf("%w: %q", ErrUnknownRequest, name)})
		return r
	}
	if args == nil {
		args = []any{}
	}

	c := p.conn
	c.mu.Lock()
	if c.ch == nil {
		c.mu.Unlock()
		r.settle(nil, nil, ErrDisconnected)
		return r
	}
	p.nextID++
	id := p.nextID
	gen := c.gen
	p.pending[id] = r
	c.mu.Unlock()

	err := c.send(gen, protocol.Message{
		Type:    protocol.TypeRequest,
		Service: p.name,
		ID:      id,
		Name:    name,
		Data:    args,
	})
	if err != nil {
		c.mu.Lock()
		if p.pending[id] == r {
			delete(p.pending, id)
		}
		c.mu.Unlock()
		r.settle(nil, nil, &Error{Op: "invoke", Service: p.name, ID: id, Err: err})
	}
	return r
}

// Call invokes request name and waits for the reply. If ctx ends first, a
// stream that arrives afterwards is destroyed.
func (p *Proxy) Call(ctx context.Context, name string, args ...any) (any, error) {
	r := p.Invoke(name, args...)
	if err := r.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			go func() {
				<-r.Done()
				if s := r.Stream(); s != nil {
					s.Destroy(ctx.Err())
				}
			}()
		}
		return nil, err
	}
	if s := r.Stream(); s != nil {
		return s, nil
	}
	return r.Value(), nil
}

// Method returns an Invoker bound to request name.
func (p *Proxy) Method(name string) (Invoker, bool) {
	if !p.known[name] {
		return nil, false
	}
	return func(args ...any) *Result { return p.Invoke(name, args...) }, true
}

// OnEvent registers fn for the remote event name and returns a function
// that removes it. Listeners run on the connection's event dispatcher.
func (p *Proxy) OnEvent(name string, fn func(data any)) func() {
	p.lmu.Lock()
	p.nextLID++
	id := p.nextLID
	p.listeners[name] = append(p.listeners[name], eventListener{id: id, fn: fn})
	p.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.lmu.Lock()
			defer p.lmu.Unlock()
			ls := p.listeners[name]
			for i, l := range ls {
				if l.id == id {
					p.listeners[name] = append(ls[:i:i], ls[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *Proxy) dispatchEvent(name string, data any) {
	p.conn.bus.post(func() {
		p.lmu.Lock()
		ls := append([]eventListener(nil), p.listeners[name]...)
		p.lmu.Unlock()
		for _, l := range ls {
			p.conn.bus.call("event "+p.name+"."+name, func() { l.fn(data) })
		}
	})
}

// Result is the deferred outcome of a proxy request. It settles exactly
// once, with a value, a stream, or an error.
type Result struct {
	once   sync.Once
	done   chan struct{}
	value  any
	stream *Stream
	err    error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

func (r *Result) settle(v any, s *Stream, err error) bool {
	settled := false
	r.once.Do(func() {
		r.value, r.stream, r.err = v, s, err
		close(r.done)
		settled = true
	})
	return settled
}

// Done is closed when the result settles.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result settles or ctx ends and returns the
// request's error.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Value returns the reply value. It is nil until the result settles.
func (r *Result) Value() any {
	select {
	case <-r.done:
		return r.value
	default:
		return nil
	}
}

// Stream returns the stream opened by the reply, if any.
func (r *Result) Stream() *Stream {
	select {
	case <-r.done:
		return r.stream
	default:
		return nil
	}
}

// Err returns the request's error. It is nil until the result settles.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
