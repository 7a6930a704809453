package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

// Connection multiplexes services, proxies and streams over one Channel at a
// time. A Connection outlives its channels: after a disconnect a new channel
// may be attached with Connect until the Connection is destroyed.
type Connection struct {
	log          zerolog.Logger
	middleware   []Middleware
	streamBuffer int
	bus          *bus

	mu        sync.Mutex
	ch        Channel
	gen       uint64 // incremented on every Connect; 0 is never a live generation
	ctx       context.Context
	cancel    context.CancelFunc
	destroyed bool

	services     map[string]*service
	serviceOrder []string
	proxies      map[string]*Proxy
	proxyOrder   []string
}

type service struct {
	desc     Service
	handlers map[string]Handler
	events   map[string]bool
	streams  map[uint32]*Stream // guarded by Connection.mu
}

// New creates a disconnected Connection.
func New(opts ...Option) *Connection {
	c := &Connection{
		log:      zerolog.Nop(),
		services: make(map[string]*service),
		proxies:  make(map[string]*Proxy),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bus = newBus(c.log)
	return c
}

// Connect attaches ch and starts reading from it.
func (c *Connection) Connect(ch Channel) error {
	if ch == nil || !ch.Usable() {
		return ErrInvalidChannel
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.ch != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.gen++
	gen := c.gen
	c.ch = ch
	c.ctx, c.cancel = context.WithCancel(context.Background())
	ctx := c.ctx
	c.mu.Unlock()

	c.log.Debug().Uint64("generation", gen).Msg("connected")
	c.bus.emit(eventConnect, nil)
	go c.readLoop(ctx, gen, ch)
	return nil
}

// Disconnect detaches the current channel, destroys every stream, rejects
// every pending request and closes the channel. It does nothing when no
// channel is attached.
func (c *Connection) Disconnect() {
	c.disconnect(0)
}

// disconnect tears down generation gen, or whatever generation is live when
// gen is 0. It reports whether it did anything.
func (c *Connection) disconnect(gen uint64) bool {
	c.mu.Lock()
	if c.ch == nil || (gen != 0 && c.gen != gen) {
		c.mu.Unlock()
		return false
	}
	ch, cancel := c.ch, c.cancel
	gen = c.gen
	c.ch, c.ctx, c.cancel = nil, nil, nil

	var serviceStreams []*Stream
	for _, name := range c.serviceOrder {
		svc := c.services[name]
		serviceStreams = appendSorted(serviceStreams, svc.streams)
		svc.streams = make(map[uint32]*Stream)
	}
	var proxyStreams []*Stream
	var pending []*Result
	for _, name := range c.proxyOrder {
		p := c.proxies[name]
		proxyStreams = appendSorted(proxyStreams, p.streams)
		p.streams = make(map[uint32]*Stream)
		pending = appendSorted(pending, p.pending)
		p.pending = make(map[uint32]*Result)
	}
	c.mu.Unlock()

	cancel()
	c.log.Debug().Uint64("generation", gen).Msg("disconnected")
	c.bus.emit(eventDisconnect, nil)
	for _, s := range serviceStreams {
		s.destroyRemote(ErrDisconnected)
	}
	for _, s := range proxyStreams {
		s.destroyRemote(ErrDisconnected)
	}
	for _, r := range pending {
		r.settle(nil, nil, ErrDisconnected)
	}
	if err := ch.Close(); err != nil {
		c.log.Debug().Err(err).Msg("close channel")
	}
	return true
}

func appendSorted[T any](dst []T, m map[uint32]T) []T {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		dst = append(dst, m[id])
	}
	return dst
}

// IsConnected reports whether a channel is attached.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil
}

// Destroy disconnects and makes the Connection permanently unusable.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	c.disconnect(0)
	c.bus.emit(eventDestroy, nil)
}

// IsDestroyed reports whether Destroy has been called.
func (c *Connection) IsDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// OnConnect registers fn to run after each Connect.
func (c *Connection) OnConnect(fn func()) func() {
	return c.bus.subscribe(eventConnect, func(error) { fn() })
}

// OnDisconnect registers fn to run after each disconnect.
func (c *Connection) OnDisconnect(fn func()) func() {
	return c.bus.subscribe(eventDisconnect, func(error) { fn() })
}

// OnError registers fn to receive errors that have no caller to return to,
// such as channel failures and invalid inbound messages.
func (c *Connection) OnError(fn func(err error)) func() {
	return c.bus.subscribe(eventError, fn)
}

// OnDestroy registers fn to run once the Connection is destroyed.
func (c *Connection) OnDestroy(fn func()) func() {
	return c.bus.subscribe(eventDestroy, func(error) { fn() })
}

// Flush blocks until every lifecycle event and proxy event emitted so far
// has been delivered to its listeners.
func (c *Connection) Flush() {
	c.bus.wait()
}

func (c *Connection) emitError(err error) {
	c.log.Warn().Err(err).Msg("connection error")
	c.bus.emit(eventError, err)
}

// RegisterService makes desc available to remote proxies.
func (c *Connection) RegisterService(desc Service) error {
	fail := func(err error) error {
		return &Error{Op: "register service", Service: desc.Name, Err: err}
	}
	if desc.Name == "" {
		return fail(fmt.Errorf("%w: empty name", ErrInvalidDescriptor))
	}
	if desc.Instance == nil {
		return fail(fmt.Errorf("%w: nil instance", ErrInvalidDescriptor))
	}

	svc := &service{
		desc: Service{
			Name:     desc.Name,
			Requests: slices.Clone(desc.Requests),
			Events:   slices.Clone(desc.Events),
			Instance: desc.Instance,
		},
		handlers: make(map[string]Handler, len(desc.Requests)),
		events:   make(map[string]bool, len(desc.Events)),
		streams:  make(map[uint32]*Stream),
	}
	for _, name := range desc.Requests {
		if name == "" {
			return fail(fmt.Errorf("%w: empty request name", ErrInvalidDescriptor))
		}
		if _, dup := svc.handlers[name]; dup {
			return fail(fmt.Errorf("%w: duplicate request %q", ErrInvalidDescriptor, name))
		}
		fn, err := resolve(desc.Instance, name)
		if err != nil {
			return fail(err)
		}
		svc.handlers[name] = chain(func(ctx context.Context, call *Call) (any, error) {
			return fn(ctx, call.Args)
		}, c.middleware)
	}
	for _, name := range desc.Events {
		if name == "" || svc.events[name] {
			return fail(fmt.Errorf("%w: invalid event %q", ErrInvalidDescriptor, name))
		}
		svc.events[name] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return fail(ErrDestroyed)
	}
	if _, ok := c.services[desc.Name]; ok {
		return fail(ErrAlreadyRegistered)
	}
	c.services[desc.Name] = svc
	c.serviceOrder = append(c.serviceOrder, desc.Name)
	return nil
}

// RegisterProxy creates the stub of the remote service desc describes.
func (c *Connection) RegisterProxy(desc ProxyDescriptor) (*Proxy, error) {
	fail := func(err error) (*Proxy, error) {
		return nil, &Error{Op: "register proxy", Service: desc.Name, Err: err}
	}
	if desc.Name == "" {
		return fail(fmt.Errorf("%w: empty name", ErrInvalidDescriptor))
	}

	p := &Proxy{
		conn:      c,
		name:      desc.Name,
		requests:  slices.Clone(desc.Requests),
		events:    slices.Clone(desc.Events),
		known:     make(map[string]bool, len(desc.Requests)),
		declared:  make(map[string]bool, len(desc.Events)),
		pending:   make(map[uint32]*Result),
		streams:   make(map[uint32]*Stream),
		listeners: make(map[string][]eventListener),
	}
	for _, name := range desc.Requests {
		switch {
		case name == "":
			return fail(fmt.Errorf("%w: empty request name", ErrInvalidDescriptor))
		case ReservedNames[name]:
			return fail(fmt.Errorf("%w: %q", ErrReservedName, name))
		case p.known[name]:
			return fail(fmt.Errorf("%w: duplicate request %q", ErrInvalidDescriptor, name))
		}
		p.known[name] = true
	}
	for _, name := range desc.Events {
		if name == "" || p.declared[name] {
			return fail(fmt.Errorf("%w: invalid event %q", ErrInvalidDescriptor, name))
		}
		p.declared[name] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return fail(ErrDestroyed)
	}
	if _, ok := c.proxies[desc.Name]; ok {
		return fail(ErrAlreadyRegistered)
	}
	c.proxies[desc.Name] = p
	c.proxyOrder = append(c.proxyOrder, desc.Name)
	return p, nil
}

// GetServiceNames returns the registered service names in registration order.
func (c *Connection) GetServiceNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.serviceOrder)
}

// GetProxyNames returns the registered proxy names in registration order.
func (c *Connection) GetProxyNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.proxyOrder)
}

// GetService returns the descriptor of a registered service.
func (c *Connection) GetService(name string) (Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	svc, ok := c.services[name]
	if !ok {
		return Service{}, false
	}
	return svc.desc, true
}

// GetProxy returns a registered proxy.
func (c *Connection) GetProxy(name string) (*Proxy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proxies[name]
	return p, ok
}

// Emit sends event of the registered service to the remote proxy of the same
// name.
func (c *Connection) Emit(serviceName, event string, data any) error {
	c.mu.Lock()
	svc, ok := c.services[serviceName]
	switch {
	case !ok:
		c.mu.Unlock()
		return &Error{Op: "emit", Service: serviceName, Err: ErrNoService}
	case !svc.events[event]:
		c.mu.Unlock()
		return &Error{Op: "emit", Service: serviceName, Err: fmt.Errorf("%w: %q", ErrUnknownEvent, event)}
	case c.ch == nil:
		c.mu.Unlock()
		return &Error{Op: "emit", Service: serviceName, Err: ErrDisconnected}
	}
	gen := c.gen
	c.mu.Unlock()

	return c.send(gen, protocol.Message{
		Type:    protocol.TypeEvent,
		Service: serviceName,
		Name:    event,
		Data:    transmittable(data),
	})
}

// send delivers msg on the channel of generation gen. A channel failure
// disconnects that generation.
func (c *Connection) send(gen uint64, msg protocol.Message) error {
	if err := protocol.Validate(msg); err != nil {
		return err
	}
	c.mu.Lock()
	if c.ch == nil || c.gen != gen {
		c.mu.Unlock()
		return ErrDisconnected
	}
	ch := c.ch
	c.mu.Unlock()

	err := ch.Send(msg)
	if err != nil && !isMessageError(err) {
		c.fail(gen, &Error{Op: "send", Service: msg.Service, ID: msg.ID, Err: err})
	}
	return err
}

func (c *Connection) fail(gen uint64, err error) {
	if !c.current(gen) {
		return
	}
	c.emitError(err)
	c.disconnect(gen)
}

func (c *Connection) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil && c.gen == gen
}

func (c *Connection) readLoop(ctx context.Context, gen uint64, ch Channel) {
	for {
		msg, err := ch.Receive()
		if err != nil {
			if isClosed(err) {
				c.disconnect(gen)
			} else {
				c.fail(gen, &Error{Op: "receive", Err: err})
			}
			return
		}
		if err := protocol.Validate(msg); err != nil {
			c.fail(gen, &Error{Op: "receive", Service: msg.Service, ID: msg.ID, Err: err})
			return
		}
		if !c.current(gen) {
			return
		}
		c.log.Debug().
			Uint64("generation", gen).
			Stringer("type", msg.Type).
			Str("service", msg.Service).
			Uint32("id", msg.ID).
			Msg("received")
		c.dispatch(ctx, gen, msg)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (c *Connection) dispatch(ctx context.Context, gen uint64, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeEvent:
		c.handleEvent(msg)
	case protocol.TypeRequest:
		c.handleRequest(ctx, gen, msg)
	case protocol.TypeStreamInputData, protocol.TypeStreamInputEnd, protocol.TypeStreamInputDestroy:
		c.handleStreamInput(msg)
	case protocol.TypeReplyValue, protocol.TypeReplyError, protocol.TypeReplyStream:
		c.handleReply(gen, msg)
	case protocol.TypeStreamOutputData, protocol.TypeStreamOutputEnd, protocol.TypeStreamOutputDestroy:
		c.handleStreamOutput(msg)
	default:
		c.log.Warn().Stringer("type", msg.Type).Msg("unhandled message type")
	}
}

func (c *Connection) handleEvent(msg protocol.Message) {
	c.mu.Lock()
	p := c.proxies[msg.Service]
	c.mu.Unlock()
	if p == nil || !p.declared[msg.Name] {
		c.log.Debug().Str("service", msg.Service).Str("event", msg.Name).Msg("dropped event")
		return
	}
	p.dispatchEvent(msg.Name, msg.Data)
}

func (c *Connection) handleRequest(ctx context.Context, gen uint64, msg protocol.Message) {
	c.mu.Lock()
	svc := c.services[msg.Service]
	var h Handler
	if svc != nil {
		h = svc.handlers[msg.Name]
	}
	c.mu.Unlock()

	if h == nil {
		c.log.Warn().Str("service", msg.Service).Str("request", msg.Name).Msg("no service")
		c.replyError(gen, msg, fmt.Errorf("%w: %s.%s", ErrNoService, msg.Service, msg.Name))
		return
	}
	go c.serve(ctx, gen, svc, h, msg)
}

func (c *Connection) serve(ctx context.Context, gen uint64, svc *service, h Handler, msg protocol.Message) {
	call := &Call{Service: msg.Service, Request: msg.Name, ID: msg.ID, Args: msg.Args()}
	value, err := c.call(ctx, h, call)
	if !c.current(gen) {
		if s, ok := value.(*Stream); ok && s != nil {
			s.Destroy(ErrDisconnected)
		}
		return
	}
	if err != nil {
		c.replyError(gen, msg, err)
		return
	}
	if s, ok := value.(*Stream); ok {
		c.openServiceStream(gen, svc, msg, s)
		return
	}

	err = c.send(gen, protocol.Message{
		Type:    protocol.TypeReplyValue,
		Service: msg.Service,
		ID:      msg.ID,
		Data:    transmittable(value),
	})
	if errors.Is(err, protocol.ErrUnencodable) {
		c.replyError(gen, msg, err)
	}
}

func (c *Connection) call(ctx context.Context, h Handler, call *Call) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := newPanicError(call.Service, call.Request, r)
			c.log.Error().
				Str("service", call.Service).
				Str("request", call.Request).
				Interface("panic", r).
				Bytes("stack", pe.Stack).
				Msg("service panicked")
			v, err = nil, pe
		}
	}()
	return h(ctx, call)
}

func (c *Connection) replyError(gen uint64, msg protocol.Message, err error) {
	wire := toWire(err)
	reply := protocol.Message{
		Type:    protocol.TypeReplyError,
		Service: msg.Service,
		ID:      msg.ID,
		Data:    wire,
	}
	if serr := c.send(gen, reply); errors.Is(serr, protocol.ErrUnencodable) {
		// Details that cannot be encoded are dropped.
		reply.Data = &tson.Error{Name: wire.Name, Message: wire.Message}
		c.send(gen, reply)
	}
}

func (c *Connection) openServiceStream(gen uint64, svc *service, msg protocol.Message, s *Stream) {
	if s == nil || !s.Usable() {
		c.invalidStream(gen, msg, s)
		return
	}

	c.mu.Lock()
	if c.ch == nil || c.gen != gen {
		c.mu.Unlock()
		s.Destroy(ErrDisconnected)
		return
	}
	if _, dup := svc.streams[msg.ID]; dup {
		c.mu.Unlock()
		c.replyError(gen, msg, fmt.Errorf("%w: %s#%d", ErrDuplicateID, msg.Service, msg.ID))
		s.Destroy(ErrDuplicateID)
		return
	}
	svc.streams[msg.ID] = s
	c.mu.Unlock()

	sink := &connSink{
		c:           c,
		gen:         gen,
		service:     msg.Service,
		id:          msg.ID,
		dataType:    protocol.TypeStreamOutputData,
		endType:     protocol.TypeStreamOutputEnd,
		destroyType: protocol.TypeStreamOutputDestroy,
		release: func() {
			c.mu.Lock()
			if svc.streams[msg.ID] == s {
				delete(svc.streams, msg.ID)
			}
			c.mu.Unlock()
		},
	}
	open := func() error {
		return c.send(gen, protocol.Message{Type: protocol.TypeReplyStream, Service: msg.Service, ID: msg.ID})
	}
	switch err := s.attach(sink, open, c.streamBuffer); {
	case errors.Is(err, ErrInvalidStream):
		sink.release()
		c.invalidStream(gen, msg, s)
	case err != nil:
		s.Destroy(err)
	}
}

func (c *Connection) invalidStream(gen uint64, msg protocol.Message, s *Stream) {
	err := &Error{Op: "open stream", Service: msg.Service, ID: msg.ID, Err: ErrInvalidStream}
	c.replyError(gen, msg, err)
	if s != nil {
		s.Destroy(ErrInvalidStream)
	}
	c.emitError(err)
}

func (c *Connection) handleStreamInput(msg protocol.Message) {
	c.mu.Lock()
	var s *Stream
	if svc := c.services[msg.Service]; svc != nil {
		s = svc.streams[msg.ID]
	}
	c.mu.Unlock()
	if s == nil {
		return
	}
	deliver(s, msg)
}

func (c *Connection) handleStreamOutput(msg protocol.Message) {
	c.mu.Lock()
	var s *Stream
	if p := c.proxies[msg.Service]; p != nil {
		s = p.streams[msg.ID]
	}
	c.mu.Unlock()
	if s == nil {
		return
	}
	deliver(s, msg)
}

func deliver(s *Stream, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeStreamInputData, protocol.TypeStreamOutputData:
		s.push(msg.Data)
	case protocol.TypeStreamInputEnd, protocol.TypeStreamOutputEnd:
		s.pushEnd()
	case protocol.TypeStreamInputDestroy, protocol.TypeStreamOutputDestroy:
		s.destroyRemote(fromWire(msg.Data))
	}
}

func (c *Connection) handleReply(gen uint64, msg protocol.Message) {
	c.mu.Lock()
	p := c.proxies[msg.Service]
	var r *Result
	if p != nil {
		r = p.pending[msg.ID]
		delete(p.pending, msg.ID)
	}
	c.mu.Unlock()
	if r == nil {
		c.log.Debug().Str("service", msg.Service).Uint32("id", msg.ID).Msg("dropped reply")
		return
	}

	switch msg.Type {
	case protocol.TypeReplyValue:
		r.settle(msg.Data, nil, nil)
	case protocol.TypeReplyError:
		r.settle(nil, nil, fromWire(msg.Data))
	case protocol.TypeReplyStream:
		stream, err := c.openReplyStream(gen, p, msg.Service, msg.ID, NewStream())
		if err != nil {
			r.settle(nil, nil, err)
			return
		}
		r.settle(nil, stream, nil)
	}
}

// openReplyStream registers s as the proxy side of stream id and attaches
// it to the channel of generation gen. A stream that cannot be attached is
// destroyed and unregistered.
func (c *Connection) openReplyStream(gen uint64, p *Proxy, service string, id uint32, s *Stream) (*Stream, error) {
	c.mu.Lock()
	if c.gen != gen || c.ch == nil {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	p.streams[id] = s
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if p.streams[id] == s {
			delete(p.streams, id)
		}
		c.mu.Unlock()
	}
	sink := &connSink{
		c:           c,
		gen:         gen,
		service:     service,
		id:          id,
		dataType:    protocol.TypeStreamInputData,
		endType:     protocol.TypeStreamInputEnd,
		destroyType: protocol.TypeStreamInputDestroy,
		release:     release,
	}
	if err := s.attach(sink, nil, c.streamBuffer); err != nil {
		s.Destroy(err)
		release()
		if !c.current(gen) {
			return nil, ErrDisconnected
		}
		return nil, &Error{Op: "reply", Service: service, ID: id, Err: err}
	}
	return s, nil
}

// connSink carries one stream's outgoing traffic.
type connSink struct {
	c       *Connection
	gen     uint64
	service string
	id      uint32

	dataType    protocol.MessageType
	endType     protocol.MessageType
	destroyType protocol.MessageType

	release func()
}

func (k *connSink) data(v any) error {
	v = transmittable(v)
	if v == nil {
		return nil
	}
	return k.c.send(k.gen, protocol.Message{Type: k.dataType, Service: k.service, ID: k.id, Data: v})
}

func (k *connSink) end() error {
	return k.c.send(k.gen, protocol.Message{Type: k.endType, Service: k.service, ID: k.id})
}

func (k *connSink) destroy(err error) {
	msg := protocol.Message{Type: k.destroyType, Service: k.service, ID: k.id}
	if err != nil {
		msg.Data = toWire(err)
	}
	if err := k.c.send(k.gen, msg); errors.Is(err, protocol.ErrUnencodable) {
		msg.Data = nil
		k.c.send(k.gen, msg)
	}
}

func (k *connSink) closed() {
	k.release()
}
