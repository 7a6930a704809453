package connection

import (
	"sync"

	"github.com/rs/zerolog"
)

type eventKind uint8

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventError
	eventDestroy
)

func (k eventKind) String() string {
	switch k {
	case eventConnect:
		return "connect"
	case eventDisconnect:
		return "disconnect"
	case eventError:
		return "error"
	case eventDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

type subscription struct {
	id uint64
	fn func(error)
}

// bus delivers lifecycle events on a dispatcher goroutine, one at a time and
// in emission order. Listeners run in subscription order.
type bus struct {
	log zerolog.Logger

	mu      sync.Mutex
	nextID  uint64
	subs    map[eventKind][]subscription
	queue   []func()
	running bool
	idle    *sync.Cond
}

func newBus(log zerolog.Logger) *bus {
	b := &bus{log: log, subs: make(map[eventKind][]subscription)}
	b.idle = sync.NewCond(&b.mu)
	return b
}

func (b *bus) subscribe(k eventKind, fn func(error)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[k] = append(b.subs[k], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[k]
			for i, s := range subs {
				if s.id == id {
					b.subs[k] = append(subs[:i:i], subs[i+1:]...)
					return
				}
			}
		})
	}
}

// emit queues delivery of event k to the listeners subscribed at delivery
// time.
func (b *bus) emit(k eventKind, err error) {
	b.post(func() {
		b.mu.Lock()
		subs := append([]subscription(nil), b.subs[k]...)
		b.mu.Unlock()
		for _, s := range subs {
			b.call(k.String(), func() { s.fn(err) })
		}
	})
}

// post queues fn behind every event emitted so far.
func (b *bus) post(fn func()) {
	b.mu.Lock()
	b.queue = append(b.queue, fn)
	if !b.running {
		b.running = true
		go b.drain()
	}
	b.mu.Unlock()
}

func (b *bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.running = false
			b.idle.Broadcast()
			b.mu.Unlock()
			return
		}
		fn := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()
		fn()
	}
}

// call runs a listener, logging instead of crashing the dispatcher when it
// panics.
func (b *bus) call(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("event", event).Interface("panic", r).Msg("listener panicked")
		}
	}()
	fn()
}

// wait blocks until every queued event has been delivered.
func (b *bus) wait() {
	b.mu.Lock()
	for b.running {
		b.idle.Wait()
	}
	b.mu.Unlock()
}
