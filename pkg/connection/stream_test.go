package connection

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu       sync.Mutex
	sent     []any
	ends     int
	destroys []error
	closes   int
}

func (r *recordingSink) data(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, v)
	return nil
}

func (r *recordingSink) end() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	return nil
}

func (r *recordingSink) destroy(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroys = append(r.destroys, err)
}

func (r *recordingSink) closed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func TestStreamAttachFlushesInOrder(t *testing.T) {
	s := NewStream()
	s.Write(1)
	s.Write(2)

	sink := &recordingSink{}
	opened := false
	err := s.attach(sink, func() error {
		if len(sink.sent) != 0 {
			t.Error("data sent before the stream was opened")
		}
		opened = true
		return nil
	}, 0)
	if err != nil || !opened {
		t.Fatalf("attach() error = %v, opened = %v", err, opened)
	}
	s.Write(3)

	if len(sink.sent) != 3 || sink.sent[0] != 1 || sink.sent[2] != 3 {
		t.Fatalf("sent = %v", sink.sent)
	}
	if err := s.attach(&recordingSink{}, nil, 0); !errors.Is(err, ErrInvalidStream) {
		t.Fatalf("second attach() error = %v", err)
	}
}

func TestStreamClosesOnceWhenBothEnd(t *testing.T) {
	s := NewStream()
	sink := &recordingSink{}
	s.attach(sink, nil, 0)

	s.push("in")
	s.End()
	select {
	case <-s.Done():
		t.Fatal("closed before input ended")
	default:
	}
	s.pushEnd()
	<-s.Done()

	v, err := s.Recv()
	if err != nil || v != "in" {
		t.Fatalf("Recv() = %v, %v", v, err)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("Recv() error = %v, want io.EOF", err)
	}

	s.Destroy(errors.New("late"))
	s.destroyRemote(errors.New("later"))
	if sink.closes != 1 || sink.ends != 1 || len(sink.destroys) != 0 {
		t.Fatalf("closes=%d ends=%d destroys=%v", sink.closes, sink.ends, sink.destroys)
	}
	if s.Destroyed() {
		t.Fatal("ended stream reported destroyed")
	}
}

func TestStreamDestroyOnce(t *testing.T) {
	s := NewStream()
	sink := &recordingSink{}
	s.attach(sink, nil, 0)

	boom := errors.New("boom")
	s.Destroy(boom)
	s.Destroy(nil)
	s.destroyRemote(ErrDisconnected)

	if len(sink.destroys) != 1 || sink.destroys[0] != boom || sink.closes != 1 {
		t.Fatalf("destroys=%v closes=%d", sink.destroys, sink.closes)
	}
	if _, err := s.Recv(); err != boom {
		t.Fatalf("Recv() error = %v, want boom", err)
	}
	if err := s.Write("x"); err != boom {
		t.Fatalf("Write() error = %v, want boom", err)
	}
	if s.Usable() {
		t.Fatal("destroyed stream usable")
	}
}

func TestStreamRemoteDestroyDoesNotEcho(t *testing.T) {
	s := NewStream()
	sink := &recordingSink{}
	s.attach(sink, nil, 0)

	s.destroyRemote(nil)
	if len(sink.destroys) != 0 || sink.closes != 1 {
		t.Fatalf("destroys=%v closes=%d", sink.destroys, sink.closes)
	}
	if _, err := s.Recv(); !errors.Is(err, ErrStreamDestroyed) {
		t.Fatalf("Recv() error = %v, want ErrStreamDestroyed", err)
	}
}

func TestStreamReadContext(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Read() error = %v, want DeadlineExceeded", err)
	}
}

func TestStreamReadWakesOnPush(t *testing.T) {
	s := NewStream()
	s.attach(&recordingSink{}, nil, 0)
	got := make(chan any, 1)
	go func() {
		v, _ := s.Recv()
		got <- v
	}()
	time.Sleep(5 * time.Millisecond)
	s.push(42)
	select {
	case v := <-got:
		if v != 42 {
			t.Fatalf("Recv() = %v", v)
		}
	case <-time.After(testTimeout):
		t.Fatal("reader not woken")
	}
}

func TestStreamOverflowLimit(t *testing.T) {
	s := NewStream()
	sink := &recordingSink{}
	s.attach(sink, nil, 1)
	s.push(1)
	s.push(2)
	if !errors.Is(s.Err(), ErrStreamOverflow) {
		t.Fatalf("Err() = %v, want ErrStreamOverflow", s.Err())
	}
	if len(sink.destroys) != 1 {
		t.Fatalf("destroys = %v", sink.destroys)
	}
}
