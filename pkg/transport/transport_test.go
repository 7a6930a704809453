package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
	"github.com/SyncOT/SyncOT-sub002/pkg/tson"
)

func sampleMessages() []protocol.Message {
	return []protocol.Message{
		{Type: protocol.TypeRequest, Service: "echo", ID: 1, Name: "echo", Data: []any{int64(1), "two", []byte{3}}},
		{Type: protocol.TypeReplyValue, Service: "echo", ID: 1, Data: map[string]any{"ok": true}},
		{Type: protocol.TypeReplyError, Service: "echo", ID: 2, Data: tson.NewError("Error", "boom")},
		{Type: protocol.TypeReplyStream, Service: "echo", ID: 3},
		{Type: protocol.TypeStreamOutputData, Service: "echo", ID: 3, Data: "chunk"},
		{Type: protocol.TypeStreamOutputEnd, Service: "echo", ID: 3},
		{Type: protocol.TypeEvent, Service: "echo", Name: "tick", Data: float64(1.5)},
	}
}

func checkMessage(t *testing.T, got, want protocol.Message) {
	t.Helper()
	if got.Type != want.Type || got.Service != want.Service || got.ID != want.ID || got.Name != want.Name {
		t.Fatalf("got %v, want %v", got, want)
	}
	if we, ok := want.Data.(*tson.Error); ok {
		ge, ok := got.Data.(*tson.Error)
		if !ok || ge.Name != we.Name || ge.Message != we.Message {
			t.Fatalf("data = %#v, want %#v", got.Data, want.Data)
		}
		return
	}
	if !reflect.DeepEqual(got.Data, want.Data) {
		t.Fatalf("data = %#v, want %#v", got.Data, want.Data)
	}
}

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	for _, msg := range sampleMessages() {
		if err := a.Send(msg); err != nil {
			t.Fatalf("Send(%v) error = %v", msg, err)
		}
	}
	for _, want := range sampleMessages() {
		got, err := b.Receive()
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		checkMessage(t, got, want)
	}
}

func TestPipeRejectsInvalidMessage(t *testing.T) {
	a, _ := Pipe()
	err := a.Send(protocol.Message{Type: protocol.TypeRequest, Service: "s", ID: 1})
	if !errors.Is(err, protocol.ErrInvalidEntity) {
		t.Fatalf("Send() error = %v, want ErrInvalidEntity", err)
	}
	if !a.Usable() {
		t.Fatal("pipe unusable after a rejected message")
	}
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe()
	if err := a.Send(protocol.Message{Type: protocol.TypeReplyStream, Service: "s", ID: 1}); err != nil {
		t.Fatal(err)
	}
	a.Close()
	if a.Usable() || b.Usable() {
		t.Fatal("pipe still usable after Close")
	}
	if _, err := b.Receive(); err != nil {
		t.Fatalf("queued message lost: %v", err)
	}
	if _, err := b.Receive(); err != io.EOF {
		t.Fatalf("Receive() error = %v, want io.EOF", err)
	}
	err := b.Send(protocol.Message{Type: protocol.TypeReplyStream, Service: "s", ID: 1})
	if !errors.Is(err, ErrClosed) || !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Send() error = %v, want ErrClosed", err)
	}
}

func TestPipeCloseUnblocksReceive(t *testing.T) {
	a, b := Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := b.Receive()
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	a.Close()
	select {
	case err := <-done:
		if err != io.EOF {
			t.Fatalf("Receive() error = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

func TestPipeDecodeError(t *testing.T) {
	_, b := Pipe()
	b.Inject([]byte{0xff})
	_, err := b.Receive()
	if !errors.Is(err, ErrDecode) || !errors.Is(err, tson.ErrUnknownType) {
		t.Fatalf("Receive() error = %v", err)
	}

	b.Inject([]byte{byte(tson.TagArray8), 0})
	_, err = b.Receive()
	if !errors.Is(err, ErrDecode) || !errors.Is(err, protocol.ErrInvalidEntity) {
		t.Fatalf("Receive() error = %v", err)
	}
}

func TestStreamChannel(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStreamChannel(c1, StreamOptions{})
	b := NewStreamChannel(c2, StreamOptions{})
	defer a.Close()
	defer b.Close()

	errc := make(chan error, 1)
	go func() {
		for _, msg := range sampleMessages() {
			if err := a.Send(msg); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()
	for _, want := range sampleMessages() {
		got, err := b.Receive()
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		checkMessage(t, got, want)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	a.Close()
	if _, err := b.Receive(); err != io.EOF {
		t.Fatalf("Receive() after peer close error = %v, want io.EOF", err)
	}
	if err := a.Send(sampleMessages()[0]); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestStreamChannelFrameTooLarge(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStreamChannel(c1, StreamOptions{})
	b := NewStreamChannel(c2, StreamOptions{MaxMessageSize: 8})
	defer a.Close()
	defer b.Close()

	go a.Send(protocol.Message{Type: protocol.TypeReplyValue, Service: "svc", ID: 1, Data: strings.Repeat("x", 64)})
	if _, err := b.Receive(); !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("Receive() error = %v, want ErrFrameTooLarge", err)
	}
}

func newWebSocketPair(t *testing.T) (client, server *WebSocketChannel) {
	t.Helper()
	upgrader := Upgrader(WithCheckOrigin(func(*http.Request) bool { return true }))
	serverc := make(chan *WebSocketChannel, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverc <- NewWebSocketChannel(conn)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWebSocket(ctx, url, nil)
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	select {
	case server = <-serverc:
	case <-ctx.Done():
		t.Fatal("server side never connected")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestWebSocketChannel(t *testing.T) {
	client, server := newWebSocketPair(t)

	for _, msg := range sampleMessages() {
		if err := client.Send(msg); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	for _, want := range sampleMessages() {
		got, err := server.Receive()
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		checkMessage(t, got, want)
	}

	client.Close()
	if client.Usable() {
		t.Fatal("client usable after Close")
	}
	if _, err := server.Receive(); err != io.EOF {
		t.Fatalf("Receive() after peer close error = %v, want io.EOF", err)
	}
	if err := client.Send(sampleMessages()[0]); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestDialWebSocketFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err == nil {
		t.Fatal("DialWebSocket() succeeded against a non-websocket endpoint")
	}
}
