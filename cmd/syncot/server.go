package main

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/SyncOT/SyncOT-sub002/internal/config"
	"github.com/SyncOT/SyncOT-sub002/pkg/connection"
	"github.com/SyncOT/SyncOT-sub002/pkg/middleware"
	"github.com/SyncOT/SyncOT-sub002/pkg/services/echo"
	"github.com/SyncOT/SyncOT-sub002/pkg/services/objects"
	"github.com/SyncOT/SyncOT-sub002/pkg/transport"
)

// server accepts WebSocket connections and serves one Connection on each.
type server struct {
	cfg      *config.Config
	log      zerolog.Logger
	upgrader *websocket.Upgrader
	wsOpts   []transport.WebSocketOption
	mw       []connection.Middleware
	store    *objects.Store

	mu      sync.Mutex
	conns   map[*connection.Connection]struct{}
	closing bool
	wg      sync.WaitGroup
}

func newServer(cfg *config.Config, log zerolog.Logger, store *objects.Store) *server {
	sc := cfg.Server
	wsOpts := []transport.WebSocketOption{
		transport.WithBufferSizes(sc.ReadBuffer, sc.WriteBuffer),
		transport.WithMaxMessageSize(sc.MaxMessageSize),
		transport.WithCheckOrigin(checkOrigin(sc.AllowedOrigins)),
	}
	return &server{
		cfg:      cfg,
		log:      log,
		upgrader: transport.Upgrader(wsOpts...),
		wsOpts:   wsOpts,
		mw: []connection.Middleware{
			middleware.OpenTelemetry(),
			middleware.Prometheus(),
		},
		store: store,
		conns: make(map[*connection.Connection]struct{}),
	}
}

// checkOrigin allows the listed origins, or every origin when none are
// listed.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Server.MetricsPath != "" {
		r.Handle(s.cfg.Server.MetricsPath, promhttp.Handler())
	}
	r.Get(s.cfg.Server.Path, s.handleSync)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.activeConnections(),
	})
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	log := s.log.With().
		Str("conn", uuid.New().String()).
		Str("remote", r.RemoteAddr).
		Str("request_id", chimw.GetReqID(r.Context())).
		Logger()
	conn, err := s.newConnection(log)
	if err != nil {
		log.Error().Err(err).Msg("connection setup failed")
		ws.Close()
		return
	}

	done := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() { once.Do(func() { close(done) }) })
	conn.OnError(func(err error) { log.Warn().Err(err).Msg("connection error") })
	stopMetrics := middleware.ObserveConnection(conn)

	if !s.track(conn) {
		stopMetrics()
		conn.Destroy()
		ws.Close()
		return
	}
	if err := conn.Connect(transport.NewWebSocketChannel(ws, s.wsOpts...)); err != nil {
		log.Error().Err(err).Msg("connect failed")
		stopMetrics()
		conn.Destroy()
		s.untrack(conn)
		ws.Close()
		return
	}
	log.Info().Msg("client connected")

	go func() {
		<-done
		stopMetrics()
		conn.Destroy()
		s.untrack(conn)
		log.Info().Msg("client disconnected")
	}()
}

// newConnection creates a Connection with every configured service.
func (s *server) newConnection(log zerolog.Logger) (*connection.Connection, error) {
	conn := connection.New(
		connection.WithLogger(log),
		connection.WithMiddleware(s.mw...),
		connection.WithStreamBuffer(s.cfg.Server.StreamBuffer),
	)
	if _, err := echo.Register(conn, echo.WithLogger(log)); err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := conn.RegisterService(s.store.Descriptor()); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// track adds conn to the live set. It fails once shutdown has started.
func (s *server) track(conn *connection.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *server) untrack(conn *connection.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		s.wg.Done()
	}
}

func (s *server) activeConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// closeAll disconnects every client and waits until they are released or
// ctx ends.
func (s *server) closeAll(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*connection.Connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}

	released := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(released)
	}()
	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
