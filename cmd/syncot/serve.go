package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/SyncOT/SyncOT-sub002/internal/config"
	"github.com/SyncOT/SyncOT-sub002/internal/errors"
	"github.com/SyncOT/SyncOT-sub002/internal/logging"
	"github.com/SyncOT/SyncOT-sub002/pkg/services/objects"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		address    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve SyncOT services over WebSocket",
		Long: `Start an HTTP server that accepts WebSocket connections.

Every connection gets its own instance of the echo service and, when
enabled in the configuration, the objects service backed by S3.

Endpoints:
  /sync      WebSocket endpoint (server.path)
  /metrics   Prometheus metrics (server.metrics_path)
  /healthz   Health check`,
		Example: `  syncot serve
  syncot serve --config ./syncot.toml --address :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file (default ./syncot.toml if present)")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address, overrides server.address")

	return cmd
}

// loadConfig loads path, or ./syncot.toml when path is empty and the file
// exists, or the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.ConfigFileName); err != nil {
			return config.New(), nil
		}
		path = config.ConfigFileName
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return errors.New("E102").Wrap(err)
	}

	var store *objects.Store
	if o := cfg.Objects; o.Enabled {
		client, err := objects.NewClient(cmd.Context(), objects.ClientConfig{
			Region:    o.Region,
			Endpoint:  o.Endpoint,
			PathStyle: o.PathStyle,
		})
		if err != nil {
			return errors.New("E171").
				WithSuggestion("Set AWS credentials (environment, shared credentials file or an instance role) or disable [objects]").
				Wrap(err)
		}
		store = objects.New(client, o.Bucket,
			objects.WithPrefix(o.Prefix),
			objects.WithChunkSize(o.ChunkSize),
			objects.WithMaxSize(o.MaxSize),
			objects.WithLogger(log.With().Str("service", objects.Name).Logger()),
		)
	}

	srv := newServer(cfg, log, store)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(cmd)
	info(cmd, "serve %s", version)
	info(cmd, "WebSocket: ws://%s%s", cfg.Server.Address, cfg.Server.Path)
	if cfg.Server.MetricsPath != "" {
		info(cmd, "Metrics:   http://%s%s", cfg.Server.Address, cfg.Server.MetricsPath)
	}
	log.Info().Str("address", cfg.Server.Address).Bool("objects", store != nil).Msg("server starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New("E141").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	return shutdown(cfg, log, httpServer, srv)
}

func shutdown(cfg *config.Config, log zerolog.Logger, httpServer *http.Server, srv *server) error {
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := srv.closeAll(ctx); err != nil {
		log.Warn().Err(err).Int("connections", srv.activeConnections()).Msg("connections still open")
		return errors.New("E141").Wrap(err)
	}
	log.Info().Msg("server stopped")
	return nil
}
