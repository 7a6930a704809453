package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/SyncOT/SyncOT-sub002/internal/errors"
	"github.com/SyncOT/SyncOT-sub002/internal/logging"
	"github.com/SyncOT/SyncOT-sub002/pkg/protocol"
)

const (
	// ConfigFileName is the default name of the configuration file.
	ConfigFileName = "syncot.toml"

	// DefaultAddress is the default listen address of the server.
	DefaultAddress = ":8080"

	// DefaultPath is the default path of the WebSocket endpoint.
	DefaultPath = "/sync"

	// DefaultMetricsPath is the default path of the Prometheus endpoint.
	DefaultMetricsPath = "/metrics"
)

// Config represents the complete syncot.toml configuration.
type Config struct {
	// Server contains HTTP and WebSocket settings.
	Server ServerConfig `toml:"server"`

	// Log contains logging settings.
	Log LogConfig `toml:"log"`

	// Objects configures the S3-backed objects service.
	Objects ObjectsConfig `toml:"objects"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains server settings.
type ServerConfig struct {
	// Address is the address to listen on.
	Address string `toml:"address"`

	// Path is the path of the WebSocket endpoint.
	Path string `toml:"path"`

	// MetricsPath is the path of the Prometheus endpoint. Empty disables it.
	MetricsPath string `toml:"metrics_path"`

	// ReadBuffer and WriteBuffer size the WebSocket buffers in bytes.
	ReadBuffer  int `toml:"read_buffer"`
	WriteBuffer int `toml:"write_buffer"`

	// MaxMessageSize limits the size of one received message in bytes.
	MaxMessageSize int64 `toml:"max_message_size"`

	// StreamBuffer limits the items a stream buffers before it is destroyed
	// (0 = unlimited).
	StreamBuffer int `toml:"stream_buffer"`

	// AllowedOrigins lists the origins allowed to open a WebSocket. Empty
	// allows every origin.
	AllowedOrigins []string `toml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error or disabled.
	Level string `toml:"level"`

	// Format is json or console.
	Format string `toml:"format"`
}

// ObjectsConfig configures the objects service.
type ObjectsConfig struct {
	Enabled bool   `toml:"enabled"`
	Bucket  string `toml:"bucket"`
	Prefix  string `toml:"prefix"`
	Region  string `toml:"region"`

	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`

	ChunkSize int   `toml:"chunk_size"`
	MaxSize   int64 `toml:"max_size"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			Path:            DefaultPath,
			MetricsPath:     DefaultMetricsPath,
			ReadBuffer:      4096,
			WriteBuffer:     4096,
			MaxMessageSize:  protocol.DefaultMaxFrameSize,
			StreamBuffer:    1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Objects: ObjectsConfig{
			Region:    "us-east-1",
			ChunkSize: 64 << 10,
		},
	}
}

// Load reads configuration from path. Values missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.New("E100").
				WithDetail("No configuration file at " + path).
				WithSuggestion("Run 'syncot config init' to write a default " + ConfigFileName)
		}
		var pe toml.ParseError
		if stderrors.As(err, &pe) {
			return nil, errors.New("E101").
				WithLocation(path, pe.Position.Line, 0).
				WithSuggestion(pe.Message).
				Wrap(err)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New("E103").
			WithDetail("Unknown keys in " + path + ": " + strings.Join(keys, ", "))
	}

	cfg.configPath = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) *errors.Error {
		return errors.New("E102").WithDetail(fmt.Sprintf(format, args...))
	}

	s := c.Server
	switch {
	case s.Address == "":
		return invalid("server.address must not be empty")
	case !strings.HasPrefix(s.Path, "/"):
		return invalid("server.path %q must start with /", s.Path)
	case s.MetricsPath != "" && !strings.HasPrefix(s.MetricsPath, "/"):
		return invalid("server.metrics_path %q must start with /", s.MetricsPath)
	case s.MetricsPath == s.Path:
		return invalid("server.metrics_path and server.path must differ")
	case s.ReadBuffer < 0 || s.WriteBuffer < 0:
		return invalid("server buffer sizes must not be negative")
	case s.MaxMessageSize <= 0 || s.MaxMessageSize > protocol.HardMaxFrameSize:
		return invalid("server.max_message_size must be between 1 and %d", protocol.HardMaxFrameSize)
	case s.StreamBuffer < 0:
		return invalid("server.stream_buffer must not be negative")
	case s.ShutdownTimeout < 0:
		return invalid("server.shutdown_timeout must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level %q must be debug, info, warn, error or disabled", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return invalid("log.format %q must be json or console", c.Log.Format)
	}

	o := c.Objects
	if o.Enabled {
		switch {
		case o.Bucket == "":
			return invalid("objects.bucket is required when objects are enabled").
				WithExample("[objects]\nenabled = true\nbucket = \"my-bucket\"")
		case o.ChunkSize <= 0:
			return invalid("objects.chunk_size must be positive")
		case o.MaxSize < 0:
			return invalid("objects.max_size must not be negative")
		}
	}
	return nil
}

// Encode returns the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, errors.New("E102").Wrap(err)
	}
	return buf.Bytes(), nil
}

// SaveTo writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Newf(errors.CategoryConfig, "cannot write %s", path).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}
