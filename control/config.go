// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Reactor configuration: backend selection, accept-pool sizing, registry
// pre-sizing, logging and metrics sinks.

package control

import (
	"fmt"

	"github.com/momentics/hioload-iocore/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Backend selects the notification model.
type Backend int

const (
	// BackendAuto picks epoll on Linux and the completion port on Windows.
	BackendAuto Backend = iota
	// BackendReadiness uses epoll (Linux) or WSAPoll (Windows).
	BackendReadiness
	// BackendCompletion uses an I/O completion port with pre-posted accepts.
	BackendCompletion
)

func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendReadiness:
		return "readiness"
	case BackendCompletion:
		return "completion"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend maps a CLI/ABI name to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "auto":
		return BackendAuto, nil
	case "readiness", "poll", "epoll":
		return BackendReadiness, nil
	case "completion", "iocp":
		return BackendCompletion, nil
	}
	return BackendAuto, fmt.Errorf("%w: unknown backend %q", api.ErrInvalidArgument, s)
}

const (
	DefaultAcceptPoolSize = 16
	DefaultTableSizeHint  = 65536
	maxAcceptPoolSize     = 1024
)

// Config is passed once to reactor.New.
type Config struct {
	Backend Backend

	// AcceptPoolSize is the number of pre-posted accepts per listening socket.
	AcceptPoolSize int

	// TableSizeHint pre-sizes the handle index.
	TableSizeHint int

	// Logger receives reactor diagnostics. Nil uses logrus.StandardLogger().
	Logger *logrus.Logger

	// Registerer receives the reactor collectors. Nil uses a private registry.
	Registerer prometheus.Registerer
}

// Option customizes a Config.
type Option func(*Config)

// WithBackend forces a notification model.
func WithBackend(b Backend) Option {
	return func(c *Config) {
		c.Backend = b
	}
}

// WithAcceptPoolSize overrides the per-listener accept pool size.
func WithAcceptPoolSize(n int) Option {
	return func(c *Config) {
		c.AcceptPoolSize = n
	}
}

// WithTableSizeHint overrides the registry pre-size.
func WithTableSizeHint(n int) Option {
	return func(c *Config) {
		c.TableSizeHint = n
	}
}

// WithLogger routes reactor logs to l.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithRegisterer exports reactor metrics to r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = r
	}
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig(opts ...Option) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.WithDefaults()
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.AcceptPoolSize == 0 {
		c.AcceptPoolSize = DefaultAcceptPoolSize
	}
	if c.TableSizeHint == 0 {
		c.TableSizeHint = DefaultTableSizeHint
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	if c.Backend < BackendAuto || c.Backend > BackendCompletion {
		return fmt.Errorf("%w: backend %d", api.ErrInvalidArgument, int(c.Backend))
	}
	if c.AcceptPoolSize < 1 || c.AcceptPoolSize > maxAcceptPoolSize {
		return fmt.Errorf("%w: accept pool size %d out of range [1,%d]", api.ErrInvalidArgument, c.AcceptPoolSize, maxAcceptPoolSize)
	}
	if c.TableSizeHint < 0 {
		return fmt.Errorf("%w: negative table size hint", api.ErrInvalidArgument)
	}
	return nil
}
