package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/peerkit/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phases for the parts of a peer node. Probing stops before transports
// close so no probe fails only because its endpoint went away.
const (
	PhaseProbes    = 10 // heartbeat schedulers
	PhaseServers   = 20 // listeners accepting peer connections
	PhaseEndpoints = 30 // transport connections
	PhaseRegistry  = 40 // liveness tables
	PhaseTelemetry = 50 // span and metric exporters
)

// ShutdownHandler is implemented by components that need graceful shutdown.
type ShutdownHandler interface {
	// OnShutdown is called when shutdown is initiated. The context is
	// cancelled when the timeout is reached.
	OnShutdown(ctx context.Context) error
}

// ShutdownFunc is a convenience type for simple shutdown functions.
type ShutdownFunc func(ctx context.Context) error

// OnShutdown implements ShutdownHandler.
func (f ShutdownFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// CloseFunc adapts a Close method to a ShutdownHandler.
func CloseFunc(close func() error) ShutdownHandler {
	return ShutdownFunc(func(context.Context) error { return close() })
}

// ShutdownCoordinator manages graceful shutdown for multiple components.
type ShutdownCoordinator interface {
	// Register adds a handler in the default phase.
	Register(name string, handler ShutdownHandler)

	// RegisterWithPhase adds a handler with a specific phase.
	// Lower phase numbers are shut down first.
	// Handlers in the same phase are shut down concurrently.
	RegisterWithPhase(name string, handler ShutdownHandler, phase int)

	// Shutdown calls all registered handlers phase by phase.
	// Returns ErrAlreadyShutdown if called while another call runs.
	Shutdown(ctx context.Context) error

	// ShutdownWithTimeout is Shutdown with a fresh timeout context.
	ShutdownWithTimeout(timeout time.Duration) error

	// HandleSignals shuts down on SIGTERM or SIGINT.
	HandleSignals()

	// Done returns a channel that is closed when shutdown is complete.
	Done() <-chan struct{}

	// Err returns any error that occurred during shutdown.
	// Only valid after Done() is closed.
	Err() error
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// ShutdownResult contains the complete shutdown result.
type ShutdownResult struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is the overall error (nil if all handlers succeeded).
	Err error
}

// Failed returns true if any handler failed.
func (r *ShutdownResult) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *ShutdownResult) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the shutdown coordinator.
type Config struct {
	// DefaultTimeout is used when ShutdownWithTimeout gets zero.
	// Default: 30 seconds
	DefaultTimeout time.Duration

	// DefaultPhase is assigned to handlers registered without a phase.
	// Default: 100
	DefaultPhase int

	// ContinueOnError runs later phases after a handler fails.
	// Default: true
	ContinueOnError bool

	// OnProgress is called when each handler completes.
	OnProgress func(result HandlerResult)

	// Logger receives one line per handler and per received signal.
	// Nil disables logging.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler ShutdownHandler
	phase   int
}
