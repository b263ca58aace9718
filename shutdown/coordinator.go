package shutdown

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/peerkit/errors"
)

// Coordinator implements ShutdownCoordinator.
type Coordinator struct {
	config Config

	mu            sync.Mutex
	handlers      []registration
	started       bool
	shutdownErr   error
	done          chan struct{}
	result        *ShutdownResult
	signalChan    chan os.Signal
	shutdownStart time.Time
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = DefaultConfig().DefaultPhase
	}

	return &Coordinator{
		config:     config,
		handlers:   make([]registration, 0),
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Register adds a handler to be called during shutdown.
func (c *Coordinator) Register(name string, handler ShutdownHandler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler with a specific phase. Handlers
// registered after shutdown started are not called.
func (c *Coordinator) RegisterWithPhase(name string, handler ShutdownHandler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, registration{
		name:    name,
		handler: handler,
		phase:   phase,
	})
}

// RegisterFunc registers a function as a handler.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, ShutdownFunc(fn))
}

// RegisterFuncWithPhase registers a function with a phase.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, ShutdownFunc(fn), phase)
}

// Shutdown initiates graceful shutdown. A call made while another is
// running returns ErrAlreadyShutdown; a call made after completion
// returns the first call's result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.done:
			return c.shutdownErr
		default:
			return ErrAlreadyShutdown
		}
	}
	c.started = true
	c.shutdownStart = time.Now()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	err := c.doShutdown(ctx, handlers)

	c.mu.Lock()
	c.shutdownErr = err
	c.mu.Unlock()
	close(c.done)

	return err
}

// ShutdownWithTimeout initiates shutdown with a timeout.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on the first SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signalChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-c.signalChan
		signal.Stop(c.signalChan)
		if c.config.Logger != nil {
			c.config.Logger.Info("shutdown_signal", map[string]interface{}{
				"signal": sig.String(),
			})
		}
		_ = c.ShutdownWithTimeout(c.config.DefaultTimeout)
	}()
}

// Done returns a channel that is closed when shutdown is complete.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns any error that occurred during shutdown.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.shutdownErr
	default:
		return nil
	}
}

// Result returns the detailed shutdown result.
// Only valid after Done() is closed.
func (c *Coordinator) Result() *ShutdownResult {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

// Trigger simulates a received SIGTERM.
func (c *Coordinator) Trigger() {
	select {
	case c.signalChan <- syscall.SIGTERM:
	default:
	}
}

func (c *Coordinator) doShutdown(ctx context.Context, handlers []registration) error {
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &ShutdownResult{
		Results: make([]HandlerResult, 0, len(handlers)),
	}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(c.shutdownStart)
		c.result = result
		return err
	}

	var failures []error
	for _, group := range groupByPhase(handlers) {
		select {
		case <-ctx.Done():
			return finish(ErrTimeout)
		default:
		}

		phaseResults := c.executePhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err != nil {
				failures = append(failures, hr.Err)
			}
		}
		if len(failures) > 0 && !c.config.ContinueOnError {
			break
		}
	}

	if len(failures) > 0 {
		return finish(stderrors.Join(append([]error{ErrHandlerFailed}, failures...)...))
	}
	return finish(nil)
}

// executePhase runs all handlers in a phase concurrently.
func (c *Coordinator) executePhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := c.invoke(ctx, r)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr

			c.report(hr)
		}(i, reg)
	}

	wg.Wait()
	return results
}

// invoke calls one handler, turning a panic into an error.
func (c *Coordinator) invoke(ctx context.Context, r registration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.RecoverPanic(rec)
		}
	}()
	return r.handler.OnShutdown(ctx)
}

func (c *Coordinator) report(hr HandlerResult) {
	if c.config.OnProgress != nil {
		c.config.OnProgress(hr)
	}
	if c.config.Logger == nil {
		return
	}

	fields := map[string]interface{}{
		"handler":  hr.Name,
		"phase":    hr.Phase,
		"duration": hr.Duration.String(),
	}
	if hr.Err != nil {
		fields["error"] = hr.Err.Error()
		c.config.Logger.Error("shutdown_handler_failed", fields)
		return
	}
	c.config.Logger.Info("shutdown_handler_done", fields)
}

// groupByPhase groups sorted handlers by their phase number.
func groupByPhase(handlers []registration) [][]registration {
	if len(handlers) == 0 {
		return nil
	}

	var groups [][]registration
	var currentGroup []registration
	currentPhase := handlers[0].phase

	for _, h := range handlers {
		if h.phase != currentPhase {
			groups = append(groups, currentGroup)
			currentGroup = nil
			currentPhase = h.phase
		}
		currentGroup = append(currentGroup, h)
	}

	if len(currentGroup) > 0 {
		groups = append(groups, currentGroup)
	}

	return groups
}
