package heartbeat

import (
	"context"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/middleware"
	"github.com/vinayprograms/peerkit/packet"
)

// Middleware is a pipeline link that probes the peer and answers the
// peer's probes. Startup starts the scheduler and Shutdown stops it.
type Middleware struct {
	*Scheduler
}

var (
	_ middleware.Middleware = (*Middleware)(nil)
	_ middleware.Lifecycle  = (*Middleware)(nil)
)

// NewMiddleware creates the link. cfg.Endpoint should be the transport
// endpoint below the pipeline so probes skip the outgoing links.
func NewMiddleware(cfg Config) (*Middleware, error) {
	s, err := NewScheduler(cfg)
	if err != nil {
		return nil, err
	}
	return &Middleware{Scheduler: s}, nil
}

// ProcessIncoming implements middleware.Middleware.
func (m *Middleware) ProcessIncoming(ctx context.Context, req *packet.Prepare, next endpoint.RequestHandler) (packet.Reply, error) {
	return Intercept(ctx, req, next)
}

// ProcessOutgoing implements middleware.Middleware.
func (m *Middleware) ProcessOutgoing(ctx context.Context, req *packet.Prepare, sent func(), next middleware.OutgoingHandler) (packet.Reply, error) {
	return next(ctx, req, sent)
}

// Startup implements middleware.Lifecycle.
func (m *Middleware) Startup(ctx context.Context) error {
	m.Start(ctx)
	return nil
}

// Shutdown implements middleware.Lifecycle.
func (m *Middleware) Shutdown(ctx context.Context) error {
	m.Stop()
	return nil
}

// OnShutdown stops probing when the process shuts down.
func (m *Middleware) OnShutdown(ctx context.Context) error {
	m.Stop()
	return nil
}
