package middleware

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/packet"
)

// Pipeline wraps an endpoint with a chain of middleware. It is itself an
// endpoint, so the application talks to it exactly as it would talk to the
// bare transport.
type Pipeline struct {
	endpoint endpoint.Endpoint
	mws      []Middleware

	incoming endpoint.RequestHandler
	outgoing OutgoingHandler

	mu      sync.RWMutex
	handler endpoint.RequestHandler
	started []Lifecycle
}

var _ endpoint.Endpoint = (*Pipeline)(nil)

// NewPipeline builds a pipeline over ep and takes over its incoming
// request handler. mws are ordered from the endpoint side to the
// application side.
func NewPipeline(ep endpoint.Endpoint, mws ...Middleware) *Pipeline {
	p := &Pipeline{
		endpoint: ep,
		mws:      mws,
	}
	p.incoming = ChainIncoming(mws, p.deliver)
	p.outgoing = ChainOutgoing(mws, ep.SendOutgoingRequest)
	ep.SetIncomingRequestHandler(p.incoming)
	return p
}

// deliver hands a request that made it through every link to the
// application.
func (p *Pipeline) deliver(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()

	if h == nil {
		return nil, errors.FromCode(errors.ErrCodeNoHandler, errors.WithDestination(req.Destination))
	}
	return h(ctx, req)
}

// SendOutgoingRequest implements endpoint.Endpoint.
func (p *Pipeline) SendOutgoingRequest(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error) {
	return p.outgoing(ctx, req, sent)
}

// SetIncomingRequestHandler implements endpoint.Endpoint. h receives
// requests that no link resolved.
func (p *Pipeline) SetIncomingRequestHandler(h endpoint.RequestHandler) endpoint.Endpoint {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return p
}

// Connected implements endpoint.Endpoint.
func (p *Pipeline) Connected() bool {
	return p.endpoint.Connected()
}

// Endpoint returns the wrapped transport endpoint.
func (p *Pipeline) Endpoint() endpoint.Endpoint {
	return p.endpoint
}

// HandleIncoming runs a request through the incoming chain as if it had
// arrived on the endpoint.
func (p *Pipeline) HandleIncoming(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
	return p.incoming(ctx, req)
}

// Startup starts lifecycle links in order. If one fails, the links already
// started are shut down in reverse order and the error is returned.
func (p *Pipeline) Startup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.started) > 0 {
		return nil
	}

	for _, mw := range p.mws {
		lc, ok := mw.(Lifecycle)
		if !ok {
			continue
		}
		if err := lc.Startup(ctx); err != nil {
			errs := []error{errors.Wrap(err, "pipeline startup")}
			for i := len(p.started) - 1; i >= 0; i-- {
				if serr := p.started[i].Shutdown(ctx); serr != nil {
					errs = append(errs, serr)
				}
			}
			p.started = nil
			return stderrors.Join(errs...)
		}
		p.started = append(p.started, lc)
	}
	return nil
}

// Shutdown stops lifecycle links in reverse start order and returns every
// error joined.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.started = nil
	p.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
