// Package middleware composes request/reply links between an endpoint and
// the application.
//
// A link sees every request in both directions. For each one it either
// resolves the request itself or calls next. Links are ordered from the
// endpoint side to the application side: incoming requests traverse them
// first to last, outgoing requests last to first.
package middleware

import (
	"context"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/packet"
)

// OutgoingHandler sends a request toward the remote peer.
type OutgoingHandler func(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error)

// Middleware is one link in a pipeline.
type Middleware interface {
	// ProcessIncoming handles a request that arrived from the remote peer.
	ProcessIncoming(ctx context.Context, req *packet.Prepare, next endpoint.RequestHandler) (packet.Reply, error)

	// ProcessOutgoing handles a request on its way to the remote peer.
	ProcessOutgoing(ctx context.Context, req *packet.Prepare, sent func(), next OutgoingHandler) (packet.Reply, error)
}

// Lifecycle is implemented by links that own background work.
type Lifecycle interface {
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// IncomingFunc adapts a function to a Middleware that only touches
// incoming requests.
type IncomingFunc func(ctx context.Context, req *packet.Prepare, next endpoint.RequestHandler) (packet.Reply, error)

// ProcessIncoming implements Middleware.
func (f IncomingFunc) ProcessIncoming(ctx context.Context, req *packet.Prepare, next endpoint.RequestHandler) (packet.Reply, error) {
	return f(ctx, req, next)
}

// ProcessOutgoing implements Middleware.
func (f IncomingFunc) ProcessOutgoing(ctx context.Context, req *packet.Prepare, sent func(), next OutgoingHandler) (packet.Reply, error) {
	return next(ctx, req, sent)
}

// OutgoingFunc adapts a function to a Middleware that only touches
// outgoing requests.
type OutgoingFunc func(ctx context.Context, req *packet.Prepare, sent func(), next OutgoingHandler) (packet.Reply, error)

// ProcessIncoming implements Middleware.
func (f OutgoingFunc) ProcessIncoming(ctx context.Context, req *packet.Prepare, next endpoint.RequestHandler) (packet.Reply, error) {
	return next(ctx, req)
}

// ProcessOutgoing implements Middleware.
func (f OutgoingFunc) ProcessOutgoing(ctx context.Context, req *packet.Prepare, sent func(), next OutgoingHandler) (packet.Reply, error) {
	return f(ctx, req, sent, next)
}

// ChainIncoming builds the handler that runs mws[0], mws[1], ... and then
// final.
func ChainIncoming(mws []Middleware, final endpoint.RequestHandler) endpoint.RequestHandler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
			return mw.ProcessIncoming(ctx, req, next)
		}
	}
	return h
}

// ChainOutgoing builds the handler that runs mws[len-1], ..., mws[0] and
// then final.
func ChainOutgoing(mws []Middleware, final OutgoingHandler) OutgoingHandler {
	h := final
	for _, mw := range mws {
		mw, next := mw, h
		h = func(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error) {
			return mw.ProcessOutgoing(ctx, req, sent, next)
		}
	}
	return h
}
