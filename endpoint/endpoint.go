// Package endpoint provides duplex request/reply links between two peers.
//
// An Endpoint sends Prepare packets to the remote peer and hands incoming
// Prepare packets from the remote peer to a RequestHandler. Every request
// resolves to exactly one Reply or a transport error.
//
// Implementations:
//
//   - MemoryEndpoint: in-process, for tests and single-binary wiring
//   - NATSEndpoint: request/reply over NATS subjects
//   - WebSocketEndpoint: both directions multiplexed on one connection
//   - HTTPEndpoint: POST requests out via resty, served in via fiber
package endpoint

import (
	"context"
	"fmt"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/packet"
)

// RequestHandler answers a request that arrived from the remote peer.
type RequestHandler func(ctx context.Context, req *packet.Prepare) (packet.Reply, error)

// Endpoint is a duplex link to one remote peer.
type Endpoint interface {
	// SendOutgoingRequest sends req to the remote peer and blocks until the
	// reply arrives, ctx ends, or the transport fails. sent, when non-nil,
	// is called once the request has been handed to the transport.
	SendOutgoingRequest(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error)

	// SetIncomingRequestHandler installs the handler for requests from the
	// remote peer and returns the endpoint for chaining.
	SetIncomingRequestHandler(h RequestHandler) Endpoint

	// Connected reports whether the transport currently has a live link.
	Connected() bool
}

// Closer is implemented by endpoints that hold transport resources.
type Closer interface {
	Close() error
}

// serve runs h for a request received from the wire and always produces a
// reply, so the remote side is never left waiting. Errors and panics turn
// into rejects triggered by nodeID.
func serve(ctx context.Context, h RequestHandler, req *packet.Prepare, nodeID string) (reply packet.Reply) {
	if h == nil {
		return errors.ToReject(errors.FromCode(errors.ErrCodeNoHandler, errors.WithDestination(req.Destination)), nodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			reply = errors.ToReject(errors.RecoverPanic(r), nodeID)
		}
	}()

	rep, err := h(ctx, req)
	if err != nil {
		return errors.ToReject(err, nodeID)
	}
	if !packet.IsFulfill(rep) && !packet.IsReject(rep) {
		return errors.ToReject(errors.Internal(fmt.Sprintf("handler returned %T", rep)), nodeID)
	}
	return rep
}
