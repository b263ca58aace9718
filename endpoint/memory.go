package endpoint

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/packet"
)

// MemoryEndpoint is an in-process Endpoint. Outgoing requests are passed
// to a remote handler function; incoming requests are injected with
// HandleIncoming.
//
// The connected flag is reported by Connected but does not gate sends,
// so a test can flip it while a request is in flight.
type MemoryEndpoint struct {
	mu        sync.RWMutex
	remote    RequestHandler
	handler   RequestHandler
	connected atomic.Bool
	sends     atomic.Int64
}

// NewMemoryEndpoint creates a connected endpoint whose outgoing requests
// are answered by remote.
func NewMemoryEndpoint(remote RequestHandler) *MemoryEndpoint {
	e := &MemoryEndpoint{remote: remote}
	e.connected.Store(true)
	return e
}

// NewMemoryPair creates two endpoints wired back to back: a request sent
// on one is delivered to the incoming handler of the other.
func NewMemoryPair() (*MemoryEndpoint, *MemoryEndpoint) {
	a := NewMemoryEndpoint(nil)
	b := NewMemoryEndpoint(nil)
	a.SetRemote(b.HandleIncoming)
	b.SetRemote(a.HandleIncoming)
	return a, b
}

// SetRemote replaces the function answering outgoing requests.
func (e *MemoryEndpoint) SetRemote(remote RequestHandler) {
	e.mu.Lock()
	e.remote = remote
	e.mu.Unlock()
}

// SendOutgoingRequest implements Endpoint.
func (e *MemoryEndpoint) SendOutgoingRequest(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error) {
	e.mu.RLock()
	remote := e.remote
	e.mu.RUnlock()

	e.sends.Add(1)
	if sent != nil {
		sent()
	}
	if remote == nil {
		return nil, errors.FromCode(errors.ErrCodeNoHandler, errors.WithDestination(req.Destination))
	}
	return remote(ctx, req)
}

// SetIncomingRequestHandler implements Endpoint.
func (e *MemoryEndpoint) SetIncomingRequestHandler(h RequestHandler) Endpoint {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return e
}

// HandleIncoming delivers a request as if it came from the remote peer.
func (e *MemoryEndpoint) HandleIncoming(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()

	if h == nil {
		return nil, errors.FromCode(errors.ErrCodeNoHandler, errors.WithDestination(req.Destination))
	}
	return h(ctx, req)
}

// Connected implements Endpoint.
func (e *MemoryEndpoint) Connected() bool {
	return e.connected.Load()
}

// SetConnected sets the value reported by Connected.
func (e *MemoryEndpoint) SetConnected(connected bool) {
	e.connected.Store(connected)
}

// Sends returns the number of outgoing requests so far.
func (e *MemoryEndpoint) Sends() int {
	return int(e.sends.Load())
}
