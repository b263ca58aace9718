package telemetry

import (
	"context"
	"time"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/middleware"
	"github.com/vinayprograms/peerkit/packet"
)

type tracing struct {
	tracer *Tracer
}

// NewMiddleware returns a pipeline link that records a span and packet
// metrics for every request in both directions. A nil tracer uses the
// global one.
func NewMiddleware(tracer *Tracer) middleware.Middleware {
	if tracer == nil {
		tracer = GetTracer()
	}
	return &tracing{tracer: tracer}
}

func (m *tracing) ProcessIncoming(ctx context.Context, req *packet.Prepare, next endpoint.RequestHandler) (packet.Reply, error) {
	ctx, span := m.tracer.StartPacketSpan(ctx, DirectionIncoming, req)
	done := observe(DirectionIncoming)

	reply, err := next(ctx, req)

	done(reply, err)
	m.tracer.EndPacketSpan(span, reply, err)
	return reply, err
}

func (m *tracing) ProcessOutgoing(ctx context.Context, req *packet.Prepare, sent func(), next middleware.OutgoingHandler) (packet.Reply, error) {
	ctx, span := m.tracer.StartPacketSpan(ctx, DirectionOutgoing, req)
	done := observe(DirectionOutgoing)

	onSent := func() {
		span.AddEvent("sent")
		if sent != nil {
			sent()
		}
	}
	reply, err := next(ctx, req, onSent)

	done(reply, err)
	m.tracer.EndPacketSpan(span, reply, err)
	return reply, err
}

// observe starts the packet metrics for one request.
func observe(dir Direction) func(packet.Reply, error) {
	start := time.Now()
	inFlight := InFlight.WithLabelValues(string(dir))
	inFlight.Inc()

	return func(reply packet.Reply, err error) {
		inFlight.Dec()
		PacketDuration.WithLabelValues(string(dir)).Observe(time.Since(start).Seconds())
		PacketsTotal.WithLabelValues(string(dir), result(reply, err)).Inc()
	}
}

func result(reply packet.Reply, err error) string {
	switch {
	case err != nil:
		return "error"
	case packet.IsFulfill(reply):
		return "fulfill"
	case packet.IsReject(reply):
		return "reject"
	default:
		return "none"
	}
}
