package telemetry

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/packet"
)

// Direction is the side of the pipeline a packet travels.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Tracer wraps OpenTelemetry tracing with packet helpers.
type Tracer struct {
	tracer trace.Tracer

	mu    sync.RWMutex
	debug bool // include packet data in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return NewTracerFromProvider(otel.GetTracerProvider(), name, debug)
}

// NewTracerFromProvider creates a tracer from a specific provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (packet data in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.mu.Lock()
	t.debug = debug
	t.mu.Unlock()
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Packet Spans ---

// StartPacketSpan starts a span for one request. Incoming requests are
// server spans; outgoing ones are client spans.
func (t *Tracer) StartPacketSpan(ctx context.Context, dir Direction, req *packet.Prepare) (context.Context, trace.Span) {
	kind := trace.SpanKindClient
	if dir == DirectionIncoming {
		kind = trace.SpanKindServer
	}

	ctx, span := t.tracer.Start(ctx, "packet."+string(dir), trace.WithSpanKind(kind))
	if req == nil {
		return ctx, span
	}

	attrs := []attribute.KeyValue{
		attribute.String("packet.destination", req.Destination),
		attribute.String("packet.amount", req.Amount),
		attribute.Bool("packet.heartbeat", req.IsHeartbeat()),
		attribute.Int("packet.data_size", len(req.Data)),
	}
	if !req.ExpiresAt.IsZero() {
		attrs = append(attrs, attribute.String("packet.expires_at", req.ExpiresAt.UTC().Format(time.RFC3339Nano)))
	}
	if t.Debug() && len(req.Data) > 0 {
		attrs = append(attrs, attribute.String("packet.data", truncate(hex.EncodeToString(req.Data), 1000)))
	}
	span.SetAttributes(attrs...)

	return ctx, span
}

// EndPacketSpan records the reply or error and ends the span. A reject is
// an error status carrying its code; a transport error is recorded with
// its error code.
func (t *Tracer) EndPacketSpan(span trace.Span, reply packet.Reply, err error) {
	switch {
	case err != nil:
		span.SetAttributes(
			attribute.String("packet.result", "error"),
			attribute.String("error.code", string(errors.Code(err))),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

	case packet.IsFulfill(reply):
		span.SetAttributes(attribute.String("packet.result", "fulfill"))
		if f := reply.(*packet.Fulfill); t.Debug() && len(f.Data) > 0 {
			span.SetAttributes(attribute.String("packet.reply_data", truncate(hex.EncodeToString(f.Data), 1000)))
		}
		span.SetStatus(codes.Ok, "")

	case packet.IsReject(reply):
		r := reply.(*packet.Reject)
		span.SetAttributes(
			attribute.String("packet.result", "reject"),
			attribute.String("reject.code", r.Code),
			attribute.String("reject.triggered_by", r.TriggeredBy),
		)
		span.SetStatus(codes.Error, r.Error())

	default:
		span.SetAttributes(attribute.String("packet.result", "none"))
		span.SetStatus(codes.Error, "no reply")
	}

	span.End()
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
