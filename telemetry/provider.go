package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/vinayprograms/peerkit/config"
	"github.com/vinayprograms/peerkit/errors"
)

// ServiceName is the OTLP service.name every node reports under. Nodes
// are told apart by service.instance.id.
const ServiceName = "peerkit"

// Resource attribute keys describing the node's links.
const (
	AttrPeerIDs   = attribute.Key("peerkit.peer.ids")
	AttrPeerCount = attribute.Key("peerkit.peer.count")
)

// ProviderConfig configures trace export for one node.
type ProviderConfig struct {
	// NodeID becomes service.instance.id (required).
	NodeID string

	// PeerIDs are the peers this node keeps links to.
	PeerIDs []string

	// Endpoint is the OTLP collector. Falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is "grpc" (default) or "http".
	Protocol string

	Insecure bool

	// Debug records packet data on spans.
	Debug bool

	// SampleRatio keeps that fraction of root traces. Zero or one keeps all.
	SampleRatio float64
}

// ProviderConfigFrom builds a ProviderConfig from node configuration.
func ProviderConfigFrom(cfg *config.Config) ProviderConfig {
	ids := make([]string, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		ids = append(ids, p.ID)
	}
	return ProviderConfig{
		NodeID:      cfg.Node.ID,
		PeerIDs:     ids,
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Debug:       strings.EqualFold(cfg.Log.Level, "debug"),
	}
}

// Provider owns the node's TracerProvider and its packet tracer.
type Provider struct {
	tp     *sdktrace.TracerProvider
	res    *resource.Resource
	tracer *Tracer
}

// InitProvider installs an OTLP exporter as the global tracer provider
// and returns the Provider. Call Shutdown to flush pending spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.NodeID == "" {
		return nil, errors.InvalidConfig("telemetry: node id required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return nil, errors.InvalidConfig("telemetry: endpoint not configured (set endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")

	res, err := nodeResource(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "telemetry: building resource")
	}

	exporter, err := newExporter(ctx, cfg.Protocol, endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracer(ServiceName+"/"+cfg.NodeID, cfg.Debug)
	SetGlobalTracer(tracer)

	return &Provider{tp: tp, res: res, tracer: tracer}, nil
}

// nodeResource describes the node. Every part uses the semconv schema
// the SDK's own detectors emit, so the merge cannot conflict.
func nodeResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceInstanceID(cfg.NodeID),
			AttrPeerIDs.StringSlice(cfg.PeerIDs),
			AttrPeerCount.Int(len(cfg.PeerIDs)),
		),
	)
}

func newExporter(ctx context.Context, protocol, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, errors.InvalidConfig("telemetry: unknown protocol " + protocol + " (use grpc or http)")
	}
	if err != nil {
		return nil, errors.Wrap(err, "telemetry: creating "+protocol+" exporter")
	}
	return exp, nil
}

// Tracer returns the packet tracer bound to this provider.
func (p *Provider) Tracer() *Tracer { return p.tracer }

// Resource returns the resource attached to every exported span.
func (p *Provider) Resource() *resource.Resource { return p.res }

// SetDebug toggles packet data on spans.
func (p *Provider) SetDebug(debug bool) { p.tracer.SetDebug(debug) }

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// OnShutdown lets the shutdown coordinator stop the provider.
func (p *Provider) OnShutdown(ctx context.Context) error {
	return p.Shutdown(ctx)
}
