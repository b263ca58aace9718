package endpoint

import (
	"context"
	"net"
	"net/http/httptrace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/logging"
	"github.com/vinayprograms/peerkit/packet"
)

// HTTPConfig holds HTTP endpoint configuration.
type HTTPConfig struct {
	// PeerURL is the base URL of the remote peer (e.g., "http://bob:8080").
	PeerURL string

	// ListenAddr is where incoming requests are served (e.g., ":8080").
	ListenAddr string

	// Path is the route packets are POSTed to on both sides.
	Path string

	// RequestTimeout bounds one outgoing exchange.
	RequestTimeout time.Duration

	// RetryCount is the number of resty retries on transport errors.
	RetryCount int

	// BodyLimit caps incoming request bodies in bytes.
	BodyLimit int

	// PeerID names the remote peer in logs and errors.
	PeerID string

	// NodeID is written into rejects produced by this side.
	NodeID string
}

// DefaultHTTPConfig returns configuration with sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Path:           "/ilp",
		RequestTimeout: 30 * time.Second,
		BodyLimit:      1024 * 1024,
	}
}

// HTTPEndpoint implements Endpoint over HTTP. Each outgoing request is one
// POST to the peer; incoming requests are served by a fiber app.
//
// HTTP has no persistent link, so Connected reports whether the most
// recent outgoing exchange reached the peer. It starts out true.
type HTTPEndpoint struct {
	client *resty.Client
	app    *fiber.App
	config HTTPConfig
	logger *logging.Logger

	mu        sync.RWMutex
	handler   RequestHandler
	connected atomic.Bool
}

// NewHTTPEndpoint creates an HTTP endpoint. Call Listen or Listener to
// start serving incoming requests.
func NewHTTPEndpoint(cfg HTTPConfig, logger *logging.Logger) *HTTPEndpoint {
	defaults := DefaultHTTPConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaults.BodyLimit
	}
	if logger == nil {
		logger = logging.New()
	}

	client := resty.New().
		SetBaseURL(cfg.PeerURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.RetryCount).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Content-Type", "application/json")

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
	})
	app.Use(recover.New())

	e := &HTTPEndpoint{
		client: client,
		app:    app,
		config: cfg,
		logger: logger.WithComponent("endpoint.http").WithPeer(cfg.PeerID),
	}
	e.connected.Store(true)
	app.Post(cfg.Path, e.handlePacket)
	return e
}

// SendOutgoingRequest implements Endpoint. sent fires once the request
// has been written to the connection.
func (e *HTTPEndpoint) SendOutgoingRequest(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error) {
	data, err := packet.EncodePrepare("", req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidPacket, "encode prepare")
	}

	var once sync.Once
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if sent != nil && info.Err == nil {
				once.Do(sent)
			}
		},
	}

	resp, err := e.client.R().
		SetContext(httptrace.WithClientTrace(ctx, trace)).
		SetBody(data).
		Post(e.config.Path)
	if err != nil {
		e.connected.Store(false)
		opts := []errors.Option{errors.WithPeerID(e.config.PeerID), errors.WithDestination(req.Destination)}
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "http exchange", append(opts, errors.WithCause(err))...)
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "http exchange", opts...)
	}
	e.connected.Store(true)

	if env, derr := packet.Decode(resp.Body()); derr == nil && env.IsReply() {
		return env.Reply()
	}

	code := errors.ErrCodeInvalidPacket
	if resp.StatusCode() >= 500 {
		code = errors.ErrCodeUnavailable
	}
	return nil, errors.Newf(code, "http status %d from peer", resp.StatusCode())
}

// handlePacket serves one incoming request.
func (e *HTTPEndpoint) handlePacket(c *fiber.Ctx) error {
	env, err := packet.Decode(c.Body())
	if err == nil && env.Type != packet.TypePrepare {
		err = errors.InvalidPacket("expected prepare, got " + string(env.Type))
	}
	if err != nil {
		return e.writeReply(c.Status(fiber.StatusBadRequest), "",
			errors.ToReject(errors.InvalidPacket(err.Error()), e.config.NodeID))
	}

	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()

	start := time.Now()
	reply := serve(c.UserContext(), h, env.Prepare, e.config.NodeID)
	if rj, ok := reply.(*packet.Reject); ok && rj.TriggeredBy == e.config.NodeID {
		e.logger.RequestFailed(env.Prepare.Destination, time.Since(start), rj)
	}
	return e.writeReply(c, env.ID, reply)
}

func (e *HTTPEndpoint) writeReply(c *fiber.Ctx, id string, reply packet.Reply) error {
	data, err := packet.EncodeReply(id, reply)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

// SetIncomingRequestHandler implements Endpoint.
func (e *HTTPEndpoint) SetIncomingRequestHandler(h RequestHandler) Endpoint {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return e
}

// Connected implements Endpoint.
func (e *HTTPEndpoint) Connected() bool {
	return e.connected.Load()
}

// App returns the fiber app serving incoming requests.
func (e *HTTPEndpoint) App() *fiber.App {
	return e.app
}

// Listen serves incoming requests on ListenAddr until Shutdown.
func (e *HTTPEndpoint) Listen() error {
	return e.app.Listen(e.config.ListenAddr)
}

// Listener serves incoming requests on ln until Shutdown.
func (e *HTTPEndpoint) Listener(ln net.Listener) error {
	return e.app.Listener(ln)
}

// Shutdown stops serving incoming requests.
func (e *HTTPEndpoint) Shutdown(ctx context.Context) error {
	return e.app.ShutdownWithContext(ctx)
}

// Close stops serving incoming requests.
func (e *HTTPEndpoint) Close() error {
	return e.app.Shutdown()
}
