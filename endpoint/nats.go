package endpoint

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/logging"
	"github.com/vinayprograms/peerkit/packet"
)

// NATSConfig holds NATS endpoint configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// LocalSubject is where requests from the peer arrive.
	LocalSubject string

	// PeerSubject is where requests to the peer are published.
	PeerSubject string

	// PeerID names the remote peer in logs and errors.
	PeerID string

	// NodeID is written into rejects produced by this side.
	NodeID string

	// RequestTimeout bounds a request whose context has no deadline.
	// 0 = wait for the context only.
	RequestTimeout time.Duration

	// Codec encodes messages. Both peers must agree.
	// Default: packet.JSON
	Codec packet.Codec
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// noRespondersStatus is the status header NATS sets on the empty message
// it delivers when a request subject has no subscribers.
const noRespondersStatus = "503"

// NATSEndpoint implements Endpoint over NATS request/reply.
type NATSEndpoint struct {
	conn   *nats.Conn
	owned  bool
	config NATSConfig
	logger *logging.Logger

	mu      sync.RWMutex
	handler RequestHandler
	sub     *nats.Subscription
	wg      sync.WaitGroup
	closed  bool
}

// NewNATSEndpoint connects to NATS and starts serving LocalSubject.
func NewNATSEndpoint(cfg NATSConfig, logger *logging.Logger) (*NATSEndpoint, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if logger == nil {
		logger = logging.New()
	}
	logger = logger.WithComponent("endpoint.nats").WithPeer(cfg.PeerID)

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg, logger)...)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats connect", errors.WithPeerID(cfg.PeerID))
	}

	e, err := newNATSEndpoint(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e.owned = true
	logger.PeerConnected(cfg.PeerID, "nats")
	return e, nil
}

// NewNATSEndpointFromConn creates an endpoint on an existing connection.
// The connection is not closed by Close.
func NewNATSEndpointFromConn(conn *nats.Conn, cfg NATSConfig, logger *logging.Logger) (*NATSEndpoint, error) {
	if logger == nil {
		logger = logging.New()
	}
	return newNATSEndpoint(conn, cfg, logger.WithComponent("endpoint.nats").WithPeer(cfg.PeerID))
}

func newNATSEndpoint(conn *nats.Conn, cfg NATSConfig, logger *logging.Logger) (*NATSEndpoint, error) {
	if cfg.PeerSubject == "" {
		return nil, errors.InvalidConfig("nats endpoint: peer subject required")
	}
	if cfg.Codec == nil {
		cfg.Codec = packet.JSON
	}

	e := &NATSEndpoint{
		conn:   conn,
		config: cfg,
		logger: logger,
	}

	if cfg.LocalSubject != "" {
		sub, err := conn.Subscribe(cfg.LocalSubject, e.onMessage)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats subscribe")
		}
		e.sub = sub
	}
	return e, nil
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig, logger *logging.Logger) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.PeerDisconnected(cfg.PeerID, err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.PeerConnected(cfg.PeerID, "nats")
		}),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// SendOutgoingRequest implements Endpoint. sent fires after the request
// has been published on the connection.
func (e *NATSEndpoint) SendOutgoingRequest(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error) {
	if e.conn.IsClosed() {
		return nil, errors.Closed("nats connection closed", errors.WithPeerID(e.config.PeerID))
	}

	data, err := e.config.Codec.EncodePrepare("", req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidPacket, "encode prepare")
	}

	inbox := e.conn.NewRespInbox()
	sub, err := e.conn.SubscribeSync(inbox)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats subscribe inbox", errors.WithPeerID(e.config.PeerID))
	}
	defer sub.Unsubscribe()

	if err := e.conn.PublishRequest(e.config.PeerSubject, inbox, data); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "nats publish",
			errors.WithPeerID(e.config.PeerID), errors.WithDestination(req.Destination))
	}
	if sent != nil {
		sent()
	}

	if _, ok := ctx.Deadline(); !ok && e.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RequestTimeout)
		defer cancel()
	}

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		if stderrors.Is(err, nats.ErrConnectionClosed) || stderrors.Is(err, nats.ErrBadSubscription) {
			return nil, errors.Closed("nats connection closed", errors.WithCause(err), errors.WithPeerID(e.config.PeerID))
		}
		return nil, errors.Wrap(err, "waiting for nats reply", errors.WithPeerID(e.config.PeerID), errors.WithDestination(req.Destination))
	}
	if len(msg.Data) == 0 && msg.Header.Get("Status") == noRespondersStatus {
		return nil, errors.New(errors.ErrCodeUnavailable, "no responders on "+e.config.PeerSubject, errors.WithPeerID(e.config.PeerID))
	}

	env, err := e.config.Codec.Decode(msg.Data)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidPacket, "decode reply", errors.WithPeerID(e.config.PeerID))
	}
	reply, err := env.Reply()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidPacket, "decode reply", errors.WithPeerID(e.config.PeerID))
	}
	return reply, nil
}

// onMessage dispatches each incoming request on its own goroutine so a
// slow handler does not hold up the subscription.
func (e *NATSEndpoint) onMessage(m *nats.Msg) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	h := e.handler
	e.wg.Add(1)
	e.mu.RUnlock()

	go func() {
		defer e.wg.Done()
		e.respond(m, h)
	}()
}

func (e *NATSEndpoint) respond(m *nats.Msg, h RequestHandler) {
	if m.Reply == "" {
		return
	}

	var reply packet.Reply
	env, err := e.config.Codec.Decode(m.Data)
	switch {
	case err != nil:
		reply = errors.ToReject(errors.InvalidPacket(err.Error()), e.config.NodeID)
	case env.Type != packet.TypePrepare:
		reply = errors.ToReject(errors.InvalidPacket("expected prepare, got "+string(env.Type)), e.config.NodeID)
	default:
		start := time.Now()
		reply = serve(context.Background(), h, env.Prepare, e.config.NodeID)
		if rj, ok := reply.(*packet.Reject); ok && rj.TriggeredBy == e.config.NodeID {
			e.logger.RequestFailed(env.Prepare.Destination, time.Since(start), rj)
		}
	}

	var id string
	if env != nil {
		id = env.ID
	}
	data, err := e.config.Codec.EncodeReply(id, reply)
	if err != nil {
		e.logger.Error("encode_reply_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := m.Respond(data); err != nil {
		e.logger.Warn("respond_failed", map[string]interface{}{"error": err.Error()})
	}
}

// SetIncomingRequestHandler implements Endpoint.
func (e *NATSEndpoint) SetIncomingRequestHandler(h RequestHandler) Endpoint {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return e
}

// Connected implements Endpoint.
func (e *NATSEndpoint) Connected() bool {
	return e.conn.IsConnected()
}

// Conn returns the underlying NATS connection for advanced use.
func (e *NATSEndpoint) Conn() *nats.Conn {
	return e.conn
}

// Close stops serving, waits for in-flight handlers and closes the
// connection if the endpoint opened it.
func (e *NATSEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var err error
	if e.sub != nil {
		err = e.sub.Unsubscribe()
	}
	e.wg.Wait()
	if e.owned {
		e.conn.Close()
	}
	return err
}
