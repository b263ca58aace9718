package endpoint

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/logging"
	"github.com/vinayprograms/peerkit/packet"
)

// WebSocketConfig holds WebSocket endpoint configuration.
type WebSocketConfig struct {
	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming message size.
	MaxMessageSize int64

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// PongWait is how long the link may stay silent before it is
	// treated as gone. Any frame from the peer, pongs included, resets
	// it. Zero means twice PingInterval; without pings there is no
	// read deadline.
	PongWait time.Duration

	// RequestTimeout bounds a request whose context has no deadline.
	// Zero waits for the reply or the link to drop.
	RequestTimeout time.Duration

	// PeerID names the remote peer in logs and errors.
	PeerID string

	// NodeID is written into rejects produced by this side.
	NodeID string

	// Codec encodes frames. Binary codecs use binary messages.
	// Default: packet.JSON
	Codec packet.Codec
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1024 * 1024, // 1MB
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// WebSocketEndpoint implements Endpoint over a single WebSocket connection.
// Requests in both directions share the connection; replies are matched to
// requests by envelope ID.
type WebSocketEndpoint struct {
	conn   *websocket.Conn
	config WebSocketConfig
	logger *logging.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	handler RequestHandler
	pending map[string]chan packet.Reply
	closed  bool
	done    chan struct{}

	connected atomic.Bool
	wg        sync.WaitGroup
}

// NewWebSocketEndpoint takes ownership of conn and starts reading from it.
func NewWebSocketEndpoint(conn *websocket.Conn, cfg WebSocketConfig, logger *logging.Logger) *WebSocketEndpoint {
	if logger == nil {
		logger = logging.New()
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.Codec == nil {
		cfg.Codec = packet.JSON
	}
	if cfg.PongWait == 0 && cfg.PingInterval > 0 {
		cfg.PongWait = 2 * cfg.PingInterval
	}

	e := &WebSocketEndpoint{
		conn:    conn,
		config:  cfg,
		logger:  logger.WithComponent("endpoint.websocket").WithPeer(cfg.PeerID),
		pending: make(map[string]chan packet.Reply),
		done:    make(chan struct{}),
	}
	e.connected.Store(true)

	if cfg.PingInterval > 0 {
		e.extendReadDeadline()
		conn.SetPongHandler(func(string) error {
			e.extendReadDeadline()
			return nil
		})
	}

	e.wg.Add(1)
	go e.readLoop()
	if cfg.PingInterval > 0 {
		e.wg.Add(1)
		go e.pingLoop()
	}
	e.logger.PeerConnected(cfg.PeerID, "websocket")
	return e
}

// DialWebSocket connects to a peer's WebSocket URL.
func DialWebSocket(ctx context.Context, url string, cfg WebSocketConfig, logger *logging.Logger) (*WebSocketEndpoint, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "websocket dial", errors.WithPeerID(cfg.PeerID))
	}
	return NewWebSocketEndpoint(conn, cfg, logger), nil
}

// NewWebSocketUpgrader creates an upgrader for accepting peer connections.
func NewWebSocketUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
	}
}

// SendOutgoingRequest implements Endpoint. sent fires once the frame has
// been written to the connection.
func (e *WebSocketEndpoint) SendOutgoingRequest(ctx context.Context, req *packet.Prepare, sent func()) (packet.Reply, error) {
	id := uuid.NewString()
	data, err := e.config.Codec.EncodePrepare(id, req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidPacket, "encode prepare")
	}

	ch := make(chan packet.Reply, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.Closed("websocket closed", errors.WithPeerID(e.config.PeerID))
	}
	e.pending[id] = ch
	e.mu.Unlock()
	defer e.forget(id)

	if err := e.write(data); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "websocket write",
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

	select {
	case reply := <-ch:
		return reply, nil
	case <-e.done:
		return nil, errors.Closed("websocket closed while waiting for reply",
			errors.WithPeerID(e.config.PeerID), errors.WithDestination(req.Destination))
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for websocket reply",
			errors.WithPeerID(e.config.PeerID), errors.WithDestination(req.Destination))
	}
}

func (e *WebSocketEndpoint) forget(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// SetIncomingRequestHandler implements Endpoint.
func (e *WebSocketEndpoint) SetIncomingRequestHandler(h RequestHandler) Endpoint {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return e
}

// Connected implements Endpoint.
func (e *WebSocketEndpoint) Connected() bool {
	return e.connected.Load()
}

// Done is closed when the connection ends.
func (e *WebSocketEndpoint) Done() <-chan struct{} {
	return e.done
}

// Close sends a close frame and tears the connection down. Pending
// requests fail with CLOSED.
func (e *WebSocketEndpoint) Close() error {
	if !e.markClosed() {
		return nil
	}

	e.writeMu.Lock()
	e.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	e.writeMu.Unlock()

	err := e.conn.Close()
	e.wg.Wait()
	return err
}

// markClosed flips the endpoint to closed once and reports whether this
// call did it.
func (e *WebSocketEndpoint) markClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.closed = true
	e.connected.Store(false)
	close(e.done)
	return true
}

func (e *WebSocketEndpoint) write(data []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.config.WriteTimeout > 0 {
		e.conn.SetWriteDeadline(time.Now().Add(e.config.WriteTimeout))
	}
	msgType := websocket.TextMessage
	if e.config.Codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	return e.conn.WriteMessage(msgType, data)
}

// readLoop reads frames until the connection fails, routing replies to
// waiting senders and requests to the incoming handler.
func (e *WebSocketEndpoint) readLoop() {
	defer e.wg.Done()

	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			if e.markClosed() {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					e.logger.PeerDisconnected(e.config.PeerID, err)
				} else {
					e.logger.PeerDisconnected(e.config.PeerID, nil)
				}
				e.conn.Close()
			}
			return
		}
		if e.config.PingInterval > 0 {
			e.extendReadDeadline()
		}

		env, err := e.config.Codec.Decode(data)
		if err != nil {
			e.logger.Warn("invalid_frame", map[string]interface{}{"error": err.Error()})
			continue
		}

		if env.IsReply() {
			e.deliver(env)
			continue
		}

		e.mu.Lock()
		h := e.handler
		e.mu.Unlock()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.answer(env, h)
		}()
	}
}

func (e *WebSocketEndpoint) deliver(env *packet.Envelope) {
	reply, err := env.Reply()
	if err != nil {
		return
	}

	e.mu.Lock()
	ch, ok := e.pending[env.ID]
	delete(e.pending, env.ID)
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("unmatched_reply", map[string]interface{}{"id": env.ID})
		return
	}
	ch <- reply
}

func (e *WebSocketEndpoint) answer(env *packet.Envelope, h RequestHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-e.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	reply := serve(ctx, h, env.Prepare, e.config.NodeID)
	data, err := e.config.Codec.EncodeReply(env.ID, reply)
	if err != nil {
		e.logger.Error("encode_reply_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := e.write(data); err != nil {
		e.logger.Debug("reply_write_failed", map[string]interface{}{"error": err.Error()})
	}
}

// extendReadDeadline gives the peer another PongWait to be heard from.
// Only the read loop and the pong handler it drives call this.
func (e *WebSocketEndpoint) extendReadDeadline() {
	e.conn.SetReadDeadline(time.Now().Add(e.config.PongWait))
}

// pingLoop sends keepalive pings until the connection ends. A peer that
// stops answering lets the read deadline lapse, which ends readLoop.
func (e *WebSocketEndpoint) pingLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.writeMu.Lock()
			err := e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			e.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
