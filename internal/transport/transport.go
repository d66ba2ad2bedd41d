// Package transport keeps a persistent websocket to the backend and correlates
// replies to the requests that caused them.
package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
)

const (
	// DefaultReconnectDelay is the fixed wait between connection attempts.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultRequestTimeout is the default reply timeout of Request.
	DefaultRequestTimeout = 30 * time.Second
)

// ModalHandler receives modal control frames.
type ModalHandler func(msg Message)

// TransportConfig is the configuration for the transport.
type TransportConfig struct {
	Resolver       EndpointResolver
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
	// ModalHandler receives openModal and closeModal frames, optional.
	ModalHandler ModalHandler
	Metrics      metrics.Recorder
	Logger       log.Logger
}

func (c *TransportConfig) defaults() error {
	if c.Resolver == nil {
		return fmt.Errorf("endpoint resolver is required")
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "transport.Transport"})
	if c.ModalHandler == nil {
		logger := c.Logger
		c.ModalHandler = func(msg Message) { logger.Debugf("Ignoring %q modal frame", msg.Type) }
	}
	return nil
}

// pendingRequest is an outstanding request awaiting its reply.
type pendingRequest struct {
	issuedAt time.Time
	onReply  func(Message)
}

// Transport is the correlated socket transport.
type Transport struct {
	resolver       EndpointResolver
	reconnectDelay time.Duration
	requestTimeout time.Duration
	dialer         *websocket.Dialer
	modalHandler   ModalHandler
	metrics        metrics.Recorder
	logger         log.Logger

	mu      sync.Mutex
	conn    *Connection
	secret  string
	pending map[string]pendingRequest
	subs    map[uint64]func(Message)
	nextSub uint64
}

// NewTransport returns a new transport, it doesn't connect until Run is called.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Transport{
		resolver:       cfg.Resolver,
		reconnectDelay: cfg.ReconnectDelay,
		requestTimeout: cfg.RequestTimeout,
		dialer:         cfg.Dialer,
		modalHandler:   cfg.ModalHandler,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		conn:           newConnection(StateDisconnected, 0, nil),
		pending:        map[string]pendingRequest{},
		subs:           map[uint64]func(Message){},
	}, nil
}

// Run connects and reconnects forever until the context is done.
func (t *Transport) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		t.setConn(newConnection(StateConnecting, attempt, nil))

		connected, err := t.connectAndServe(ctx, attempt)
		t.setConn(newConnection(StateDisconnected, attempt, nil))
		if connected {
			attempt = 0
		}

		if ctx.Err() != nil {
			return nil
		}
		if IsClosed(err) {
			t.logger.Infof("Backend socket closed, reconnecting in %s: %v", t.reconnectDelay, err)
		} else {
			t.logger.Warningf("Backend socket down (attempt %d), reconnecting in %s: %v", attempt, t.reconnectDelay, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.reconnectDelay):
		}
	}
}

// connectAndServe dials the backend and reads frames until the socket fails.
func (t *Transport) connectAndServe(ctx context.Context, attempt int) (connected bool, err error) {
	ep, err := t.resolver.Resolve(ctx)
	if err != nil {
		t.metrics.IncTransportReconnect(ctx, metrics.ResultFailure)
		return false, fmt.Errorf("could not resolve endpoint: %w", err)
	}

	ws, _, err := t.dialer.DialContext(ctx, ep.URL, nil)
	if err != nil {
		t.metrics.IncTransportReconnect(ctx, metrics.ResultFailure)
		return false, fmt.Errorf("could not dial %s: %w", ep.URL, err)
	}
	t.metrics.IncTransportReconnect(ctx, metrics.ResultSuccess)

	conn := newConnection(StateConnected, attempt, ws)
	t.mu.Lock()
	t.secret = ep.Secret
	t.mu.Unlock()
	t.setConn(conn)
	t.logger.Infof("Connected to backend socket %s", ep.URL)

	defer close(conn.closed)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read failed: %w", err)
		}
		t.handleFrame(ctx, conn, data)
	}
}

func (t *Transport) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	msg, err := parseMessage(data)
	if err != nil {
		t.logger.Warningf("Dropping inbound frame: %v", err)
		t.metrics.IncTransportDroppedFrame(ctx)
		return
	}
	msg.closed = conn.closed

	switch msg.Type {
	case TypePing:
		if err := conn.writeJSON(Payload{FieldType: TypePong}); err != nil {
			t.logger.Warningf("Could not answer ping: %v", err)
		}
		return
	case TypeOpenModal, TypeCloseModal:
		t.modalHandler(msg)
		return
	}

	t.broadcast(msg)

	if msg.RequestID == "" {
		return
	}

	t.mu.Lock()
	p, ok := t.pending[msg.RequestID]
	delete(t.pending, msg.RequestID)
	n := len(t.pending)
	t.mu.Unlock()

	if !ok {
		t.logger.Debugf("Reply %q (%s) matches no pending request", msg.RequestID, msg.Type)
		return
	}
	t.metrics.SetTransportPendingRequests(ctx, n)
	t.logger.Debugf("Reply %q (%s) after %s", msg.RequestID, msg.Type, time.Since(p.issuedAt))
	p.onReply(msg)
}

func (t *Transport) broadcast(msg Message) {
	t.mu.Lock()
	subs := make([]func(Message), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

// Send sends payload with a new correlation ID and the shared secret, onReply
// is called once with the matching reply. It doesn't buffer while disconnected.
func (t *Transport) Send(ctx context.Context, payload Payload, onReply func(Message)) (string, error) {
	t.mu.Lock()
	conn := t.conn
	if conn.State != StateConnected {
		t.mu.Unlock()
		return "", fmt.Errorf("backend socket is %s: %w", conn.State, model.ErrNotConnected)
	}

	id := ulid.Make().String()
	out := make(Payload, len(payload)+2)
	maps.Copy(out, payload)
	out[FieldRequestID] = id
	out[FieldSecret] = t.secret

	if onReply == nil {
		onReply = func(Message) {}
	}
	t.pending[id] = pendingRequest{issuedAt: time.Now(), onReply: onReply}
	n := len(t.pending)
	t.mu.Unlock()
	t.metrics.SetTransportPendingRequests(ctx, n)

	if err := conn.writeJSON(out); err != nil {
		t.abandon(ctx, id)
		return "", fmt.Errorf("could not send %q: %w", payload[FieldType], err)
	}

	return id, nil
}

// Request sends payload and waits for its reply. A zero timeout uses the default one.
func (t *Transport) Request(ctx context.Context, payload Payload, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = t.requestTimeout
	}

	replies := make(chan Message, 1)
	id, err := t.Send(ctx, payload, func(m Message) { replies <- m })
	if err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-replies:
		return msg, nil
	case <-timer.C:
		t.abandon(ctx, id)
		return Message{}, fmt.Errorf("request %s (%v) after %s: %w", id, payload[FieldType], timeout, model.ErrRequestTimeout)
	case <-ctx.Done():
		t.abandon(ctx, id)
		return Message{}, ctx.Err()
	}
}

// abandon forgets a pending request, a late reply is only broadcast.
func (t *Transport) abandon(ctx context.Context, id string) {
	t.mu.Lock()
	delete(t.pending, id)
	n := len(t.pending)
	t.mu.Unlock()
	t.metrics.SetTransportPendingRequests(ctx, n)
}

// Subscribe registers fn for every inbound message, it returns the unsubscribe func.
func (t *Transport) Subscribe(fn func(Message)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// IsAlive returns true when the socket is connected.
func (t *Transport) IsAlive() bool { return t.State() == StateConnected }

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.State
}

// Connection returns the current connection.
func (t *Transport) Connection() Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.conn
}

// Pending returns the number of requests awaiting a reply.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Transport) setConn(c *Connection) {
	t.mu.Lock()
	t.conn = c
	t.mu.Unlock()
}

// IsClosed returns true if err is a normal websocket closure.
func IsClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
