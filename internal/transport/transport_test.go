package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/transport"
)

const testSecret = "5b0f4a9e-8d0c-4c1e-b1a2-6c7d8e9f0a1b"

// fakeBackend is a websocket server handing every accepted connection to the test.
type fakeBackend struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{conns: make(chan *websocket.Conn, 10)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- c
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeBackend) endpoint() transport.Endpoint {
	return transport.Endpoint{URL: "ws" + strings.TrimPrefix(f.URL, "http"), Secret: testSecret}
}

func (f *fakeBackend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("backend connection not accepted")
		return nil
	}
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m map[string]any
	require.NoError(t, c.ReadJSON(&m))
	return m
}

// recorder collects broadcast messages.
type recorder struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (r *recorder) add(m transport.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		ts = append(ts, m.Type)
	}
	return ts
}

func startTransport(t *testing.T, f *fakeBackend, mod func(*transport.TransportConfig)) (*transport.Transport, *websocket.Conn) {
	t.Helper()
	cfg := transport.TransportConfig{
		Resolver:       transport.StaticEndpoint(f.endpoint()),
		ReconnectDelay: 50 * time.Millisecond,
	}
	if mod != nil {
		mod(&cfg)
	}
	tr, err := transport.NewTransport(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn := f.accept(t)
	require.Eventually(t, tr.IsAlive, 5*time.Second, 10*time.Millisecond)
	return tr, conn
}

func TestTransportRequestReply(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	f := newFakeBackend(t)
	tr, conn := startTransport(t, f, nil)

	type result struct {
		msg transport.Message
		err error
	}
	res := make(chan result, 1)
	go func() {
		msg, err := tr.Request(context.Background(), transport.Payload{"type": "getInstances"}, time.Second)
		res <- result{msg, err}
	}()

	frame := readFrame(t, conn)
	assert.Equal("getInstances", frame["type"])
	assert.Equal(testSecret, frame["secret"])
	require.NotEmpty(frame["requestId"])

	require.NoError(conn.WriteJSON(map[string]any{"type": "getInstancesReply", "requestId": frame["requestId"], "count": 2}))

	r := <-res
	require.NoError(r.err)
	assert.Equal("getInstancesReply", r.msg.Type)
	assert.Equal(frame["requestId"], r.msg.RequestID)
	assert.Equal(float64(2), r.msg.Fields["count"])
	assert.Zero(tr.Pending())
}

func TestTransportOutOfOrderReplies(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	f := newFakeBackend(t)
	tr, conn := startTransport(t, f, nil)
	ctx := context.Background()

	var mu sync.Mutex
	calls := map[string]int{}
	onReply := func(m transport.Message) {
		mu.Lock()
		calls[m.String("answer")]++
		mu.Unlock()
	}

	id1, err := tr.Send(ctx, transport.Payload{"type": "a"}, onReply)
	require.NoError(err)
	id2, err := tr.Send(ctx, transport.Payload{"type": "b"}, onReply)
	require.NoError(err)
	assert.NotEqual(id1, id2)
	assert.Equal(2, tr.Pending())

	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(conn.WriteJSON(map[string]any{"type": "reply", "requestId": id2, "answer": "b"}))
	require.NoError(conn.WriteJSON(map[string]any{"type": "reply", "requestId": id1, "answer": "a"}))
	// Duplicated reply must not fire again.
	require.NoError(conn.WriteJSON(map[string]any{"type": "reply", "requestId": id1, "answer": "a"}))

	require.Eventually(func() bool { return tr.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["a"] == 1 && calls["b"] == 1
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(map[string]int{"a": 1, "b": 1}, calls)
	mu.Unlock()
}

func TestTransportInboundDispatch(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	f := newFakeBackend(t)
	modals := &recorder{}
	tr, conn := startTransport(t, f, func(cfg *transport.TransportConfig) {
		cfg.ModalHandler = modals.add
	})

	events := &recorder{}
	unsubscribe := tr.Subscribe(events.add)

	require.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`[1,2,3]`)))
	require.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(conn.WriteJSON(map[string]any{"type": "ping"}))
	require.NoError(conn.WriteJSON(map[string]any{"type": "openModal", "modal": "login"}))
	require.NoError(conn.WriteJSON(map[string]any{"type": "closeModal"}))
	require.NoError(conn.WriteJSON(map[string]any{"type": "instanceUpdated"}))

	pong := readFrame(t, conn)
	assert.Equal(map[string]any{"type": "pong"}, pong)

	require.Eventually(func() bool { return len(events.types()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal([]string{"instanceUpdated"}, events.types())
	assert.Equal([]string{"openModal", "closeModal"}, modals.types())

	unsubscribe()
	require.NoError(conn.WriteJSON(map[string]any{"type": "instanceUpdated"}))
	require.NoError(conn.WriteJSON(map[string]any{"type": "ping"}))
	readFrame(t, conn)
	assert.Len(events.types(), 1)
	assert.True(tr.IsAlive())
}

func TestTransportRequestTimeout(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	f := newFakeBackend(t)
	tr, conn := startTransport(t, f, nil)
	events := &recorder{}
	tr.Subscribe(events.add)

	_, err := tr.Request(context.Background(), transport.Payload{"type": "slow"}, 100*time.Millisecond)
	require.ErrorIs(err, model.ErrRequestTimeout)
	assert.Zero(tr.Pending())

	// A late reply is only broadcast.
	frame := readFrame(t, conn)
	require.NoError(conn.WriteJSON(map[string]any{"type": "slowReply", "requestId": frame["requestId"]}))
	require.Eventually(func() bool { return len(events.types()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(tr.Pending())
}

func TestTransportSendWhileDisconnected(t *testing.T) {
	tr, err := transport.NewTransport(transport.TransportConfig{
		Resolver: transport.StaticEndpoint(transport.Endpoint{URL: "ws://127.0.0.1:1/"}),
	})
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), transport.Payload{"type": "x"}, nil)
	assert.ErrorIs(t, err, model.ErrNotConnected)
	assert.Equal(t, transport.StateDisconnected, tr.State())
	assert.Zero(t, tr.Pending())
}

func TestTransportReconnects(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	f := newFakeBackend(t)
	tr, conn := startTransport(t, f, func(cfg *transport.TransportConfig) {
		cfg.ReconnectDelay = 300 * time.Millisecond
	})

	require.NoError(conn.Close())
	require.Eventually(func() bool { return !tr.IsAlive() }, 5*time.Second, 10*time.Millisecond)

	conn2 := f.accept(t)
	require.Eventually(tr.IsAlive, 5*time.Second, 10*time.Millisecond)

	_, err := tr.Send(context.Background(), transport.Payload{"type": "afterReconnect"}, nil)
	require.NoError(err)
	frame := readFrame(t, conn2)
	assert.Equal("afterReconnect", frame["type"])
}

func TestEndpointFromHandshake(t *testing.T) {
	ep := transport.EndpointFromHandshake(model.BackendHandshake{PID: 1, Port: 41234, Secret: testSecret}, "/socket")
	assert.Equal(t, transport.Endpoint{URL: "ws://127.0.0.1:41234/socket", Secret: testSecret}, ep)
}

func TestNewTransportRequiresResolver(t *testing.T) {
	_, err := transport.NewTransport(transport.TransportConfig{})
	assert.Error(t, err)
}
