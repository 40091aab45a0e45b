package signalrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
)

// fakeRelayServer is a minimal stand-in for the signal relay: it upgrades
// one connection, records every frame it receives, and can push server->
// client frames on demand.
type fakeRelayServer struct {
	mu       sync.Mutex
	received []map[string]interface{}
	conn     *websocket.Conn
	connCh   chan *websocket.Conn
}

func newFakeRelayServer() *fakeRelayServer {
	return &fakeRelayServer{connCh: make(chan *websocket.Conn, 1)}
}

func (s *fakeRelayServer) handler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connCh <- conn

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, frame)
		s.mu.Unlock()
	}
}

func (s *fakeRelayServer) waitForConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.connCh:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (s *fakeRelayServer) lastReceived() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.received) == 0 {
		return nil
	}
	return s.received[len(s.received)-1]
}

func TestClient_RegistersOnConnect(t *testing.T) {
	fake := newFakeRelayServer()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	log, err := logger.New(logger.Config{Debug: false})
	require.NoError(t, err)

	connected := make(chan struct{}, 1)
	client := New(wsURL, "alice", Handlers{
		OnConnected: func() { connected <- struct{}{} },
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never reported connected")
	}

	require.Eventually(t, func() bool {
		msg := fake.lastReceived()
		return msg != nil && msg["type"] == "register" && msg["device_id"] == "alice"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_RelaySendsEnvelope(t *testing.T) {
	fake := newFakeRelayServer()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	log, _ := logger.New(logger.Config{Debug: false})
	client := New(wsURL, "bob", Handlers{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()
	fake.waitForConn(t)

	require.Eventually(t, client.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Relay("charlie", map[string]string{"hello": "world"}))

	require.Eventually(t, func() bool {
		msg := fake.lastReceived()
		return msg != nil && msg["type"] == "relay" && msg["to"] == "charlie"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_DispatchesInboundRelay(t *testing.T) {
	fake := newFakeRelayServer()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	log, _ := logger.New(logger.Config{Debug: false})

	received := make(chan string, 1)
	client := New(wsURL, "alice", Handlers{
		OnRelay: func(from string, data json.RawMessage) {
			received <- from
		},
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()
	conn := fake.waitForConn(t)

	frame := map[string]interface{}{"type": "relay", "from": "bob", "data": map[string]string{"k": "v"}}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case from := <-received:
		assert.Equal(t, "bob", from)
	case <-time.After(2 * time.Second):
		t.Fatal("OnRelay never fired")
	}
}

func TestClient_DispatchesDevices(t *testing.T) {
	fake := newFakeRelayServer()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	log, _ := logger.New(logger.Config{Debug: false})

	received := make(chan []string, 1)
	client := New(wsURL, "alice", Handlers{
		OnDevices: func(devices []string) { received <- devices },
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()
	conn := fake.waitForConn(t)

	frame := map[string]interface{}{"type": "devices", "devices": []string{"alice", "bob"}}
	data, _ := json.Marshal(frame)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case devices := <-received:
		assert.Equal(t, []string{"alice", "bob"}, devices)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDevices never fired")
	}
}

func TestClient_RunExitsCleanlyOnContextCancel(t *testing.T) {
	fake := newFakeRelayServer()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	log, _ := logger.New(logger.Config{Debug: false})
	client := New(wsURL, "alice", Handlers{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	fake.waitForConn(t)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after context cancel")
	}
}

func TestClient_RelayFailsWhenNotConnected(t *testing.T) {
	log, _ := logger.New(logger.Config{Debug: false})
	client := New("ws://127.0.0.1:1/unreachable", "alice", Handlers{}, log)

	err := client.Relay("bob", map[string]string{"k": "v"})
	require.Error(t, err)
}
