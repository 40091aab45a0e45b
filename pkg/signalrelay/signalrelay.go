// Package signalrelay implements the rendezvous client of spec §4.A: a
// persistent WebSocket connection to a star-topology signal server,
// registering this device-id and relaying opaque JSON to named or
// broadcast peers. Connection loss is treated as transient and retried
// with exponential backoff capped at 60s.
package signalrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Layr-Labs/frost-wallet-node/pkg/protocolerr"
	"github.com/Layr-Labs/frost-wallet-node/pkg/types"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0

	writeTimeout = 10 * time.Second
)

// Handlers carries the callbacks invoked for each inbound server->client
// message kind named in §6. A nil handler is simply skipped.
type Handlers struct {
	OnConnected         func()
	OnDisconnected       func(err error)
	OnDevices           func(devices []string)
	OnRelay             func(from string, data json.RawMessage)
	OnSessionAvailable  func(sessionInfo json.RawMessage)
	OnSessionRemoved    func(sessionID, reason string)
	OnSessionsForDevice func(sessions []json.RawMessage)
	OnError             func(message string)
}

// Client manages one logical connection to the signal relay, including
// reconnection. It is safe to call the Send* methods from multiple
// goroutines; writes are serialized internally since gorilla/websocket
// forbids concurrent writers.
type Client struct {
	url      string
	deviceID string
	handlers Handlers
	log      *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	dialer *websocket.Dialer
}

// New builds a Client bound to url (e.g. "wss://auto-life.tech") and
// deviceID (the §6 Process surface's --device-id).
func New(url, deviceID string, handlers Handlers, log *zap.Logger) *Client {
	return &Client{
		url:      url,
		deviceID: deviceID,
		handlers: handlers,
		log:      log,
		dialer:   websocket.DefaultDialer,
	}
}

// Run dials the relay and services it until ctx is cancelled, reconnecting
// with exponential backoff (capped at 60s) on any connection loss. It
// returns nil only when ctx is cancelled; any other return is a fatal
// dial failure after ctx was already done.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.log.Sugar().Warnw("signal relay connection lost", "error", err, "retry_in", backoff)
			if c.handlers.OnDisconnected != nil {
				c.handlers.OnDisconnected(err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce dials once, registers the device, and blocks reading frames
// until the connection fails or ctx is cancelled.
func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "dial signal relay")
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer func() {
		_ = conn.Close()
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
	}()

	if err := c.send(types.RegisterMessage{Type: "register", DeviceID: c.deviceID}); err != nil {
		return protocolerr.Wrap(protocolerr.KindNetwork, err, "register with signal relay")
	}

	// The backoff lives in Run's loop and is applied only after runOnce
	// returns; a successful registration does not reset it, so it keeps
	// doubling up to maxBackoff across reconnects.
	if c.handlers.OnConnected != nil {
		c.handlers.OnConnected()
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return protocolerr.Wrap(protocolerr.KindNetwork, err, "read from signal relay")
		}
		c.dispatch(raw)
	}
}

type inboundFrame struct {
	Type        string            `json:"type"`
	From        string            `json:"from"`
	Data        json.RawMessage   `json:"data"`
	Devices     []string          `json:"devices"`
	SessionInfo json.RawMessage   `json:"session_info"`
	SessionID   string            `json:"session_id"`
	Reason      string            `json:"reason"`
	Sessions    []json.RawMessage `json:"sessions"`
	Error       string            `json:"error"`
}

func (c *Client) dispatch(raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Sugar().Warnw("malformed signal relay frame", "error", err)
		return
	}

	switch frame.Type {
	case "devices":
		if c.handlers.OnDevices != nil {
			c.handlers.OnDevices(frame.Devices)
		}
	case "relay":
		if c.handlers.OnRelay != nil {
			c.handlers.OnRelay(frame.From, frame.Data)
		}
	case "session_available":
		if c.handlers.OnSessionAvailable != nil {
			c.handlers.OnSessionAvailable(frame.SessionInfo)
		}
	case "session_removed":
		if c.handlers.OnSessionRemoved != nil {
			c.handlers.OnSessionRemoved(frame.SessionID, frame.Reason)
		}
	case "sessions_for_device":
		if c.handlers.OnSessionsForDevice != nil {
			c.handlers.OnSessionsForDevice(frame.Sessions)
		}
	case "error":
		if c.handlers.OnError != nil {
			c.handlers.OnError(frame.Error)
		}
	default:
		c.log.Sugar().Warnw("unknown signal relay frame type", "type", frame.Type)
	}
}

func (c *Client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return protocolerr.New(protocolerr.KindNetwork, "not connected to signal relay")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal signal relay frame: %w", err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ListDevices requests the current device roster (§4.A list_devices).
func (c *Client) ListDevices() error {
	return c.send(types.ListDevicesMessage{Type: "list_devices"})
}

// Relay sends opaque application data to a device-id, or "*" to broadcast
// to every registered device (§4.A relay).
func (c *Client) Relay(to string, data interface{}) error {
	return c.send(types.RelayMessage{Type: "relay", To: to, Data: data})
}

// AnnounceSession publishes session_info to the relay so other devices'
// request_active_sessions/query_my_active_sessions calls can discover it.
func (c *Client) AnnounceSession(sessionInfo interface{}) error {
	return c.send(types.AnnounceSessionMessage{Type: "announce_session", SessionInfo: sessionInfo})
}

// RequestActiveSessions asks the relay for all currently announced
// sessions.
func (c *Client) RequestActiveSessions() error {
	return c.send(types.RequestActiveSessionsMessage{Type: "request_active_sessions"})
}

// QueryMyActiveSessions asks the relay for sessions naming this device as
// a participant.
func (c *Client) QueryMyActiveSessions() error {
	return c.send(types.QueryMyActiveSessionsMessage{Type: "query_my_active_sessions"})
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn != nil
}
