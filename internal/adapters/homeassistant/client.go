package homeassistant

import (
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/remote-bridge-go/internal/config"
	"github.com/frostdev-ops/remote-bridge-go/internal/core/entities"
	"github.com/frostdev-ops/remote-bridge-go/pkg/errors"
)

const (
	// requestTimeout bounds all HA calls awaiting a correlated result.
	requestTimeout = 5 * time.Second
	// getStatesTimeout is more generous: large installations return thousands
	// of states.
	getStatesTimeout = 15 * time.Second
	// closeGracePeriod is the hard-close safety net after a graceful Close if
	// the peer never replies with its own close frame.
	closeGracePeriod = 100 * time.Millisecond

	writeTimeout = 10 * time.Second
)

// Events receives converted Home Assistant events. Implemented by the
// controller; all methods may be called from the client's reader goroutine.
type Events interface {
	ConnectionEvent(clientID string, state ConnectionState)
	AvailableEntities(clientID string, available []entities.Available)
	EntityChange(clientID string, change entities.Change)
	AssistEvent(event AssistEvent)
}

// Client is one long-lived WebSocket conversation with a Home Assistant
// server. It owns the authentication handshake, the event subscription, the
// message-id allocator, the pending-request table, the heartbeat timer and
// the assist-session table.
type Client struct {
	id         string
	token      string
	server     *url.URL
	httpServer *url.URL
	conn       *websocket.Conn
	events     Events
	log        *logrus.Entry
	heartbeat  config.HeartbeatConfig

	// msgID is post-incremented for every outbound request; the first id is 1
	// and ids are never reused within a connection.
	msgID   atomic.Uint32
	pending *pendingTable

	subscribed        atomic.Bool
	subscribeEventsID atomic.Uint32

	assistMu       sync.Mutex
	assistSessions map[uint32]*assistSession

	writeMu      sync.Mutex
	lastActivity atomic.Int64

	done     chan struct{}
	shutOnce sync.Once
}

// Connect dials the Home Assistant WebSocket endpoint and starts the reader
// and heartbeat goroutines. The authentication handshake and the
// state_changed subscription run asynchronously; events.ConnectionEvent
// reports the outcome.
func Connect(cfg config.HomeAssistantConfig, events Events, log *logrus.Logger) (*Client, error) {
	server, err := WebsocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(cfg.ConnectionTimeout) * time.Second,
	}
	conn, _, err := dialer.Dial(server.String(), nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(int64(cfg.MaxFrameSizeKB) * 1024)

	id := uuid.NewString()[:8]
	c := &Client{
		id:             id,
		token:          cfg.Token,
		server:         server,
		httpServer:     httpURL(server),
		conn:           conn,
		events:         events,
		log:            log.WithField("component", "hass").WithField("client_id", id),
		heartbeat:      cfg.Heartbeat,
		pending:        newPendingTable(),
		assistSessions: make(map[uint32]*assistSession),
		done:           make(chan struct{}),
	}
	c.touch()

	conn.SetPingHandler(func(appData string) error {
		c.touch()
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readPump()
	go c.heartbeatLoop()

	c.log.WithField("url", server.String()).Info("Connected to Home Assistant")
	return c, nil
}

// WebsocketURL normalizes a configured Home Assistant URL into the WebSocket
// API endpoint: http(s) schemes become ws(s) and a missing path defaults to
// /api/websocket.
func WebsocketURL(raw string) (*url.URL, error) {
	server, err := url.Parse(raw)
	if err != nil || server.Host == "" {
		return nil, errors.BadRequest("invalid Home Assistant URL: %s", raw)
	}
	switch server.Scheme {
	case "http":
		server.Scheme = "ws"
	case "https":
		server.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, errors.BadRequest("unsupported Home Assistant URL scheme: %s", server.Scheme)
	}
	if server.Path == "" || server.Path == "/" {
		server.Path = "/api/websocket"
	}
	return server, nil
}

// httpURL derives the server's HTTP base URL, used to absolutize
// server-relative media image paths.
func httpURL(server *url.URL) *url.URL {
	httpServer := *server
	httpServer.Path = ""
	httpServer.RawQuery = ""
	if server.Scheme == "wss" {
		httpServer.Scheme = "https"
	} else {
		httpServer.Scheme = "http"
	}
	return &httpServer
}

// ID returns the unique client id of this connection.
func (c *Client) ID() string {
	return c.id
}

// nextMsgID allocates the next request id. The counter is shared across all
// outbound request types and never decrements.
func (c *Client) nextMsgID() uint32 {
	return c.msgID.Add(1)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) sendJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return errors.Wrap(errors.NotConnected(), err)
	}
	return nil
}

func (c *Client) sendBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(errors.NotConnected(), err)
	}
	return nil
}

// Close sends a close frame with the given code and schedules a hard close
// as a safety net if the peer never replies with its own close frame.
func (c *Client) Close(code int, reason string) {
	c.log.WithField("code", code).Info("Closing Home Assistant connection: ", reason)
	message := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeTimeout)); err != nil {
		c.conn.Close()
		return
	}
	time.AfterFunc(closeGracePeriod, func() {
		c.conn.Close()
	})
}

// shutdown runs exactly once when the connection ends: it abandons every
// pending request and notifies the controller.
func (c *Client) shutdown() {
	c.shutOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.pending.failAll()
		c.events.ConnectionEvent(c.id, StateClosed)
	})
}

// readPump processes inbound frames in arrival order until the connection
// ends.
func (c *Client) readPump() {
	defer c.shutdown()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Warn("Home Assistant connection lost")
			}
			return
		}
		c.touch()

		switch msgType {
		case websocket.TextMessage:
			c.handleTextMessage(data)
		case websocket.BinaryMessage:
			c.log.Error("Binary messages not supported, disconnecting")
			c.Close(websocket.CloseUnsupportedData, "binary messages not supported")
			return
		}
	}
}

func (c *Client) handleTextMessage(data []byte) {
	var msg inboundMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.WithError(err).Warn("Error parsing JSON message")
		c.Close(websocket.CloseInvalidFramePayloadData, "invalid JSON message")
		return
	}

	switch msg.Type {
	case "auth_required":
		if err := c.sendJSON(map[string]interface{}{
			"type":         "auth",
			"access_token": c.token,
		}); err != nil {
			c.log.WithError(err).Error("Error sending auth")
			c.Close(websocket.CloseInvalidFramePayloadData, "auth send failed")
		}
	case "auth_ok":
		c.log.Info("Authentication OK")
		c.subscribeEvents()
	case "auth_invalid":
		c.log.Error("Invalid authentication")
		c.events.ConnectionEvent(c.id, StateAuthenticationFailed)
		c.Close(websocket.CloseNormalClosure, "authentication failed")
	case "event":
		c.handleEventMessage(msg)
	case "result":
		c.handleResultMessage(msg)
	case "pong":
		// liveness already recorded in readPump
	default:
		c.log.WithField("type", msg.Type).Debug("Ignoring message")
	}
}

func (c *Client) subscribeEvents() {
	if c.subscribed.Load() {
		return
	}
	id := c.nextMsgID()
	c.subscribeEventsID.Store(id)
	c.pending.add(id, pendingSubscribeEvents, time.Time{}, false)
	if err := c.sendJSON(map[string]interface{}{
		"id":         id,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		c.pending.remove(id)
		c.log.WithError(err).Error("Error sending subscribe_events")
		c.Close(websocket.CloseInvalidFramePayloadData, "subscribe_events send failed")
	}
}

func (c *Client) handleEventMessage(msg inboundMsg) {
	if session := c.assistSessionByRequest(msg.ID); session != nil {
		c.handleAssistEvent(session, msg.Event)
		return
	}

	if msg.ID == 0 || msg.ID != c.subscribeEventsID.Load() {
		c.log.Debug("Ignoring event with non matching event subscription id")
		return
	}

	var event eventMsg
	if err := json.Unmarshal(msg.Event, &event); err != nil {
		c.log.WithError(err).Warn("Error parsing state_changed event")
		return
	}
	if event.Data.NewState == nil {
		// entity was removed
		return
	}

	change, err := entities.ChangeFromEvent(
		c.httpServer, event.Data.EntityID, event.Data.NewState.State, event.Data.NewState.Attributes)
	if err != nil {
		c.log.WithError(err).WithField("entity_id", event.Data.EntityID).
			Error("Error handling state_changed event")
		return
	}
	if change == nil {
		return
	}

	c.events.EntityChange(c.id, *change)
}

func (c *Client) handleResultMessage(msg inboundMsg) {
	req := c.pending.resolve(msg.ID)
	if req == nil {
		c.log.WithField("id", msg.ID).Debug("Result without pending request")
		return
	}
	success := msg.Success != nil && *msg.Success

	switch req.kind {
	case pendingSubscribeEvents:
		if !success {
			c.log.Error("subscribe_events request failed")
			c.Close(websocket.CloseInvalidFramePayloadData, "subscribe_events failed")
			return
		}
		c.subscribed.Store(true)
		c.log.Debug("Subscribed to state changes")
		c.events.ConnectionEvent(c.id, StateConnected)
	case pendingGetStates:
		if !success {
			c.log.Error("get_states request failed")
			c.Close(websocket.CloseInvalidFramePayloadData, "get_states failed")
			return
		}
		c.handleStatesResult(msg.Result)
	case pendingCallService:
		if !success {
			entry := c.log.WithField("id", msg.ID)
			if msg.Error != nil {
				entry = entry.WithField("error", msg.Error.Code)
			}
			entry.Warn("Service call failed")
		}
	default:
		if req.done != nil {
			req.done <- resultMsg{Success: success, Result: msg.Result, Error: msg.Error}
		}
	}
}

// heartbeatLoop pings the server every interval and drops the connection if
// no inbound activity was seen within the timeout. Expired pending requests
// are swept on the same tick.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			last := time.Unix(0, c.lastActivity.Load())
			if now.Sub(last) > c.heartbeat.Timeout() {
				c.log.Error("WebSocket server heartbeat failed, disconnecting")
				c.conn.Close()
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.log.WithError(err).Warn("Could not send ping, closing connection")
				c.conn.Close()
				return
			}
			if expired := c.pending.sweepExpired(now); expired > 0 {
				c.log.WithField("count", expired).Warn("Abandoned expired pending requests")
			}
		}
	}
}

// awaitResult blocks until the pending request with the given id resolves,
// times out or the connection closes.
func (c *Client) awaitResult(id uint32, req *pendingRequest, timeout time.Duration) (resultMsg, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result, ok := <-req.done:
		if !ok {
			return resultMsg{}, errors.ServiceUnavailable("Request %d abandoned", id)
		}
		return result, nil
	case <-timer.C:
		c.pending.remove(id)
		return resultMsg{}, errors.ServiceUnavailable("Timeout while waiting for result %d", id)
	case <-c.done:
		c.pending.remove(id)
		return resultMsg{}, errors.NotConnected()
	}
}
