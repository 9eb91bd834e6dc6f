package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// heartbeatInterval is how often the session pings the Remote.
	heartbeatInterval = 5 * time.Second
	// clientTimeout closes the session when no activity is seen.
	clientTimeout = 10 * time.Second

	sendBufferSize   = 64
	sessionWriteWait = 10 * time.Second
)

// Handler consumes parsed integration messages. Implemented by the
// controller.
type Handler interface {
	NewSession(id string, sink Sink)
	SessionDisconnect(id string)
	// Request handles one Remote request frame; responses are delivered
	// through the session sink, synchronously or later.
	Request(sessionID string, reqID uint32, msg string, msgData json.RawMessage)
	// Event handles one Remote event frame.
	Event(sessionID string, event string, msgData json.RawMessage)
	// AudioChunk handles one binary voice audio frame. False reports that no
	// voice session is active and the frame was not acceptable.
	AudioChunk(sessionID string, data []byte) bool
}

// Sink is the outbound side of a session, safe for use from any goroutine.
type Sink interface {
	Send(msg Message)
	SendError(reqID uint32, code uint16, errorCode, message string)
}

// Session adapts one Remote WebSocket connection: it frames typed protocol
// messages in both directions and runs the generic heartbeat.
type Session struct {
	id      string
	conn    *websocket.Conn
	handler Handler
	log     *logrus.Entry

	outbound chan Message
	done     chan struct{}
}

// NewSession wraps an upgraded connection. Run must be called to start the
// pumps.
func NewSession(id string, conn *websocket.Conn, handler Handler, log *logrus.Logger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		handler:  handler,
		log:      log.WithField("component", "session").WithField("ws_id", id),
		outbound: make(chan Message, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Run registers the session with the handler and processes frames until the
// connection ends.
func (s *Session) Run() {
	s.handler.NewSession(s.id, s)
	go s.writePump()
	s.readPump()
}

// Send queues an outbound message. Messages are dropped when the session is
// closing or the Remote cannot keep up.
func (s *Session) Send(msg Message) {
	select {
	case s.outbound <- msg:
	case <-s.done:
	default:
		s.log.Warn("Send buffer full, dropping message")
	}
}

// SendError queues an error response for the given request.
func (s *Session) SendError(reqID uint32, code uint16, errorCode, message string) {
	s.Send(NewErrorResponse(reqID, code, errorCode, message))
}

func (s *Session) readPump() {
	defer func() {
		close(s.done)
		s.conn.Close()
		s.handler.SessionDisconnect(s.id)
		s.log.Info("Session closed")
	}()

	s.conn.SetReadDeadline(time.Now().Add(clientTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(clientTimeout))
		return nil
	})
	s.conn.SetPingHandler(func(appData string) error {
		s.conn.SetReadDeadline(time.Now().Add(clientTimeout))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(sessionWriteWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(clientTimeout))

		switch msgType {
		case websocket.TextMessage:
			if !s.handleTextMessage(data) {
				return
			}
		case websocket.BinaryMessage:
			// binary frames carry voice audio and are only valid while an
			// assist session is active
			if !s.handler.AudioChunk(s.id, data) {
				s.close(websocket.CloseMessageTooBig, "Binary messages not supported!")
				return
			}
		}
	}
}

// handleTextMessage parses one frame; false means the session must close.
func (s *Session) handleTextMessage(data []byte) bool {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.WithError(err).Warn("Invalid JSON message")
		s.close(websocket.CloseUnsupportedData, "Invalid JSON message")
		return false
	}

	switch msg.Kind {
	case "":
		s.log.Warn("Message without 'kind' field")
		s.SendError(0, 400, "BAD_REQUEST", "Missing field: kind")
	case "req":
		if msg.Msg == "" {
			s.SendError(reqID(msg), 400, "BAD_REQUEST", "Missing field: msg")
			return true
		}
		if msg.ID == nil {
			s.SendError(0, 400, "BAD_REQUEST", "Missing field: id")
			return true
		}
		s.handler.Request(s.id, *msg.ID, msg.Msg, msg.MsgData)
	case "event":
		if msg.Msg == "" {
			s.SendError(0, 400, "BAD_REQUEST", "Missing field: msg")
			return true
		}
		s.handler.Event(s.id, msg.Msg, msg.MsgData)
	case "resp":
		s.log.WithField("msg", msg.Msg).Debug("Ignoring response message")
	default:
		s.SendError(0, 400, "BAD_REQUEST", "Invalid kind value: "+msg.Kind)
	}
	return true
}

func (s *Session) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.WithError(err).Warn("Write failed, closing session")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(sessionWriteWait)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) close(code int, reason string) {
	s.log.WithField("code", code).Info("Closing session: ", reason)
	message := websocket.FormatCloseMessage(code, reason)
	s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(sessionWriteWait))
	s.conn.Close()
}

func reqID(msg Message) uint32 {
	if msg.ID != nil {
		return *msg.ID
	}
	return 0
}
