package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	sessionID string
	reqID     uint32
	msg       string
}

type fakeHandler struct {
	sessions    chan string
	disconnects chan string
	requests    chan recordedRequest
	events      chan string
	audio       chan []byte
	acceptAudio bool
}

func newFakeHandler(acceptAudio bool) *fakeHandler {
	return &fakeHandler{
		sessions:    make(chan string, 4),
		disconnects: make(chan string, 4),
		requests:    make(chan recordedRequest, 16),
		events:      make(chan string, 16),
		audio:       make(chan []byte, 16),
		acceptAudio: acceptAudio,
	}
}

func (h *fakeHandler) NewSession(id string, _ Sink)    { h.sessions <- id }
func (h *fakeHandler) SessionDisconnect(id string)     { h.disconnects <- id }
func (h *fakeHandler) Event(_ string, event string, _ json.RawMessage) {
	h.events <- event
}

func (h *fakeHandler) Request(sessionID string, reqID uint32, msg string, _ json.RawMessage) {
	h.requests <- recordedRequest{sessionID: sessionID, reqID: reqID, msg: msg}
}

func (h *fakeHandler) AudioChunk(_ string, data []byte) bool {
	if !h.acceptAudio {
		return false
	}
	h.audio <- data
	return true
}

// dialSession starts a session server and returns the client side of the
// connection.
func dialSession(t *testing.T, handler Handler) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		session := NewSession("test-session", conn, handler, log)
		go session.Run()
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(server.URL, "http", "ws", 1), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, code, closeErr.Code)
}

func TestSessionDispatchesRequests(t *testing.T) {
	handler := newFakeHandler(false)
	conn := dialSession(t, handler)

	select {
	case id := <-handler.sessions:
		assert.Equal(t, "test-session", id)
	case <-time.After(3 * time.Second):
		t.Fatal("session was not registered")
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"kind":"req","id":5,"msg":"get_driver_version"}`)))

	select {
	case req := <-handler.requests:
		assert.EqualValues(t, 5, req.reqID)
		assert.Equal(t, "get_driver_version", req.msg)
	case <-time.After(3 * time.Second):
		t.Fatal("request was not dispatched")
	}
}

func TestSessionDispatchesEvents(t *testing.T) {
	handler := newFakeHandler(false)
	conn := dialSession(t, handler)
	<-handler.sessions

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"kind":"event","msg":"connect"}`)))

	select {
	case event := <-handler.events:
		assert.Equal(t, "connect", event)
	case <-time.After(3 * time.Second):
		t.Fatal("event was not dispatched")
	}
}

func TestSessionInvalidJSONCloses(t *testing.T) {
	handler := newFakeHandler(false)
	conn := dialSession(t, handler)
	<-handler.sessions

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	expectClose(t, conn, websocket.CloseUnsupportedData)

	select {
	case <-handler.disconnects:
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not notified of the disconnect")
	}
}

func TestSessionMissingKindYieldsErrorResponse(t *testing.T) {
	handler := newFakeHandler(false)
	conn := dialSession(t, handler)
	<-handler.sessions

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"msg":"connect"}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, "resp", msg.Kind)
	require.NotNil(t, msg.Code)
	assert.EqualValues(t, 400, *msg.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.MsgData, &payload))
	assert.Equal(t, "BAD_REQUEST", payload["code"])
	assert.Contains(t, payload["message"], "kind")
}

func TestSessionMissingMsgYieldsErrorResponse(t *testing.T) {
	handler := newFakeHandler(false)
	conn := dialSession(t, handler)
	<-handler.sessions

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"req","id":3}`)))

	msg := readMessage(t, conn)
	require.NotNil(t, msg.Code)
	assert.EqualValues(t, 400, *msg.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.MsgData, &payload))
	assert.Contains(t, payload["message"], "msg")
}

func TestSessionUnknownKindYieldsErrorResponse(t *testing.T) {
	handler := newFakeHandler(false)
	conn := dialSession(t, handler)
	<-handler.sessions

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"kind":"subscribe","msg":"x"}`)))

	msg := readMessage(t, conn)
	require.NotNil(t, msg.Code)
	assert.EqualValues(t, 400, *msg.Code)
}

func TestSessionBinaryWithoutVoiceSessionCloses(t *testing.T) {
	handler := newFakeHandler(false)
	conn := dialSession(t, handler)
	<-handler.sessions

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	expectClose(t, conn, websocket.CloseMessageTooBig)
}

func TestSessionBinaryForwardedDuringVoiceSession(t *testing.T) {
	handler := newFakeHandler(true)
	conn := dialSession(t, handler)
	<-handler.sessions

	chunk := []byte{4, 5, 6, 7}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, chunk))

	select {
	case data := <-handler.audio:
		assert.Equal(t, chunk, data)
	case <-time.After(3 * time.Second):
		t.Fatal("audio chunk was not forwarded")
	}
}

func TestSessionOutboundMessages(t *testing.T) {
	handler := newFakeHandler(false)
	sinks := make(chan Sink, 1)
	wrapped := &sinkCapturingHandler{fakeHandler: handler, sinks: sinks}
	conn := dialSession(t, wrapped)
	<-handler.sessions

	sink := <-sinks
	sink.Send(NewEvent(EventDeviceState, CategoryDevice, map[string]string{"state": "CONNECTED"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "event", msg.Kind)
	assert.Equal(t, EventDeviceState, msg.Msg)
}

type sinkCapturingHandler struct {
	*fakeHandler
	sinks chan Sink
}

func (h *sinkCapturingHandler) NewSession(id string, sink Sink) {
	h.sinks <- sink
	h.fakeHandler.NewSession(id, sink)
}
