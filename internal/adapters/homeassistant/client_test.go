package homeassistant

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/remote-bridge-go/internal/config"
	"github.com/frostdev-ops/remote-bridge-go/internal/core/entities"
)

// recorder captures client events on buffered channels.
type recorder struct {
	connections chan ConnectionState
	available   chan []entities.Available
	changes     chan entities.Change
	assist      chan AssistEvent
}

func newRecorder() *recorder {
	return &recorder{
		connections: make(chan ConnectionState, 16),
		available:   make(chan []entities.Available, 16),
		changes:     make(chan entities.Change, 16),
		assist:      make(chan AssistEvent, 16),
	}
}

func (r *recorder) ConnectionEvent(_ string, state ConnectionState) { r.connections <- state }
func (r *recorder) AvailableEntities(_ string, available []entities.Available) {
	r.available <- available
}
func (r *recorder) EntityChange(_ string, change entities.Change) { r.changes <- change }
func (r *recorder) AssistEvent(event AssistEvent)                 { r.assist <- event }

// fakeHA is a scripted Home Assistant WebSocket endpoint.
type fakeHA struct {
	server *httptest.Server
	conn   *websocket.Conn
	ready  chan struct{}
	text   chan map[string]interface{}
	binary chan []byte
}

func newFakeHA(t *testing.T) *fakeHA {
	t.Helper()
	f := &fakeHA{
		ready:  make(chan struct{}),
		text:   make(chan map[string]interface{}, 16),
		binary: make(chan []byte, 16),
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		f.conn = conn
		close(f.ready)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.TextMessage:
				var msg map[string]interface{}
				if err := json.Unmarshal(data, &msg); err == nil {
					f.text <- msg
				}
			case websocket.BinaryMessage:
				f.binary <- data
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeHA) url() string {
	return strings.Replace(f.server.URL, "http", "ws", 1)
}

func (f *fakeHA) send(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, f.conn.WriteJSON(v))
}

func (f *fakeHA) sendRaw(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, f.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (f *fakeHA) nextText(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case msg := <-f.text:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client message")
		return nil
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
		var zero T
		return zero
	}
}

func testConfig(url string) config.HomeAssistantConfig {
	return config.HomeAssistantConfig{
		URL:               url,
		Token:             "test-token",
		ConnectionTimeout: 3,
		MaxFrameSizeKB:    5120,
		Heartbeat: config.HeartbeatConfig{
			IntervalSec: config.DefaultHeartbeatIntervalSec,
			TimeoutSec:  config.DefaultHeartbeatTimeoutSec,
		},
	}
}

// connectReady drives the handshake until the client reports Connected and
// returns the subscription id.
func connectReady(t *testing.T, f *fakeHA, events *recorder, client *Client) uint32 {
	t.Helper()
	<-f.ready

	f.send(t, map[string]interface{}{"type": "auth_required"})
	auth := f.nextText(t)
	assert.Equal(t, "auth", auth["type"])
	assert.Equal(t, "test-token", auth["access_token"])

	f.send(t, map[string]interface{}{"type": "auth_ok"})
	subscribe := f.nextText(t)
	assert.Equal(t, "subscribe_events", subscribe["type"])
	assert.Equal(t, "state_changed", subscribe["event_type"])
	subscribeID := uint32(subscribe["id"].(float64))
	assert.EqualValues(t, 1, subscribeID)

	f.send(t, map[string]interface{}{"id": subscribeID, "type": "result", "success": true})
	state := waitFor(t, events.connections, "connected event")
	assert.Equal(t, StateConnected, state)

	return subscribeID
}

func TestClientHandshakeAndEntityChange(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	defer client.Close(websocket.CloseNormalClosure, "test done")

	subscribeID := connectReady(t, f, events, client)

	f.sendRaw(t, `{"id":`+jsonID(subscribeID)+`,"type":"event","event":{"event_type":"state_changed",
		"data":{"entity_id":"light.kitchen","new_state":{"state":"on","attributes":
		{"brightness":128,"color_mode":"color_temp","color_temp":250,"min_mireds":150,"max_mireds":500}}}}}`)

	change := waitFor(t, events.changes, "entity change")
	assert.Equal(t, entities.TypeLight, change.EntityType)
	assert.Equal(t, "light.kitchen", change.EntityID)
	assert.Equal(t, "ON", change.Attributes["state"])
	assert.EqualValues(t, 128, change.Attributes["brightness"])
	assert.EqualValues(t, 28, change.Attributes["color_temperature"])
}

func TestClientIgnoresEventWithForeignID(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	defer client.Close(websocket.CloseNormalClosure, "test done")

	connectReady(t, f, events, client)

	f.sendRaw(t, `{"id":999,"type":"event","event":{"event_type":"state_changed",
		"data":{"entity_id":"light.kitchen","new_state":{"state":"on","attributes":{}}}}}`)

	select {
	case <-events.changes:
		t.Fatal("event with non-matching subscription id must be ignored")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientAuthenticationFailure(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	_ = client

	<-f.ready
	f.send(t, map[string]interface{}{"type": "auth_required"})
	f.nextText(t) // auth
	f.send(t, map[string]interface{}{"type": "auth_invalid"})

	state := waitFor(t, events.connections, "auth failed event")
	assert.Equal(t, StateAuthenticationFailed, state)

	state = waitFor(t, events.connections, "closed event")
	assert.Equal(t, StateClosed, state)
}

func TestClientGetStates(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	defer client.Close(websocket.CloseNormalClosure, "test done")

	connectReady(t, f, events, client)

	require.NoError(t, client.RequestStates())
	getStates := f.nextText(t)
	assert.Equal(t, "get_states", getStates["type"])
	id := uint32(getStates["id"].(float64))
	assert.EqualValues(t, 2, id, "message ids must be monotonic")

	f.sendRaw(t, `{"id":`+jsonID(id)+`,"type":"result","success":true,"result":[
		{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen"}},
		{"entity_id":"vacuum.roomba","state":"docked","attributes":{}},
		{"entity_id":"sensor.pressure","state":"1013.25","attributes":
			{"device_class":"atmospheric_pressure","unit_of_measurement":"hPa"}}]}`)

	available := waitFor(t, events.available, "available entities")
	require.Len(t, available, 2, "unsupported domains are filtered")
	assert.Equal(t, "light.kitchen", available[0].EntityID)
	assert.Equal(t, "sensor.pressure", available[1].EntityID)
	assert.Equal(t, "custom", available[1].DeviceClass)
}

func TestClientCallService(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	defer client.Close(websocket.CloseNormalClosure, "test done")

	connectReady(t, f, events, client)

	cmd := entities.Command{
		EntityType: entities.TypeRemote,
		EntityID:   "remote.tv",
		CmdID:      "send_cmd",
		Params: map[string]interface{}{
			"command": "power_on", "delay": float64(1500), "hold": float64(2000), "repeat": float64(3),
		},
	}
	require.NoError(t, client.CallService(cmd))

	call := f.nextText(t)
	assert.Equal(t, "call_service", call["type"])
	assert.Equal(t, "remote", call["domain"])
	assert.Equal(t, "send_command", call["service"])
	target := call["target"].(map[string]interface{})
	assert.Equal(t, "remote.tv", target["entity_id"])
	data := call["service_data"].(map[string]interface{})
	assert.Equal(t, "power_on", data["command"])
	assert.EqualValues(t, 3, data["num_repeats"])
	assert.EqualValues(t, 1.5, data["delay_secs"])
	assert.EqualValues(t, 2.0, data["hold_secs"])
}

func TestClientAssistPipelineAudioUplink(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	defer client.Close(websocket.CloseNormalClosure, "test done")

	connectReady(t, f, events, client)

	runErr := make(chan error, 1)
	go func() {
		runErr <- client.RunAssistPipeline(RunPipelineParams{
			EntityID:       "assist",
			SessionID:      456,
			SampleRate:     16000,
			Timeout:        30,
			SpeechResponse: true,
		})
	}()

	run := f.nextText(t)
	assert.Equal(t, "assist_pipeline/run", run["type"])
	assert.Equal(t, "stt", run["start_stage"])
	assert.Equal(t, "tts", run["end_stage"])
	input := run["input"].(map[string]interface{})
	assert.EqualValues(t, 16000, input["sample_rate"])
	id := uint32(run["id"].(float64))

	f.send(t, map[string]interface{}{"id": id, "type": "result", "success": true})
	require.NoError(t, waitFor(t, runErr, "pipeline run result"))

	f.sendRaw(t, `{"id":`+jsonID(id)+`,"type":"event","event":{"type":"run-start",
		"data":{"runner_data":{"stt_binary_handler_id":42,"timeout":30}}}}`)
	event := waitFor(t, events.assist, "run-start event")
	assert.Equal(t, "run-start", event.Type)
	assert.EqualValues(t, 456, event.SessionID)

	chunk := make([]byte, 4096)
	for i := range chunk {
		chunk[i] = byte(i)
	}
	require.NoError(t, client.SendAudioChunk(456, chunk))

	frame := waitFor(t, f.binary, "audio frame")
	require.Len(t, frame, 4097)
	assert.Equal(t, byte(0x2A), frame[0])
	assert.Equal(t, chunk, frame[1:])

	// events keep streaming, run-end finishes the pipeline run
	f.sendRaw(t, `{"id":`+jsonID(id)+`,"type":"event","event":{"type":"run-end","data":{}}}`)
	event = waitFor(t, events.assist, "run-end event")
	assert.True(t, event.Finished())
}

func TestClientAssistAudioWithoutSession(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	defer client.Close(websocket.CloseNormalClosure, "test done")

	connectReady(t, f, events, client)

	err = client.SendAudioChunk(999, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestClientListAssistPipelinesFiltersSpeechless(t *testing.T) {
	f := newFakeHA(t)
	events := newRecorder()

	client, err := Connect(testConfig(f.url()), events, logrus.New())
	require.NoError(t, err)
	defer client.Close(websocket.CloseNormalClosure, "test done")

	connectReady(t, f, events, client)

	type listResult struct {
		result *PipelinesResult
		err    error
	}
	resultCh := make(chan listResult, 1)
	go func() {
		result, err := client.ListAssistPipelines(true)
		resultCh <- listResult{result, err}
	}()

	list := f.nextText(t)
	assert.Equal(t, "assist_pipeline/pipeline/list", list["type"])
	id := uint32(list["id"].(float64))

	f.sendRaw(t, `{"id":`+jsonID(id)+`,"type":"result","success":true,"result":{
		"pipelines":[
			{"id":"p1","name":"Full","language":"en","stt_engine":"whisper"},
			{"id":"p2","name":"TextOnly","language":"en","stt_engine":null}
		],
		"preferred_pipeline":"p2"}}`)

	got := waitFor(t, resultCh, "pipeline list")
	require.NoError(t, got.err)
	require.Len(t, got.result.Pipelines, 1)
	assert.Equal(t, "p1", got.result.Pipelines[0].ID)
	assert.Nil(t, got.result.PreferredPipeline, "vanished preferred pipeline must be cleared")
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://ha.local:8123":                 "ws://ha.local:8123/api/websocket",
		"https://ha.local":                     "wss://ha.local/api/websocket",
		"ws://ha.local:8123/api/websocket":     "ws://ha.local:8123/api/websocket",
		"wss://ha.example.com/custom/endpoint": "wss://ha.example.com/custom/endpoint",
	}
	for input, expected := range cases {
		u, err := WebsocketURL(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, u.String())
	}

	_, err := WebsocketURL("ftp://ha.local")
	assert.Error(t, err)
	_, err = WebsocketURL("not a url")
	assert.Error(t, err)
}

func jsonID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
