package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestFrame(t *testing.T) {
	raw := `{"kind":"req","id":42,"msg":"get_driver_version"}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, "req", msg.Kind)
	require.NotNil(t, msg.ID)
	assert.EqualValues(t, 42, *msg.ID)
	assert.Equal(t, "get_driver_version", msg.Msg)
	assert.Nil(t, msg.MsgData)
}

func TestNewEventSerialization(t *testing.T) {
	msg := NewEvent(EventDeviceState, CategoryDevice, map[string]string{"state": "CONNECTED"})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "event", decoded["kind"])
	assert.Equal(t, "device_state", decoded["msg"])
	assert.Equal(t, "DEVICE", decoded["cat"])
	assert.NotEmpty(t, decoded["ts"])
	assert.NotContains(t, decoded, "req_id")
	assert.NotContains(t, decoded, "code")

	msgData := decoded["msg_data"].(map[string]interface{})
	assert.Equal(t, "CONNECTED", msgData["state"])
}

func TestNewResponseSerialization(t *testing.T) {
	msg := NewResponse(7, "driver_version", IntegrationVersion{API: "0.12.0", Integration: "1.0.0"})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "resp", decoded["kind"])
	assert.EqualValues(t, 7, decoded["req_id"])
	assert.EqualValues(t, 200, decoded["code"])
	assert.Equal(t, "driver_version", decoded["msg"])
}

func TestNewErrorResponse(t *testing.T) {
	msg := NewErrorResponse(9, 400, "BAD_REQUEST", "Missing field: kind")

	assert.Equal(t, "resp", msg.Kind)
	assert.Equal(t, "result", msg.Msg)
	require.NotNil(t, msg.Code)
	assert.EqualValues(t, 400, *msg.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.MsgData, &payload))
	assert.Equal(t, "BAD_REQUEST", payload["code"])
	assert.Equal(t, "Missing field: kind", payload["message"])
}

func TestZeroValuesOmitted(t *testing.T) {
	data, err := json.Marshal(Message{Kind: "event", Msg: "entity_change"})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.NotContains(t, decoded, "id")
	assert.NotContains(t, decoded, "req_id")
	assert.NotContains(t, decoded, "code")
	assert.NotContains(t, decoded, "cat")
	assert.NotContains(t, decoded, "msg_data")
}
