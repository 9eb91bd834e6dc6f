package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverEventPosition(t *testing.T) {
	attrs := attrsFromJSON(t, `{"current_position": 75}`)

	change, err := ChangeFromEvent(nil, "cover.hall", "open", attrs)
	require.NoError(t, err)
	require.NotNil(t, change)

	assert.Equal(t, TypeCover, change.EntityType)
	assert.Equal(t, "OPEN", change.Attributes["state"])
	assert.EqualValues(t, 75, change.Attributes["position"])
}

func TestCoverEventStates(t *testing.T) {
	for input, expected := range map[string]string{
		"open":        "OPEN",
		"opening":     "OPENING",
		"closed":      "CLOSED",
		"closing":     "CLOSING",
		"unavailable": "UNAVAILABLE",
		"unknown":     "UNKNOWN",
	} {
		change, err := ChangeFromEvent(nil, "cover.test", input, nil)
		require.NoError(t, err, input)
		assert.Equal(t, expected, change.Attributes["state"])
	}
}

func TestCoverEventOutOfRangePositionDropped(t *testing.T) {
	attrs := attrsFromJSON(t, `{"current_position": 150, "current_tilt_position": -5}`)

	change, err := ChangeFromEvent(nil, "cover.hall", "open", attrs)
	require.NoError(t, err)

	assert.NotContains(t, change.Attributes, "position")
	assert.NotContains(t, change.Attributes, "tilt_position")
}

func TestConvertCoverEntityFeatures(t *testing.T) {
	// open | close | set position | stop
	attrs := attrsFromJSON(t, `{"supported_features": 15, "device_class": "blind"}`)

	entity, err := ConvertState(nil, "cover.blinds", "closed", attrs)
	require.NoError(t, err)

	assert.Equal(t, "blind", entity.DeviceClass)
	assert.ElementsMatch(t, []string{"open", "close", "stop", "position"}, entity.Features)
}

func TestConvertCoverEntityUnsupportedDeviceClass(t *testing.T) {
	attrs := attrsFromJSON(t, `{"device_class": "door"}`)

	entity, err := ConvertState(nil, "cover.front", "open", attrs)
	require.NoError(t, err)

	assert.Empty(t, entity.DeviceClass)
	assert.Empty(t, entity.Features)
}
