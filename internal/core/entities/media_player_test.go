package entities

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func haServer(t *testing.T) *url.URL {
	t.Helper()
	server, err := url.Parse("http://homeassistant.local:8123")
	require.NoError(t, err)
	return server
}

func TestMediaPlayerEventStates(t *testing.T) {
	for input, expected := range map[string]string{
		"playing":     "PLAYING",
		"paused":      "PAUSED",
		"idle":        "ON",
		"on":          "ON",
		"off":         "OFF",
		"unavailable": "UNAVAILABLE",
	} {
		change, err := ChangeFromEvent(haServer(t), "media_player.tv", input, nil)
		require.NoError(t, err, input)
		assert.Equal(t, expected, change.Attributes["state"])
	}
}

func TestMediaPlayerEventAttributeRenames(t *testing.T) {
	attrs := attrsFromJSON(t, `{
		"volume_level": 0.47,
		"is_volume_muted": false,
		"media_album_name": "Abbey Road",
		"media_content_type": "music",
		"media_title": "Come Together",
		"repeat": "one"
	}`)

	change, err := ChangeFromEvent(haServer(t), "media_player.sonos", "playing", attrs)
	require.NoError(t, err)

	assert.EqualValues(t, 47, change.Attributes["volume"])
	assert.Equal(t, false, change.Attributes["muted"])
	assert.Equal(t, "Abbey Road", change.Attributes["media_album"])
	assert.Equal(t, "music", change.Attributes["media_type"])
	assert.Equal(t, "Come Together", change.Attributes["media_title"])
	assert.Equal(t, "ONE", change.Attributes["repeat"])
}

func TestMediaPlayerEntityPicture(t *testing.T) {
	attrs := attrsFromJSON(t, `{"entity_picture": "/api/media_player_proxy/media_player.tv?token=abc"}`)

	change, err := ChangeFromEvent(haServer(t), "media_player.tv", "playing", attrs)
	require.NoError(t, err)

	assert.Equal(t,
		"http://homeassistant.local:8123/api/media_player_proxy/media_player.tv?token=abc",
		change.Attributes["media_image_url"])
}

func TestMediaPlayerEntityPictureAbsoluteURL(t *testing.T) {
	attrs := attrsFromJSON(t, `{"entity_picture": "https://cdn.example.com/cover.jpg"}`)

	change, err := ChangeFromEvent(haServer(t), "media_player.tv", "playing", attrs)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/cover.jpg", change.Attributes["media_image_url"])
}

func TestConvertMediaPlayerEntityFeatures(t *testing.T) {
	// pause | seek | volume set | mute | prev | next | turn on | volume step | stop | play | shuffle | repeat
	supported := uint64(1 | 2 | 4 | 8 | 16 | 32 | 128 | 1024 | 4096 | 16384 | 32768 | 262144)
	attrs := map[string]interface{}{
		"supported_features": float64(supported),
		"device_class":       "receiver",
	}

	entity, err := ConvertState(haServer(t), "media_player.avr", "on", attrs)
	require.NoError(t, err)

	assert.Equal(t, "receiver", entity.DeviceClass)
	assert.ElementsMatch(t, []string{
		"on_off", "volume", "volume_up_down", "mute", "unmute", "play_pause",
		"stop", "next", "previous", "repeat", "shuffle",
		"seek", "media_duration", "media_position",
		"media_title", "media_artist", "media_album", "media_image_url", "media_type",
	}, entity.Features)
}

func TestConvertMediaPlayerEntityMetadataFeaturesAlwaysPresent(t *testing.T) {
	entity, err := ConvertState(haServer(t), "media_player.basic", "off", map[string]interface{}{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"media_title", "media_artist", "media_album", "media_image_url", "media_type",
	}, entity.Features)
	assert.Empty(t, entity.DeviceClass)
}
