package entities

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

// https://developers.home-assistant.io/docs/core/entity/media-player#supported-features
const (
	mediaSupportPause         = 1
	mediaSupportSeek          = 2
	mediaSupportVolumeSet     = 4
	mediaSupportVolumeMute    = 8
	mediaSupportPreviousTrack = 16
	mediaSupportNextTrack     = 32
	mediaSupportTurnOn        = 128
	mediaSupportTurnOff       = 256
	mediaSupportVolumeStep    = 1024
	mediaSupportStop          = 4096
	mediaSupportPlay          = 16384
	mediaSupportShuffleSet    = 32768
	mediaSupportRepeatSet     = 262144
)

func mapMediaPlayerAttributes(server *url.URL, state string, haAttr map[string]interface{}) (map[string]interface{}, error) {
	attributes := make(map[string]interface{}, 8)

	switch state {
	case "playing", "paused":
		attributes["state"] = strings.ToUpper(state)
	case "idle":
		attributes["state"] = "ON"
	default:
		converted, err := convertOnOffState(state)
		if err != nil {
			return nil, err
		}
		attributes["state"] = converted
	}

	if haAttr == nil {
		return attributes, nil
	}

	if volume, ok := attrFloat(haAttr, "volume_level"); ok {
		attributes["volume"] = uint64(math.Round(volume * 100))
	}
	copyAttr(haAttr, attributes, "is_volume_muted", "muted")
	copyAttr(haAttr, attributes, "media_position", "media_position")
	copyAttr(haAttr, attributes, "media_duration", "media_duration")
	copyAttr(haAttr, attributes, "media_title", "media_title")
	copyAttr(haAttr, attributes, "media_artist", "media_artist")
	copyAttr(haAttr, attributes, "media_album_name", "media_album")
	copyAttr(haAttr, attributes, "media_content_type", "media_type")
	copyAttr(haAttr, attributes, "shuffle", "shuffle")
	if repeat, ok := attrString(haAttr, "repeat"); ok {
		attributes["repeat"] = strings.ToUpper(repeat)
	}
	copyAttr(haAttr, attributes, "source", "source")
	copyAttr(haAttr, attributes, "sound_mode", "sound_mode")

	if picture, ok := attrString(haAttr, "entity_picture"); ok {
		switch {
		case strings.HasPrefix(picture, "http"):
			attributes["media_image_url"] = picture
		case strings.HasPrefix(picture, "/") && server != nil:
			// HA returns a server-relative path including query parameters,
			// so the URL is assembled textually instead of via URL.Path.
			attributes["media_image_url"] = fmt.Sprintf("%s://%s%s", server.Scheme, server.Host, picture)
		}
	}

	return attributes, nil
}

func convertMediaPlayerEntity(server *url.URL, entityID, state string, haAttr map[string]interface{}) (*Available, error) {
	var deviceClass string
	switch dc, _ := attrString(haAttr, "device_class"); dc {
	case "receiver", "speaker":
		deviceClass = dc
	}

	supported, _ := attrUint(haAttr, "supported_features")
	var features []string
	if supported&(mediaSupportTurnOn|mediaSupportTurnOff) > 0 {
		features = append(features, "on_off")
	}
	if supported&mediaSupportVolumeSet > 0 {
		features = append(features, "volume")
	}
	if supported&mediaSupportVolumeStep > 0 {
		features = append(features, "volume_up_down")
	}
	if supported&mediaSupportVolumeMute > 0 {
		// the HA media player has no mute toggle
		features = append(features, "mute", "unmute")
	}
	if supported&(mediaSupportPause|mediaSupportPlay) > 0 {
		features = append(features, "play_pause")
	}
	if supported&mediaSupportStop > 0 {
		features = append(features, "stop")
	}
	if supported&mediaSupportNextTrack > 0 {
		features = append(features, "next")
	}
	if supported&mediaSupportPreviousTrack > 0 {
		features = append(features, "previous")
	}
	if supported&mediaSupportRepeatSet > 0 {
		features = append(features, "repeat")
	}
	if supported&mediaSupportShuffleSet > 0 {
		features = append(features, "shuffle")
	}
	if supported&mediaSupportSeek > 0 {
		features = append(features, "seek", "media_duration", "media_position")
	}
	features = append(features,
		"media_title", "media_artist", "media_album", "media_image_url", "media_type")

	attributes, err := mapMediaPlayerAttributes(server, state, haAttr)
	if err != nil {
		return nil, err
	}

	return &Available{
		EntityID:    entityID,
		EntityType:  TypeMediaPlayer,
		DeviceClass: deviceClass,
		Name:        entityName(entityID, haAttr),
		Features:    features,
		Attributes:  attributes,
	}, nil
}
