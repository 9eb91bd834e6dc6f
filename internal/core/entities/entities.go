package entities

import (
	"math"
	"net/url"
	"strings"

	"github.com/frostdev-ops/remote-bridge-go/pkg/errors"
)

// Type identifies an entity kind in the Remote's typed model.
type Type string

const (
	TypeButton      Type = "button"
	TypeSwitch      Type = "switch"
	TypeClimate     Type = "climate"
	TypeCover       Type = "cover"
	TypeLight       Type = "light"
	TypeMediaPlayer Type = "media_player"
	TypeRemote      Type = "remote"
	TypeSensor      Type = "sensor"
)

// Change is the canonical entity update shape consumed by the Remote.
type Change struct {
	EntityType Type                   `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Available describes one entity in an available_entities response.
type Available struct {
	EntityID    string                 `json:"entity_id"`
	EntityType  Type                   `json:"entity_type"`
	DeviceClass string                 `json:"device_class,omitempty"`
	Name        map[string]string      `json:"name"`
	Features    []string               `json:"features,omitempty"`
	Options     map[string]interface{} `json:"options,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// Command is the Remote's entity_command payload.
type Command struct {
	EntityType Type                   `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	CmdID      string                 `json:"cmd_id"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// TypeForDomain maps a Home Assistant entity domain to the Remote entity
// type. The second result is false for unsupported domains.
func TypeForDomain(domain string) (Type, bool) {
	switch domain {
	case "light":
		return TypeLight, true
	case "switch", "input_boolean":
		return TypeSwitch, true
	case "button", "input_button", "script":
		return TypeButton, true
	case "cover":
		return TypeCover, true
	case "sensor", "binary_sensor":
		return TypeSensor, true
	case "climate":
		return TypeClimate, true
	case "media_player":
		return TypeMediaPlayer, true
	case "remote":
		return TypeRemote, true
	default:
		return "", false
	}
}

// Domain extracts the Home Assistant domain from an entity id.
func Domain(entityID string) (string, error) {
	domain, _, found := strings.Cut(entityID, ".")
	if !found || domain == "" {
		return "", errors.BadRequest("Invalid entity_id format: %s", entityID)
	}
	return domain, nil
}

// ChangeFromEvent converts a state_changed event payload into the Remote's
// entity change shape. A nil change with a nil error means the event is
// intentionally ignored (stateless buttons, unsupported domains).
func ChangeFromEvent(server *url.URL, entityID, state string, attrs map[string]interface{}) (*Change, error) {
	if entityID == "" || state == "" {
		return nil, errors.BadRequest("Missing data in state_changed event for %q", entityID)
	}
	domain, err := Domain(entityID)
	if err != nil {
		return nil, err
	}

	var attributes map[string]interface{}
	switch domain {
	case "light":
		attributes, err = mapLightAttributes(state, attrs)
	case "switch", "input_boolean":
		attributes, err = mapSwitchAttributes(state)
	case "button", "input_button", "script":
		// buttons are stateless, the remote is not notified of presses
		return nil, nil
	case "cover":
		attributes, err = mapCoverAttributes(state, attrs)
	case "sensor":
		attributes, err = mapSensorAttributes(entityID, state, attrs)
	case "binary_sensor":
		attributes, err = mapSensorAttributes(entityID, state, attrs)
	case "climate":
		attributes, err = mapClimateAttributes(state, attrs)
	case "media_player":
		attributes, err = mapMediaPlayerAttributes(server, state, attrs)
	case "remote":
		attributes, err = mapRemoteAttributes(state)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entityType, _ := TypeForDomain(domain)
	return &Change{
		EntityType: entityType,
		EntityID:   entityID,
		Attributes: attributes,
	}, nil
}

// ConvertState converts one raw Home Assistant state object into an
// available entity. Unsupported domains yield a nil entity with a nil error.
func ConvertState(server *url.URL, entityID, state string, attrs map[string]interface{}) (*Available, error) {
	domain, err := Domain(entityID)
	if err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}

	switch domain {
	case "light":
		return convertLightEntity(entityID, state, attrs)
	case "switch", "input_boolean":
		return convertSwitchEntity(entityID, state, attrs)
	case "button", "input_button", "script":
		return convertButtonEntity(entityID, attrs)
	case "cover":
		return convertCoverEntity(entityID, state, attrs)
	case "sensor", "binary_sensor":
		return convertSensorEntity(entityID, state, attrs)
	case "climate":
		return convertClimateEntity(entityID, state, attrs)
	case "media_player":
		return convertMediaPlayerEntity(server, entityID, state, attrs)
	case "remote":
		return convertRemoteEntity(entityID, state, attrs)
	default:
		return nil, nil
	}
}

// convertOnOffState uppercases the allowed HA on/off state set and rejects
// everything else.
func convertOnOffState(state string) (string, error) {
	switch state {
	case "on", "off", "unavailable", "unknown":
		return strings.ToUpper(state), nil
	default:
		return "", errors.BadRequest("Unknown state: %s", state)
	}
}

// convertSensorState reports ON for any measured value; only the
// unavailable/unknown meta states pass through.
func convertSensorState(state string) string {
	switch state {
	case "unavailable", "unknown":
		return strings.ToUpper(state)
	default:
		return "ON"
	}
}

// entityName builds the language map from the friendly_name attribute,
// falling back to the entity id.
func entityName(entityID string, attrs map[string]interface{}) map[string]string {
	name := entityID
	if v, ok := attrString(attrs, "friendly_name"); ok && v != "" {
		name = v
	}
	return map[string]string{"en": name}
}

func attrString(attrs map[string]interface{}, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs[key].(string)
	return v, ok
}

func attrFloat(attrs map[string]interface{}, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs[key].(float64)
	return v, ok
}

// attrUint reads a non-negative integral JSON number.
func attrUint(attrs map[string]interface{}, key string) (uint64, bool) {
	v, ok := attrFloat(attrs, key)
	if !ok || v < 0 || v != math.Trunc(v) {
		return 0, false
	}
	return uint64(v), true
}

func attrArray(attrs map[string]interface{}, key string) ([]interface{}, bool) {
	if attrs == nil {
		return nil, false
	}
	v, ok := attrs[key].([]interface{})
	return v, ok
}

// copyAttr copies an attribute verbatim if present, optionally renaming it.
func copyAttr(src, dst map[string]interface{}, key, dstKey string) {
	if v, ok := src[key]; ok {
		dst[dstKey] = v
	}
}

// isNumber reports whether the attribute holds any JSON number.
func isNumber(attrs map[string]interface{}, key string) bool {
	_, ok := attrs[key].(float64)
	return ok
}
