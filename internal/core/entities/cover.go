package entities

import "strings"

// https://developers.home-assistant.io/docs/core/entity/cover#supported-features
const (
	coverSupportOpen        = 1
	coverSupportClose       = 2
	coverSupportSetPosition = 4
	coverSupportStop        = 8
)

func mapCoverAttributes(state string, haAttr map[string]interface{}) (map[string]interface{}, error) {
	attributes := make(map[string]interface{}, 3)

	switch state {
	case "open", "opening", "closed", "closing":
		attributes["state"] = strings.ToUpper(state)
	default:
		converted, err := convertOnOffState(state)
		if err != nil {
			return nil, err
		}
		attributes["state"] = converted
	}

	if pos, ok := attrUint(haAttr, "current_position"); ok && pos <= 100 {
		attributes["position"] = pos
	}
	if tilt, ok := attrUint(haAttr, "current_tilt_position"); ok && tilt <= 100 {
		attributes["tilt_position"] = tilt
	}

	return attributes, nil
}

func convertCoverEntity(entityID, state string, haAttr map[string]interface{}) (*Available, error) {
	var deviceClass string
	switch dc, _ := attrString(haAttr, "device_class"); dc {
	case "blind", "curtain", "garage", "shade":
		deviceClass = dc
	}

	supported, _ := attrUint(haAttr, "supported_features")
	var features []string
	if supported&coverSupportOpen > 0 {
		features = append(features, "open")
	}
	if supported&coverSupportClose > 0 {
		features = append(features, "close")
	}
	if supported&coverSupportStop > 0 {
		features = append(features, "stop")
	}
	if supported&coverSupportSetPosition > 0 {
		features = append(features, "position")
	}

	attributes, err := mapCoverAttributes(state, haAttr)
	if err != nil {
		return nil, err
	}

	return &Available{
		EntityID:    entityID,
		EntityType:  TypeCover,
		DeviceClass: deviceClass,
		Name:        entityName(entityID, haAttr),
		Features:    features,
		Attributes:  attributes,
	}, nil
}
