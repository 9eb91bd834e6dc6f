package entities

import "strings"

// https://developers.home-assistant.io/docs/core/entity/climate#supported-features
const (
	climateSupportTargetTemperature      = 1
	climateSupportTargetTemperatureRange = 2
)

func mapClimateAttributes(state string, haAttr map[string]interface{}) (map[string]interface{}, error) {
	attributes := make(map[string]interface{}, 6)

	switch state {
	case "unavailable", "unknown",
		"off", "heat", "cool", "heat_cool", "auto":
		attributes["state"] = strings.ToUpper(state)
	case "fan_only":
		attributes["state"] = "FAN"
	}

	if haAttr != nil {
		copyAttr(haAttr, attributes, "current_temperature", "current_temperature")
		copyAttr(haAttr, attributes, "temperature", "target_temperature")
		copyAttr(haAttr, attributes, "target_temperature_high", "target_temperature_high")
		copyAttr(haAttr, attributes, "target_temperature_low", "target_temperature_low")
		if fanMode, ok := attrString(haAttr, "fan_mode"); ok {
			attributes["fan_mode"] = strings.ToUpper(fanMode)
		}
	}

	return attributes, nil
}

func convertClimateEntity(entityID, state string, haAttr map[string]interface{}) (*Available, error) {
	var features []string
	if hvacModes, ok := attrArray(haAttr, "hvac_modes"); ok {
		for _, mode := range hvacModes {
			switch mode {
			case "off":
				features = append(features, "on_off")
			case "heat":
				features = append(features, "heat")
			case "cool":
				features = append(features, "cool")
			}
		}
	}

	supported, _ := attrUint(haAttr, "supported_features")
	if supported&climateSupportTargetTemperature > 0 {
		features = append(features, "target_temperature")
	}
	if isNumber(haAttr, "current_temperature") {
		features = append(features, "current_temperature")
	}

	options := make(map[string]interface{})
	if v, ok := attrFloat(haAttr, "min_temp"); ok {
		options["min_temperature"] = v
	}
	if v, ok := attrFloat(haAttr, "max_temp"); ok {
		options["max_temperature"] = v
	}
	if v, ok := attrFloat(haAttr, "target_temp_step"); ok {
		options["target_temperature_step"] = v
	}
	if v, ok := haAttr["temperature_unit"]; ok {
		options["temperature_unit"] = v
	}
	if len(options) == 0 {
		options = nil
	}

	attributes, err := mapClimateAttributes(state, haAttr)
	if err != nil {
		return nil, err
	}

	return &Available{
		EntityID:   entityID,
		EntityType: TypeClimate,
		Name:       entityName(entityID, haAttr),
		Features:   features,
		Options:    options,
		Attributes: attributes,
	}, nil
}
