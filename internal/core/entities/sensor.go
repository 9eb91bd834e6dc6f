package entities

import "strings"

// sensorDeviceClasses the Remote supports natively. Anything else becomes a
// custom sensor with the device class as label.
var sensorDeviceClasses = map[string]bool{
	"battery":     true,
	"current":     true,
	"energy":      true,
	"humidity":    true,
	"power":       true,
	"temperature": true,
	"voltage":     true,
}

func mapSensorAttributes(entityID, state string, haAttr map[string]interface{}) (map[string]interface{}, error) {
	attributes := make(map[string]interface{}, 3)
	attributes["state"] = convertSensorState(state)
	// the HA sensor state is its currently detected value, text or number
	attributes["value"] = state

	if strings.HasPrefix(entityID, "binary_sensor.") {
		// binary sensors carry their device class in the unit field
		if class, ok := attrString(haAttr, "device_class"); ok {
			class = strings.ToLower(class)
			if class != "none" {
				attributes["unit"] = class
			}
		}
		return attributes, nil
	}

	if uom, ok := haAttr["unit_of_measurement"]; ok {
		attributes["unit"] = uom
	}

	return attributes, nil
}

func convertSensorEntity(entityID, state string, haAttr map[string]interface{}) (*Available, error) {
	var deviceClass string
	var options map[string]interface{}

	haClass, hasClass := attrString(haAttr, "device_class")
	switch {
	case strings.HasPrefix(entityID, "binary_sensor."):
		deviceClass = "binary"
	case hasClass && sensorDeviceClasses[haClass]:
		deviceClass = haClass
	default:
		// map non-supported device classes to a custom sensor with the
		// device class as label
		deviceClass = "custom"
		options = make(map[string]interface{})
		if hasClass {
			if label := deviceClassLabel(haClass); label != "" {
				options["custom_label"] = label
			}
		}
		if uom, ok := haAttr["unit_of_measurement"]; ok {
			options["custom_unit"] = uom
		}
		if len(options) == 0 {
			options = nil
		}
	}

	attributes, err := mapSensorAttributes(entityID, state, haAttr)
	if err != nil {
		return nil, err
	}

	return &Available{
		EntityID:    entityID,
		EntityType:  TypeSensor,
		DeviceClass: deviceClass,
		Name:        entityName(entityID, haAttr),
		Options:     options,
		Attributes:  attributes,
	}, nil
}

// deviceClassLabel turns "atmospheric_pressure" into "Atmospheric pressure".
func deviceClassLabel(class string) string {
	name := strings.ReplaceAll(class, "_", " ")
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
