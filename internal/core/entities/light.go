package entities

import (
	"github.com/frostdev-ops/remote-bridge-go/pkg/errors"
)

func mapLightAttributes(state string, haAttr map[string]interface{}) (map[string]interface{}, error) {
	attributes := make(map[string]interface{}, 2)

	converted, err := convertOnOffState(state)
	if err != nil {
		return nil, err
	}
	attributes["state"] = converted

	if haAttr == nil {
		return attributes, nil
	}

	// Note: in the rgb/rgbw/rgbww color modes the overall brightness is a
	// combination of the brightness attribute and the color itself. Only the
	// plain brightness attribute is forwarded here.
	if brightness, ok := attrUint(haAttr, "brightness"); ok {
		attributes["brightness"] = brightness
	}

	colorMode, _ := attrString(haAttr, "color_mode")
	switch colorMode {
	case "color_temp":
		if colorTemp, ok := attrUint(haAttr, "color_temp"); ok {
			minMireds, _ := attrUint(haAttr, "min_mireds")
			maxMireds, _ := attrUint(haAttr, "max_mireds")
			pct, err := colorTempMiredToPercent(colorTemp, minMireds, maxMireds)
			if err != nil {
				return nil, err
			}
			attributes["color_temperature"] = pct
		}
	case "hs":
		if hs, ok := attrArray(haAttr, "hs_color"); ok {
			if len(hs) != 2 {
				return nil, errors.BadRequest("Invalid hs_color value. Expected hue & saturation")
			}
			// hs values are floats: hue 0..360, saturation 0..100
			hueF, _ := hs[0].(float64)
			satF, _ := hs[1].(float64)
			hue := uint64(hueF)
			saturation := uint64(satF * 2.55)
			if hue > 360 || saturation > 100 {
				return nil, errors.BadRequest("Invalid hs_color values (%d, %d)", hue, saturation)
			}
			attributes["hue"] = hue
			attributes["saturation"] = saturation * 255 / 100
		}
	}

	return attributes, nil
}

// colorTempMiredToPercent scales a mired value into an integer percentage of
// the [minMireds, maxMireds] range, clamping out-of-range inputs.
func colorTempMiredToPercent(value, minMireds, maxMireds uint64) (uint64, error) {
	if maxMireds <= minMireds {
		return 0, errors.BadRequest(
			"Invalid min_mireds or max_mireds value! min_mireds=%d, max_mireds=%d", minMireds, maxMireds)
	}
	if value < minMireds {
		value = minMireds
	}
	if value > maxMireds {
		value = maxMireds
	}
	return (value - minMireds) * 100 / (maxMireds - minMireds), nil
}

func convertLightEntity(entityID, state string, haAttr map[string]interface{}) (*Available, error) {
	// OnOff is a default feature
	features := []string{"toggle"}

	if colorModes, ok := attrArray(haAttr, "supported_color_modes"); ok {
		var dim, color, colorTemp bool
		for _, mode := range colorModes {
			switch mode {
			case "brightness":
				dim = true
			case "color_temp":
				dim = true
				colorTemp = true
			case "hs", "rgb", "rgbw", "rgbww", "xy":
				dim = true
				color = true
			}
		}
		if dim {
			features = append(features, "dim")
		}
		if color {
			features = append(features, "color")
		}
		if colorTemp {
			features = append(features, "color_temperature")
		}
	}

	attributes, err := mapLightAttributes(state, haAttr)
	if err != nil {
		return nil, err
	}

	return &Available{
		EntityID:   entityID,
		EntityType: TypeLight,
		Name:       entityName(entityID, haAttr),
		Features:   features,
		Attributes: attributes,
	}, nil
}
