package entities

func mapSwitchAttributes(state string) (map[string]interface{}, error) {
	converted, err := convertOnOffState(state)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"state": converted}, nil
}

func convertSwitchEntity(entityID, state string, haAttr map[string]interface{}) (*Available, error) {
	var deviceClass string
	switch dc, _ := attrString(haAttr, "device_class"); dc {
	case "outlet", "switch":
		deviceClass = dc
	}

	attributes, err := mapSwitchAttributes(state)
	if err != nil {
		return nil, err
	}

	return &Available{
		EntityID:    entityID,
		EntityType:  TypeSwitch,
		DeviceClass: deviceClass,
		Name:        entityName(entityID, haAttr),
		// OnOff is a default feature
		Features:   []string{"toggle"},
		Attributes: attributes,
	}, nil
}
