package entities

func mapRemoteAttributes(state string) (map[string]interface{}, error) {
	converted, err := convertOnOffState(state)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"state": converted}, nil
}

func convertRemoteEntity(entityID, state string, haAttr map[string]interface{}) (*Available, error) {
	attributes, err := mapRemoteAttributes(state)
	if err != nil {
		return nil, err
	}

	return &Available{
		EntityID:   entityID,
		EntityType: TypeRemote,
		Name:       entityName(entityID, haAttr),
		// toggle, on and off are fixed features of the HA remote entity.
		// Available commands are not retrievable from HA.
		Features:   []string{"send_cmd", "on_off", "toggle"},
		Attributes: attributes,
	}, nil
}
