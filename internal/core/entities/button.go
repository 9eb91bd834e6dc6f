package entities

func convertButtonEntity(entityID string, haAttr map[string]interface{}) (*Available, error) {
	return &Available{
		EntityID:   entityID,
		EntityType: TypeButton,
		Name:       entityName(entityID, haAttr),
		// no optional features, default = "press"
	}, nil
}
