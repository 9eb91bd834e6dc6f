package homeassistant

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/remote-bridge-go/internal/core/entities"
)

// RequestStates asks Home Assistant for all entity states. The converted
// entity list is delivered asynchronously via Events.AvailableEntities.
func (c *Client) RequestStates() error {
	id := c.nextMsgID()
	c.pending.add(id, pendingGetStates, time.Now().Add(getStatesTimeout), false)
	c.log.WithField("id", id).Debug("Requesting states")

	if err := c.sendJSON(map[string]interface{}{
		"id":   id,
		"type": "get_states",
	}); err != nil {
		c.pending.remove(id)
		return err
	}
	return nil
}

// handleStatesResult converts the raw get_states result array best-effort:
// an entity that fails conversion is skipped with a warning, it never aborts
// the whole list.
func (c *Client) handleStatesResult(raw json.RawMessage) {
	var states []struct {
		EntityID   string                 `json:"entity_id"`
		State      string                 `json:"state"`
		Attributes map[string]interface{} `json:"attributes"`
	}
	if err := json.Unmarshal(raw, &states); err != nil {
		c.log.WithError(err).Error("Error parsing get_states result")
		return
	}

	available := make([]entities.Available, 0, len(states))
	for _, state := range states {
		entity, err := entities.ConvertState(c.httpServer, state.EntityID, state.State, state.Attributes)
		if err != nil {
			c.log.WithField("entity_id", state.EntityID).WithError(err).
				Warn("Could not convert entity")
			continue
		}
		if entity == nil {
			c.log.WithField("entity_id", state.EntityID).Debug("Filtering non-supported entity")
			continue
		}
		available = append(available, *entity)
	}

	c.events.AvailableEntities(c.id, available)
}
