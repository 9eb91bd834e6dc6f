package controller

import (
	"github.com/frostdev-ops/remote-bridge-go/internal/adapters/homeassistant"
	"github.com/frostdev-ops/remote-bridge-go/internal/core/entities"
	intg "github.com/frostdev-ops/remote-bridge-go/internal/websocket"
)

// ConnectionEvent handles HA client lifecycle events.
func (c *Controller) ConnectionEvent(clientID string, state homeassistant.ConnectionState) {
	c.do(func() {
		if c.ha != nil && c.ha.ID() != clientID {
			c.log.WithField("client_id", clientID).Debug("Ignoring event from stale HA client")
			return
		}

		switch state {
		case homeassistant.StateAuthenticationFailed:
			// the error state prevents auto-reconnect in the upcoming Closed
			// event
			c.setDeviceState(DeviceError)
		case homeassistant.StateConnected:
			c.setDeviceState(DeviceConnected)
		case homeassistant.StateClosed:
			c.log.WithField("client_id", clientID).Info("HA client disconnected")
			c.ha = nil

			if c.deviceState == DeviceConnecting || c.deviceState == DeviceConnected {
				c.log.Info("Start reconnecting to HA")
				c.setDeviceState(DeviceConnecting)
				c.connectHA()
			}
		}
	})
}

// AvailableEntities answers outstanding get_available_entities and
// get_entity_states requests with the converted HA state list.
func (c *Controller) AvailableEntities(clientID string, available []entities.Available) {
	c.do(func() {
		for _, sess := range c.sessions {
			if sess.standby {
				c.log.WithField("ws_id", sess.id).
					Debug("Remote is in standby, not handling available entities")
				continue
			}

			if sess.availableEntitiesReqID != nil {
				reqID := *sess.availableEntitiesReqID
				sess.availableEntitiesReqID = nil
				sess.sink.Send(intg.NewResponse(reqID, "available_entities",
					map[string]interface{}{"available_entities": available}))
			} else if sess.entityStatesReqID != nil {
				reqID := *sess.entityStatesReqID
				sess.entityStatesReqID = nil

				states := make([]entities.Change, 0, len(available))
				for _, entity := range available {
					states = append(states, entities.Change{
						EntityType: entity.EntityType,
						EntityID:   entity.EntityID,
						Attributes: entity.Attributes,
					})
				}
				sess.sink.Send(intg.NewResponse(reqID, "entity_states", states))
			}
		}
	})
}

// EntityChange fans a state change out to the Remote sessions. A session
// with a non-empty subscription set only receives events for subscribed
// entity ids; a session that never subscribed receives everything.
func (c *Controller) EntityChange(clientID string, change entities.Change) {
	c.do(func() {
		for _, sess := range c.sessions {
			if len(sess.subscribed) > 0 {
				if _, ok := sess.subscribed[change.EntityID]; !ok {
					continue
				}
			}
			c.sendToSession(sess, intg.NewEvent(intg.EventEntityChange, intg.CategoryEntity, change))
		}
		c.metrics.EntityEventsForwarded.Inc()
	})
}

// AssistEvent forwards a translated assist pipeline event to the session
// that owns the voice run. The session association is kept after run-end:
// error events may arrive later and must still reach the Remote.
func (c *Controller) AssistEvent(event homeassistant.AssistEvent) {
	c.do(func() {
		for _, sess := range c.sessions {
			if sess.assistSessionID != event.SessionID {
				continue
			}
			c.sendToSession(sess, intg.NewEvent(intg.EventAssistant, intg.CategoryRemote,
				map[string]interface{}{
					"event_type": event.Type,
					"session_id": event.SessionID,
					"data":       event.Data,
				}))
		}
	})
}
