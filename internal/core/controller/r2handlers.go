package controller

import (
	"encoding/json"

	"github.com/frostdev-ops/remote-bridge-go/internal/adapters/homeassistant"
	"github.com/frostdev-ops/remote-bridge-go/internal/core/entities"
	intg "github.com/frostdev-ops/remote-bridge-go/internal/websocket"
	"github.com/frostdev-ops/remote-bridge-go/pkg/errors"
)

// NewSession registers a Remote session and immediately reports the current
// device state to it.
func (c *Controller) NewSession(id string, sink intg.Sink) {
	c.do(func() {
		c.sessions[id] = newR2Session(id, sink)
		c.metrics.ConnectedSessions.Set(float64(len(c.sessions)))
		c.sendDeviceState(c.sessions[id])
	})
}

// SessionDisconnect removes a Remote session.
func (c *Controller) SessionDisconnect(id string) {
	c.do(func() {
		delete(c.sessions, id)
		c.metrics.ConnectedSessions.Set(float64(len(c.sessions)))
	})
}

// Request dispatches one Remote request.
func (c *Controller) Request(sessionID string, reqID uint32, msg string, msgData json.RawMessage) {
	c.do(func() {
		c.handleRequest(sessionID, reqID, msg, msgData)
	})
}

// Event dispatches one Remote event.
func (c *Controller) Event(sessionID string, event string, msgData json.RawMessage) {
	c.do(func() {
		c.handleEvent(sessionID, event, msgData)
	})
}

// AudioChunk forwards one voice audio frame to the session's assist
// pipeline. False reports that no voice session is active.
func (c *Controller) AudioChunk(sessionID string, data []byte) bool {
	reply := make(chan bool, 1)
	c.do(func() {
		sess := c.session(sessionID)
		if sess == nil || sess.assistSessionID == 0 || c.ha == nil {
			reply <- false
			return
		}
		client := c.ha
		assistSessionID := sess.assistSessionID
		// the chunk write must not block the controller loop
		go func() {
			if err := client.SendAudioChunk(assistSessionID, data); err != nil {
				c.log.WithError(err).Warn("Dropping audio chunk")
			}
		}()
		reply <- true
	})
	select {
	case ok := <-reply:
		return ok
	case <-c.done:
		return false
	}
}

func (c *Controller) handleRequest(sessionID string, reqID uint32, msg string, msgData json.RawMessage) {
	sess := c.session(sessionID)
	if sess == nil {
		c.log.WithField("ws_id", sessionID).Error("Can't handle request without a session")
		return
	}
	// a request proves the remote is not in standby
	sess.standby = false

	c.log.WithField("ws_id", sessionID).WithField("msg", msg).Debug("Remote request")

	// metadata requests are always answered, no matter if the driver is in
	// setup flow or running mode
	switch msg {
	case intg.RequestDriverVersion:
		sess.sink.Send(intg.NewResponse(reqID, "driver_version", intg.IntegrationVersion{
			API:         APIVersion,
			Integration: c.version,
		}))
		return
	case intg.RequestDriverMetadata:
		sess.sink.Send(intg.NewResponse(reqID, "driver_metadata", c.meta))
		return
	case intg.RequestDeviceState:
		// answered with an event, not a response
		c.sendDeviceState(sess)
		return
	case intg.RequestSetupDriver:
		c.setupDriver(sess, reqID, msgData)
		return
	case intg.RequestSetDriverUserData:
		c.setDriverUserData(sess, reqID, msgData)
		return
	}

	// the remaining requests require the running mode
	if _, err := c.machine.consume(InputR2Request); err != nil {
		sess.sink.SendError(reqID, 503, "SERVICE_UNAVAILABLE", "Setup required")
		return
	}

	switch msg {
	case intg.RequestAvailableEntities:
		c.requestEntityList(sess, reqID, true)
	case intg.RequestEntityStates:
		c.requestEntityList(sess, reqID, false)
	case intg.RequestSubscribeEvents:
		c.subscribeEvents(sess, reqID, msgData, true)
	case intg.RequestUnsubscribeEvents:
		c.subscribeEvents(sess, reqID, msgData, false)
	case intg.RequestEntityCommand:
		c.entityCommand(sess, reqID, msgData)
	default:
		sess.sink.SendError(reqID, 400, "BAD_REQUEST", "Unknown request: "+msg)
	}
}

// requestEntityList records the request id on the session and forwards a
// get_states to Home Assistant. The reply is sent asynchronously when
// AvailableEntities arrives.
func (c *Controller) requestEntityList(sess *r2Session, reqID uint32, availableEntities bool) {
	if c.ha == nil {
		c.log.Error("Unable to request available entities: HA client connection not available!")
		c.respondError(sess, reqID, errors.NotConnected())
		return
	}

	id := reqID
	if availableEntities {
		sess.availableEntitiesReqID = &id
	} else {
		sess.entityStatesReqID = &id
	}

	c.log.WithField("ws_id", sess.id).Debug("Requesting available entities from HA")
	if err := c.ha.RequestStates(); err != nil {
		sess.availableEntitiesReqID = nil
		sess.entityStatesReqID = nil
		c.respondError(sess, reqID, err)
	}
}

func (c *Controller) subscribeEvents(sess *r2Session, reqID uint32, msgData json.RawMessage, subscribe bool) {
	var data intg.SubscribeEventsData
	if len(msgData) > 0 {
		if err := json.Unmarshal(msgData, &data); err != nil {
			sess.sink.SendError(reqID, 400, "BAD_REQUEST", "Invalid msg_data payload")
			return
		}
	}

	for _, entityID := range data.EntityIDs {
		if subscribe {
			sess.subscribed[entityID] = struct{}{}
		} else {
			delete(sess.subscribed, entityID)
		}
	}
	sess.sink.Send(intg.NewResponse(reqID, "result", nil))
}

func (c *Controller) entityCommand(sess *r2Session, reqID uint32, msgData json.RawMessage) {
	var cmd entities.Command
	if err := json.Unmarshal(msgData, &cmd); err != nil {
		sess.sink.SendError(reqID, 400, "BAD_REQUEST", "Invalid entity_command payload")
		return
	}

	switch cmd.CmdID {
	case "voice_start":
		c.voiceStart(sess, reqID, cmd)
		return
	case "voice_stop":
		sess.assistSessionID = 0
		sess.sink.Send(intg.NewResponse(reqID, "result", resultData("OK", "Voice session stopped")))
		return
	}

	if c.ha == nil {
		c.respondError(sess, reqID, errors.NotConnected())
		return
	}

	if err := c.ha.CallService(cmd); err != nil {
		c.log.WithError(err).Error("CallService failed")
		c.respondError(sess, reqID, err)
		return
	}
	c.metrics.ServiceCalls.Inc()
	sess.sink.Send(intg.NewResponse(reqID, "result", resultData("OK", "Service call sent")))
}

// voiceStart opens an assist pipeline session. The HA round trip happens off
// the controller loop; the response is delivered when it resolves.
func (c *Controller) voiceStart(sess *r2Session, reqID uint32, cmd entities.Command) {
	if c.ha == nil {
		c.respondError(sess, reqID, errors.NotConnected())
		return
	}

	sessionID, ok := cmd.Params["session_id"].(float64)
	if !ok || sessionID <= 0 {
		sess.sink.SendError(reqID, 400, "BAD_REQUEST", "Invalid or missing attribute: params.session_id")
		return
	}

	params := homeassistant.RunPipelineParams{
		EntityID:  cmd.EntityID,
		SessionID: int64(sessionID),
		Timeout:   30,
	}
	if rate, ok := cmd.Params["sample_rate"].(float64); ok {
		params.SampleRate = int(rate)
	}
	if timeout, ok := cmd.Params["timeout"].(float64); ok && timeout > 0 {
		params.Timeout = int(timeout)
	}
	if speech, ok := cmd.Params["speech_response"].(bool); ok {
		params.SpeechResponse = speech
	}
	if pipeline, ok := cmd.Params["pipeline"].(string); ok {
		params.PipelineID = pipeline
	}

	client := c.ha
	sessionKey := sess.id
	go func() {
		err := client.RunAssistPipeline(params)
		c.do(func() {
			active := c.session(sessionKey)
			if active == nil {
				return
			}
			if err != nil {
				c.respondError(active, reqID, err)
				return
			}
			active.assistSessionID = params.SessionID
			c.metrics.AssistSessionsStarted.Inc()
			active.sink.Send(intg.NewResponse(reqID, "result", resultData("OK", "Voice session started")))
		})
	}()
}

func (c *Controller) handleEvent(sessionID string, event string, _ json.RawMessage) {
	sess := c.session(sessionID)
	if sess == nil {
		c.log.WithField("ws_id", sessionID).Error("Session not found")
		return
	}

	switch event {
	case intg.EventConnect:
		c.remoteConnect(sess)
	case intg.EventDisconnect:
		sess.haConnect = false
		c.disconnectHA()
		// this prevents automatic reconnects
		c.setDeviceState(DeviceDisconnected)
	case intg.EventEnterStandby:
		sess.standby = true
		if c.cfg.HomeAssistant.DisconnectInStandby {
			c.disconnectHA()
			c.deviceState = DeviceDisconnected
			c.metrics.SetDeviceState(string(DeviceDisconnected))
		}
	case intg.EventExitStandby:
		sess.standby = false
		if c.cfg.HomeAssistant.DisconnectInStandby {
			c.deviceState = DeviceConnecting
			c.metrics.SetDeviceState(string(DeviceConnecting))
			c.sendDeviceState(sess)
			c.connectHA()
		}
	case intg.EventAbortDriverSetup:
		c.abortSetup(false)
	default:
		c.log.WithField("event", event).Info("Unsupported event")
	}
}

// remoteConnect handles the Remote's connect event: reconnect with new
// settings when the configuration changed, otherwise establish the
// connection if not already connected.
func (c *Controller) remoteConnect(sess *r2Session) {
	sess.haConnect = true

	if c.ha != nil && c.connectedSettings != settingsFingerprint(c.cfg.HomeAssistant) {
		c.log.Info("HA connection settings have changed, reconnecting with the new settings")
		c.sendToSession(sess, intg.NewEvent(intg.EventDriverSetupChange, intg.CategoryDevice,
			intg.DriverSetupChange{EventType: "stop", State: "ok"}))
		c.disconnectHA()
		// the Closed event triggers the reconnect with the new settings
		c.setDeviceState(DeviceConnecting)
		return
	}

	if c.deviceState != DeviceConnected {
		c.deviceState = DeviceConnecting
		c.metrics.SetDeviceState(string(DeviceConnecting))
		c.sendDeviceState(sess)
		c.connectHA()
		return
	}

	c.sendDeviceState(sess)
}

func (c *Controller) respondError(sess *r2Session, reqID uint32, err error) {
	sess.sink.SendError(reqID, uint16(errors.StatusOf(err)), errors.CodeOf(err), errors.MessageOf(err))
}

func resultData(code, message string) map[string]string {
	return map[string]string{"code": code, "message": message}
}
