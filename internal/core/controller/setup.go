package controller

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/remote-bridge-go/internal/adapters/homeassistant"
	intg "github.com/frostdev-ops/remote-bridge-go/internal/websocket"
)

// setupData is the setup_driver request payload.
type setupData struct {
	Reconfigure bool              `json:"reconfigure,omitempty"`
	SetupData   map[string]string `json:"setup_data,omitempty"`
}

// userData is the set_driver_user_data request payload.
type userData struct {
	InputValues map[string]string `json:"input_values,omitempty"`
}

func (c *Controller) applyTimerAction(action timerAction) {
	switch action {
	case timerStart:
		if c.setupTimer != nil {
			c.setupTimer.Stop()
		}
		timeout := time.Duration(c.cfg.Server.SetupTimeoutSec) * time.Second
		c.log.WithField("timeout", timeout).Debug("Starting setup flow timer")
		c.setupTimer = time.AfterFunc(timeout, func() {
			c.do(func() {
				c.abortSetup(true)
			})
		})
	case timerCancel:
		c.log.Debug("Cancelling setup flow timer")
		if c.setupTimer != nil {
			c.setupTimer.Stop()
			c.setupTimer = nil
		}
	}
}

// consumeSetupInput runs a state machine transition and applies the
// resulting timer action.
func (c *Controller) consumeSetupInput(input ModeInput) error {
	action, err := c.machine.consume(input)
	if err != nil {
		return err
	}
	c.log.WithField("state", c.machine.state).Debug("State machine transition")
	c.applyTimerAction(action)
	return nil
}

// setupDriver starts the driver setup flow. When the Remote already
// provides the connection settings the flow completes immediately,
// otherwise user input is requested.
func (c *Controller) setupDriver(sess *r2Session, reqID uint32, msgData json.RawMessage) {
	if err := c.consumeSetupInput(InputSetupRequest); err != nil {
		sess.sink.SendError(reqID, 400, "BAD_REQUEST", "Cannot start driver setup. Please abort setup first.")
		return
	}

	var data setupData
	if len(msgData) > 0 {
		if err := json.Unmarshal(msgData, &data); err != nil {
			c.failSetup(sess, reqID, "Invalid setup_driver payload")
			return
		}
	}

	if data.SetupData["url"] != "" && data.SetupData["token"] != "" {
		c.finishSetup(sess, reqID, data.SetupData["url"], data.SetupData["token"])
		return
	}

	// ask the user for the connection settings
	if err := c.consumeSetupInput(InputRequestUserInput); err != nil {
		c.failSetup(sess, reqID, "Setup flow error")
		return
	}
	sess.sink.Send(intg.NewResponse(reqID, "result", nil))
	c.sendToSession(sess, intg.NewEvent(intg.EventDriverSetupChange, intg.CategoryDevice,
		map[string]interface{}{
			"event_type":          "setup",
			"state":               "wait_user_action",
			"require_user_action": setupInputRequest(),
		}))
}

// setDriverUserData continues a setup flow waiting for user input.
func (c *Controller) setDriverUserData(sess *r2Session, reqID uint32, msgData json.RawMessage) {
	if err := c.consumeSetupInput(InputSetupUserData); err != nil {
		sess.sink.SendError(reqID, 400, "BAD_REQUEST", "Not waiting for driver user data. Please restart setup.")
		return
	}

	var data userData
	if err := json.Unmarshal(msgData, &data); err != nil {
		c.failSetup(sess, reqID, "Invalid set_driver_user_data payload")
		return
	}

	c.finishSetup(sess, reqID, data.InputValues["url"], data.InputValues["token"])
}

// finishSetup validates and applies the Home Assistant connection settings
// and completes the setup flow.
func (c *Controller) finishSetup(sess *r2Session, reqID uint32, url, token string) {
	if _, err := homeassistant.WebsocketURL(url); err != nil || token == "" {
		c.failSetup(sess, reqID, "Invalid Home Assistant URL or token")
		return
	}

	c.cfg.HomeAssistant.URL = url
	c.cfg.HomeAssistant.Token = token

	if err := c.consumeSetupInput(InputSuccessful); err != nil {
		c.failSetup(sess, reqID, "Setup flow error")
		return
	}

	c.log.Info("Driver setup completed")
	sess.sink.Send(intg.NewResponse(reqID, "result", nil))
	c.sendToSession(sess, intg.NewEvent(intg.EventDriverSetupChange, intg.CategoryDevice,
		intg.DriverSetupChange{EventType: "stop", State: "ok"}))

	c.deviceState = DeviceConnecting
	c.metrics.SetDeviceState(string(c.deviceState))
	c.sendDeviceState(sess)
	c.connectHA()
}

// failSetup transitions to the setup error state and reports the failure.
func (c *Controller) failSetup(sess *r2Session, reqID uint32, message string) {
	if err := c.consumeSetupInput(InputSetupError); err != nil {
		c.log.WithError(err).Warn("Setup error transition rejected")
	}
	sess.sink.SendError(reqID, 400, "BAD_REQUEST", message)
	c.sendToSession(sess, intg.NewEvent(intg.EventDriverSetupChange, intg.CategoryDevice,
		intg.DriverSetupChange{EventType: "stop", State: "error", Error: "other"}))
}

// abortSetup cancels a running setup flow, either on user request or on
// timeout.
func (c *Controller) abortSetup(timeout bool) {
	if err := c.consumeSetupInput(InputAbortSetup); err != nil {
		c.log.WithError(err).Debug("Abort setup rejected")
		return
	}

	reason := "aborted"
	if timeout {
		reason = "timeout"
	}
	c.log.WithField("reason", reason).Info("Driver setup aborted")

	for _, sess := range c.sessions {
		c.sendToSession(sess, intg.NewEvent(intg.EventDriverSetupChange, intg.CategoryDevice,
			intg.DriverSetupChange{EventType: "stop", State: "error", Error: reason}))
	}
}

// setupInputRequest describes the settings page shown on the Remote during
// driver setup.
func setupInputRequest() map[string]interface{} {
	return map[string]interface{}{
		"input": map[string]interface{}{
			"title": map[string]string{"en": "Home Assistant connection"},
			"settings": []map[string]interface{}{
				{
					"id":    "url",
					"label": map[string]string{"en": "WebSocket API URL"},
					"field": map[string]interface{}{
						"text": map[string]interface{}{"value": "ws://homeassistant.local:8123/api/websocket"},
					},
				},
				{
					"id":    "token",
					"label": map[string]string{"en": "Long-lived access token"},
					"field": map[string]interface{}{
						"password": map[string]interface{}{},
					},
				},
			},
		},
	}
}
