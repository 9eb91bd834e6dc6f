package homeassistant

import (
	"strings"
	"time"

	"github.com/frostdev-ops/remote-bridge-go/internal/core/entities"
	"github.com/frostdev-ops/remote-bridge-go/pkg/errors"
)

// CallService converts a Remote entity command into a Home Assistant
// call_service request and sends it. The command is acknowledged towards the
// Remote right after the send; the asynchronous HA result is tracked in the
// pending table and only logged.
func (c *Client) CallService(cmd entities.Command) error {
	service, serviceData, err := serviceForCommand(cmd)
	if err != nil {
		return err
	}

	domain, err := entities.Domain(cmd.EntityID)
	if err != nil {
		return err
	}

	id := c.nextMsgID()
	c.pending.add(id, pendingCallService, time.Now().Add(requestTimeout), false)

	msg := callServiceMsg{
		ID:          id,
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: serviceData,
		Target:      serviceTarget{EntityID: cmd.EntityID},
	}
	c.log.WithField("service", domain+"."+service).Info("Calling service in Home Assistant")

	if err := c.sendJSON(msg); err != nil {
		c.pending.remove(id)
		return err
	}
	return nil
}

// serviceForCommand maps a Remote command id and parameters to the HA
// service name and optional service_data payload.
func serviceForCommand(cmd entities.Command) (string, map[string]interface{}, error) {
	switch cmd.EntityType {
	case entities.TypeButton:
		return buttonService(cmd)
	case entities.TypeSwitch:
		return onOffToggleService(cmd)
	case entities.TypeLight:
		return lightService(cmd)
	case entities.TypeRemote:
		return remoteService(cmd)
	case entities.TypeClimate:
		if !climateCommands[cmd.CmdID] {
			return "", nil, invalidCmd(cmd)
		}
		return "", nil, errors.NotImplemented("climate command %s is not supported yet", cmd.CmdID)
	case entities.TypeCover:
		if !coverCommands[cmd.CmdID] {
			return "", nil, invalidCmd(cmd)
		}
		return "", nil, errors.NotImplemented("cover command %s is not supported yet", cmd.CmdID)
	case entities.TypeMediaPlayer:
		if !mediaPlayerCommands[cmd.CmdID] {
			return "", nil, invalidCmd(cmd)
		}
		return "", nil, errors.NotImplemented("media_player command %s is not supported yet", cmd.CmdID)
	case entities.TypeSensor:
		return "", nil, errors.BadRequest("Sensor doesn't support sending commands to! Ignoring call")
	default:
		return "", nil, errors.BadRequest("Unsupported entity type: %s", cmd.EntityType)
	}
}

var climateCommands = map[string]bool{
	"on": true, "off": true, "hvac_mode": true, "target_temperature": true,
}

var coverCommands = map[string]bool{
	"open": true, "close": true, "stop": true, "position": true,
}

var mediaPlayerCommands = map[string]bool{
	"on": true, "off": true, "toggle": true, "play_pause": true, "stop": true,
	"previous": true, "next": true, "fast_forward": true, "rewind": true,
	"seek": true, "volume": true, "volume_up": true, "volume_down": true,
	"mute_toggle": true, "mute": true, "unmute": true, "repeat": true, "shuffle": true,
}

func invalidCmd(cmd entities.Command) error {
	return errors.BadRequest("Invalid cmd_id: %s", cmd.CmdID)
}

func buttonService(cmd entities.Command) (string, map[string]interface{}, error) {
	if cmd.CmdID != "push" {
		return "", nil, invalidCmd(cmd)
	}
	// scripts are invoked by their own name as the service
	if domain, object, found := strings.Cut(cmd.EntityID, "."); found && domain == "script" {
		return object, nil, nil
	}
	return "press", nil, nil
}

func onOffToggleService(cmd entities.Command) (string, map[string]interface{}, error) {
	switch cmd.CmdID {
	case "on":
		return "turn_on", nil, nil
	case "off":
		return "turn_off", nil, nil
	case "toggle":
		return "toggle", nil, nil
	default:
		return "", nil, invalidCmd(cmd)
	}
}

func lightService(cmd entities.Command) (string, map[string]interface{}, error) {
	switch cmd.CmdID {
	case "on":
		data := map[string]interface{}{}
		if brightness, ok := paramUint(cmd.Params, "brightness"); ok {
			data["brightness_pct"] = brightness * 100 / 255
		}
		return "turn_on", data, nil
	case "off":
		return "turn_off", nil, nil
	case "toggle":
		return "toggle", nil, nil
	default:
		return "", nil, invalidCmd(cmd)
	}
}

func remoteService(cmd entities.Command) (string, map[string]interface{}, error) {
	switch cmd.CmdID {
	case "on":
		return "turn_on", nil, nil
	case "off":
		return "turn_off", nil, nil
	case "toggle":
		return "toggle", nil, nil
	case "send_cmd":
		return remoteSendCommand(cmd, "command")
	case "send_cmd_sequence":
		return remoteSendCommand(cmd, "sequence")
	case "stop_send":
		return "", nil, errors.BadRequest("stop_send command is not supported")
	default:
		return "", nil, invalidCmd(cmd)
	}
}

// remoteSendCommand builds the send_command service data from either a
// single command string or a command sequence array.
func remoteSendCommand(cmd entities.Command, param string) (string, map[string]interface{}, error) {
	if cmd.Params == nil {
		return "", nil, errors.BadRequest("Missing params object")
	}

	data := map[string]interface{}{}
	switch value := cmd.Params[param].(type) {
	case string:
		if param != "command" {
			break
		}
		if strings.TrimSpace(value) == "" {
			return "", nil, errors.BadRequest("empty command")
		}
		data["command"] = value
	case []interface{}:
		if param == "sequence" {
			data["command"] = value
		}
	}
	if _, ok := data["command"]; !ok {
		return "", nil, errors.BadRequest("Invalid or missing attribute: params.%s", param)
	}

	if repeat, ok := paramUint(cmd.Params, "repeat"); ok {
		data["num_repeats"] = repeat
	}
	if delay, ok := paramUint(cmd.Params, "delay"); ok {
		data["delay_secs"] = float64(delay) / 1000
	}
	if hold, ok := paramUint(cmd.Params, "hold"); ok {
		data["hold_secs"] = float64(hold) / 1000
	}

	return "send_command", data, nil
}

// paramUint reads a non-negative integral JSON number parameter.
func paramUint(params map[string]interface{}, key string) (uint64, bool) {
	if params == nil {
		return 0, false
	}
	v, ok := params[key].(float64)
	if !ok || v < 0 || v != float64(uint64(v)) {
		return 0, false
	}
	return uint64(v), true
}
