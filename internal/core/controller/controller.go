package controller

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/remote-bridge-go/internal/adapters/homeassistant"
	"github.com/frostdev-ops/remote-bridge-go/internal/config"
	"github.com/frostdev-ops/remote-bridge-go/internal/core/entities"
	"github.com/frostdev-ops/remote-bridge-go/internal/metrics"
	intg "github.com/frostdev-ops/remote-bridge-go/internal/websocket"
)

// APIVersion is the integration API version implemented by the bridge.
const APIVersion = "0.12.0"

// DeviceState is the Home Assistant connection state reported to Remotes.
type DeviceState string

const (
	DeviceDisconnected DeviceState = "DISCONNECTED"
	DeviceConnecting   DeviceState = "CONNECTING"
	DeviceConnected    DeviceState = "CONNECTED"
	DeviceError        DeviceState = "ERROR"
)

// haClient is the Home Assistant operations surface the controller uses;
// satisfied by *homeassistant.Client.
type haClient interface {
	ID() string
	RequestStates() error
	CallService(cmd entities.Command) error
	RunAssistPipeline(params homeassistant.RunPipelineParams) error
	ListAssistPipelines(sttRequired bool) (*homeassistant.PipelinesResult, error)
	SendAudioChunk(sessionID int64, data []byte) error
	Close(code int, reason string)
}

type connectFunc func(cfg config.HomeAssistantConfig, events homeassistant.Events, log *logrus.Logger) (haClient, error)

// Controller is the central hub: it owns the Remote session table, the
// device state, the operation-mode state machine and the Home Assistant
// client lifecycle. All state is mutated on a single goroutine fed by a
// mailbox; the exported methods enqueue work onto it.
type Controller struct {
	cfg     *config.Config
	log     *logrus.Entry
	baseLog *logrus.Logger
	metrics *metrics.Metrics
	version string
	meta    intg.DriverMetadata

	tasks chan func()
	done  chan struct{}

	sessions    map[string]*r2Session
	deviceState DeviceState
	machine     *stateMachine
	setupTimer  *time.Timer

	ha      haClient
	connect connectFunc
	// connectedSettings tracks the HA settings the current client was created
	// with, to detect reconfiguration between connect events.
	connectedSettings string
	reconnectDuration time.Duration
	reconnectAttempt  int
}

func New(cfg *config.Config, m *metrics.Metrics, version string, log *logrus.Logger) *Controller {
	c := &Controller{
		cfg:     cfg,
		log:     log.WithField("component", "controller"),
		baseLog: log,
		metrics: m,
		version: version,
		meta: intg.DriverMetadata{
			DriverID: "hass",
			Version:  version,
			Name:     map[string]string{"en": "Home Assistant"},
			Icon:     "uc:hass",
			Developer: &intg.DriverDeveloper{
				Name: "Remote Bridge",
			},
		},
		tasks:             make(chan func(), 256),
		done:              make(chan struct{}),
		sessions:          make(map[string]*r2Session),
		deviceState:       DeviceDisconnected,
		machine:           newStateMachine(cfg.SetupComplete()),
		reconnectDuration: cfg.HomeAssistant.Reconnect.Duration(),
	}
	if !cfg.SetupComplete() {
		c.log.Info("Home Assistant connection requires setup")
	}
	c.connect = func(haCfg config.HomeAssistantConfig, events homeassistant.Events, log *logrus.Logger) (haClient, error) {
		return homeassistant.Connect(haCfg, events, log)
	}
	return c
}

// Run processes the mailbox until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			if c.ha != nil {
				c.ha.Close(websocket.CloseNormalClosure, "shutting down")
			}
			return
		case task := <-c.tasks:
			task()
		}
	}
}

// do enqueues work onto the controller goroutine.
func (c *Controller) do(task func()) {
	select {
	case c.tasks <- task:
	case <-c.done:
	}
}

func (c *Controller) session(id string) *r2Session {
	return c.sessions[id]
}

// sendToSession delivers an outbound message, dropping it when the session
// is in standby.
func (c *Controller) sendToSession(sess *r2Session, msg intg.Message) {
	if sess.standby {
		c.log.WithField("ws_id", sess.id).Debug("Remote is in standby, not sending message")
		return
	}
	sess.sink.Send(msg)
}

func (c *Controller) sendDeviceState(sess *r2Session) {
	c.sendToSession(sess, intg.NewEvent(intg.EventDeviceState, intg.CategoryDevice,
		map[string]interface{}{"state": c.deviceState}))
}

func (c *Controller) broadcastDeviceState() {
	for _, sess := range c.sessions {
		c.sendDeviceState(sess)
	}
}

func (c *Controller) setDeviceState(state DeviceState) {
	c.deviceState = state
	c.metrics.SetDeviceState(string(state))
	c.broadcastDeviceState()
}

// connectHA spawns one connection attempt. On failure a retry is scheduled
// with exponential backoff until the attempt limit is exhausted.
func (c *Controller) connectHA() {
	if c.machine.state != ModeRunning {
		c.log.Debug("Not connecting: driver setup required")
		return
	}
	if c.ha != nil {
		return
	}

	haCfg := c.cfg.HomeAssistant
	go func() {
		client, err := c.connect(haCfg, c, c.baseLog)
		c.do(func() {
			if err == nil {
				c.ha = client
				c.connectedSettings = settingsFingerprint(haCfg)
				c.reconnectDuration = haCfg.Reconnect.Duration()
				c.reconnectAttempt = 0
				return
			}

			c.log.WithError(err).Warn("Could not connect to Home Assistant")
			if c.deviceState == DeviceDisconnected {
				return
			}
			c.reconnectAttempt++
			c.metrics.ReconnectAttempts.Inc()
			if haCfg.Reconnect.Attempts > 0 && c.reconnectAttempt > haCfg.Reconnect.Attempts {
				c.log.WithField("attempts", haCfg.Reconnect.Attempts).
					Info("Max reconnect attempts reached. Giving up!")
				c.setDeviceState(DeviceError)
				return
			}
			delay := c.reconnectDuration
			c.incrementReconnectTimeout()
			time.AfterFunc(delay, func() {
				c.do(c.connectHA)
			})
		})
	}()
}

// incrementReconnectTimeout grows the retry delay by the backoff factor,
// capped at the configured maximum.
func (c *Controller) incrementReconnectTimeout() {
	reconnect := c.cfg.HomeAssistant.Reconnect
	next := time.Duration(float64(c.reconnectDuration) * reconnect.BackoffFactor)
	if next > reconnect.DurationMax() {
		next = reconnect.DurationMax()
	}
	c.reconnectDuration = next
	c.log.WithField("timeout_ms", next.Milliseconds()).Info("New reconnect timeout")
}

func (c *Controller) disconnectHA() {
	if c.ha != nil {
		c.ha.Close(websocket.CloseNormalClosure, "disconnect requested")
	}
}

func settingsFingerprint(cfg config.HomeAssistantConfig) string {
	return cfg.URL + "|" + cfg.Token
}
