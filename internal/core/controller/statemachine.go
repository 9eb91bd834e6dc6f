package controller

import (
	"github.com/frostdev-ops/remote-bridge-go/pkg/errors"
)

// OperationMode is the driver operation-mode state.
type OperationMode string

const (
	ModeRequireSetup      OperationMode = "REQUIRE_SETUP"
	ModeRunning           OperationMode = "RUNNING"
	ModeSetupFlow         OperationMode = "SETUP_FLOW"
	ModeWaitSetupUserData OperationMode = "WAIT_SETUP_USER_DATA"
	ModeSetupError        OperationMode = "SETUP_ERROR"
)

// ModeInput is a state machine input.
type ModeInput string

const (
	InputConfigAvailable  ModeInput = "config_available"
	InputSetupRequest     ModeInput = "setup_request"
	InputR2Request        ModeInput = "r2_request"
	InputRequestUserInput ModeInput = "request_user_input"
	InputSetupUserData    ModeInput = "setup_user_data"
	InputSuccessful       ModeInput = "successful"
	InputSetupError       ModeInput = "setup_error"
	InputAbortSetup       ModeInput = "abort_setup"
)

// timerAction tells the caller what to do with the setup-flow timer after a
// transition.
type timerAction int

const (
	timerNone timerAction = iota
	timerStart
	timerCancel
)

type transition struct {
	next   OperationMode
	action timerAction
}

// Any input not listed for the current state is rejected with a bad-request
// error and leaves the state unchanged.
var transitions = map[OperationMode]map[ModeInput]transition{
	ModeRequireSetup: {
		InputConfigAvailable: {ModeRunning, timerNone},
		InputAbortSetup:      {ModeRequireSetup, timerNone},
		InputSetupRequest:    {ModeSetupFlow, timerStart},
	},
	ModeRunning: {
		InputSetupRequest: {ModeSetupFlow, timerStart},
		InputR2Request:    {ModeRunning, timerNone},
	},
	ModeSetupFlow: {
		InputRequestUserInput: {ModeWaitSetupUserData, timerNone},
		InputSuccessful:       {ModeRunning, timerCancel},
		InputSetupError:       {ModeSetupError, timerCancel},
		InputAbortSetup:       {ModeRequireSetup, timerCancel},
	},
	ModeWaitSetupUserData: {
		InputSetupUserData: {ModeSetupFlow, timerNone},
		InputSetupError:    {ModeSetupError, timerCancel},
		InputAbortSetup:    {ModeRequireSetup, timerCancel},
	},
	ModeSetupError: {
		InputAbortSetup:   {ModeRequireSetup, timerNone},
		InputSetupRequest: {ModeSetupFlow, timerNone},
		InputSetupError:   {ModeSetupError, timerNone},
	},
}

// stateMachine holds the driver operation mode: setup flow vs. running.
type stateMachine struct {
	state OperationMode
}

func newStateMachine(setupComplete bool) *stateMachine {
	m := &stateMachine{state: ModeRequireSetup}
	if setupComplete {
		m.state = ModeRunning
	}
	return m
}

// consume performs a transition. The state is unchanged on error.
func (m *stateMachine) consume(input ModeInput) (timerAction, error) {
	t, ok := transitions[m.state][input]
	if !ok {
		return timerNone, errors.BadRequest("Transition %s not allowed in state %s", input, m.state)
	}
	m.state = t.next
	return t.action, nil
}
