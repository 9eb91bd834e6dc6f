package controller

import (
	intg "github.com/frostdev-ops/remote-bridge-go/internal/websocket"
)

// r2Session is the controller-side state of one connected Remote.
type r2Session struct {
	id   string
	sink intg.Sink
	// standby drops all outbound event messages
	standby    bool
	subscribed map[string]struct{}
	// haConnect: true = connect (and reconnect), false = disconnect (and
	// don't reconnect)
	haConnect bool
	// correlation ids of outstanding entity list requests, answered
	// asynchronously when the HA get_states result arrives
	availableEntitiesReqID *uint32
	entityStatesReqID      *uint32
	// assistSessionID is the active voice session, 0 when none
	assistSessionID int64
}

func newR2Session(id string, sink intg.Sink) *r2Session {
	return &r2Session{
		id:         id,
		sink:       sink,
		subscribed: make(map[string]struct{}),
	}
}
