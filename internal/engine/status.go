package engine

import (
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

// State is where a target sits in the session state machine.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateTransferring
	StateReconciling
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateTransferring:
		return "transferring"
	case StateReconciling:
		return "reconciling"
	case StateFailed:
		return "failed"
	}
	return "idle"
}

// progress maps states to the percentages the UI shows.
func (s State) progress() int {
	switch s {
	case StateNegotiating:
		return 25
	case StateTransferring:
		return 50
	case StateReconciling:
		return 75
	}
	return 0
}

// Mode is the exchange mode chosen for the current round.
type Mode string

const (
	ModeFacility Mode = "facility"
	ModePeer     Mode = "peer"
	ModeLocal    Mode = "local"
)

// TargetStatus is the engine's view of one remote target.
type TargetStatus struct {
	DeviceID string
	State    State
	// Progress is 100 after a completed session and follows the state
	// otherwise.
	Progress    int
	LastError   string
	LastSuccess time.Time
	// Failures counts consecutive failed sessions.
	Failures    int
	NextAttempt time.Time
	Pulled      int
	Pushed      int
	Pending     map[models.RecordType]int
}
