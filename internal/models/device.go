package models

import "time"

// Role distinguishes field workers from the central facility.
type Role string

const (
	RoleFieldWorker Role = "field-worker"
	RoleFacility    Role = "facility"
)

// Reachability is ordered: a higher value is a better sync candidate.
type Reachability int

const (
	Unreachable Reachability = iota
	PeerReachable
	Online
)

func (r Reachability) String() string {
	switch r {
	case Online:
		return "online"
	case PeerReachable:
		return "peer-reachable"
	default:
		return "unreachable"
	}
}

// ParseReachability is the inverse of Reachability.String. Unknown values
// map to Unreachable.
func ParseReachability(s string) Reachability {
	switch s {
	case "online":
		return Online
	case "peer-reachable":
		return PeerReachable
	default:
		return Unreachable
	}
}

// DeviceDescriptor is what one device knows about another.
type DeviceDescriptor struct {
	DeviceID     string
	Role         Role
	Address      string
	LastSeenAt   time.Time
	LastSyncedAt time.Time
	Reachability Reachability

	// ReceivedCursor is the last sequence number from this device's log that
	// was applied locally.
	ReceivedCursor uint64

	// SentCursor is the last sequence number of the local log this device
	// acknowledged.
	SentCursor uint64

	// PendingChanges is the number of local entries the device has not
	// acknowledged yet. Computed, not persisted.
	PendingChanges uint64
}

// ReachabilityFor returns the reachability a successful probe implies for a
// device with the given role.
func ReachabilityFor(role Role) Reachability {
	if role == RoleFacility {
		return Online
	}
	return PeerReachable
}
