// Package reconcile decides what happens to a local record when a change
// entry from another device arrives.
//
// Versions order values; device clocks are never consulted. Two different
// values written on the same version are a true concurrent edit and are
// settled by a deterministic tie-break on the origin device id, so every
// device picks the same winner regardless of delivery order.
package reconcile

import (
	"bytes"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

// TieBreaker reports whether origin a beats origin b. It must be a strict
// order: exactly one of (a, b) and (b, a) wins for a != b.
type TieBreaker func(a, b string) bool

// HigherOrigin lets the lexicographically greater device id win.
func HigherOrigin(a, b string) bool { return a > b }

// LowerOrigin lets the lexicographically smaller device id win.
func LowerOrigin(a, b string) bool { return a < b }

// Tie-break rule names accepted in configuration.
const (
	RuleHigherOrigin = "higher-origin"
	RuleLowerOrigin  = "lower-origin"
)

// ParseTieBreak maps a configured rule name to a TieBreaker.
func ParseTieBreak(name string) (TieBreaker, error) {
	switch name {
	case "", RuleHigherOrigin:
		return HigherOrigin, nil
	case RuleLowerOrigin:
		return LowerOrigin, nil
	default:
		return nil, fmt.Errorf("unknown tie-break rule %q", name)
	}
}

type Outcome int

const (
	// OutcomeCreated: the record did not exist locally.
	OutcomeCreated Outcome = iota
	// OutcomeApplied: the remote version was newer.
	OutcomeApplied
	// OutcomeKeptLocal: the local version was newer; the entry is only marked seen.
	OutcomeKeptLocal
	// OutcomeDuplicate: the local record already holds this value.
	OutcomeDuplicate
	// OutcomeConflictRemote: concurrent edit, the remote value won.
	OutcomeConflictRemote
	// OutcomeConflictLocal: concurrent edit, the local value won.
	OutcomeConflictLocal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeApplied:
		return "applied"
	case OutcomeKeptLocal:
		return "kept-local"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeConflictRemote:
		return "conflict-remote-won"
	case OutcomeConflictLocal:
		return "conflict-local-won"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the result of reconciling one entry. Write is the value to
// store, nil when the local record stays as it is. Every write must also be
// re-logged locally so third devices see the outcome.
type Decision struct {
	Outcome Outcome
	Write   *models.Record
}

type Policy struct {
	tieBreak TieBreaker
}

func NewPolicy(tb TieBreaker) *Policy {
	if tb == nil {
		tb = HigherOrigin
	}
	return &Policy{tieBreak: tb}
}

// Decide reconciles remote against local, which is nil when the record is
// missing. It is a pure function of its inputs.
func (p *Policy) Decide(local *models.Record, remote *models.ChangeEntry) Decision {
	incoming := remote.AsRecord()

	if local == nil {
		return Decision{Outcome: OutcomeCreated, Write: incoming}
	}

	switch {
	case local.Version < remote.Version:
		return Decision{Outcome: OutcomeApplied, Write: incoming}
	case local.Version > remote.Version:
		return Decision{Outcome: OutcomeKeptLocal}
	}

	if local.SameValue(incoming) {
		return p.sameValue(local, incoming)
	}

	if p.remoteWins(local, incoming) {
		incoming.HadConflict = true
		return Decision{Outcome: OutcomeConflictRemote, Write: incoming}
	}
	if local.HadConflict {
		return Decision{Outcome: OutcomeConflictLocal}
	}
	flagged := *local
	flagged.HadConflict = true
	return Decision{Outcome: OutcomeConflictLocal, Write: &flagged}
}

// sameValue handles an equal value that may still differ in origin (two
// devices typing the same edit) or in the conflict marker.
func (p *Policy) sameValue(local, incoming *models.Record) Decision {
	merged := *local
	changed := false

	if incoming.OriginDevice != local.OriginDevice && p.tieBreak(incoming.OriginDevice, local.OriginDevice) {
		merged.OriginDevice = incoming.OriginDevice
		merged.UpdatedAt = incoming.UpdatedAt
		changed = true
	}
	if incoming.HadConflict && !local.HadConflict {
		merged.HadConflict = true
		changed = true
	}
	if !changed {
		return Decision{Outcome: OutcomeDuplicate}
	}
	return Decision{Outcome: OutcomeDuplicate, Write: &merged}
}

// remoteWins settles two different values on the same version. Origins
// decide first; a device never writes two values on one version, so the
// payload comparison only matters for corrupted histories and keeps the
// order total.
func (p *Policy) remoteWins(local, incoming *models.Record) bool {
	if local.OriginDevice != incoming.OriginDevice {
		return p.tieBreak(incoming.OriginDevice, local.OriginDevice)
	}
	if local.Deleted != incoming.Deleted {
		return incoming.Deleted
	}
	return bytes.Compare(incoming.Payload, local.Payload) > 0
}
