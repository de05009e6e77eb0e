// Package models defines the entities replicated between field devices and
// the facility: records, change entries, device descriptors and cursors.
package models

import (
	"bytes"
	"time"
)

// RecordType classifies a record. The sync core never interprets payloads;
// the type is carried only so that scans and pending counts can be grouped.
type RecordType string

const (
	RecordTypePatient     RecordType = "patient"
	RecordTypeVisit       RecordType = "visit"
	RecordTypeVaccination RecordType = "vaccination"
)

// RecordTypes lists the known record types in display order.
var RecordTypes = []RecordType{RecordTypePatient, RecordTypeVisit, RecordTypeVaccination}

// Record is the current value of a domain entity on one device.
type Record struct {
	// ID is globally unique and stable across devices.
	ID string

	Type RecordType

	// Payload is an opaque, versioned blob owned by the UI layer.
	Payload []byte

	// Deleted marks a tombstone. Records are never hard-deleted.
	Deleted bool

	// Version is the monotonic per-record counter that drives reconciliation.
	Version uint64

	// OriginDevice produced the current value.
	OriginDevice string

	// UpdatedAt is when the current value was produced. Informational only:
	// device clocks are not trusted for ordering.
	UpdatedAt time.Time

	// HadConflict is set when reconciliation had to break a tie between two
	// different values written on the same base version.
	HadConflict bool

	// LocalSeq is the sequence number of the latest local ChangeEntry that
	// carried this value, 0 if the value was never logged locally.
	LocalSeq uint64
}

// SameValue reports whether two records hold identical replicated state.
func (r *Record) SameValue(o *Record) bool {
	return r.Version == o.Version &&
		r.Deleted == o.Deleted &&
		bytes.Equal(r.Payload, o.Payload)
}

// SyncStatus is the per-record indicator shown to the health worker.
type SyncStatus string

const (
	// SyncStatusSynced means the latest local change was acknowledged by a facility.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusPending means a facility is reachable but has not acknowledged yet.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusOffline means no facility is reachable and the change is unacknowledged.
	SyncStatusOffline SyncStatus = "offline"
)
