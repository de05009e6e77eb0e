package models

import "time"

// ChangeEntry is an immutable record of a single mutation and the unit
// transferred during sync.
//
// Every device keeps its own log. SequenceNo is assigned by LogDevice and is
// strictly increasing within that log. OriginDevice is the device that
// produced the value: it equals LogDevice for local edits and differs when a
// device re-logs a value it adopted from a peer, so that third devices see
// the outcome without talking to the original author.
type ChangeEntry struct {
	SequenceNo   uint64
	LogDevice    string
	RecordID     string
	RecordType   RecordType
	Version      uint64
	Payload      []byte
	Deleted      bool
	HadConflict  bool
	OriginDevice string
	ProducedAt   time.Time

	// Digest is the blake2b-256 of the payload and tombstone flag.
	Digest []byte
}

// AsRecord returns the record value carried by the entry.
func (e *ChangeEntry) AsRecord() *Record {
	return &Record{
		ID:           e.RecordID,
		Type:         e.RecordType,
		Payload:      e.Payload,
		Deleted:      e.Deleted,
		Version:      e.Version,
		OriginDevice: e.OriginDevice,
		UpdatedAt:    e.ProducedAt,
		HadConflict:  e.HadConflict,
	}
}

// EntryFromRecord builds an unsequenced entry carrying r's current value.
func EntryFromRecord(r *Record, logDevice string) *ChangeEntry {
	return &ChangeEntry{
		LogDevice:    logDevice,
		RecordID:     r.ID,
		RecordType:   r.Type,
		Version:      r.Version,
		Payload:      r.Payload,
		Deleted:      r.Deleted,
		HadConflict:  r.HadConflict,
		OriginDevice: r.OriginDevice,
		ProducedAt:   r.UpdatedAt,
	}
}
