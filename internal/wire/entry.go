package wire

import (
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
	"google.golang.org/protobuf/encoding/protowire"
)

// Entry is a ChangeEntry on the wire.
type Entry struct {
	SequenceNo   uint64
	LogDevice    string
	RecordID     string
	RecordType   string
	Version      uint64
	Payload      []byte
	Deleted      bool
	HadConflict  bool
	OriginDevice string
	ProducedAtMs int64
	Digest       []byte
}

func (e *Entry) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, e.SequenceNo)
	b = appendString(b, 2, e.LogDevice)
	b = appendString(b, 3, e.RecordID)
	b = appendString(b, 4, e.RecordType)
	b = appendVarint(b, 5, e.Version)
	b = appendBytes(b, 6, e.Payload)
	b = appendBool(b, 7, e.Deleted)
	b = appendBool(b, 8, e.HadConflict)
	b = appendString(b, 9, e.OriginDevice)
	b = appendVarint(b, 10, uint64(e.ProducedAtMs))
	b = appendBytes(b, 11, e.Digest)
	return b, nil
}

func (e *Entry) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			e.SequenceNo = v.u
		case 2:
			e.LogDevice = v.str()
		case 3:
			e.RecordID = v.str()
		case 4:
			e.RecordType = v.str()
		case 5:
			e.Version = v.u
		case 6:
			e.Payload = v.bytes()
		case 7:
			e.Deleted = v.bool()
		case 8:
			e.HadConflict = v.bool()
		case 9:
			e.OriginDevice = v.str()
		case 10:
			e.ProducedAtMs = v.i64()
		case 11:
			e.Digest = v.bytes()
		}
		return nil
	})
}

// FromModel converts a change entry for sending.
func FromModel(m *models.ChangeEntry) *Entry {
	return &Entry{
		SequenceNo:   m.SequenceNo,
		LogDevice:    m.LogDevice,
		RecordID:     m.RecordID,
		RecordType:   string(m.RecordType),
		Version:      m.Version,
		Payload:      m.Payload,
		Deleted:      m.Deleted,
		HadConflict:  m.HadConflict,
		OriginDevice: m.OriginDevice,
		ProducedAtMs: timex.UnixMilli(m.ProducedAt),
		Digest:       m.Digest,
	}
}

// ToModel converts a received entry.
func (e *Entry) ToModel() *models.ChangeEntry {
	return &models.ChangeEntry{
		SequenceNo:   e.SequenceNo,
		LogDevice:    e.LogDevice,
		RecordID:     e.RecordID,
		RecordType:   models.RecordType(e.RecordType),
		Version:      e.Version,
		Payload:      e.Payload,
		Deleted:      e.Deleted,
		HadConflict:  e.HadConflict,
		OriginDevice: e.OriginDevice,
		ProducedAt:   timex.FromUnixMilli(e.ProducedAtMs),
		Digest:       e.Digest,
	}
}
