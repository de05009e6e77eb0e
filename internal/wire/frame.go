package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hello opens a session (initiator) and answers it (HelloAck, responder).
// The cursor claims are what the sender believes about the other side.
type Hello struct {
	ProtocolVersion uint32
	SessionID       string
	DeviceID        string
	Role            string
	Address         string
	Token           string

	// ReceivedFromYou is the last entry of the peer's log the sender applied.
	ReceivedFromYou uint64
	// SentToYou is the last entry of the sender's log the peer acknowledged.
	SentToYou uint64
	// HighestSeq is the head of the sender's log.
	HighestSeq uint64
}

func (h *Hello) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, uint64(h.ProtocolVersion))
	b = appendString(b, 2, h.SessionID)
	b = appendString(b, 3, h.DeviceID)
	b = appendString(b, 4, h.Role)
	b = appendString(b, 5, h.Address)
	b = appendString(b, 6, h.Token)
	b = appendVarint(b, 7, h.ReceivedFromYou)
	b = appendVarint(b, 8, h.SentToYou)
	b = appendVarint(b, 9, h.HighestSeq)
	return b, nil
}

func (h *Hello) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			h.ProtocolVersion = v.u32()
		case 2:
			h.SessionID = v.str()
		case 3:
			h.DeviceID = v.str()
		case 4:
			h.Role = v.str()
		case 5:
			h.Address = v.str()
		case 6:
			h.Token = v.str()
		case 7:
			h.ReceivedFromYou = v.u
		case 8:
			h.SentToYou = v.u
		case 9:
			h.HighestSeq = v.u
		}
		return nil
	})
}

// Batch carries consecutive entries of the sender's log. In snapshot mode
// the entries are current records and UpTo is the log head at snapshot time.
type Batch struct {
	Entries  []*Entry
	Snapshot bool
	Final    bool
	UpTo     uint64
}

func (m *Batch) MarshalWire() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	for _, e := range m.Entries {
		if b, err = appendMessage(b, 1, e); err != nil {
			return nil, err
		}
	}
	b = appendBool(b, 2, m.Snapshot)
	b = appendBool(b, 3, m.Final)
	b = appendVarint(b, 4, m.UpTo)
	return b, nil
}

func (m *Batch) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			if err := wantBytes(num, v); err != nil {
				return err
			}
			e := &Entry{}
			if err := e.UnmarshalWire(v.b); err != nil {
				return fmt.Errorf("entry %d: %w", len(m.Entries), err)
			}
			m.Entries = append(m.Entries, e)
		case 2:
			m.Snapshot = v.bool()
		case 3:
			m.Final = v.bool()
		case 4:
			m.UpTo = v.u
		}
		return nil
	})
}

// Ack confirms that every entry up to UpTo was durably applied.
type Ack struct {
	UpTo uint64
}

func (m *Ack) MarshalWire() ([]byte, error) {
	return appendVarint(nil, 1, m.UpTo), nil
}

func (m *Ack) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		if num == 1 {
			m.UpTo = v.u
		}
		return nil
	})
}

// Failure codes carried by Fail.
const (
	FailProtocol        = "protocol"
	FailCursorRegressed = "cursor-regressed"
	FailUnauthorized    = "unauthorized"
	FailBusy            = "busy"
	FailInternal        = "internal"
)

// Fail aborts the session. No cursor moves for unacknowledged batches.
type Fail struct {
	Code   string
	Reason string
}

func (m *Fail) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Code)
	b = appendString(b, 2, m.Reason)
	return b, nil
}

func (m *Fail) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.Code = v.str()
		case 2:
			m.Reason = v.str()
		}
		return nil
	})
}

var errEmptyFrame = errors.New("empty frame")

// Frame is the envelope streamed in both directions of an Exchange. Exactly
// one field is set.
type Frame struct {
	Hello    *Hello
	HelloAck *Hello
	Batch    *Batch
	Ack      *Ack
	Fail     *Fail
}

func (f *Frame) MarshalWire() ([]byte, error) {
	switch {
	case f.Hello != nil:
		return appendMessage(nil, 1, f.Hello)
	case f.HelloAck != nil:
		return appendMessage(nil, 2, f.HelloAck)
	case f.Batch != nil:
		return appendMessage(nil, 3, f.Batch)
	case f.Ack != nil:
		return appendMessage(nil, 4, f.Ack)
	case f.Fail != nil:
		return appendMessage(nil, 5, f.Fail)
	}
	return nil, errEmptyFrame
}

func (f *Frame) UnmarshalWire(b []byte) error {
	err := walk(b, func(num protowire.Number, v value) error {
		var m Message
		switch num {
		case 1:
			f.Hello = &Hello{}
			m = f.Hello
		case 2:
			f.HelloAck = &Hello{}
			m = f.HelloAck
		case 3:
			f.Batch = &Batch{}
			m = f.Batch
		case 4:
			f.Ack = &Ack{}
			m = f.Ack
		case 5:
			f.Fail = &Fail{}
			m = f.Fail
		default:
			return nil
		}
		if err := wantBytes(num, v); err != nil {
			return err
		}
		return m.UnmarshalWire(v.b)
	})
	if err != nil {
		return err
	}
	if f.Kind() == "" {
		return errEmptyFrame
	}
	return nil
}

// Kind names the set field, for logs and protocol errors.
func (f *Frame) Kind() string {
	switch {
	case f.Hello != nil:
		return "hello"
	case f.HelloAck != nil:
		return "hello-ack"
	case f.Batch != nil:
		return "batch"
	case f.Ack != nil:
		return "ack"
	case f.Fail != nil:
		return "fail"
	}
	return ""
}
