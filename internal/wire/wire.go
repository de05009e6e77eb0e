// Package wire defines the messages exchanged between nodes and their
// protobuf binary encoding. Messages are encoded by hand with protowire so
// the schema lives next to the code that uses it; field numbers are stable
// and unknown fields are skipped, which keeps old and new nodes compatible.
package wire

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every type that crosses the wire.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

type value struct {
	typ protowire.Type
	u   uint64
	b   []byte
}

func (v value) bool() bool    { return v.u != 0 }
func (v value) str() string   { return string(v.b) }
func (v value) bytes() []byte { return bytes.Clone(v.b) }
func (v value) u32() uint32   { return uint32(v.u) }
func (v value) i64() int64    { return int64(v.u) }

// walk calls fn for every varint and length-delimited field in b and skips
// the others.
func walk(b []byte, fn func(protowire.Number, value) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		v := value{typ: typ}
		switch typ {
		case protowire.VarintType:
			v.u, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, v); err != nil {
			return err
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, m Message) ([]byte, error) {
	inner, err := m.MarshalWire()
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner), nil
}

func wantBytes(num protowire.Number, v value) error {
	if v.typ != protowire.BytesType {
		return fmt.Errorf("field %d: wire type %d, want bytes", num, v.typ)
	}
	return nil
}
