package wire

import "google.golang.org/protobuf/encoding/protowire"

type PingRequest struct {
	DeviceID string
}

func (m *PingRequest) MarshalWire() ([]byte, error) { return appendString(nil, 1, m.DeviceID), nil }

func (m *PingRequest) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		if num == 1 {
			m.DeviceID = v.str()
		}
		return nil
	})
}

type PingResponse struct {
	DeviceID string
	Role     string
}

func (m *PingResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.DeviceID)
	b = appendString(b, 2, m.Role)
	return b, nil
}

func (m *PingResponse) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.DeviceID = v.str()
		case 2:
			m.Role = v.str()
		}
		return nil
	})
}

// RegisterRequest introduces a field device to the facility.
type RegisterRequest struct {
	DeviceID string
	Role     string
	Address  string
}

func (m *RegisterRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.DeviceID)
	b = appendString(b, 2, m.Role)
	b = appendString(b, 3, m.Address)
	return b, nil
}

func (m *RegisterRequest) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.DeviceID = v.str()
		case 2:
			m.Role = v.str()
		case 3:
			m.Address = v.str()
		}
		return nil
	})
}

// RegisterResponse carries the token the device presents in later sessions.
type RegisterResponse struct {
	FacilityID  string
	Token       string
	ExpiresAtMs int64
}

func (m *RegisterResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.FacilityID)
	b = appendString(b, 2, m.Token)
	b = appendVarint(b, 3, uint64(m.ExpiresAtMs))
	return b, nil
}

func (m *RegisterResponse) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, v value) error {
		switch num {
		case 1:
			m.FacilityID = v.str()
		case 2:
			m.Token = v.str()
		case 3:
			m.ExpiresAtMs = v.i64()
		}
		return nil
	})
}
