package models

// Direction names one half of a SyncCursor.
type Direction string

const (
	// DirectionReceived tracks entries from the remote log applied locally.
	DirectionReceived Direction = "received"
	// DirectionSent tracks local entries acknowledged by the remote.
	DirectionSent Direction = "sent"
)

// SyncCursor is the highest sequence number exchanged with RemoteDevice in
// one direction. Cursors never decrease.
type SyncCursor struct {
	RemoteDevice string
	Direction    Direction
	SequenceNo   uint64
}
