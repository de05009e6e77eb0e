// Package session runs one bounded exchange of change-log entries with a
// single remote device over an ordered bidirectional stream.
//
// The initiator sends Hello, the responder answers HelloAck, and both agree
// on a cursor per direction: the minimum of what each side claims was fully
// received. The initiator then pulls the responder's log and pushes its own.
// Every batch is applied and its cursor recorded before it is acknowledged,
// so a session that dies midway keeps whatever was acknowledged and nothing
// beyond it.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
)

// Stream is an ordered, bidirectional frame stream to one remote device.
type Stream interface {
	Send(*wire.Frame) error
	Recv() (*wire.Frame, error)
}

// Conn is a Stream that can be torn down. Close must unblock pending
// Send and Recv calls.
type Conn interface {
	Stream
	Close() error
}

// Dialer opens a stream to a target. It fails with common.ErrUnreachable
// when the target cannot be contacted.
type Dialer interface {
	Dial(ctx context.Context, target *models.DeviceDescriptor) (Conn, error)
}

type Config struct {
	// BatchSize is the maximum number of entries per batch.
	BatchSize int
	// BatchLimit caps batches per direction in one session; 0 means no cap.
	// The rest is picked up by the next session.
	BatchLimit int
	// NegotiateTimeout bounds the Hello/HelloAck round trip.
	NegotiateTimeout time.Duration
	// BatchTimeout bounds sending each batch or acknowledgement and waiting
	// for the reply.
	BatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		NegotiateTimeout: 10 * time.Second,
		BatchTimeout:     30 * time.Second,
	}
}

// Local bundles the components of this node a session reads and writes.
type Local struct {
	DeviceID  string
	Role      models.Role
	Address   string
	Store     *store.Store
	Log       *changelog.Log
	Directory *directory.Directory
	Logger    logging.Logger

	// Token returns the credential presented to target, if any.
	Token func(ctx context.Context, target *models.DeviceDescriptor) (string, error)
}

// Cursors is the outcome of negotiation.
type Cursors struct {
	// Pull is the last entry of the remote log already applied here.
	Pull uint64
	// Push is the last entry of the local log the remote already applied.
	Push uint64
	// RemoteHighest is the head of the remote log at negotiation time.
	RemoteHighest uint64
}

// BatchReport describes one transferred batch.
type BatchReport struct {
	// Direction is DirectionReceived for pulled batches and DirectionSent
	// for pushed ones.
	Direction models.Direction
	Entries   int
	// Applied counts entries that changed the local store.
	Applied  int
	UpTo     uint64
	Snapshot bool
	Final    bool
}

// Stage names where a session was when it failed.
type Stage string

const (
	StageOpen      Stage = "open"
	StageNegotiate Stage = "negotiate"
	StageTransfer  Stage = "transfer"
	StageReconcile Stage = "reconcile"
)

// SessionError reports a failed session. It matches common.ErrSessionFailed
// and the underlying cause with errors.Is.
type SessionError struct {
	Target string
	Stage  Stage
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session with %s failed during %s: %v", e.Target, e.Stage, e.Err)
}

func (e *SessionError) Unwrap() []error { return []error{common.ErrSessionFailed, e.Err} }

func failed(target string, stage Stage, err error) error {
	var se *SessionError
	if errors.As(err, &se) {
		return err
	}
	return &SessionError{Target: target, Stage: stage, Err: err}
}

// failFrame maps a local error to the Fail frame sent to the remote.
func failFrame(err error) *wire.Frame {
	code := wire.FailInternal
	switch {
	case errors.Is(err, common.ErrCursorRegressed):
		code = wire.FailCursorRegressed
	case errors.Is(err, common.ErrProtocol):
		code = wire.FailProtocol
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		code = wire.FailUnauthorized
	case errors.Is(err, common.ErrBusy):
		code = wire.FailBusy
	}
	return &wire.Frame{Fail: &wire.Fail{Code: code, Reason: err.Error()}}
}

// remoteFailure turns a received Fail frame into an error.
func remoteFailure(f *wire.Fail) error {
	var cause error
	switch f.Code {
	case wire.FailCursorRegressed:
		cause = common.ErrCursorRegressed
	case wire.FailProtocol:
		cause = common.ErrProtocol
	case wire.FailUnauthorized:
		cause = common.ErrUnauthorized
	case wire.FailBusy:
		cause = common.ErrBusy
	default:
		cause = common.ErrSessionFailed
	}
	return fmt.Errorf("remote: %s: %w", f.Reason, cause)
}

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrProtocol, fmt.Sprintf(format, args...))
}
