package session

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
)

// claims is what this node knows about its exchange with one remote.
type claims struct {
	received uint64
	sent     uint64
	highest  uint64
}

func (l *Local) claims(ctx context.Context, remote string) (claims, error) {
	var (
		c   claims
		err error
	)
	if c.received, err = l.Directory.Cursor(ctx, remote, models.DirectionReceived); err != nil {
		return c, err
	}
	if c.sent, err = l.Directory.Cursor(ctx, remote, models.DirectionSent); err != nil {
		return c, err
	}
	if c.highest, err = l.Log.HighestSequenceNo(ctx); err != nil {
		return c, err
	}
	return c, nil
}

func (l *Local) hello(sessionID string, c claims) *wire.Hello {
	return &wire.Hello{
		ProtocolVersion: common.ProtocolVersion,
		SessionID:       sessionID,
		DeviceID:        l.DeviceID,
		Role:            string(l.Role),
		Address:         l.Address,
		ReceivedFromYou: c.received,
		SentToYou:       c.sent,
		HighestSeq:      c.highest,
	}
}

// agree checks the remote's claims against local state and derives the
// cursors. Both sides run it on the same numbers and get the same result.
//
// A remote that claims to have applied less of our log than it previously
// acknowledged, or more than we ever wrote, has lost or invented state;
// the same holds for our cursor against the remote's log head. Such
// sessions are rejected instead of silently rewinding.
func agree(own claims, remote *wire.Hello) (Cursors, error) {
	if remote.ProtocolVersion != common.ProtocolVersion {
		return Cursors{}, fmt.Errorf("%w: version %d, want %d", common.ErrProtocol, remote.ProtocolVersion, common.ProtocolVersion)
	}
	if remote.ReceivedFromYou < own.sent {
		return Cursors{}, fmt.Errorf("%w: remote applied %d of our log but acknowledged %d", common.ErrCursorRegressed, remote.ReceivedFromYou, own.sent)
	}
	if remote.ReceivedFromYou > own.highest {
		return Cursors{}, fmt.Errorf("%w: remote claims %d of our log, which ends at %d", common.ErrCursorRegressed, remote.ReceivedFromYou, own.highest)
	}
	if own.received > remote.HighestSeq {
		return Cursors{}, fmt.Errorf("%w: remote log ends at %d, we applied %d", common.ErrCursorRegressed, remote.HighestSeq, own.received)
	}
	return Cursors{
		Pull:          min(own.received, remote.SentToYou),
		Push:          min(own.sent, remote.ReceivedFromYou),
		RemoteHighest: remote.HighestSeq,
	}, nil
}

func descriptorFrom(h *wire.Hello, address string) *models.DeviceDescriptor {
	if h.Address != "" {
		address = h.Address
	}
	return &models.DeviceDescriptor{
		DeviceID: h.DeviceID,
		Role:     models.Role(h.Role),
		Address:  address,
	}
}
