// Package cursors persists per-remote sync cursors.
package cursors

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	// Get returns 0 when no cursor has been stored yet.
	Get(ctx context.Context, remote string, dir models.Direction) (uint64, error)

	// Advance stores seq if it is greater than the current value and reports
	// whether the cursor moved.
	Advance(ctx context.Context, remote string, dir models.Direction, seq uint64) (bool, error)

	// List returns every stored cursor in one direction keyed by remote device.
	List(ctx context.Context, dir models.Direction) (map[string]uint64, error)

	// MinSentOverDevices returns the smallest sent cursor across every known
	// device, counting devices without a cursor as 0. ok is false when there
	// are no known devices.
	MinSentOverDevices(ctx context.Context) (seq uint64, ok bool, err error)
}
