// Package devices persists descriptors of known peers and facilities.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	// Upsert creates the descriptor or refreshes role and address. Empty
	// addresses never overwrite a known one, and lastSeenAt never moves back.
	Upsert(ctx context.Context, d *models.DeviceDescriptor) error

	// Get returns common.ErrNotFound for unknown devices.
	Get(ctx context.Context, id string) (*models.DeviceDescriptor, error)

	List(ctx context.Context) ([]*models.DeviceDescriptor, error)

	// SetReachability records a probe outcome. seenAt is ignored when zero.
	SetReachability(ctx context.Context, id string, r models.Reachability, seenAt time.Time) error

	// MarkSynced records a completed session.
	MarkSynced(ctx context.Context, id string, at time.Time) error
}
