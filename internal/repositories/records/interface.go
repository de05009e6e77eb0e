// Package records persists the current value of every record known to a node.
package records

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	// Get returns common.ErrNotFound when the record does not exist.
	Get(ctx context.Context, id string) (*models.Record, error)

	// Insert fails with common.ErrConflict when a record with the same id exists.
	Insert(ctx context.Context, r *models.Record) error

	// Update overwrites the record only if its stored version equals
	// expectedVersion, and fails with common.ErrConflict otherwise.
	Update(ctx context.Context, r *models.Record, expectedVersion uint64) error

	// ListByType returns up to limit records of type t with id > afterID,
	// ordered by id. An empty type lists every type.
	ListByType(ctx context.Context, t models.RecordType, afterID string, limit int) ([]*models.Record, error)

	// ListAll pages through every record in id order, tombstones included.
	ListAll(ctx context.Context, afterID string, limit int) ([]*models.Record, error)

	// PendingByType counts records whose latest local change is above seq.
	PendingByType(ctx context.Context, seq uint64) (map[models.RecordType]int, error)
}
