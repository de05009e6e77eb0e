// Package changes persists the local append-only change log together with
// its sequence counter and compaction watermark.
package changes

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type Repository interface {
	// Append assigns the next sequence number to e, stores it and returns
	// the number. Must run inside the transaction that writes the record.
	Append(ctx context.Context, e *models.ChangeEntry) (uint64, error)

	// Since returns up to limit entries with seq > after in ascending order.
	Since(ctx context.Context, after uint64, limit int) ([]*models.ChangeEntry, error)

	// Highest returns the last sequence number ever assigned, 0 for an empty log.
	Highest(ctx context.Context) (uint64, error)

	// CompactedThrough returns the highest sequence number removed by compaction.
	CompactedThrough(ctx context.Context) (uint64, error)

	// DeleteThrough removes entries with seq <= through and raises the
	// compaction watermark. It never lowers the watermark.
	DeleteThrough(ctx context.Context, through uint64) (int64, error)
}
