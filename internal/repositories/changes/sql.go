package changes

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const changeColumns = `seq, record_id, record_type, version, payload, deleted, had_conflict, origin_device, produced_at_ms, digest`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Append(ctx context.Context, e *models.ChangeEntry) (uint64, error) {
	var seq uint64
	// the row lock taken here is held until commit, so appenders are
	// serialized and entries become visible in sequence order
	err := r.db.QueryRowContext(ctx,
		`UPDATE log_state SET last_seq = last_seq + 1 WHERE id = 1 RETURNING last_seq`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence number: %w", r.dialect.MapError(err))
	}

	q := r.dialect.Rebind(`INSERT INTO changes (` + changeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, q,
		seq, e.RecordID, string(e.RecordType), e.Version, e.Payload, e.Deleted,
		e.HadConflict, e.OriginDevice, timex.UnixMilli(e.ProducedAt), e.Digest)
	if err != nil {
		return 0, fmt.Errorf("failed to append change[%d]: %w", seq, r.dialect.MapError(err))
	}
	e.SequenceNo = seq
	return seq, nil
}

func (r *SQLRepository) Since(ctx context.Context, after uint64, limit int) ([]*models.ChangeEntry, error) {
	q := r.dialect.Rebind(`SELECT ` + changeColumns + ` FROM changes
		WHERE seq > ? ORDER BY seq LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, q, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", r.dialect.MapError(err))
	}
	defer rows.Close()

	var out []*models.ChangeEntry
	for rows.Next() {
		var (
			e          models.ChangeEntry
			typ        string
			producedAt int64
		)
		if err := rows.Scan(&e.SequenceNo, &e.RecordID, &typ, &e.Version, &e.Payload, &e.Deleted,
			&e.HadConflict, &e.OriginDevice, &producedAt, &e.Digest); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		e.RecordType = models.RecordType(typ)
		e.ProducedAt = timex.FromUnixMilli(producedAt)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change rows: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Highest(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := r.db.QueryRowContext(ctx, `SELECT last_seq FROM log_state WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read log state: %w", r.dialect.MapError(err))
	}
	return seq, nil
}

func (r *SQLRepository) CompactedThrough(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := r.db.QueryRowContext(ctx, `SELECT compacted_through FROM log_state WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read log state: %w", r.dialect.MapError(err))
	}
	return seq, nil
}

func (r *SQLRepository) DeleteThrough(ctx context.Context, through uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM changes WHERE seq <= ?`), through)
	if err != nil {
		return 0, fmt.Errorf("failed to compact changes: %w", r.dialect.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to compact changes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE log_state SET compacted_through = ? WHERE id = 1 AND compacted_through < ?`), through, through)
	if err != nil {
		return 0, fmt.Errorf("failed to update compaction watermark: %w", r.dialect.MapError(err))
	}
	return n, nil
}
