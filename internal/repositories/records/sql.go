package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const recordColumns = `id, record_type, payload, deleted, version, origin_device, updated_at_ms, had_conflict, local_seq`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		r         models.Record
		typ       string
		updatedAt int64
	)
	if err := s.Scan(&r.ID, &typ, &r.Payload, &r.Deleted, &r.Version, &r.OriginDevice, &updatedAt, &r.HadConflict, &r.LocalSeq); err != nil {
		return nil, err
	}
	r.Type = models.RecordType(typ)
	r.UpdatedAt = timex.FromUnixMilli(updatedAt)
	return &r, nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Record, error) {
	q := r.dialect.Rebind(`SELECT ` + recordColumns + ` FROM records WHERE id = ?`)
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record[%s]: %w", id, r.dialect.MapError(err))
	}
	return rec, nil
}

func (r *SQLRepository) Insert(ctx context.Context, rec *models.Record) error {
	q := r.dialect.Rebind(`
		INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)

	res, err := r.db.ExecContext(ctx, q,
		rec.ID, string(rec.Type), rec.Payload, rec.Deleted, rec.Version,
		rec.OriginDevice, timex.UnixMilli(rec.UpdatedAt), rec.HadConflict, rec.LocalSeq)
	if err != nil {
		return fmt.Errorf("failed to insert record[%s]: %w", rec.ID, r.dialect.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert record[%s]: %w", rec.ID, err)
	}
	if n == 0 {
		return common.ErrConflict
	}
	return nil
}

func (r *SQLRepository) Update(ctx context.Context, rec *models.Record, expectedVersion uint64) error {
	q := r.dialect.Rebind(`
		UPDATE records
		SET payload = ?, deleted = ?, version = ?, origin_device = ?,
		    updated_at_ms = ?, had_conflict = ?, local_seq = ?
		WHERE id = ? AND version = ?`)

	res, err := r.db.ExecContext(ctx, q,
		rec.Payload, rec.Deleted, rec.Version, rec.OriginDevice,
		timex.UnixMilli(rec.UpdatedAt), rec.HadConflict, rec.LocalSeq,
		rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update record[%s]: %w", rec.ID, r.dialect.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update record[%s]: %w", rec.ID, err)
	}
	if n == 0 {
		return common.ErrConflict
	}
	return nil
}

func (r *SQLRepository) ListByType(ctx context.Context, t models.RecordType, afterID string, limit int) ([]*models.Record, error) {
	if t == "" {
		return r.ListAll(ctx, afterID, limit)
	}
	q := r.dialect.Rebind(`SELECT ` + recordColumns + ` FROM records
		WHERE record_type = ? AND id > ? ORDER BY id LIMIT ?`)
	return r.list(ctx, q, string(t), afterID, limit)
}

func (r *SQLRepository) ListAll(ctx context.Context, afterID string, limit int) ([]*models.Record, error) {
	q := r.dialect.Rebind(`SELECT ` + recordColumns + ` FROM records
		WHERE id > ? ORDER BY id LIMIT ?`)
	return r.list(ctx, q, afterID, limit)
}

func (r *SQLRepository) list(ctx context.Context, q string, args ...any) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", r.dialect.MapError(err))
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) PendingByType(ctx context.Context, seq uint64) (map[models.RecordType]int, error) {
	q := r.dialect.Rebind(`SELECT record_type, COUNT(*) FROM records
		WHERE local_seq > ? GROUP BY record_type`)

	rows, err := r.db.QueryContext(ctx, q, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending records: %w", r.dialect.MapError(err))
	}
	defer rows.Close()

	out := make(map[models.RecordType]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		out[models.RecordType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending rows: %w", err)
	}
	return out, nil
}
