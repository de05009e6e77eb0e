package cursors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Get(ctx context.Context, remote string, dir models.Direction) (uint64, error) {
	var seq uint64
	q := r.dialect.Rebind(`SELECT seq FROM cursors WHERE remote_device = ? AND direction = ?`)
	err := r.db.QueryRowContext(ctx, q, remote, string(dir)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor[%s/%s]: %w", remote, dir, r.dialect.MapError(err))
	}
	return seq, nil
}

func (r *SQLRepository) Advance(ctx context.Context, remote string, dir models.Direction, seq uint64) (bool, error) {
	q := r.dialect.Rebind(`
		INSERT INTO cursors (remote_device, direction, seq) VALUES (?, ?, ?)
		ON CONFLICT (remote_device, direction) DO UPDATE SET seq = excluded.seq
		WHERE cursors.seq < excluded.seq`)

	res, err := r.db.ExecContext(ctx, q, remote, string(dir), seq)
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor[%s/%s]: %w", remote, dir, r.dialect.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor[%s/%s]: %w", remote, dir, err)
	}
	return n > 0, nil
}

func (r *SQLRepository) List(ctx context.Context, dir models.Direction) (map[string]uint64, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT remote_device, seq FROM cursors WHERE direction = ?`), string(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", r.dialect.MapError(err))
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			remote string
			seq    uint64
		)
		if err := rows.Scan(&remote, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		out[remote] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cursor rows: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) MinSentOverDevices(ctx context.Context) (uint64, bool, error) {
	q := r.dialect.Rebind(`
		SELECT COUNT(*), COALESCE(MIN(COALESCE(c.seq, 0)), 0)
		FROM devices d
		LEFT JOIN cursors c ON c.remote_device = d.device_id AND c.direction = ?`)

	var (
		n   int64
		seq uint64
	)
	if err := r.db.QueryRowContext(ctx, q, string(models.DirectionSent)).Scan(&n, &seq); err != nil {
		return 0, false, fmt.Errorf("failed to compute minimum sent cursor: %w", r.dialect.MapError(err))
	}
	return seq, n > 0, nil
}
