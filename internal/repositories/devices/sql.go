package devices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

const deviceColumns = `device_id, role, address, reachability, last_seen_ms, last_synced_ms`

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

func scanDevice(s scanner) (*models.DeviceDescriptor, error) {
	var (
		d                  models.DeviceDescriptor
		role, reach        string
		lastSeen, lastSync int64
	)
	if err := s.Scan(&d.DeviceID, &role, &d.Address, &reach, &lastSeen, &lastSync); err != nil {
		return nil, err
	}
	d.Role = models.Role(role)
	d.Reachability = models.ParseReachability(reach)
	d.LastSeenAt = timex.FromUnixMilli(lastSeen)
	d.LastSyncedAt = timex.FromUnixMilli(lastSync)
	return &d, nil
}

func (r *SQLRepository) Upsert(ctx context.Context, d *models.DeviceDescriptor) error {
	q := r.dialect.Rebind(`
		INSERT INTO devices (` + deviceColumns + `) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			role = CASE WHEN excluded.role = '' THEN devices.role ELSE excluded.role END,
			address = CASE WHEN excluded.address = '' THEN devices.address ELSE excluded.address END,
			last_seen_ms = CASE WHEN excluded.last_seen_ms > devices.last_seen_ms
				THEN excluded.last_seen_ms ELSE devices.last_seen_ms END`)

	_, err := r.db.ExecContext(ctx, q,
		d.DeviceID, string(d.Role), d.Address, d.Reachability.String(),
		timex.UnixMilli(d.LastSeenAt), timex.UnixMilli(d.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert device[%s]: %w", d.DeviceID, r.dialect.MapError(err))
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.DeviceDescriptor, error) {
	q := r.dialect.Rebind(`SELECT ` + deviceColumns + ` FROM devices WHERE device_id = ?`)
	d, err := scanDevice(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device[%s]: %w", id, r.dialect.MapError(err))
	}
	return d, nil
}

func (r *SQLRepository) List(ctx context.Context) ([]*models.DeviceDescriptor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", r.dialect.MapError(err))
	}
	defer rows.Close()

	var out []*models.DeviceDescriptor
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device rows: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) SetReachability(ctx context.Context, id string, reach models.Reachability, seenAt time.Time) error {
	q := r.dialect.Rebind(`
		UPDATE devices SET reachability = ?,
			last_seen_ms = CASE WHEN ? > last_seen_ms THEN ? ELSE last_seen_ms END
		WHERE device_id = ?`)

	ms := timex.UnixMilli(seenAt)
	res, err := r.db.ExecContext(ctx, q, reach.String(), ms, ms, id)
	if err != nil {
		return fmt.Errorf("failed to set reachability of device[%s]: %w", id, r.dialect.MapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	q := r.dialect.Rebind(`UPDATE devices SET last_synced_ms = ? WHERE device_id = ?`)
	if _, err := r.db.ExecContext(ctx, q, timex.UnixMilli(at), id); err != nil {
		return fmt.Errorf("failed to mark device[%s] synced: %w", id, r.dialect.MapError(err))
	}
	return nil
}
