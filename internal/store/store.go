// Package store is the record store: the durable current value of every
// record on this device. Local edits are logged in the same transaction;
// values from other devices go through the reconciliation policy.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
)

const scanPageSize = 100

type Store struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	log    *changelog.Log
	policy *reconcile.Policy
	locks  *keyLock
	logger logging.Logger
	now    func() time.Time
}

func New(db *sql.DB, repos repomanager.RepositoryManager, log *changelog.Log, policy *reconcile.Policy, logger logging.Logger) *Store {
	return &Store{
		db:     db,
		repos:  repos,
		log:    log,
		policy: policy,
		locks:  newKeyLock(),
		logger: logger.With("module", "store"),
		now:    time.Now,
	}
}

// DeviceID is the local device id stamped on local edits.
func (s *Store) DeviceID() string { return s.log.DeviceID() }

// Log returns the change log the store appends to.
func (s *Store) Log() *changelog.Log { return s.log }

// Get returns common.ErrNotFound for unknown ids. Tombstones are returned
// with Deleted set.
func (s *Store) Get(ctx context.Context, id string) (*models.Record, error) {
	return s.repos.Records(s.db).Get(ctx, id)
}

// Put stores a local edit. expectedVersion is the version the edit was based
// on, 0 for a new record; a mismatch fails with common.ErrConflict and the
// caller must re-read. The stored record gets version expectedVersion+1, the
// local device as origin and a change entry committed atomically with it.
func (s *Store) Put(ctx context.Context, r *models.Record, expectedVersion uint64) (*models.Record, error) {
	if r.ID == "" || !slices.Contains(models.RecordTypes, r.Type) {
		return nil, fmt.Errorf("%w: id %q type %q", common.ErrInvalidRecord, r.ID, r.Type)
	}

	unlock := s.locks.Lock(r.ID)
	defer unlock()

	next := &models.Record{
		ID:           r.ID,
		Type:         r.Type,
		Payload:      r.Payload,
		Deleted:      r.Deleted,
		Version:      expectedVersion + 1,
		OriginDevice: s.DeviceID(),
		UpdatedAt:    s.now().UTC(),
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		records := s.repos.Records(tx)

		cur, err := records.Get(ctx, r.ID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			if expectedVersion != 0 {
				return common.ErrConflict
			}
		case err != nil:
			return err
		default:
			if cur.Version != expectedVersion {
				return common.ErrConflict
			}
			if cur.Type != r.Type {
				return fmt.Errorf("%w: type of %s is %s", common.ErrInvalidRecord, r.ID, cur.Type)
			}
		}

		seq, err := s.log.AppendTx(ctx, tx, models.EntryFromRecord(next, s.DeviceID()))
		if err != nil {
			return err
		}
		next.LocalSeq = seq

		if cur == nil {
			return records.Insert(ctx, next)
		}
		return records.Update(ctx, next, expectedVersion)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "record stored", "id", next.ID, "version", next.Version, "seq", next.LocalSeq)
	return next, nil
}

// Delete writes a tombstone on top of expectedVersion.
func (s *Store) Delete(ctx context.Context, id string, expectedVersion uint64) (*models.Record, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Put(ctx, &models.Record{ID: id, Type: cur.Type, Deleted: true}, expectedVersion)
}

// Absorb reconciles an entry received from another device. When the remote
// value is stored it is re-logged locally, keeping its origin, so devices
// syncing with this one later receive it too. Absorb is idempotent.
func (s *Store) Absorb(ctx context.Context, e *models.ChangeEntry) (reconcile.Outcome, error) {
	unlock := s.locks.Lock(e.RecordID)
	defer unlock()

	var outcome reconcile.Outcome
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		records := s.repos.Records(tx)

		local, err := records.Get(ctx, e.RecordID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}

		d := s.policy.Decide(local, e)
		outcome = d.Outcome
		if d.Write == nil {
			return nil
		}

		seq, err := s.log.AppendTx(ctx, tx, models.EntryFromRecord(d.Write, s.DeviceID()))
		if err != nil {
			return err
		}
		d.Write.LocalSeq = seq

		if local == nil {
			return records.Insert(ctx, d.Write)
		}
		return records.Update(ctx, d.Write, local.Version)
	})
	if err != nil {
		return 0, fmt.Errorf("absorb %s v%d from %s: %w", e.RecordID, e.Version, e.LogDevice, err)
	}

	if outcome == reconcile.OutcomeConflictRemote || outcome == reconcile.OutcomeConflictLocal {
		s.logger.Warn(ctx, "concurrent edit resolved", "id", e.RecordID, "version", e.Version,
			"remote_origin", e.OriginDevice, "outcome", outcome.String())
	}
	return outcome, nil
}

// Scan lists live records of type t (all types when empty) in id order,
// skipping tombstones. Pages are loaded lazily; ranging again restarts.
func (s *Store) Scan(ctx context.Context, t models.RecordType) iter.Seq2[*models.Record, error] {
	return s.scan(ctx, t, false)
}

// Snapshot lists every record including tombstones, for full resync.
func (s *Store) Snapshot(ctx context.Context) iter.Seq2[*models.Record, error] {
	return s.scan(ctx, "", true)
}

func (s *Store) scan(ctx context.Context, t models.RecordType, withDeleted bool) iter.Seq2[*models.Record, error] {
	return func(yield func(*models.Record, error) bool) {
		after := ""
		for {
			page, err := s.repos.Records(s.db).ListByType(ctx, t, after, scanPageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range page {
				if r.Deleted && !withDeleted {
					continue
				}
				if !yield(r, nil) {
					return
				}
			}
			if len(page) < scanPageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

// PendingByType counts records whose latest local change is above seq,
// typically a remote device's sent cursor.
func (s *Store) PendingByType(ctx context.Context, seq uint64) (map[models.RecordType]int, error) {
	return s.repos.Records(s.db).PendingByType(ctx, seq)
}
