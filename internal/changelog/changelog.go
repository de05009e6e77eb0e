// Package changelog is the local append-only log of mutations. Entries are
// the unit of synchronization: peers read suffixes of it by cursor.
package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
)

const defaultPageSize = 256

// Archiver stores a compacted range of the log before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, logDevice string, entries []*models.ChangeEntry) error
}

type Log struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	deviceID string
	archiver Archiver
	log      logging.Logger
	pageSize int
}

type Option func(*Log)

// WithArchiver sets where compacted entries go. Without it they are dropped.
func WithArchiver(a Archiver) Option { return func(l *Log) { l.archiver = a } }

// WithPageSize bounds how many entries a single read loads.
func WithPageSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

func New(db *sql.DB, repos repomanager.RepositoryManager, deviceID string, logger logging.Logger, opts ...Option) *Log {
	l := &Log{
		db:       db,
		repos:    repos,
		deviceID: deviceID,
		log:      logger.With("module", "changelog"),
		pageSize: defaultPageSize,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// DeviceID is the id of the device owning this log.
func (l *Log) DeviceID() string { return l.deviceID }

// AppendTx appends e inside an existing transaction so the entry commits or
// rolls back together with the record write it describes.
func (l *Log) AppendTx(ctx context.Context, tx dbx.DBTX, e *models.ChangeEntry) (uint64, error) {
	e.LogDevice = l.deviceID
	e.Digest = cryptox.Digest(e.Payload, e.Deleted)
	seq, err := l.repos.Changes(tx).Append(ctx, e)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Append appends e in its own transaction.
func (l *Log) Append(ctx context.Context, e *models.ChangeEntry) (uint64, error) {
	var seq uint64
	err := dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		seq, err = l.AppendTx(ctx, tx, e)
		return err
	})
	return seq, err
}

// HighestSequenceNo returns the last assigned sequence number.
func (l *Log) HighestSequenceNo(ctx context.Context) (uint64, error) {
	return l.repos.Changes(l.db).Highest(ctx)
}

// CompactedThrough returns the compaction watermark.
func (l *Log) CompactedThrough(ctx context.Context) (uint64, error) {
	return l.repos.Changes(l.db).CompactedThrough(ctx)
}

// EntriesSince returns the entries after cursor in ascending order, read
// lazily page by page. The sequence can be ranged over again to restart from
// cursor. It fails with common.ErrCompacted up front when part of the range
// is already gone, and yields it if compaction removes entries mid-read.
func (l *Log) EntriesSince(ctx context.Context, remote string, cursor uint64) (iter.Seq2[*models.ChangeEntry, error], error) {
	watermark, err := l.CompactedThrough(ctx)
	if err != nil {
		return nil, err
	}
	if cursor < watermark {
		l.log.Info(ctx, "cursor below compaction watermark", "remote", remote, "cursor", cursor, "compacted_through", watermark)
		return nil, fmt.Errorf("%w: cursor %d below %d", common.ErrCompacted, cursor, watermark)
	}

	return func(yield func(*models.ChangeEntry, error) bool) {
		next := cursor + 1
		for {
			page, err := l.repos.Changes(l.db).Since(ctx, next-1, l.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range page {
				if e.SequenceNo != next {
					yield(nil, fmt.Errorf("%w: expected %d, found %d", common.ErrCompacted, next, e.SequenceNo))
					return
				}
				e.LogDevice = l.deviceID
				if !yield(e, nil) {
					return
				}
				next++
			}
			if len(page) < l.pageSize {
				return
			}
		}
	}, nil
}
