package changelog

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

// Compact removes entries every known device has acknowledged. Entries are
// archived first, so a failed archive leaves the log untouched. Returns the
// number of deleted entries.
func (l *Log) Compact(ctx context.Context) (int64, error) {
	minSent, ok, err := l.repos.Cursors(l.db).MinSentOverDevices(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	watermark, err := l.CompactedThrough(ctx)
	if err != nil {
		return 0, err
	}
	if minSent <= watermark {
		return 0, nil
	}

	if l.archiver != nil {
		if err := l.archiveRange(ctx, watermark, minSent); err != nil {
			return 0, fmt.Errorf("archive %d..%d: %w", watermark+1, minSent, err)
		}
	}

	var n int64
	err = dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = l.repos.Changes(tx).DeleteThrough(ctx, minSent)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.log.Info(ctx, "change log compacted", "through", minSent, "deleted", n)
	return n, nil
}

func (l *Log) archiveRange(ctx context.Context, after, through uint64) error {
	for after < through {
		page, err := l.repos.Changes(l.db).Since(ctx, after, l.pageSize)
		if err != nil {
			return err
		}
		var chunk []*models.ChangeEntry
		for _, e := range page {
			if e.SequenceNo > through {
				break
			}
			e.LogDevice = l.deviceID
			chunk = append(chunk, e)
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := l.archiver.Archive(ctx, l.deviceID, chunk); err != nil {
			return err
		}
		after = chunk[len(chunk)-1].SequenceNo
	}
	return nil
}
