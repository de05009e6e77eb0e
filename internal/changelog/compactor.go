package changelog

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/robfig/cron/v3"
)

// Compactor runs a compaction func, normally Log.Compact, on a cron
// schedule. Devices and the facility both use it; only the archiver behind
// the log differs.
type Compactor struct {
	schedule string
	compact  func(ctx context.Context) (int64, error)
	log      logging.Logger
}

func NewCompactor(schedule string, compact func(ctx context.Context) (int64, error), l logging.Logger) *Compactor {
	return &Compactor{schedule: schedule, compact: compact, log: l.With("module", "compactor")}
}

// RunOnce compacts now and returns the number of removed entries.
func (c *Compactor) RunOnce(ctx context.Context) int64 {
	n, err := c.compact(ctx)
	if err != nil {
		c.log.Error(ctx, "compaction failed", "error", err)
		return 0
	}
	if n > 0 {
		c.log.Info(ctx, "compaction done", "removed", n)
	}
	return n
}

// Run compacts on schedule until ctx is done. An empty schedule returns at
// once.
func (c *Compactor) Run(ctx context.Context) error {
	if c.schedule == "" {
		return nil
	}
	cr := cron.New()
	if _, err := cr.AddFunc(c.schedule, func() { c.RunOnce(ctx) }); err != nil {
		return err
	}
	cr.Start()
	c.log.Info(ctx, "compaction schedule started", "schedule", c.schedule)

	<-ctx.Done()
	<-cr.Stop().Done()
	return nil
}
