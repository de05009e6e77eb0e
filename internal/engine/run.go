package engine

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/robfig/cron/v3"
)

// Run starts scheduled rounds and reacts to reachability changes until ctx
// is done. On return every running session has been cancelled and waited
// for.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Schedule != "" {
		e.cron = cron.New()
		_, err := e.cron.AddFunc(e.cfg.Schedule, func() {
			if err := e.SyncAll(e.base, false); err != nil {
				e.log.Debug(e.base, "scheduled round", "error", err)
			}
		})
		if err != nil {
			return err
		}
		e.cron.Start()
		e.log.Info(ctx, "sync schedule started", "schedule", e.cfg.Schedule)
	}

	for {
		select {
		case c := <-e.changes:
			e.onChange(ctx, c)
		case <-ctx.Done():
			e.Close()
			return nil
		}
	}
}

func (e *Engine) onChange(ctx context.Context, c directory.Change) {
	if c.Reachability == models.Unreachable {
		e.log.Info(ctx, "target lost", "target", c.DeviceID)
		return
	}
	e.log.Info(ctx, "target available", "target", c.DeviceID, "reachability", c.Reachability.String())
	err := e.TriggerSyncNow(c.DeviceID)
	if err != nil && !errors.Is(err, common.ErrBusy) {
		e.log.Warn(ctx, "trigger sync", "target", c.DeviceID, "error", err)
	}
}

// Close stops the schedule, cancels running sessions and waits for them.
func (e *Engine) Close() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.stop()
	e.wg.Wait()
}
