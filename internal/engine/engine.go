// Package engine decides when and with whom to sync and drives sessions
// through their states.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/session"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	// MaxSessions bounds concurrent sessions across all targets.
	MaxSessions int64
	// Schedule is a cron spec for periodic rounds; empty disables them.
	Schedule    string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Session     session.Config
}

func DefaultConfig() Config {
	return Config{
		MaxSessions: 3,
		Schedule:    "@every 1m",
		BackoffBase: 5 * time.Second,
		BackoffCap:  5 * time.Minute,
		Session:     session.DefaultConfig(),
	}
}

type Option func(*Engine)

// WithObserver registers a callback invoked on every status change.
func WithObserver(fn func(TargetStatus)) Option {
	return func(e *Engine) { e.observe = fn }
}

type target struct {
	id      string
	busy    sync.Mutex
	status  TargetStatus
	cancel  context.CancelFunc
	backoff retry.Backoff
}

type Engine struct {
	local  *session.Local
	dialer session.Dialer
	cfg    Config
	log    logging.Logger
	sem    *semaphore.Weighted
	cron   *cron.Cron

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	changes <-chan directory.Change

	mu      sync.Mutex
	targets map[string]*target
	mode    Mode
	observe func(TargetStatus)
	now     func() time.Time
}

func New(local *session.Local, dialer session.Dialer, cfg Config, logger logging.Logger, opts ...Option) *Engine {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		local:   local,
		dialer:  dialer,
		cfg:     cfg,
		log:     logger.With("module", "engine"),
		sem:     semaphore.NewWeighted(cfg.MaxSessions),
		base:    base,
		stop:    stop,
		targets: make(map[string]*target),
		changes: local.Directory.Subscribe(16),
		mode:    ModeLocal,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) target(id string) *target {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.targets[id]
	if !ok {
		t = &target{id: id, status: TargetStatus{DeviceID: id}}
		t.backoff = e.newBackoff()
		e.targets[id] = t
	}
	return t
}

func (e *Engine) newBackoff() retry.Backoff {
	b := retry.NewExponential(e.cfg.BackoffBase)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(e.cfg.BackoffCap, b)
}

func (e *Engine) update(t *target, fn func(*TargetStatus)) {
	e.mu.Lock()
	fn(&t.status)
	snap := t.status
	snap.Pending = maps.Clone(t.status.Pending)
	e.mu.Unlock()
	if e.observe != nil {
		e.observe(snap)
	}
}

func (e *Engine) enter(t *target, s State) {
	e.update(t, func(st *TargetStatus) {
		st.State = s
		st.Progress = s.progress()
	})
}

// Acquire takes the session slot for deviceID, shared by initiated and
// served sessions. ok is false when one is already running.
func (e *Engine) Acquire(deviceID string) (release func(), ok bool) {
	t := e.target(deviceID)
	if !t.busy.TryLock() {
		return nil, false
	}
	return t.busy.Unlock, true
}

// SyncWith runs one session with deviceID and waits for it to finish.
func (e *Engine) SyncWith(ctx context.Context, deviceID string) (TargetStatus, error) {
	desc, err := e.local.Directory.Get(ctx, deviceID)
	if err != nil {
		return TargetStatus{}, err
	}
	err = e.run(ctx, desc)
	st, _ := e.Status(deviceID)
	return st, err
}

// TriggerSyncNow starts a session with deviceID in the background, or a
// full round when deviceID is empty. Backoff is ignored.
func (e *Engine) TriggerSyncNow(deviceID string) error {
	if deviceID == "" {
		e.spawn(func(ctx context.Context) { _ = e.SyncAll(ctx, true) })
		return nil
	}
	desc, err := e.local.Directory.Get(e.base, deviceID)
	if err != nil {
		return err
	}
	if e.running(deviceID) {
		return common.ErrBusy
	}
	e.spawn(func(ctx context.Context) { _ = e.run(ctx, desc) })
	return nil
}

func (e *Engine) spawn(fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.base)
	}()
}

func (e *Engine) running(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.targets[deviceID]
	return ok && t.cancel != nil
}

// CancelSync aborts the session with deviceID. Progress already applied
// is kept. It reports whether a session was running.
func (e *Engine) CancelSync(deviceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.targets[deviceID]
	if !ok || t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

func (e *Engine) Status(deviceID string) (TargetStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.targets[deviceID]
	if !ok {
		return TargetStatus{DeviceID: deviceID}, false
	}
	st := t.status
	st.Pending = maps.Clone(t.status.Pending)
	return st, true
}

func (e *Engine) Statuses() []TargetStatus {
	e.mu.Lock()
	ids := slices.Sorted(maps.Keys(e.targets))
	e.mu.Unlock()
	out := make([]TargetStatus, 0, len(ids))
	for _, id := range ids {
		st, _ := e.Status(id)
		out = append(out, st)
	}
	return out
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SyncAll runs one round: the facility when it is online, otherwise every
// reachable peer, otherwise nothing. Targets still backing off are skipped
// unless force is set. It returns the first session failure.
func (e *Engine) SyncAll(ctx context.Context, force bool) error {
	candidates, err := e.local.Directory.CandidatesForSync(ctx)
	if err != nil {
		return err
	}
	mode, targets := plan(candidates)

	e.mu.Lock()
	if e.mode != mode {
		e.log.Info(ctx, "exchange mode changed", "from", string(e.mode), "to", string(mode))
	}
	e.mode = mode
	e.mu.Unlock()

	// one failing target must not cancel the others
	var g errgroup.Group
	for _, desc := range targets {
		if !force && !e.due(desc.DeviceID) {
			continue
		}
		g.Go(func() error {
			err := e.run(ctx, desc)
			if errors.Is(err, common.ErrBusy) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func plan(candidates []*models.DeviceDescriptor) (Mode, []*models.DeviceDescriptor) {
	var peers []*models.DeviceDescriptor
	for _, c := range candidates {
		if c.Role == models.RoleFacility && c.Reachability == models.Online {
			return ModeFacility, []*models.DeviceDescriptor{c}
		}
		if c.Reachability >= models.PeerReachable {
			peers = append(peers, c)
		}
	}
	if len(peers) == 0 {
		return ModeLocal, nil
	}
	return ModePeer, peers
}

func (e *Engine) due(deviceID string) bool {
	st, _ := e.Status(deviceID)
	return !e.now().Before(st.NextAttempt)
}

// run drives one session through the state machine.
func (e *Engine) run(ctx context.Context, desc *models.DeviceDescriptor) error {
	t := e.target(desc.DeviceID)
	if !t.busy.TryLock() {
		return common.ErrBusy
	}
	defer t.busy.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	t.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		t.cancel = nil
		e.mu.Unlock()
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.fail(ctx, t, fmt.Errorf("%w: %v", common.ErrCancelled, err))
	}
	defer e.sem.Release(1)

	e.enter(t, StateNegotiating)
	s, err := session.Open(ctx, e.dialer, e.local, desc, e.cfg.Session)
	if err != nil {
		if errors.Is(err, common.ErrUnreachable) {
			if err := e.local.Directory.SetReachability(ctx, desc.DeviceID, models.Unreachable); err != nil {
				e.log.Warn(ctx, "mark unreachable", "target", desc.DeviceID, "error", err)
			}
		}
		return e.fail(ctx, t, err)
	}
	defer s.Close()

	if _, err := s.Negotiate(ctx); err != nil {
		return e.fail(ctx, t, err)
	}

	e.enter(t, StateTransferring)
	var pulled, pushed int
	for rep, err := range s.Exchange(ctx) {
		if err != nil {
			return e.fail(ctx, t, err)
		}
		if rep.Direction == models.DirectionReceived {
			pulled += rep.Entries
		} else {
			pushed += rep.Entries
		}
	}

	e.enter(t, StateReconciling)
	pending, err := e.PendingByType(ctx, desc.DeviceID)
	if err != nil {
		e.log.Warn(ctx, "pending counts", "target", desc.DeviceID, "error", err)
	}

	t.backoff = e.newBackoff()
	e.update(t, func(st *TargetStatus) {
		st.State = StateIdle
		st.Progress = 100
		st.LastError = ""
		st.LastSuccess = e.now()
		st.Failures = 0
		st.NextAttempt = time.Time{}
		st.Pulled = pulled
		st.Pushed = pushed
		st.Pending = pending
	})
	e.log.Info(ctx, "sync completed", "target", desc.DeviceID, "session", s.ID(), "pulled", pulled, "pushed", pushed)
	return nil
}

// fail records a failed session. Cancellation returns the target to idle
// without backing off.
func (e *Engine) fail(ctx context.Context, t *target, err error) error {
	if errors.Is(err, common.ErrCancelled) {
		e.update(t, func(st *TargetStatus) {
			st.State = StateIdle
			st.Progress = 0
			st.LastError = err.Error()
		})
		e.log.Info(ctx, "sync cancelled", "target", t.id)
		return err
	}

	delay, _ := t.backoff.Next()
	e.update(t, func(st *TargetStatus) {
		st.State = StateFailed
		st.Progress = 0
		st.LastError = err.Error()
		st.Failures++
		st.NextAttempt = e.now().Add(delay)
	})
	e.log.Warn(ctx, "sync failed", "target", t.id, "retry_in", delay.String(), "error", err)
	return err
}

// PendingByType counts local records not yet acknowledged by deviceID.
func (e *Engine) PendingByType(ctx context.Context, deviceID string) (map[models.RecordType]int, error) {
	sent, err := e.local.Directory.Cursor(ctx, deviceID, models.DirectionSent)
	if err != nil {
		return nil, err
	}
	return e.local.Store.PendingByType(ctx, sent)
}

// RecordStatus reports whether the latest local change to a record has
// reached the facility.
func (e *Engine) RecordStatus(ctx context.Context, id string) (models.SyncStatus, error) {
	r, err := e.local.Store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	facility, err := e.local.Directory.Facility(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return models.SyncStatusOffline, nil
	}
	if err != nil {
		return "", err
	}
	if r.LocalSeq <= facility.SentCursor {
		return models.SyncStatusSynced, nil
	}
	if facility.Reachability == models.Online {
		return models.SyncStatusPending, nil
	}
	return models.SyncStatusOffline, nil
}
