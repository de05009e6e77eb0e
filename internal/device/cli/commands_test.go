package cli

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/engine"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repotest"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanner(s string) *bufio.Scanner { return bufio.NewScanner(strings.NewReader(s)) }

type fakeSyncer struct {
	triggered []string
	running   map[string]bool
	statuses  []engine.TargetStatus
	mode      engine.Mode
	status    models.SyncStatus
	pending   map[models.RecordType]int
}

func (f *fakeSyncer) TriggerSyncNow(id string) error {
	if id == "ghost" {
		return common.ErrNotFound
	}
	f.triggered = append(f.triggered, id)
	return nil
}
func (f *fakeSyncer) CancelSync(id string) bool       { return f.running[id] }
func (f *fakeSyncer) Statuses() []engine.TargetStatus { return f.statuses }
func (f *fakeSyncer) Mode() engine.Mode               { return f.mode }
func (f *fakeSyncer) RecordStatus(context.Context, string) (models.SyncStatus, error) {
	return f.status, nil
}
func (f *fakeSyncer) PendingByType(context.Context, string) (map[models.RecordType]int, error) {
	return f.pending, nil
}

type fixture struct {
	app    *App
	out    *bytes.Buffer
	syncer *fakeSyncer
	dir    *directory.Directory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repotest.SQLite(t)
	rm := repomanager.NewSQLiteRepositoryManager()
	log := changelog.New(db, rm, "dev-A", logging.Nop())
	st := store.New(db, rm, log, reconcile.NewPolicy(nil), logging.Nop())
	dir := directory.New(db, rm, "dev-A", log, logging.Nop())
	syncer := &fakeSyncer{mode: engine.ModeLocal, running: map[string]bool{}}
	out := &bytes.Buffer{}
	return &fixture{app: NewApp("dev-A", st, syncer, dir, out), out: out, syncer: syncer, dir: dir}
}

func (f *fixture) run(t *testing.T, fn func(context.Context, []string) error, args ...string) string {
	t.Helper()
	f.out.Reset()
	require.NoError(t, fn(context.Background(), args))
	return f.out.String()
}

func TestRecordsCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Contains(t, f.run(t, f.app.List), "no records")

	assert.Contains(t, f.run(t, f.app.Put, "patient", "p1", `{"name":"Sita"}`), "saved p1 v1")
	assert.Contains(t, f.run(t, f.app.Put, "patient", "p1", `{"name":"Sita Devi"}`), "saved p1 v2")
	assert.Contains(t, f.run(t, f.app.Put, "visit", "v1", `{}`), "saved v1 v1")

	out := f.run(t, f.app.List, "patient")
	assert.Contains(t, out, "p1")
	assert.NotContains(t, out, "v1 ")

	out = f.run(t, f.app.Show, "p1")
	assert.Contains(t, out, "version:  2")
	assert.Contains(t, out, `{"name":"Sita Devi"}`)

	assert.Contains(t, f.run(t, f.app.Delete, "p1"), "deleted p1 v3")
	r, err := f.app.store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, r.Deleted)

	err = f.app.Put(ctx, []string{"alert", "a1", "{}"})
	assert.ErrorContains(t, err, "unknown type")
	err = f.app.Put(ctx, []string{"visit", "v2", "{oops"})
	assert.ErrorContains(t, err, "not valid JSON")
	assert.ErrorIs(t, f.app.Show(ctx, []string{"missing"}), common.ErrNotFound)

	var u usageError
	assert.ErrorAs(t, f.app.Show(ctx, nil), &u)
	assert.ErrorAs(t, f.app.Delete(ctx, nil), &u)
	assert.ErrorAs(t, f.app.Put(ctx, []string{"visit", "v2", ""}), &u)
}

func TestSyncCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.syncer.status = models.SyncStatusPending
	assert.Equal(t, "p1: pending\n", f.run(t, f.app.Status, "p1"))

	assert.Contains(t, f.run(t, f.app.Sync), "sync started (local mode)")
	assert.Contains(t, f.run(t, f.app.Sync, "dev-B"), "sync with dev-B started")
	assert.Equal(t, []string{"", "dev-B"}, f.syncer.triggered)
	assert.ErrorIs(t, f.app.Sync(ctx, []string{"ghost"}), common.ErrNotFound)

	f.syncer.running["dev-B"] = true
	assert.Contains(t, f.run(t, f.app.Cancel, "dev-B"), "cancelling sync with dev-B")
	assert.Contains(t, f.run(t, f.app.Cancel, "dev-C"), "no sync running with dev-C")

	assert.Contains(t, f.run(t, f.app.Syncs), "no sync targets yet")
	f.syncer.statuses = []engine.TargetStatus{
		{DeviceID: "dev-B", State: engine.StateFailed, LastError: "target unreachable", Failures: 2},
		{DeviceID: "phc", State: engine.StateIdle, Progress: 100, LastSuccess: time.Now()},
	}
	out := f.run(t, f.app.Syncs)
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "(failures 2)")
	assert.Contains(t, out, "100%")
}

func TestDevicesAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Contains(t, f.run(t, f.app.Devices), "no known devices")
	assert.ErrorIs(t, f.app.Pending(ctx, nil), common.ErrNotFound)

	require.NoError(t, f.dir.Upsert(ctx, &models.DeviceDescriptor{DeviceID: "phc", Role: models.RoleFacility, Address: "10.0.0.1:50051"}))
	require.NoError(t, f.dir.SetReachability(ctx, "phc", models.Online))

	out := f.run(t, f.app.Devices)
	assert.Contains(t, out, "phc")
	assert.Contains(t, out, "online")

	f.syncer.pending = map[models.RecordType]int{models.RecordTypeVisit: 3}
	assert.Equal(t, "pending for phc: patient 0, visit 3, vaccination 0\n", f.run(t, f.app.Pending))
}

func TestModeAndObserve(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "fs dev-A> ", f.app.prompt())
	f.app.setMode(engine.ModeFacility)
	f.app.setMode(engine.ModeFacility)
	assert.Equal(t, 1, strings.Count(f.out.String(), "Switched to facility mode"))
	assert.Equal(t, "fs dev-A (facility)> ", f.app.prompt())

	f.out.Reset()
	f.app.Observe(engine.TargetStatus{DeviceID: "phc", State: engine.StateTransferring, Progress: 50})
	assert.Empty(t, f.out.String())
	f.app.Observe(engine.TargetStatus{DeviceID: "phc", State: engine.StateIdle, Progress: 100, Pulled: 4, Pushed: 2})
	f.app.Observe(engine.TargetStatus{DeviceID: "dev-B", State: engine.StateFailed, LastError: "busy"})
	assert.Contains(t, f.out.String(), "sync with phc done: 4 pulled, 2 pushed")
	assert.Contains(t, f.out.String(), "sync with dev-B failed: busy")

	ctx, cancel := context.WithCancel(context.Background())
	f.syncer.mode = engine.ModePeer
	done := make(chan struct{})
	go func() {
		f.app.WatchMode(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return strings.HasSuffix(f.app.prompt(), "(peer)> ") }, time.Second, time.Millisecond)
	cancel()
	<-done
}
