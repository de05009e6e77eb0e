package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, deviceID string) *Store {
	t.Helper()
	db := repotest.SQLite(t)
	rm := repomanager.NewSQLiteRepositoryManager()
	log := changelog.New(db, rm, deviceID, logging.Nop())
	s := New(db, rm, log, reconcile.NewPolicy(nil), logging.Nop())
	s.now = func() time.Time { return time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func patient(id, payload string) *models.Record {
	return &models.Record{ID: id, Type: models.RecordTypePatient, Payload: []byte(payload)}
}

func logged(t *testing.T, s *Store) []*models.ChangeEntry {
	t.Helper()
	seq, err := s.Log().EntriesSince(context.Background(), "test", 0)
	require.NoError(t, err)
	var out []*models.ChangeEntry
	for e, err := range seq {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestPut_CreateThenUpdate(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()

	r, err := s.Put(ctx, patient("p1", "v1"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Version)
	assert.Equal(t, "dev-A", r.OriginDevice)
	assert.Equal(t, uint64(1), r.LocalSeq)

	r, err = s.Put(ctx, patient("p1", "v2"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Version)

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Payload)
	assert.Equal(t, uint64(2), got.LocalSeq)

	entries := logged(t, s)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[1].Version)
	assert.Equal(t, "dev-A", entries[1].OriginDevice)
}

func TestPut_Conflicts(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()

	_, err := s.Put(ctx, patient("p1", "x"), 3)
	require.ErrorIs(t, err, common.ErrConflict, "expected version on a missing record")

	_, err = s.Put(ctx, patient("p1", "x"), 0)
	require.NoError(t, err)

	_, err = s.Put(ctx, patient("p1", "y"), 0)
	require.ErrorIs(t, err, common.ErrConflict, "create over existing record")

	_, err = s.Put(ctx, patient("p1", "y"), 5)
	require.ErrorIs(t, err, common.ErrConflict)

	assert.Len(t, logged(t, s), 1, "failed puts leave no log entries")
}

func TestPut_RejectsInvalidRecords(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()

	_, err := s.Put(ctx, &models.Record{ID: "", Type: models.RecordTypeVisit}, 0)
	require.ErrorIs(t, err, common.ErrInvalidRecord)

	_, err = s.Put(ctx, &models.Record{ID: "x", Type: "alert"}, 0)
	require.ErrorIs(t, err, common.ErrInvalidRecord)

	_, err = s.Put(ctx, patient("p1", "x"), 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, &models.Record{ID: "p1", Type: models.RecordTypeVisit}, 1)
	require.ErrorIs(t, err, common.ErrInvalidRecord)
}

func TestPut_ConcurrentWritersOnOneRecord(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()
	_, err := s.Put(ctx, patient("p1", "base"), 0)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Put(ctx, patient("p1", fmt.Sprint(i)), 1); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one writer wins the optimistic check")
	assert.Zero(t, s.locks.size())
}

func TestDelete_WritesTombstone(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()

	_, err := s.Put(ctx, patient("p1", "x"), 0)
	require.NoError(t, err)
	r, err := s.Delete(ctx, "p1", 1)
	require.NoError(t, err)
	assert.True(t, r.Deleted)
	assert.Equal(t, uint64(2), r.Version)

	_, err = s.Delete(ctx, "nope", 1)
	require.ErrorIs(t, err, common.ErrNotFound)

	var live int
	for _, err := range s.Scan(ctx, models.RecordTypePatient) {
		require.NoError(t, err)
		live++
	}
	assert.Zero(t, live)

	var all int
	for r, err := range s.Snapshot(ctx) {
		require.NoError(t, err)
		assert.True(t, r.Deleted)
		all++
	}
	assert.Equal(t, 1, all)

	entries := logged(t, s)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Deleted)
}

func TestScan_PagesAndFilters(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()

	for i := 0; i < scanPageSize+5; i++ {
		_, err := s.Put(ctx, patient(fmt.Sprintf("p%04d", i), "x"), 0)
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, &models.Record{ID: "v1", Type: models.RecordTypeVisit}, 0)
	require.NoError(t, err)

	var ids []string
	for r, err := range s.Scan(ctx, models.RecordTypePatient) {
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	require.Len(t, ids, scanPageSize+5)
	assert.Equal(t, "p0000", ids[0])
	assert.IsIncreasing(t, ids)

	n := 0
	for range s.Scan(ctx, "") {
		n++
	}
	assert.Equal(t, scanPageSize+6, n)
}

func TestAbsorb_CreatesAndRelogsWithOrigin(t *testing.T) {
	s := newStore(t, "phc-001")
	ctx := context.Background()

	e := &models.ChangeEntry{
		SequenceNo: 5, LogDevice: "dev-A", RecordID: "p1", RecordType: models.RecordTypePatient,
		Version: 5, Payload: []byte("a5"), OriginDevice: "dev-A",
	}
	out, err := s.Absorb(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCreated, out)

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version)
	assert.Equal(t, "dev-A", got.OriginDevice)

	entries := logged(t, s)
	require.Len(t, entries, 1)
	assert.Equal(t, "phc-001", entries[0].LogDevice)
	assert.Equal(t, "dev-A", entries[0].OriginDevice)
	assert.Equal(t, uint64(5), entries[0].Version)

	out, err = s.Absorb(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeDuplicate, out)
	assert.Len(t, logged(t, s), 1, "re-delivery is idempotent")
}

func TestAbsorb_ConcurrentEditFlagsConflict(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()

	_, err := s.Put(ctx, patient("p1", "base"), 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, patient("p1", "from-A"), 1)
	require.NoError(t, err)

	out, err := s.Absorb(ctx, &models.ChangeEntry{
		LogDevice: "dev-B", RecordID: "p1", RecordType: models.RecordTypePatient,
		Version: 2, Payload: []byte("from-B"), OriginDevice: "dev-B",
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeConflictRemote, out)

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-B"), got.Payload)
	assert.True(t, got.HadConflict)
	assert.Equal(t, uint64(3), got.LocalSeq)

	// a local edit on top keeps working with the adopted version
	_, err = s.Put(ctx, patient("p1", "after"), 2)
	require.NoError(t, err)
}

func TestAbsorb_OlderVersionKeepsLocal(t *testing.T) {
	s := newStore(t, "dev-A")
	ctx := context.Background()

	_, err := s.Put(ctx, patient("p1", "1"), 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, patient("p1", "2"), 1)
	require.NoError(t, err)

	out, err := s.Absorb(ctx, &models.ChangeEntry{
		RecordID: "p1", RecordType: models.RecordTypePatient, Version: 1, Payload: []byte("old"), OriginDevice: "dev-Z",
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeKeptLocal, out)
	assert.Len(t, logged(t, s), 2)
}

func TestKeyLock_SerializesPerKey(t *testing.T) {
	k := newKeyLock()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()

	other := k.Lock("b")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
	require.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}
