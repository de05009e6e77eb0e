package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`
		CREATE TABLE records (id TEXT PRIMARY KEY, version INTEGER NOT NULL);
		CREATE TABLE changes (seq INTEGER PRIMARY KEY AUTOINCREMENT, record_id TEXT NOT NULL);`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

// writePair stores a record and its change entry the way the store does.
func writePair(ctx context.Context, tx DBTX, id string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO changes(record_id) VALUES (?)`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO records(id, version) VALUES (?, 1)`, id)
	return err
}

func TestWithTx_CommitsRecordWithEntry(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return writePair(ctx, tx, "p1")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db, "records"))
	assert.Equal(t, 1, count(t, db, "changes"))
}

func TestWithTx_FailedWriteDropsEntry(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	require.NoError(t, WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		return writePair(ctx, tx, "p1")
	}))

	// the entry is appended, then the duplicate record insert fails
	err := WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		return writePair(ctx, tx, "p1")
	})
	require.Error(t, err)
	assert.Equal(t, 1, count(t, db, "changes"), "no entry without its record")
}

func TestWithTx_ReturnsFnErrorUnwrapped(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, writePair(ctx, tx, "p1"))
		return common.ErrConflict
	})
	assert.Same(t, common.ErrConflict, err)
	assert.Zero(t, count(t, db, "records"))
	assert.Zero(t, count(t, db, "changes"))
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		assert.Zero(t, count(t, db, "changes"), "must rollback on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, writePair(ctx, tx, "p1"))
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "begin tx")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, called)
}
