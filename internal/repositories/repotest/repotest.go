// Package repotest opens migrated databases for repository tests.
package repotest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	migsqlite "github.com/dmitrijs2005/fieldsync/internal/migrations/sqlite"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// SQLite returns an in-memory SQLite database with the device schema applied.
func SQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	p, err := goose.NewProvider(goose.DialectSQLite3, db, migsqlite.Migrations)
	require.NoError(t, err)
	_, err = p.Up(context.Background())
	require.NoError(t, err)
	return db
}

// Mock returns a sqlmock database using the regexp query matcher.
func Mock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}
