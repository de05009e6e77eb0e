// Package repomanager vends dialect-bound repository implementations and
// migrates the schema with goose. The device runs it over SQLite and the
// facility over PostgreSQL; both share the same repository code.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	migpostgres "github.com/dmitrijs2005/fieldsync/internal/migrations/postgres"
	migsqlite "github.com/dmitrijs2005/fieldsync/internal/migrations/sqlite"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/changes"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/cursors"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/devices"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/records"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Dialect() dbx.Dialect
	Records(db dbx.DBTX) records.Repository
	Changes(db dbx.DBTX) changes.Repository
	Devices(db dbx.DBTX) devices.Repository
	Cursors(db dbx.DBTX) cursors.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

// SQLRepositoryManager binds every repository to one dialect.
type SQLRepositoryManager struct {
	dialect      dbx.Dialect
	gooseDialect goose.Dialect
	migrations   fs.FS
}

// NewSQLiteRepositoryManager returns the manager used by field devices.
func NewSQLiteRepositoryManager() *SQLRepositoryManager {
	return &SQLRepositoryManager{
		dialect:      dbx.SQLite{},
		gooseDialect: goose.DialectSQLite3,
		migrations:   migsqlite.Migrations,
	}
}

// NewPostgresRepositoryManager returns the manager used by the facility.
func NewPostgresRepositoryManager() *SQLRepositoryManager {
	return &SQLRepositoryManager{
		dialect:      dbx.Postgres{},
		gooseDialect: goose.DialectPostgres,
		migrations:   migpostgres.Migrations,
	}
}

func (m *SQLRepositoryManager) Dialect() dbx.Dialect { return m.dialect }

func (m *SQLRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Changes(db dbx.DBTX) changes.Repository {
	return changes.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Cursors(db dbx.DBTX) cursors.Repository {
	return cursors.NewSQLRepository(db, m.dialect)
}

func (m *SQLRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLRepository(db, m.dialect)
}

// gooseUp is a seam for testing the migration run.
var gooseUp = func(ctx context.Context, p *goose.Provider) error {
	_, err := p.Up(ctx)
	return err
}

// RunMigrations applies the embedded migrations of the manager's dialect.
// A provider is used instead of goose's package-level state so that SQLite
// and PostgreSQL can be migrated from the same process.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(m.gooseDialect, db, m.migrations)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if err := gooseUp(ctx, p); err != nil {
		return fmt.Errorf("%s migrations: %w", m.dialect.Name(), err)
	}
	return nil
}
