package dbx

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories care about.
const (
	pgUniqueViolation       = "23505"
	pgInsufficientResources = "53000"
	pgDiskFull              = "53100"
	pgOutOfMemory           = "53200"
)

// Postgres is the dialect of the facility store.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Rebind(query string) string { return RebindDollar(query) }

func (Postgres) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case pgDiskFull, pgInsufficientResources, pgOutOfMemory:
			return fmt.Errorf("%w: %v", common.ErrStoreFull, err)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", common.ErrConflict, err)
		}
	}
	return err
}
