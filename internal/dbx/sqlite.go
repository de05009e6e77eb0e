package dbx

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the dialect of the device-local store.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite3" }

func (SQLite) Rebind(query string) string { return query }

func (SQLite) MapError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// extended result codes keep the primary code in the low byte
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_FULL:
			return fmt.Errorf("%w: %v", common.ErrStoreFull, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %v", common.ErrConflict, err)
		}
	}
	return err
}
