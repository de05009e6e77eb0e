package dbx

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the storage engines the
// repositories run on. Queries are written once with '?' placeholders.
type Dialect interface {
	// Name is the goose dialect name, also used in logs.
	Name() string
	// Rebind rewrites '?' placeholders into the engine's native form.
	Rebind(query string) string
	// MapError translates driver errors into common sentinels where a
	// mapping exists and returns err unchanged otherwise.
	MapError(err error) error
}

// RebindDollar rewrites '?' placeholders into $1, $2, ... Placeholders
// inside single-quoted literals are left alone.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
