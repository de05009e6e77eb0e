// Package migrations holds the goose schema migrations for both storage
// backends. The sqlite and postgres subpackages embed their own SQL files so
// each dialect can be migrated with an isolated goose.Provider.
package migrations
