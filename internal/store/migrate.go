package store

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tgarc/tgarc/internal/store/migrations"
)

// ftsVersion is the first migration that requires the FTS5 module.
const ftsVersion = 2

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate runs all pending migrations on the database. When the linked
// SQLite lacks FTS5 it stops short of the full-text migration so the rest
// of the archive keeps working; a database that already carries the
// full-text index cannot be opened by such a binary, since the insert
// triggers would fail on every write.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	if db.fts {
		err = m.Up()
	} else {
		cur, _, verr := m.Version()
		switch {
		case verr != nil && verr != migrate.ErrNilVersion:
			return nil, fmt.Errorf("migration version: %w", verr)
		case verr == nil && cur >= ftsVersion:
			return nil, fmt.Errorf("database has a full-text index but this binary was built without the sqlite_fts5 tag")
		default:
			err = m.Migrate(ftsVersion - 1)
		}
	}
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
	}, nil
}
