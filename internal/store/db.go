package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection holding an archive's messages, users,
// media records and sync state.
type DB struct {
	*sql.DB
	fts bool
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, fts: fts5Available(db)}, nil
}

// FTSEnabled reports whether the linked SQLite carries the FTS5 module.
// mattn/go-sqlite3 compiles it in only under the sqlite_fts5 build tag.
func (db *DB) FTSEnabled() bool {
	return db.fts
}

func fts5Available(db *sql.DB) bool {
	var enabled sql.NullInt64
	if err := db.QueryRow(`SELECT sqlite_compileoption_used('ENABLE_FTS5')`).Scan(&enabled); err != nil {
		return false
	}
	return enabled.Valid && enabled.Int64 == 1
}
