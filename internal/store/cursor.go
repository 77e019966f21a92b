package store

import (
	"database/sql"
	"strconv"
	"time"
)

// sync_state keys.
const (
	stateLastMessageID = "last_message_id"
	stateLastSyncAt    = "last_sync_at"
)

// LastMessageID returns the resume cursor: the highest remote id a
// committed page has covered. ok is false on a fresh archive.
func (db *DB) LastMessageID() (int64, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, stateLastMessageID).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// LastSyncAt returns when the last page was committed. ok is false if no
// sync has completed a page yet.
func (db *DB) LastSyncAt() (time.Time, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, stateLastSyncAt).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
