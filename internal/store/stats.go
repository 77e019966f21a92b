package store

import "database/sql"

// MessageCount returns the total number of archived messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// UserCount returns the total number of known users.
func (db *DB) UserCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// MediaCount returns the total number of media records.
func (db *DB) MediaCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM media`).Scan(&count)
	return count, err
}

// MessageSpan returns the timestamps of the oldest and newest archived
// messages. ok is false when the archive is empty.
func (db *DB) MessageSpan() (first, last int64, ok bool, err error) {
	var lo, hi sql.NullInt64
	err = db.QueryRow(`SELECT MIN(date), MAX(date) FROM messages`).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, err
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}
