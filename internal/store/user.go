package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertUser inserts or updates a user (idempotent on id). An empty avatar
// never clears a previously recorded one.
func (db *DB) UpsertUser(u *User) error {
	tags, err := encodeTags(u.Tags)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = db.Exec(`
		INSERT INTO users (id, username, first_name, last_name, tags, avatar, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			tags = excluded.tags,
			avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE users.avatar END,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.FirstName, u.LastName, tags, u.Avatar, now)
	return err
}

// GetUser returns a user by id, or nil if absent.
func (db *DB) GetUser(id int64) (*User, error) {
	var u User
	var tags string
	err := db.QueryRow(`
		SELECT id, username, first_name, last_name, tags, avatar
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &tags, &u.Avatar)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Tags, err = decodeTags(tags)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTags(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
