package store

import (
	"database/sql"
	"time"
)

// UpsertMedia inserts or updates a media record (idempotent on id).
func (db *DB) UpsertMedia(m *Media) error {
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO media (id, type, url, title, description, thumb, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			url = excluded.url,
			title = excluded.title,
			description = excluded.description,
			thumb = CASE WHEN excluded.thumb != '' THEN excluded.thumb ELSE media.thumb END,
			updated_at = excluded.updated_at`,
		m.ID, m.Type, m.URL, m.Title, m.Description, m.Thumb, now)
	return err
}

// GetMedia returns a media record by id, or nil if absent.
func (db *DB) GetMedia(id int64) (*Media, error) {
	var m Media
	err := db.QueryRow(`
		SELECT id, type, url, title, description, thumb
		FROM media WHERE id = ?`, id).
		Scan(&m.ID, &m.Type, &m.URL, &m.Title, &m.Description, &m.Thumb)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
