package store

import (
	"fmt"
	"time"
)

// ApplyBatch writes one fetched page in a single transaction: users,
// media, messages, then the cursor advance. Either the whole page and the
// cursor land together or nothing does, so an interrupted sync resumes
// from the last committed page. The cursor only ever moves forward.
func (db *DB) ApplyBatch(b *Batch) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	nowUnix := now.Unix()

	for i := range b.Users {
		u := &b.Users[i]
		tags, err := encodeTags(u.Tags)
		if err != nil {
			return fmt.Errorf("user %d tags: %w", u.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO users (id, username, first_name, last_name, tags, avatar, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username,
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				tags = excluded.tags,
				avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE users.avatar END,
				updated_at = excluded.updated_at`,
			u.ID, u.Username, u.FirstName, u.LastName, tags, u.Avatar, nowUnix); err != nil {
			return fmt.Errorf("upsert user %d: %w", u.ID, err)
		}
	}

	for i := range b.Media {
		m := &b.Media[i]
		if _, err := tx.Exec(`
			INSERT INTO media (id, type, url, title, description, thumb, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				url = excluded.url,
				title = excluded.title,
				description = excluded.description,
				thumb = CASE WHEN excluded.thumb != '' THEN excluded.thumb ELSE media.thumb END,
				updated_at = excluded.updated_at`,
			m.ID, m.Type, m.URL, m.Title, m.Description, m.Thumb, nowUnix); err != nil {
			return fmt.Errorf("upsert media %d: %w", m.ID, err)
		}
	}

	for i := range b.Messages {
		m := &b.Messages[i]
		if _, err := tx.Exec(`
			INSERT INTO messages (id, type, date, edit_date, content, reply_to, user_id, media_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				date = excluded.date,
				edit_date = excluded.edit_date,
				content = excluded.content,
				reply_to = excluded.reply_to,
				user_id = excluded.user_id,
				media_id = excluded.media_id`,
			m.ID, m.Type, m.Date, nullableID(m.EditDate), m.Content,
			nullableID(m.ReplyTo), nullableID(m.UserID), nullableID(m.MediaID)); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
	}

	if b.Cursor > 0 {
		if _, err := tx.Exec(`
			INSERT INTO sync_state (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = CAST(MAX(CAST(sync_state.value AS INTEGER), CAST(excluded.value AS INTEGER)) AS TEXT),
				updated_at = excluded.updated_at`,
			stateLastMessageID, fmt.Sprintf("%d", b.Cursor), nowUnix); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		stateLastSyncAt, now.UTC().Format(time.RFC3339), nowUnix); err != nil {
		return fmt.Errorf("record sync time: %w", err)
	}

	return tx.Commit()
}
