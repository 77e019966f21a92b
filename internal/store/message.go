package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// UpsertMessage inserts or updates a message (idempotent on id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
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
		nullableID(m.ReplyTo), nullableID(m.UserID), nullableID(m.MediaID))
	return err
}

const joinedMessageColumns = `
	m.id, m.type, m.date, COALESCE(m.edit_date, 0), m.content,
	COALESCE(m.reply_to, 0), COALESCE(m.user_id, 0), COALESCE(m.media_id, 0),
	COALESCE(u.username, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
	COALESCE(u.tags, '[]'), COALESCE(u.avatar, ''),
	COALESCE(md.type, ''), COALESCE(md.url, ''), COALESCE(md.title, ''),
	COALESCE(md.description, ''), COALESCE(md.thumb, '')`

const joinedMessageFrom = `
	FROM messages m
	LEFT JOIN users u ON u.id = m.user_id
	LEFT JOIN media md ON md.id = m.media_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJoinedMessage(row rowScanner) (*Message, error) {
	var m Message
	var u User
	var md Media
	var tags string
	err := row.Scan(
		&m.ID, &m.Type, &m.Date, &m.EditDate, &m.Content,
		&m.ReplyTo, &m.UserID, &m.MediaID,
		&u.Username, &u.FirstName, &u.LastName, &tags, &u.Avatar,
		&md.Type, &md.URL, &md.Title, &md.Description, &md.Thumb,
	)
	if err != nil {
		return nil, err
	}
	if m.UserID != 0 {
		u.ID = m.UserID
		if u.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		m.User = &u
	}
	if m.MediaID != 0 {
		md.ID = m.MediaID
		m.Media = &md
	}
	return &m, nil
}

// GetMessage returns a single message with its user and media, or nil if
// the id is not archived.
func (db *DB) GetMessage(id int64) (*Message, error) {
	row := db.QueryRow(`SELECT`+joinedMessageColumns+joinedMessageFrom+` WHERE m.id = ?`, id)
	m, err := scanJoinedMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MessageStubs returns the id and timestamp of every message ordered by
// date, ids breaking ties. This is the raw material for paging and month
// bucketing: date order keeps each calendar month contiguous even when
// timestamps regress relative to ids (edited imports, clock skew).
func (db *DB) MessageStubs() ([]Stub, error) {
	rows, err := db.Query(`SELECT id, date FROM messages ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stubs []Stub
	for rows.Next() {
		var s Stub
		if err := rows.Scan(&s.ID, &s.Date); err != nil {
			return nil, err
		}
		stubs = append(stubs, s)
	}
	return stubs, rows.Err()
}

// inChunk keeps IN (...) lists under SQLite's bound-variable ceiling.
const inChunk = 500

// MessagesByID loads the given messages with their users and media,
// returned in the order the ids were passed. Missing ids are skipped.
func (db *DB) MessagesByID(ids []int64) ([]*Message, error) {
	byID := make(map[int64]*Message, len(ids))
	for start := 0; start < len(ids); start += inChunk {
		end := start + inChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := db.Query(
			`SELECT`+joinedMessageColumns+joinedMessageFrom+
				` WHERE m.id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			m, err := scanJoinedMessage(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			byID[m.ID] = m
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// LastMessages returns the most recent n messages in descending id order,
// with users and media joined.
func (db *DB) LastMessages(n int) ([]*Message, error) {
	if n <= 0 {
		return nil, fmt.Errorf("last messages: n must be positive, got %d", n)
	}
	rows, err := db.Query(
		`SELECT`+joinedMessageColumns+joinedMessageFrom+
			` ORDER BY m.id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*Message
	for rows.Next() {
		m, err := scanJoinedMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// nullableID maps the zero id to NULL so foreign keys and "absent"
// semantics hold.
func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
