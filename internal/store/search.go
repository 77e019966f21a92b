package store

import "fmt"

// SearchMessages performs a full-text search on message contents.
func (db *DB) SearchMessages(query string, limit int) ([]SearchResult, error) {
	if !db.fts {
		return nil, fmt.Errorf("full-text search requires a binary built with the sqlite_fts5 tag")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`
		SELECT`+joinedMessageColumns+`,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		LEFT JOIN users u ON u.id = m.user_id
		LEFT JOIN media md ON md.id = m.media_id
		WHERE messages_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var u User
		var md Media
		var tags string
		if err := rows.Scan(
			&r.Message.ID, &r.Message.Type, &r.Message.Date, &r.Message.EditDate, &r.Message.Content,
			&r.Message.ReplyTo, &r.Message.UserID, &r.Message.MediaID,
			&u.Username, &u.FirstName, &u.LastName, &tags, &u.Avatar,
			&md.Type, &md.URL, &md.Title, &md.Description, &md.Thumb,
			&r.Snippet,
		); err != nil {
			return nil, err
		}
		if r.Message.UserID != 0 {
			u.ID = r.Message.UserID
			if u.Tags, err = decodeTags(tags); err != nil {
				return nil, err
			}
			r.Message.User = &u
		}
		if r.Message.MediaID != 0 {
			md.ID = r.Message.MediaID
			r.Message.Media = &md
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
