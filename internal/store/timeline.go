package store

import (
	"fmt"
	"time"
)

// MonthBucket summarizes one calendar month of archived messages.
type MonthBucket struct {
	Year  int
	Month time.Month
	Count int
}

// Slug returns the month's stable page identifier, e.g. "2024-01".
func (b MonthBucket) Slug() string {
	return fmt.Sprintf("%04d-%02d", b.Year, int(b.Month))
}

// Label returns the month's human-readable form, e.g. "January 2024".
func (b MonthBucket) Label() string {
	return fmt.Sprintf("%s %d", b.Month, b.Year)
}

// Timeline returns one bucket per calendar month that has messages, in
// chronological order. Months are computed in loc so pagination follows
// the archive's configured timezone. Rows are streamed and folded as
// they arrive, so memory stays proportional to the number of months.
func (db *DB) Timeline(loc *time.Location) ([]MonthBucket, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := db.Query(`SELECT date FROM messages ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var buckets []MonthBucket
	for rows.Next() {
		var date int64
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		t := time.Unix(date, 0).In(loc)
		y, m := t.Year(), t.Month()
		if n := len(buckets); n > 0 && buckets[n-1].Year == y && buckets[n-1].Month == m {
			buckets[n-1].Count++
			continue
		}
		buckets = append(buckets, MonthBucket{Year: y, Month: m, Count: 1})
	}
	return buckets, rows.Err()
}

// DayCount is the number of messages on one calendar day.
type DayCount struct {
	Day   int
	Count int
}

// DayCounts returns per-day message counts for one calendar month,
// ascending by day. Used for the in-page day index.
func (db *DB) DayCounts(year int, month time.Month, loc *time.Location) ([]DayCount, error) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)

	rows, err := db.Query(
		`SELECT date FROM messages WHERE date >= ? AND date < ? ORDER BY date ASC`,
		start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var days []DayCount
	for rows.Next() {
		var date int64
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		d := time.Unix(date, 0).In(loc).Day()
		if n := len(days); n > 0 && days[n-1].Day == d {
			days[n-1].Count++
			continue
		}
		days = append(days, DayCount{Day: d, Count: 1})
	}
	return days, rows.Err()
}

// MessagesInRange returns messages whose timestamps fall in [start, end),
// with users and media joined. Ascending order serves chronological
// rendering; descending serves most-recent-first reads.
func (db *DB) MessagesInRange(start, end int64, ascending bool, limit int) ([]*Message, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	q := `SELECT` + joinedMessageColumns + joinedMessageFrom +
		` WHERE m.date >= ? AND m.date < ? ORDER BY m.date ` + order + `, m.id ` + order
	args := []any{start, end}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(q, args...)
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
