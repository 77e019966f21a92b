package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"github.com/tgarc/tgarc/internal/store"
)

// feedFile is the syndication feed's name inside the site tree.
const feedFile = "index.rss"

// writeFeed renders the most recent messages as an RSS feed. Permalinks
// come from the same id -> page index the HTML pages use, so feed links
// stay stable across rebuilds.
func (b *Builder) writeFeed(staging string, index map[int64]string) error {
	msgs, err := b.db.LastMessages(b.cfg.Site.RSSEntries)
	if err != nil {
		return fmt.Errorf("load feed entries: %w", err)
	}

	var latest store.MonthBucket
	if len(msgs) > 0 {
		t := time.Unix(msgs[0].Date, 0).In(b.loc)
		latest = store.MonthBucket{Year: t.Year(), Month: t.Month()}
	}

	feed := &feeds.Feed{
		Title:       b.expand(b.cfg.Site.Name, latest),
		Link:        &feeds.Link{Href: b.cfg.Site.URL},
		Description: b.expand(b.cfg.Site.Description, latest),
		Created:     time.Now(),
	}

	base := strings.TrimRight(b.cfg.Site.URL, "/")
	for _, m := range msgs {
		link := base + "/" + index[m.ID] + "#" + anchor(m.ID)
		title := excerpt(m.Content)
		if title == "" {
			title = fmt.Sprintf("#%d", m.ID)
		}
		item := &feeds.Item{
			Id:          link,
			Title:       title,
			Link:        &feeds.Link{Href: link},
			Description: m.Content,
			Created:     time.Unix(m.Date, 0).In(b.loc),
		}
		if m.User != nil {
			item.Author = &feeds.Author{Name: displayName(m.User, b.cfg.Site.ShowSenderFullname)}
		}
		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		return fmt.Errorf("render feed: %w", err)
	}
	return os.WriteFile(filepath.Join(staging, feedFile), []byte(rss), 0644)
}
