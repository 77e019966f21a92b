package build

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/tgarc/tgarc/internal/store"
)

// PageModel is what one rendered page hands to the template.
type PageModel struct {
	SiteName        string
	Description     string
	MetaDescription string
	Title           string
	SiteURL         string
	Group           string

	Month     MonthView
	PageNum   int
	PageCount int
	File      string
	PrevFile  string
	NextFile  string

	Messages []MessageView
	Nav      []NavMonth
	Days     []store.DayCount

	RSS         bool
	GeneratedAt time.Time
}

// MonthView labels the page's time bucket.
type MonthView struct {
	Slug  string
	Label string
	Count int
}

// NavMonth is one entry of the cross-page month navigation.
type NavMonth struct {
	Slug   string
	Label  string
	File   string
	Count  int
	Active bool
}

// MessageView is one message resolved for rendering: author, reply link,
// media reference and content are all final.
type MessageView struct {
	ID        int64
	Anchor    string
	DayAnchor string
	Type      string
	Date      time.Time
	DateStr   string
	TimeStr   string
	Edited    bool
	Content   template.HTML
	Author    string
	AuthorURL string
	Avatar    string
	Tags      []string
	Reply     *ReplyView
	Media     *MediaView
	Poll      *PollView
}

// ReplyView points at a reply target. An empty URL means the target is
// not archived and the reference renders as plain text.
type ReplyView struct {
	ID      int64
	URL     string
	Excerpt string
}

// MediaView references a cached attachment. An empty URL means the file
// was skipped or failed and only the title renders.
type MediaView struct {
	Kind  string
	URL   string
	Thumb string
	Title string
}

// PollView carries a poll's stored tallies.
type PollView struct {
	Question string
	Total    int
	Options  []store.PollOption
}

const excerptLen = 80

// excerpt shortens message content for reply references and feed titles.
func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= excerptLen {
		return s
	}
	return string(runes[:excerptLen]) + "…"
}

// displayName picks what to show for a sender, preferring the username
// unless the full name is configured on.
func displayName(u *store.User, showFullname bool) string {
	if u == nil {
		return ""
	}
	full := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if showFullname && full != "" {
		return full
	}
	if u.Username != "" {
		return u.Username
	}
	if full != "" {
		return full
	}
	return fmt.Sprintf("user %d", u.ID)
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

// nl2br escapes content and turns newlines into break tags, collapsing
// runs of three or more blank lines.
func nl2br(s string) template.HTML {
	s = template.HTMLEscapeString(s)
	s = multiNewline.ReplaceAllString(s, "\n\n")
	s = strings.ReplaceAll(s, "\n", "<br />\n")
	return template.HTML(s)
}

// safeRelPath reports whether a stored file reference is safe to emit as
// a relative link. Stored names are derived from numeric ids, so anything
// path-structured means tampered data and is dropped rather than linked.
func safeRelPath(p string) bool {
	return p != "" && !strings.HasPrefix(p, "/") && !strings.Contains(p, "..") && !strings.Contains(p, "\\")
}
