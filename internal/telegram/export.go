package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExportClient serves group history from a Telegram Desktop
// "Export chat history" directory: a result.json plus the media folders
// it references. It never rate-limits and has no takeout mode.
type ExportClient struct {
	root     string
	group    Group
	messages []Message
	users    map[int64]User
	byID     map[int64]int
	logger   *zap.Logger
}

var _ Client = (*ExportClient)(nil)

// exportMessage mirrors one entry of result.json's messages array. Text
// is raw because exports encode it as either a string or an entity list.
type exportMessage struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Date       string          `json:"date"`
	DateUnix   string          `json:"date_unixtime"`
	Edited     string          `json:"edited"`
	EditedUnix string          `json:"edited_unixtime"`
	From       string          `json:"from"`
	FromID     string          `json:"from_id"`
	Actor      string          `json:"actor"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	Text       json.RawMessage `json:"text"`
	ReplyTo    int64           `json:"reply_to_message_id"`
	Photo      string          `json:"photo"`
	File       string          `json:"file"`
	FileName   string          `json:"file_name"`
	FileSize   int64           `json:"file_size"`
	Thumbnail  string          `json:"thumbnail"`
	MimeType   string          `json:"mime_type"`
	MediaType  string          `json:"media_type"`
	Poll       *exportPoll     `json:"poll"`
}

type exportPoll struct {
	Question    string             `json:"question"`
	Closed      bool               `json:"closed"`
	TotalVoters int                `json:"total_voters"`
	Answers     []exportPollAnswer `json:"answers"`
}

type exportPollAnswer struct {
	Text   string `json:"text"`
	Voters int    `json:"voters"`
	Chosen bool   `json:"chosen"`
}

// NewExportClient loads an export rooted at path, which may be the export
// directory or the result.json itself. The whole message list is indexed
// up front; media stays on disk until opened.
func NewExportClient(path string, logger *zap.Logger) (*ExportClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	root := path
	jsonPath := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	if info.IsDir() {
		jsonPath = filepath.Join(path, "result.json")
	} else {
		root = filepath.Dir(path)
	}

	f, err := os.Open(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer func() { _ = f.Close() }()

	c := &ExportClient{
		root:   root,
		users:  make(map[int64]User),
		byID:   make(map[int64]int),
		logger: logger,
	}
	if err := c.load(f); err != nil {
		return nil, fmt.Errorf("parse export %s: %w", jsonPath, err)
	}
	return c, nil
}

// load streams the top-level export object so large histories never sit
// in memory twice.
func (c *ExportClient) load(r io.Reader) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected top-level object, got %v", tok)
	}

	skipped := 0
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		switch key {
		case "name":
			if err := dec.Decode(&c.group.Title); err != nil {
				return fmt.Errorf("name: %w", err)
			}
		case "id":
			if err := dec.Decode(&c.group.ID); err != nil {
				return fmt.Errorf("id: %w", err)
			}
		case "messages":
			tok, err := dec.Token()
			if err != nil {
				return err
			}
			if d, ok := tok.(json.Delim); !ok || d != '[' {
				return fmt.Errorf("messages: expected array, got %v", tok)
			}
			for dec.More() {
				var raw json.RawMessage
				if err := dec.Decode(&raw); err != nil {
					return fmt.Errorf("messages[%d]: %w", len(c.messages)+skipped, err)
				}
				if !c.addRecord(raw) {
					skipped++
				}
			}
			if _, err := dec.Token(); err != nil {
				return err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	sort.Slice(c.messages, func(i, j int) bool { return c.messages[i].ID < c.messages[j].ID })
	for i := range c.messages {
		c.byID[c.messages[i].ID] = i
	}

	if skipped > 0 {
		c.logger.Warn("skipped malformed export records", zap.Int("count", skipped))
	}
	c.logger.Info("export loaded",
		zap.String("group", c.group.Title),
		zap.Int("messages", len(c.messages)),
		zap.Int("users", len(c.users)))
	return nil
}

func (c *ExportClient) addRecord(raw json.RawMessage) bool {
	var em exportMessage
	if err := json.Unmarshal(raw, &em); err != nil {
		c.logger.Debug("unreadable export record", zap.Error(err))
		return false
	}
	m, ok := c.convert(&em)
	if !ok {
		return false
	}
	c.messages = append(c.messages, *m)
	return true
}

func (c *ExportClient) convert(em *exportMessage) (*Message, bool) {
	if em.ID <= 0 {
		return nil, false
	}
	date, ok := parseExportTime(em.DateUnix, em.Date)
	if !ok {
		return nil, false
	}

	m := Message{ID: em.ID, Date: date, ReplyTo: em.ReplyTo}

	if em.Type == "service" {
		m.Kind = KindService
		m.SenderID = parsePeerID(em.ActorID)
		m.Text = strings.ReplaceAll(em.Action, "_", " ")
		c.noteUser(m.SenderID, em.Actor, em.ActorID)
	} else {
		m.Kind = KindMessage
		m.SenderID = parsePeerID(em.FromID)
		m.Text = flattenText(em.Text)
		c.noteUser(m.SenderID, em.From, em.FromID)
	}

	if em.EditedUnix != "" || em.Edited != "" {
		if t, ok := parseExportTime(em.EditedUnix, em.Edited); ok {
			m.EditDate = t
		}
	}

	switch {
	case exportHasFile(em.Photo):
		m.File = &File{
			ID:    em.ID,
			Kind:  "photo",
			Name:  filepath.Base(em.Photo),
			Size:  em.FileSize,
			Path:  em.Photo,
			Thumb: exportPath(em.Thumbnail),
		}
	case exportHasFile(em.File):
		kind := em.MediaType
		if kind == "" {
			kind = "document"
		}
		name := em.FileName
		if name == "" {
			name = filepath.Base(em.File)
		}
		m.File = &File{
			ID:    em.ID,
			Kind:  kind,
			Name:  name,
			MIME:  em.MimeType,
			Size:  em.FileSize,
			Path:  em.File,
			Thumb: exportPath(em.Thumbnail),
		}
	}

	if em.Poll != nil {
		p := &Poll{
			Question:    em.Poll.Question,
			Closed:      em.Poll.Closed,
			TotalVoters: em.Poll.TotalVoters,
		}
		for _, a := range em.Poll.Answers {
			p.Answers = append(p.Answers, PollAnswer{Text: a.Text, Votes: a.Voters, Chosen: a.Chosen})
		}
		m.Poll = p
	}

	return &m, true
}

func (c *ExportClient) noteUser(id int64, display, peerID string) {
	if id == 0 {
		return
	}
	if _, seen := c.users[id]; seen && display == "" {
		return
	}
	u := User{ID: id, FirstName: display}
	if strings.HasPrefix(peerID, "channel") {
		u.Tags = []string{"channel"}
	}
	c.users[id] = u
}

// Group returns the exported chat's identity.
func (c *ExportClient) Group(ctx context.Context) (*Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := c.group
	return &g, nil
}

// History returns up to limit messages with ids above offsetID.
func (c *ExportClient) History(ctx context.Context, offsetID int64, limit int) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].ID > offsetID
	})
	end := start + limit
	if limit <= 0 || end > len(c.messages) {
		end = len(c.messages)
	}
	return c.batchOf(c.messages[start:end]), nil
}

// Lookup returns the requested messages, skipping unknown ids.
func (c *ExportClient) Lookup(ctx context.Context, ids []int64) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var msgs []Message
	for _, id := range ids {
		if idx, ok := c.byID[id]; ok {
			msgs = append(msgs, c.messages[idx])
		}
	}
	return c.batchOf(msgs), nil
}

func (c *ExportClient) batchOf(msgs []Message) *Batch {
	b := &Batch{
		Messages: append([]Message(nil), msgs...),
		Users:    make(map[int64]User),
	}
	for i := range b.Messages {
		id := b.Messages[i].SenderID
		if u, ok := c.users[id]; ok {
			b.Users[id] = u
		}
	}
	return b
}

// OpenMedia opens an attachment file under the export root.
func (c *ExportClient) OpenMedia(ctx context.Context, f *File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNoMedia
	}
	return c.open(f.Path)
}

// OpenThumb opens an attachment's thumbnail under the export root.
func (c *ExportClient) OpenThumb(ctx context.Context, f *File) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil || f.Thumb == "" {
		return nil, ErrNoMedia
	}
	return c.open(f.Thumb)
}

// OpenAvatar always fails: exports do not carry profile images.
func (c *ExportClient) OpenAvatar(ctx context.Context, userID int64, size int) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoAvatar
}

// BeginTakeout is a no-op: local exports have no bulk mode.
func (c *ExportClient) BeginTakeout(ctx context.Context) error { return nil }

// EndTakeout is a no-op.
func (c *ExportClient) EndTakeout(ctx context.Context, success bool) error { return nil }

// Close is a no-op: everything was read at construction.
func (c *ExportClient) Close() error { return nil }

func (c *ExportClient) open(rel string) (io.ReadCloser, error) {
	if rel == "" {
		return nil, ErrNoMedia
	}
	native := filepath.FromSlash(rel)
	if !filepath.IsLocal(native) {
		return nil, fmt.Errorf("export path %q escapes the export directory", rel)
	}
	return os.Open(filepath.Join(c.root, native))
}

// exportHasFile distinguishes real file references from the placeholder
// text exports write when media was not included.
func exportHasFile(p string) bool {
	return p != "" && !strings.HasPrefix(p, "(")
}

func exportPath(p string) string {
	if !exportHasFile(p) {
		return ""
	}
	return p
}

// parseExportTime prefers the unix field newer exports carry and falls
// back to the local-time ISO string of older ones.
func parseExportTime(unix, iso string) (time.Time, bool) {
	if unix != "" {
		if secs, err := strconv.ParseInt(unix, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC(), true
		}
	}
	if iso != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", iso); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parsePeerID extracts the numeric id from export peer ids such as
// "user12345678" or "channel987".
func parsePeerID(s string) int64 {
	i := 0
	for i < len(s) && (s[i] < '0' || s[i] > '9') {
		i++
	}
	id, _ := strconv.ParseInt(s[i:], 10, 64)
	return id
}

// flattenText joins the plain and entity parts of an export text value.
func flattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		var ps string
		if err := json.Unmarshal(p, &ps); err == nil {
			b.WriteString(ps)
			continue
		}
		var ent struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p, &ent); err == nil {
			b.WriteString(ent.Text)
		}
	}
	return b.String()
}
