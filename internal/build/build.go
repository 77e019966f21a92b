// Package build renders the archived history into a static site: one
// paginated HTML tree bucketed by month, plus an RSS feed. Building is
// read-only against the store and regenerates the whole tree each run.
package build

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tgarc/tgarc/internal/bus"
	"github.com/tgarc/tgarc/internal/config"
	"github.com/tgarc/tgarc/internal/scaffold"
	"github.com/tgarc/tgarc/internal/store"
)

// Options control one build run.
type Options struct {
	// Symlink links the media and static directories into the site
	// instead of copying them.
	Symlink bool
}

// Result summarizes a completed build.
type Result struct {
	Pages    int
	Months   int
	Messages int
	Feed     bool
}

// Builder renders the store into an archive's publish directory.
type Builder struct {
	db     *store.DB
	cfg    *config.Config
	dir    string
	bus    *bus.Bus
	logger *zap.Logger
	tmpl   *template.Template
	loc    *time.Location
}

// NewBuilder creates a builder for the archive rooted at dir. The page
// template loads from the configured path, falling back to the bundled
// one when the archive has none.
func NewBuilder(db *store.DB, cfg *config.Config, dir string, b *bus.Bus, logger *zap.Logger) (*Builder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.Local
	if cfg.Site.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Site.Timezone)
		if err != nil {
			return nil, fmt.Errorf("site.timezone: %w", err)
		}
	}

	src := scaffold.TemplateHTML()
	tmplPath := filepath.Join(dir, cfg.Site.Template)
	if data, err := os.ReadFile(tmplPath); err == nil {
		src = data
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read template: %w", err)
	}
	tmpl, err := template.New("page").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", cfg.Site.Template, err)
	}

	return &Builder{db: db, cfg: cfg, dir: dir, bus: b, logger: logger, tmpl: tmpl, loc: loc}, nil
}

// page is one output file, determined before anything renders.
type page struct {
	file      string
	month     store.MonthBucket
	num       int
	pageCount int
	ids       []int64
}

// Build regenerates the site. Pages render into a staging directory that
// atomically replaces the previous tree, so an interrupted build never
// leaves the published site half-written.
func (b *Builder) Build(opts Options) (*Result, error) {
	stubs, err := b.db.MessageStubs()
	if err != nil {
		return nil, fmt.Errorf("load message index: %w", err)
	}

	// Pass 1: compute every page and the global id -> page mapping, so
	// reply links across pages resolve before any page is written.
	pages := b.paginate(stubs)
	index := make(map[int64]string, len(stubs))
	for _, p := range pages {
		for _, id := range p.ids {
			index[id] = p.file
		}
	}
	nav := b.navigation(pages)

	staging := filepath.Join(b.dir, b.cfg.Site.PublishDir+".staging-"+shortID())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	// Pass 2: render.
	res := &Result{Messages: len(stubs)}
	for _, p := range pages {
		if err := b.renderPage(staging, p, index, nav); err != nil {
			return nil, err
		}
		res.Pages++
		b.bus.Emit(bus.KindBuildPage, bus.PageWritten{File: p.file, Messages: len(p.ids)})
	}
	res.Months = len(nav)

	if len(pages) > 0 {
		newest := pages[len(pages)-1].file
		if err := copyFile(filepath.Join(staging, newest), filepath.Join(staging, "index.html")); err != nil {
			return nil, fmt.Errorf("write index.html: %w", err)
		}
	}

	if b.cfg.Site.RSS {
		if err := b.writeFeed(staging, index); err != nil {
			return nil, err
		}
		res.Feed = true
	}

	if err := b.copyAssets(staging, opts.Symlink); err != nil {
		return nil, err
	}

	if err := b.swap(staging); err != nil {
		return nil, err
	}
	committed = true

	b.bus.Emit(bus.KindBuildDone, bus.BuildSummary{Pages: res.Pages, Feed: res.Feed})
	b.logger.Info("site built",
		zap.Int("pages", res.Pages),
		zap.Int("months", res.Months),
		zap.Int("messages", res.Messages))
	return res, nil
}

// paginate buckets message stubs by calendar month and chunks each
// bucket into per-page id lists. Stubs arrive in date order, so every
// month is one contiguous run and each month's filename is produced
// exactly once.
func (b *Builder) paginate(stubs []store.Stub) []page {
	perPage := b.cfg.Site.PerPage

	var pages []page
	var monthIDs []int64
	var current store.MonthBucket

	flush := func() {
		if len(monthIDs) == 0 {
			return
		}
		current.Count = len(monthIDs)
		pageCount := (len(monthIDs) + perPage - 1) / perPage
		for num := 1; num <= pageCount; num++ {
			lo := (num - 1) * perPage
			hi := min(lo+perPage, len(monthIDs))
			pages = append(pages, page{
				file:      makeFilename(current.Slug(), num),
				month:     current,
				num:       num,
				pageCount: pageCount,
				ids:       monthIDs[lo:hi],
			})
		}
		monthIDs = nil
	}

	for _, s := range stubs {
		t := time.Unix(s.Date, 0).In(b.loc)
		bucket := store.MonthBucket{Year: t.Year(), Month: t.Month()}
		if bucket.Year != current.Year || bucket.Month != current.Month {
			flush()
			current = bucket
		}
		monthIDs = append(monthIDs, s.ID)
	}
	flush()
	return pages
}

func (b *Builder) navigation(pages []page) []NavMonth {
	var nav []NavMonth
	for _, p := range pages {
		if p.num != 1 {
			continue
		}
		nav = append(nav, NavMonth{
			Slug:  p.month.Slug(),
			Label: p.month.Label(),
			File:  p.file,
			Count: p.month.Count,
		})
	}
	return nav
}

func (b *Builder) renderPage(staging string, p page, index map[int64]string, nav []NavMonth) error {
	msgs, err := b.db.MessagesByID(p.ids)
	if err != nil {
		return fmt.Errorf("load page %s: %w", p.file, err)
	}

	days, err := b.db.DayCounts(p.month.Year, p.month.Month, b.loc)
	if err != nil {
		return fmt.Errorf("day counts for %s: %w", p.month.Slug(), err)
	}

	views := make([]MessageView, 0, len(msgs))
	lastDay := 0
	for _, m := range msgs {
		v := b.messageView(m, index)
		if d := v.Date.Day(); d != lastDay {
			v.DayAnchor = fmt.Sprintf("d%s-%d", p.month.Slug(), d)
			lastDay = d
		}
		views = append(views, v)
	}

	pageNav := make([]NavMonth, len(nav))
	copy(pageNav, nav)
	for i := range pageNav {
		pageNav[i].Active = pageNav[i].Slug == p.month.Slug()
	}

	model := PageModel{
		SiteName:        b.expand(b.cfg.Site.Name, p.month),
		Description:     b.expand(b.cfg.Site.Description, p.month),
		MetaDescription: b.expand(b.cfg.Site.MetaDescription, p.month),
		Title:           b.expand(b.cfg.Site.PageTitle, p.month),
		SiteURL:         b.cfg.Site.URL,
		Group:           b.cfg.Group,
		Month:           MonthView{Slug: p.month.Slug(), Label: p.month.Label(), Count: p.month.Count},
		PageNum:         p.num,
		PageCount:       p.pageCount,
		File:            p.file,
		Messages:        views,
		Nav:             pageNav,
		Days:            days,
		RSS:             b.cfg.Site.RSS,
		GeneratedAt:     time.Now().In(b.loc),
	}
	if p.num > 1 {
		model.PrevFile = makeFilename(p.month.Slug(), p.num-1)
	}
	if p.num < p.pageCount {
		model.NextFile = makeFilename(p.month.Slug(), p.num+1)
	}

	f, err := os.OpenFile(filepath.Join(staging, p.file), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	execErr := b.tmpl.Execute(f, &model)
	if closeErr := f.Close(); execErr == nil {
		execErr = closeErr
	}
	if execErr != nil {
		return fmt.Errorf("render %s: %w", p.file, execErr)
	}
	return nil
}

func (b *Builder) messageView(m *store.Message, index map[int64]string) MessageView {
	t := time.Unix(m.Date, 0).In(b.loc)
	v := MessageView{
		ID:      m.ID,
		Anchor:  anchor(m.ID),
		Type:    m.Type,
		Date:    t,
		DateStr: t.Format("2006-01-02"),
		TimeStr: t.Format("15:04"),
		Edited:  m.EditDate != 0,
		Content: nl2br(m.Content),
	}

	if m.User != nil {
		v.Author = displayName(m.User, b.cfg.Site.ShowSenderFullname)
		v.Tags = m.User.Tags
		if safeRelPath(m.User.Avatar) {
			v.Avatar = m.User.Avatar
		}
		if m.User.Username != "" && b.cfg.Site.TelegramURL != "" {
			v.AuthorURL = strings.ReplaceAll(b.cfg.Site.TelegramURL, "{id}", m.User.Username)
		}
	}

	if m.ReplyTo != 0 {
		v.Reply = b.replyView(m.ReplyTo, index)
	}

	if m.Media != nil {
		if m.Media.Type == store.MediaTypePoll {
			v.Poll = b.pollView(m.Media)
		} else {
			mv := &MediaView{Kind: m.Media.Type, Title: m.Media.Title}
			if safeRelPath(m.Media.URL) {
				mv.URL = "media/" + m.Media.URL
			}
			if safeRelPath(m.Media.Thumb) {
				mv.Thumb = "media/" + m.Media.Thumb
			}
			v.Media = mv
		}
	}
	return v
}

// replyView resolves a reply target through the precomputed index. An
// unarchived target is a normal condition and renders unlinked.
func (b *Builder) replyView(targetID int64, index map[int64]string) *ReplyView {
	r := &ReplyView{ID: targetID}
	file, ok := index[targetID]
	if !ok {
		return r
	}
	r.URL = file + "#" + anchor(targetID)
	target, err := b.db.GetMessage(targetID)
	if err != nil {
		b.logger.Warn("loading reply target failed", zap.Int64("id", targetID), zap.Error(err))
		return r
	}
	if target != nil {
		r.Excerpt = excerpt(target.Content)
	}
	return r
}

func (b *Builder) pollView(m *store.Media) *PollView {
	results, err := store.DecodePollResults(m.Description)
	if err != nil {
		b.logger.Warn("undecodable poll tallies", zap.Int64("media", m.ID), zap.Error(err))
		return &PollView{Question: m.Title}
	}
	return &PollView{Question: m.Title, Total: results.Total, Options: results.Options}
}

// expand fills the {group} and {date} placeholders of configured site
// strings.
func (b *Builder) expand(s string, month store.MonthBucket) string {
	s = strings.ReplaceAll(s, "{group}", b.cfg.Group)
	s = strings.ReplaceAll(s, "{date}", month.Label())
	return s
}

// copyAssets brings the static and media directories into the staging
// tree, linked or copied.
func (b *Builder) copyAssets(staging string, symlink bool) error {
	assets := []struct{ src, name string }{
		{filepath.Join(b.dir, b.cfg.Site.StaticDir), "static"},
		{filepath.Join(b.dir, b.cfg.Media.Dir), "media"},
	}
	for _, a := range assets {
		if _, err := os.Stat(a.src); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(staging, a.name)
		if symlink {
			abs, err := filepath.Abs(a.src)
			if err != nil {
				return err
			}
			if err := os.Symlink(abs, dst); err != nil {
				return fmt.Errorf("link %s: %w", a.name, err)
			}
			continue
		}
		if err := copyTree(a.src, dst); err != nil {
			return fmt.Errorf("copy %s: %w", a.name, err)
		}
	}
	return nil
}

// swap atomically replaces the publish directory with the staging tree.
func (b *Builder) swap(staging string) error {
	publish := filepath.Join(b.dir, b.cfg.Site.PublishDir)
	old := publish + ".old-" + shortID()

	replaced := false
	if _, err := os.Stat(publish); err == nil {
		if err := os.Rename(publish, old); err != nil {
			return fmt.Errorf("move previous site away: %w", err)
		}
		replaced = true
	}
	if err := os.Rename(staging, publish); err != nil {
		if replaced {
			_ = os.Rename(old, publish)
		}
		return fmt.Errorf("publish site: %w", err)
	}
	if replaced {
		_ = os.RemoveAll(old)
	}
	return nil
}

func makeFilename(slug string, num int) string {
	if num > 1 {
		return fmt.Sprintf("%s_%d.html", slug, num)
	}
	return slug + ".html"
}

func anchor(id int64) string {
	return fmt.Sprintf("m%d", id)
}

func shortID() string {
	return uuid.NewString()[:8]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}
