// Package sync drives incremental fetching of group history into the
// store. Each fetched page commits as one transaction before the resume
// cursor moves past it, so an interrupted run replays at most one page.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tgarc/tgarc/internal/bus"
	"github.com/tgarc/tgarc/internal/config"
	"github.com/tgarc/tgarc/internal/media"
	"github.com/tgarc/tgarc/internal/store"
	"github.com/tgarc/tgarc/internal/telegram"
)

// maxRateLimitWait caps the wait a rate-limit signal can impose. The
// value comes from the server, so it is bounded rather than trusted.
const maxRateLimitWait = time.Hour

// mediaConcurrency bounds parallel downloads within one page.
const mediaConcurrency = 4

// Options select what one run fetches.
type Options struct {
	// FromID re-syncs from this message id (inclusive) instead of the
	// stored cursor.
	FromID int64
	// IDs fetches only these messages, e.g. to capture edits. The
	// cursor is left untouched in this mode.
	IDs []int64
	// Limit caps messages fetched this run. Zero falls back to the
	// configured fetch.limit.
	Limit int
}

// Result summarizes a completed run.
type Result struct {
	Pages    int
	Messages int
	Skipped  int
	LastID   int64
}

// Engine syncs group history from a telegram.Client into the store.
type Engine struct {
	db     *store.DB
	client telegram.Client
	media  *media.Manager
	bus    *bus.Bus
	cfg    *config.Config
	logger *zap.Logger
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, client telegram.Client, mgr *media.Manager, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, client: client, media: mgr, bus: b, cfg: cfg, logger: logger}
}

// Run executes one sync run to completion. The run either finishes with
// every fetched page committed, or aborts with the cursor still pointing
// at the last committed page.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.FromID > 0 && len(opts.IDs) > 0 {
		return nil, fmt.Errorf("sync: pass either FromID or IDs, not both")
	}

	m := NewMachine(e.bus)
	res := &Result{}

	if e.cfg.Fetch.Takeout {
		if err := e.client.BeginTakeout(ctx); err != nil {
			_ = m.Transition(Aborted)
			return res, fmt.Errorf("begin takeout: %w", err)
		}
	}

	err := e.run(ctx, m, opts, res)

	if e.cfg.Fetch.Takeout {
		// The takeout session must be released on every exit path,
		// success or not.
		if endErr := e.client.EndTakeout(context.WithoutCancel(ctx), err == nil); endErr != nil {
			e.logger.Warn("ending takeout failed", zap.Error(endErr))
		}
	}

	if err != nil {
		_ = m.Transition(Aborted)
		return res, err
	}
	_ = m.Transition(Done)
	e.bus.Emit(bus.KindSyncDone, bus.SyncSummary{Total: res.Messages, LastID: res.LastID})
	e.logger.Info("sync done",
		zap.Int("pages", res.Pages),
		zap.Int("messages", res.Messages),
		zap.Int("skipped", res.Skipped),
		zap.Int64("last_id", res.LastID))
	return res, nil
}

func (e *Engine) run(ctx context.Context, m *Machine, opts Options, res *Result) error {
	if len(opts.IDs) > 0 {
		return e.runExplicit(ctx, m, opts.IDs, res)
	}

	offset, err := e.startOffset(opts)
	if err != nil {
		return err
	}
	limit := e.cfg.Fetch.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	for {
		pageSize := e.cfg.Fetch.BatchSize
		if limit > 0 {
			remaining := limit - res.Messages - res.Skipped
			if remaining <= 0 {
				break
			}
			if remaining < pageSize {
				pageSize = remaining
			}
		}

		if err := m.Transition(Fetching); err != nil {
			return err
		}
		batch, err := e.fetchPage(ctx, m, offset, pageSize)
		if err != nil {
			return err
		}
		if len(batch.Messages) == 0 {
			break
		}

		if err := e.ingestPage(ctx, m, batch, true, res); err != nil {
			return err
		}
		offset = batch.Messages[len(batch.Messages)-1].ID

		if len(batch.Messages) < pageSize {
			break
		}
		if wait := e.cfg.Fetch.WaitBetweenPages(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// runExplicit re-fetches specific messages. The cursor never moves: the
// requested ids may lie behind it, and re-syncing them must not imply
// anything about newer history.
func (e *Engine) runExplicit(ctx context.Context, m *Machine, ids []int64, res *Result) error {
	if err := m.Transition(Fetching); err != nil {
		return err
	}
	batch, err := e.withRateLimitRetry(ctx, m, func() (*telegram.Batch, error) {
		return e.client.Lookup(ctx, ids)
	})
	if err != nil {
		return err
	}
	if len(batch.Messages) == 0 {
		return nil
	}
	return e.ingestPage(ctx, m, batch, false, res)
}

// ingestPage normalizes, downloads media for, and commits one page.
func (e *Engine) ingestPage(ctx context.Context, m *Machine, batch *telegram.Batch, advanceCursor bool, res *Result) error {
	if err := m.Transition(Normalizing); err != nil {
		return err
	}
	n := e.normalize(batch)
	e.downloadAll(ctx, n)

	if err := m.Transition(Persisting); err != nil {
		return err
	}
	if advanceCursor {
		n.batch.Cursor = batch.Messages[len(batch.Messages)-1].ID
	}
	if err := e.db.ApplyBatch(n.batch); err != nil {
		return fmt.Errorf("commit page: %w", err)
	}

	res.Pages++
	res.Messages += len(n.batch.Messages)
	res.Skipped += n.skipped
	if last := n.batch.Cursor; last > res.LastID {
		res.LastID = last
	}
	e.bus.Emit(bus.KindSyncPage, bus.PageProgress{
		Fetched: len(batch.Messages),
		Saved:   len(n.batch.Messages),
		LastID:  n.batch.Cursor,
		Total:   res.Messages,
	})
	return nil
}

func (e *Engine) startOffset(opts Options) (int64, error) {
	if opts.FromID > 0 {
		return opts.FromID - 1, nil
	}
	id, ok, err := e.db.LastMessageID()
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return id, nil
}

// fetchPage fetches one page, retrying the identical request after
// server-signaled waits. Any other error aborts the run.
func (e *Engine) fetchPage(ctx context.Context, m *Machine, offset int64, limit int) (*telegram.Batch, error) {
	return e.withRateLimitRetry(ctx, m, func() (*telegram.Batch, error) {
		return e.client.History(ctx, offset, limit)
	})
}

func (e *Engine) withRateLimitRetry(ctx context.Context, m *Machine, fetch func() (*telegram.Batch, error)) (*telegram.Batch, error) {
	for {
		batch, err := fetch()
		if err == nil {
			return batch, nil
		}
		var rl *telegram.RateLimitedError
		if !errors.As(err, &rl) {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		if rl.RetryAfter > maxRateLimitWait {
			return nil, fmt.Errorf("rate limit wait %s exceeds ceiling %s, refusing to stall", rl.RetryAfter, maxRateLimitWait)
		}

		if err := m.Transition(RateLimited); err != nil {
			return nil, err
		}
		e.bus.Emit(bus.KindSyncRateLimited, bus.RateLimit{Wait: rl.RetryAfter})
		e.logger.Warn("rate limited", zap.Duration("wait", rl.RetryAfter))
		select {
		case <-time.After(rl.RetryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err := m.Transition(Fetching); err != nil {
			return nil, err
		}
	}
}

// normalized is one page mapped to store entities, plus the remote
// references its downloads need.
type normalized struct {
	batch   *store.Batch
	files   map[int64]*telegram.File // media id -> remote file
	avatars []int64                  // user ids to fetch avatars for
	skipped int
}

// normalize maps raw records to store entities. Malformed records are
// logged and skipped; one bad record must not block the rest of the
// history.
func (e *Engine) normalize(batch *telegram.Batch) *normalized {
	n := &normalized{
		batch: &store.Batch{},
		files: make(map[int64]*telegram.File),
	}

	for id, u := range batch.Users {
		if id == 0 {
			continue
		}
		n.batch.Users = append(n.batch.Users, store.User{
			ID:        u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Tags:      u.Tags,
		})
		if u.HasAvatar {
			n.avatars = append(n.avatars, u.ID)
		}
	}

	for i := range batch.Messages {
		msg := &batch.Messages[i]
		if msg.ID <= 0 || msg.Date.IsZero() {
			e.logger.Warn("skipping malformed record",
				zap.Int64("id", msg.ID), zap.String("kind", msg.Kind))
			n.skipped++
			continue
		}

		sm := store.Message{
			ID:      msg.ID,
			Type:    store.MessageTypeMessage,
			Date:    msg.Date.Unix(),
			Content: msg.Text,
			ReplyTo: msg.ReplyTo,
			UserID:  msg.SenderID,
		}
		if msg.Kind == telegram.KindService {
			sm.Type = store.MessageTypeService
		}
		if !msg.EditDate.IsZero() {
			sm.EditDate = msg.EditDate.Unix()
		}

		switch {
		case msg.Poll != nil:
			md, err := pollMedia(msg)
			if err != nil {
				e.logger.Warn("skipping unencodable poll", zap.Int64("id", msg.ID), zap.Error(err))
			} else {
				n.batch.Media = append(n.batch.Media, *md)
				sm.MediaID = md.ID
			}
		case msg.File != nil && msg.File.ID != 0:
			f := msg.File
			n.batch.Media = append(n.batch.Media, store.Media{
				ID:    f.ID,
				Type:  f.Kind,
				Title: f.Name,
			})
			n.files[f.ID] = f
			sm.MediaID = f.ID
		}

		n.batch.Messages = append(n.batch.Messages, sm)
	}
	return n
}

// pollMedia stores a poll's tallies as a media row, so the builder can
// render counts without recomputing anything.
func pollMedia(msg *telegram.Message) (*store.Media, error) {
	results := store.PollResults{Total: msg.Poll.TotalVoters}
	for _, a := range msg.Poll.Answers {
		results.Options = append(results.Options, store.PollOption{
			Label:  a.Text,
			Count:  a.Votes,
			Chosen: a.Chosen,
		})
	}
	desc, err := store.EncodePollResults(&results)
	if err != nil {
		return nil, err
	}
	return &store.Media{
		ID:          msg.ID,
		Type:        store.MediaTypePoll,
		Title:       msg.Poll.Question,
		Description: desc,
	}, nil
}

// downloadAll fetches the page's attachments and avatars with bounded
// concurrency. Every download settles before the page commits; a failed
// item only loses its file, the owning message still persists.
func (e *Engine) downloadAll(ctx context.Context, n *normalized) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mediaConcurrency)

	for i := range n.batch.Media {
		md := &n.batch.Media[i]
		f, ok := n.files[md.ID]
		if !ok {
			continue
		}
		g.Go(func() error {
			local, err := e.media.Ensure(gctx, f)
			switch {
			case err == nil:
				md.URL = local.Name
				md.Thumb = local.Thumb
			case errors.Is(err, media.ErrSkipped):
				e.bus.Emit(bus.KindMediaSkipped, md.ID)
			default:
				e.logger.Warn("media download failed",
					zap.Int64("media", md.ID), zap.Error(err))
			}
			return nil
		})
	}

	for i := range n.batch.Users {
		u := &n.batch.Users[i]
		var wanted bool
		for _, id := range n.avatars {
			if id == u.ID {
				wanted = true
				break
			}
		}
		if !wanted {
			continue
		}
		g.Go(func() error {
			name, err := e.media.EnsureAvatar(gctx, u.ID)
			switch {
			case err == nil:
				u.Avatar = name
			case errors.Is(err, telegram.ErrNoAvatar), errors.Is(err, media.ErrSkipped):
			default:
				e.logger.Warn("avatar download failed",
					zap.Int64("user", u.ID), zap.Error(err))
			}
			return nil
		})
	}

	// Workers report failures through the log, never as errors.
	_ = g.Wait()
}
