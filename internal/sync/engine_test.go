package sync

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgarc/tgarc/internal/config"
	"github.com/tgarc/tgarc/internal/media"
	"github.com/tgarc/tgarc/internal/store"
	"github.com/tgarc/tgarc/internal/telegram"
)

// fakeClient serves scripted history pages and records every call, so
// tests can assert offsets, retries and takeout finalization.
type fakeClient struct {
	mu       gosync.Mutex
	messages []telegram.Message
	users    map[int64]telegram.User

	historyOffsets []int64
	historyErrs    []error // error to return per History call, nil = serve
	historyCalls   int

	mediaErr     map[int64]error
	mediaOpens   int
	takeoutBegun int
	takeoutEnded []bool
}

var _ telegram.Client = (*fakeClient)(nil)

func (c *fakeClient) Group(ctx context.Context) (*telegram.Group, error) {
	return &telegram.Group{ID: 1, Title: "test group"}, nil
}

func (c *fakeClient) History(ctx context.Context, offsetID int64, limit int) (*telegram.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call := c.historyCalls
	c.historyCalls++
	c.historyOffsets = append(c.historyOffsets, offsetID)
	if call < len(c.historyErrs) && c.historyErrs[call] != nil {
		return nil, c.historyErrs[call]
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

func (c *fakeClient) Lookup(ctx context.Context, ids []int64) (*telegram.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var msgs []telegram.Message
	for _, id := range ids {
		for i := range c.messages {
			if c.messages[i].ID == id {
				msgs = append(msgs, c.messages[i])
			}
		}
	}
	return c.batchOf(msgs), nil
}

func (c *fakeClient) batchOf(msgs []telegram.Message) *telegram.Batch {
	b := &telegram.Batch{
		Messages: append([]telegram.Message(nil), msgs...),
		Users:    make(map[int64]telegram.User),
	}
	for i := range b.Messages {
		if u, ok := c.users[b.Messages[i].SenderID]; ok {
			b.Users[u.ID] = u
		}
	}
	return b
}

func (c *fakeClient) OpenMedia(ctx context.Context, f *telegram.File) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mediaOpens++
	if err := c.mediaErr[f.ID]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(fmt.Sprintf("file-%d", f.ID))), nil
}

func (c *fakeClient) OpenThumb(ctx context.Context, f *telegram.File) (io.ReadCloser, error) {
	return nil, telegram.ErrNoMedia
}

func (c *fakeClient) OpenAvatar(ctx context.Context, userID int64, size int) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("avatar")), nil
}

func (c *fakeClient) BeginTakeout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takeoutBegun++
	return nil
}

func (c *fakeClient) EndTakeout(ctx context.Context, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takeoutEnded = append(c.takeoutEnded, success)
	return nil
}

func (c *fakeClient) Close() error { return nil }

// seedMessages fills the fake with n plain text messages from user 1,
// ids 1..n, one per minute starting 2024-01-01.
func seedMessages(c *fakeClient, n int) {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		c.messages = append(c.messages, telegram.Message{
			ID:       int64(i),
			Kind:     telegram.KindMessage,
			Date:     base.Add(time.Duration(i) * time.Minute),
			Text:     fmt.Sprintf("message %d", i),
			SenderID: 1,
		})
	}
	c.users = map[int64]telegram.User{
		1: {ID: 1, Username: "alice", FirstName: "Alice"},
	}
}

func testEngine(t *testing.T, client *fakeClient, mutate func(*config.Config)) (*Engine, *store.DB) {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "data.sqlite"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.Fetch.BatchSize = 50
	cfg.Fetch.Wait = 0
	cfg.Media.Download = true
	if mutate != nil {
		mutate(cfg)
	}

	mgr := media.NewManager(filepath.Join(dir, "media"), cfg.Media, client, nil, nil)
	return NewEngine(db, client, mgr, nil, cfg, nil), db
}

func cursorOf(t *testing.T, db *store.DB) int64 {
	t.Helper()
	id, ok, err := db.LastMessageID()
	require.NoError(t, err)
	if !ok {
		return 0
	}
	return id
}

func TestRunFreshSyncTwoPages(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 100)
	e, db := testEngine(t, client, nil)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 100, res.Messages)
	assert.EqualValues(t, 100, res.LastID)
	assert.EqualValues(t, 100, cursorOf(t, db))

	count, err := db.MessageCount()
	require.NoError(t, err)
	assert.EqualValues(t, 100, count)
}

func TestRunResumable(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 100)

	// Interrupted run: only the first page committed.
	e, db := testEngine(t, client, nil)
	_, err := e.Run(context.Background(), Options{Limit: 50})
	require.NoError(t, err)
	require.EqualValues(t, 50, cursorOf(t, db))

	// Re-run picks up from the cursor and converges to the full state.
	e2 := NewEngine(db, client, media.NewManager(t.TempDir(), e.cfg.Media, client, nil, nil), nil, e.cfg, nil)
	res, err := e2.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.EqualValues(t, 100, cursorOf(t, db))
	assert.Equal(t, 50, res.Messages)

	count, err := db.MessageCount()
	require.NoError(t, err)
	assert.EqualValues(t, 100, count, "no duplicates after resume")
}

func TestRunRateLimitRetriesSameOffset(t *testing.T) {
	const wait = 30 * time.Millisecond
	client := &fakeClient{
		historyErrs: []error{nil, nil, &telegram.RateLimitedError{RetryAfter: wait}},
	}
	seedMessages(client, 100)
	e, db := testEngine(t, client, func(cfg *config.Config) {
		cfg.Fetch.BatchSize = 20
	})

	startedAt := time.Now()
	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(startedAt), wait, "run must sleep the signaled wait")
	assert.Equal(t, 5, res.Pages, "no page skipped or duplicated")
	assert.EqualValues(t, 100, cursorOf(t, db))

	// The 3rd and 4th History calls carry the identical offset: the rate
	// limited request is retried, not re-derived.
	require.GreaterOrEqual(t, len(client.historyOffsets), 4)
	assert.Equal(t, client.historyOffsets[2], client.historyOffsets[3])

	count, err := db.MessageCount()
	require.NoError(t, err)
	assert.EqualValues(t, 100, count)
}

func TestRunRateLimitCeilingAborts(t *testing.T) {
	client := &fakeClient{
		historyErrs: []error{&telegram.RateLimitedError{RetryAfter: 2 * time.Hour}},
	}
	seedMessages(client, 10)
	e, db := testEngine(t, client, nil)

	_, err := e.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ceiling")
	assert.EqualValues(t, 0, cursorOf(t, db))
}

func TestRunFetchErrorDoesNotAdvanceCursor(t *testing.T) {
	client := &fakeClient{
		historyErrs: []error{nil, &telegram.AuthError{Reason: "session expired"}},
	}
	seedMessages(client, 100)
	e, db := testEngine(t, client, func(cfg *config.Config) {
		cfg.Fetch.BatchSize = 30
	})

	_, err := e.Run(context.Background(), Options{})
	require.Error(t, err)

	// Page 1 committed before the failure; nothing after it.
	assert.EqualValues(t, 30, cursorOf(t, db))
	count, err := db.MessageCount()
	require.NoError(t, err)
	assert.EqualValues(t, 30, count)
}

func TestRunFromIDOverride(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 20)
	e, db := testEngine(t, client, nil)

	res, err := e.Run(context.Background(), Options{FromID: 15})
	require.NoError(t, err)

	assert.Equal(t, 6, res.Messages, "ids 15..20")
	assert.EqualValues(t, 20, cursorOf(t, db))
	assert.EqualValues(t, 14, client.historyOffsets[0])
}

func TestRunExplicitIDs(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 20)
	e, db := testEngine(t, client, nil)

	_, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.EqualValues(t, 20, cursorOf(t, db))

	// The source edits message 5: an explicit re-sync captures it
	// without touching the cursor.
	client.messages[4].Text = "edited"
	client.messages[4].EditDate = client.messages[4].Date.Add(time.Hour)

	res, err := e.Run(context.Background(), Options{IDs: []int64{5}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Messages)
	assert.EqualValues(t, 20, cursorOf(t, db))

	got, err := db.GetMessage(5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "edited", got.Content)
	assert.NotZero(t, got.EditDate)
}

func TestRunRejectsFromIDWithIDs(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 5)
	e, _ := testEngine(t, client, nil)

	_, err := e.Run(context.Background(), Options{FromID: 2, IDs: []int64{3}})
	require.Error(t, err)
}

func TestRunTakeoutFinalizedOnSuccess(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 10)
	e, _ := testEngine(t, client, func(cfg *config.Config) {
		cfg.Fetch.Takeout = true
	})

	_, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.takeoutBegun)
	assert.Equal(t, []bool{true}, client.takeoutEnded)
}

func TestRunTakeoutFinalizedOnFailure(t *testing.T) {
	client := &fakeClient{
		historyErrs: []error{&telegram.AuthError{Reason: "revoked"}},
	}
	seedMessages(client, 10)
	e, _ := testEngine(t, client, func(cfg *config.Config) {
		cfg.Fetch.Takeout = true
	})

	_, err := e.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, 1, client.takeoutBegun)
	assert.Equal(t, []bool{false}, client.takeoutEnded, "takeout released on the abort path")
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 5)
	// Record 3 has no timestamp: data-integrity class, skip it alone.
	client.messages[2].Date = time.Time{}
	e, db := testEngine(t, client, nil)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Messages)
	assert.Equal(t, 1, res.Skipped)

	got, err := db.GetMessage(3)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.EqualValues(t, 5, cursorOf(t, db), "cursor covers skipped ids")
}

func TestRunMediaFailureKeepsMessage(t *testing.T) {
	client := &fakeClient{
		mediaErr: map[int64]error{4: fmt.Errorf("connection reset")},
	}
	seedMessages(client, 5)
	client.messages[3].File = &telegram.File{ID: 4, Kind: "photo", Name: "a.jpg", Size: 10}
	client.messages[4].File = &telegram.File{ID: 5, Kind: "photo", Name: "b.jpg", Size: 10}
	e, db := testEngine(t, client, nil)

	_, err := e.Run(context.Background(), Options{})
	require.NoError(t, err, "a single failed download never aborts the batch")

	broken, err := db.GetMessage(4)
	require.NoError(t, err)
	require.NotNil(t, broken, "message persists without its media")
	require.NotNil(t, broken.Media)
	assert.Empty(t, broken.Media.URL)

	fine, err := db.GetMessage(5)
	require.NoError(t, err)
	require.NotNil(t, fine.Media)
	assert.Equal(t, "5.jpg", fine.Media.URL)
}

func TestRunMediaDeduplicatedAcrossRuns(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 3)
	client.messages[1].File = &telegram.File{ID: 2, Kind: "photo", Name: "p.jpg", Size: 10}

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "data.sqlite"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	cfg := config.Default()
	cfg.Fetch.Wait = 0
	cfg.Media.Download = true
	mgr := media.NewManager(filepath.Join(dir, "media"), cfg.Media, client, nil, nil)

	e := NewEngine(db, client, mgr, nil, cfg, nil)
	_, err = e.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, client.mediaOpens)

	// Second run re-fetches the same id via explicit mode: the cached
	// file answers, no network fetch happens.
	_, err = e.Run(context.Background(), Options{IDs: []int64{2}})
	require.NoError(t, err)
	assert.Equal(t, 1, client.mediaOpens)
}

func TestRunPollTalliesPersisted(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 2)
	client.messages[1].Poll = &telegram.Poll{
		Question:    "best color?",
		Closed:      true,
		TotalVoters: 10,
		Answers: []telegram.PollAnswer{
			{Text: "red", Votes: 7},
			{Text: "blue", Votes: 3, Chosen: true},
		},
	}
	e, db := testEngine(t, client, nil)

	_, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	got, err := db.GetMessage(2)
	require.NoError(t, err)
	require.NotNil(t, got.Media)
	assert.Equal(t, store.MediaTypePoll, got.Media.Type)
	assert.Equal(t, "best color?", got.Media.Title)

	results, err := store.DecodePollResults(got.Media.Description)
	require.NoError(t, err)
	assert.Equal(t, 10, results.Total)
	require.Len(t, results.Options, 2)
	assert.Equal(t, 7, results.Options[0].Count)
	assert.True(t, results.Options[1].Chosen)
}

func TestRunAvatarsStored(t *testing.T) {
	client := &fakeClient{}
	seedMessages(client, 3)
	u := client.users[1]
	u.HasAvatar = true
	client.users[1] = u

	e, db := testEngine(t, client, func(cfg *config.Config) {
		cfg.Media.Avatars = true
	})

	_, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	got, err := db.GetUser(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "avatar_1.jpg", got.Avatar)
}

func TestMachineEnforcesTransitions(t *testing.T) {
	m := NewMachine(nil)
	require.Equal(t, Start, m.Current())

	require.NoError(t, m.Transition(Fetching))
	require.NoError(t, m.Transition(RateLimited))
	require.Error(t, m.Transition(Persisting), "rate limited may only refetch or abort")
	require.NoError(t, m.Transition(Fetching))
	require.NoError(t, m.Transition(Normalizing))
	require.NoError(t, m.Transition(Persisting))
	require.NoError(t, m.Transition(Done))
	require.Error(t, m.Transition(Fetching), "done is terminal")
}
