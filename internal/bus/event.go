package bus

import "time"

// Event represents a progress event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published during sync and build runs.
const (
	KindSyncPage        = "sync.page"
	KindSyncRateLimited = "sync.rate_limited"
	KindSyncDone        = "sync.done"

	KindMediaDownloaded = "media.downloaded"
	KindMediaSkipped    = "media.skipped"

	KindBuildPage = "build.page"
	KindBuildDone = "build.done"
)

// PageProgress is the payload for sync.page events.
type PageProgress struct {
	Fetched int
	Saved   int
	LastID  int64
	Total   int
}

// RateLimit is the payload for sync.rate_limited events.
type RateLimit struct {
	Wait time.Duration
}

// SyncSummary is the payload for sync.done events.
type SyncSummary struct {
	Total  int
	LastID int64
}

// PageWritten is the payload for build.page events.
type PageWritten struct {
	File     string
	Messages int
}

// BuildSummary is the payload for build.done events.
type BuildSummary struct {
	Pages int
	Feed  bool
}
