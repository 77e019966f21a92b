// Package telegram defines the boundary to the remote message source.
// Implementations hand the sync engine pages of group history; the engine
// never sees the transport behind them.
package telegram

import (
	"context"
	"io"
	"time"
)

// Message kinds.
const (
	KindMessage = "message"
	KindService = "service"
)

// Group describes the remote group an archive mirrors.
type Group struct {
	ID    int64
	Name  string
	Title string
}

// User is a message sender as known to the source.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Tags      []string
	HasAvatar bool
}

// File describes a downloadable attachment. Path and Thumb are driver
// locators; Name comes from the remote side and is untrusted.
type File struct {
	ID    int64
	Kind  string
	Name  string
	MIME  string
	Size  int64
	Path  string
	Thumb string
}

// HasThumb reports whether the attachment carries a thumbnail.
func (f *File) HasThumb() bool {
	return f != nil && f.Thumb != ""
}

// PollAnswer is one option of a poll with its vote count.
type PollAnswer struct {
	Text   string
	Votes  int
	Chosen bool
}

// Poll is a poll attached to a message, tallies included.
type Poll struct {
	Question    string
	Closed      bool
	TotalVoters int
	Answers     []PollAnswer
}

// Message is one normalized history entry.
type Message struct {
	ID       int64
	Kind     string
	Date     time.Time
	EditDate time.Time
	Text     string
	SenderID int64
	ReplyTo  int64
	File     *File
	Poll     *Poll
}

// Batch is one fetched page: messages in ascending id order plus the
// senders they reference.
type Batch struct {
	Messages []Message
	Users    map[int64]User
}

// Client fetches group history from a message source.
//
// The live MTProto client satisfies this interface out of tree; the
// bundled ExportClient serves Telegram Desktop exports. Fetch methods
// return RateLimitedError when the source imposes a wait.
type Client interface {
	// Group returns the remote group this client is bound to.
	Group(ctx context.Context) (*Group, error)

	// History returns up to limit messages with ids strictly greater
	// than offsetID, in ascending id order. An empty batch means the
	// source is exhausted.
	History(ctx context.Context, offsetID int64, limit int) (*Batch, error)

	// Lookup fetches specific messages by id. Ids the source does not
	// know are simply absent from the result.
	Lookup(ctx context.Context, ids []int64) (*Batch, error)

	// OpenMedia opens an attachment's content for download.
	OpenMedia(ctx context.Context, f *File) (io.ReadCloser, error)

	// OpenThumb opens an attachment's thumbnail. ErrNoMedia when the
	// attachment has none.
	OpenThumb(ctx context.Context, f *File) (io.ReadCloser, error)

	// OpenAvatar opens a user's profile image, at most size pixels on
	// the longest edge. ErrNoAvatar when the user has none or the
	// source cannot serve it.
	OpenAvatar(ctx context.Context, userID int64, size int) (io.ReadCloser, error)

	// BeginTakeout switches the session into the source's bulk-export
	// mode for large fetches, when it has one.
	BeginTakeout(ctx context.Context) error

	// EndTakeout leaves bulk-export mode. success tells the source
	// whether the run completed, and must be called on every exit path
	// once BeginTakeout succeeded.
	EndTakeout(ctx context.Context, success bool) error

	Close() error
}
