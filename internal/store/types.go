package store

import "encoding/json"

// Message type values.
const (
	MessageTypeMessage = "message"
	MessageTypeService = "service"
)

// MediaTypePoll marks media rows whose description holds poll tallies.
const MediaTypePoll = "poll"

// User represents a message sender.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Tags      []string
	Avatar    string
}

// Media represents an attachment, a remote link preview, or a poll.
// For polls the description holds the tally JSON (see PollResults).
type Media struct {
	ID          int64
	Type        string
	URL         string
	Title       string
	Description string
	Thumb       string
}

// Message represents one archived message. User and Media are filled on
// reads that join them; zero IDs mean the reference is absent.
type Message struct {
	ID       int64
	Type     string
	Date     int64
	EditDate int64
	Content  string
	ReplyTo  int64
	UserID   int64
	MediaID  int64

	User  *User
	Media *Media
}

// Stub is a message id paired with its timestamp, enough for paging and
// time-bucket computations without loading bodies.
type Stub struct {
	ID   int64
	Date int64
}

// Batch is one page of normalized records committed in a single
// transaction. Cursor is the highest remote id the fetch has fully
// processed, including records that were skipped; the stored cursor only
// ever moves forward.
type Batch struct {
	Users    []User
	Media    []Media
	Messages []Message
	Cursor   int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

// PollOption is one answer row in a stored poll tally.
type PollOption struct {
	Label  string `json:"label"`
	Count  int    `json:"count"`
	Chosen bool   `json:"chosen"`
}

// PollResults is the JSON document stored in media.description for polls.
type PollResults struct {
	Total   int          `json:"total"`
	Options []PollOption `json:"options"`
}

// EncodePollResults serializes poll tallies for the media description
// column.
func EncodePollResults(p *PollResults) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodePollResults parses a stored poll tally document.
func DecodePollResults(s string) (*PollResults, error) {
	var p PollResults
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
