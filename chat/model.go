package chat

import (
	"context"
	"sync"
	"time"
)

// Record is a single harvested chat message. Records are values and never mutated after
// they are appended to a Transcript.
type Record struct {
	MessageID       string
	VideoID         string
	AuthorName      string
	AuthorChannelID string
	Text            string
	PublishedAt     string // ISO-8601 as returned upstream
}

// Transcript is the ordered, append-only list of records for one broadcast.
type Transcript struct {
	mu      sync.Mutex
	records []Record
}

// Append adds records in the given order.
func (t *Transcript) Append(recs ...Record) {
	t.mu.Lock()
	t.records = append(t.records, recs...)
	t.mu.Unlock()
}

// Len returns the number of records captured so far.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns a copy of the records in arrival order.
func (t *Transcript) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Session is the state of one attached chat. Only the poller mutates it.
type Session struct {
	VideoID      string
	ChatID       string
	Title        string
	Cursor       string // empty until the first page has been fetched
	PollInterval time.Duration
}

// ErrorBudget counts consecutive poll failures up to a fixed ceiling.
type ErrorBudget struct {
	failures int
	ceiling  int
}

// NewErrorBudget returns a budget that is exhausted after ceiling consecutive failures.
func NewErrorBudget(ceiling int) *ErrorBudget {
	if ceiling <= 0 {
		ceiling = 1
	}
	return &ErrorBudget{ceiling: ceiling}
}

// Fail records one failure and reports whether the ceiling has been reached.
func (b *ErrorBudget) Fail() bool {
	b.failures++
	return b.failures >= b.ceiling
}

// Reset clears the failure count after a successful poll.
func (b *ErrorBudget) Reset() { b.failures = 0 }

// Failures returns the current consecutive failure count.
func (b *ErrorBudget) Failures() int { return b.failures }

// Ceiling returns the configured limit.
func (b *ErrorBudget) Ceiling() int { return b.ceiling }

// Reason describes why a harvest session terminated.
type Reason string

const (
	ReasonStreamEnded Reason = "stream_ended"
	ReasonInterrupted Reason = "interrupted"
	ReasonFatal       Reason = "fatal"
)

// Label carries the metadata a sink uses to name and tag a flushed transcript.
type Label struct {
	ChannelID string
	VideoID   string
	Title     string
	StartedAt time.Time
	EndedAt   time.Time
	Reason    Reason
}

// VideoDetails is the subset of video metadata needed to attach to a chat.
type VideoDetails struct {
	Title        string
	ActiveChatID string
}

// Message is one chat item as returned by the upstream API.
type Message struct {
	ID              string
	AuthorName      string
	AuthorChannelID string
	Text            string
	PublishedAt     string
}

// ChatPage is one page of the chat feed.
type ChatPage struct {
	Messages      []Message
	NextPageToken string
	PollInterval  time.Duration // zero when the server did not advise one
}

// API is the remote video and chat service.
type API interface {
	// SearchLive returns the ids of videos currently live on the channel, most relevant first.
	SearchLive(ctx context.Context, channelID string) ([]string, error)
	// VideoDetails returns metadata for a video. A video that does not exist yields a zero value.
	VideoDetails(ctx context.Context, videoID string) (VideoDetails, error)
	// ChatMessages fetches the page of messages after pageToken (empty for the first page).
	ChatMessages(ctx context.Context, chatID, pageToken string) (ChatPage, error)
}

// Sink durably persists a transcript. It is called at most once per session.
type Sink interface {
	Write(ctx context.Context, label Label, records []Record) error
}
