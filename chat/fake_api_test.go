package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

type searchStep struct {
	ids []string
	err error
}

type videoStep struct {
	details VideoDetails
	err     error
}

type pageStep struct {
	page  ChatPage
	err   error
	panic bool
}

// fakeAPI serves scripted responses in order; the last step repeats once exhausted.
type fakeAPI struct {
	mu       sync.Mutex
	searches []searchStep
	videos   []videoStep
	pages    []pageStep

	searchCalls int
	videoCalls  int
	pageCalls   int
	pageTokens  []string
	chatIDs     []string

	inFlight    int
	maxInFlight int

	// onPage, if set, runs inside every ChatMessages call with its 1-based call number.
	onPage func(ctx context.Context, call int)
}

func (f *fakeAPI) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *fakeAPI) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeAPI) SearchLive(ctx context.Context, channelID string) ([]string, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.searches[min(f.searchCalls, len(f.searches)-1)]
	f.searchCalls++
	return s.ids, s.err
}

func (f *fakeAPI) VideoDetails(ctx context.Context, videoID string) (VideoDetails, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.videos[min(f.videoCalls, len(f.videos)-1)]
	f.videoCalls++
	return s.details, s.err
}

func (f *fakeAPI) ChatMessages(ctx context.Context, chatID, pageToken string) (ChatPage, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	s := f.pages[min(f.pageCalls, len(f.pages)-1)]
	f.pageCalls++
	f.pageTokens = append(f.pageTokens, pageToken)
	f.chatIDs = append(f.chatIDs, chatID)
	call := f.pageCalls
	f.mu.Unlock()
	if f.onPage != nil {
		f.onPage(ctx, call)
	}
	if s.panic {
		panic("chat decoder exploded")
	}
	return s.page, s.err
}

func msgs(ids ...string) []Message {
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, Message{ID: id, AuthorName: "author-" + id, AuthorChannelID: "UC-" + id, Text: "text " + id, PublishedAt: "2026-01-01T00:00:00Z"})
	}
	return out
}

func ids(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.MessageID)
	}
	return out
}

// captureSink records every Write call.
type captureSink struct {
	mu    sync.Mutex
	calls int
	label Label
	got   []Record
	err   error
	delay time.Duration
}

func (c *captureSink) Write(ctx context.Context, label Label, records []Record) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.label = label
	c.got = records
	return c.err
}

func (c *captureSink) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
