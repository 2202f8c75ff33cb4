package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// YouTube Data API paths relative to the service base path.
const (
	SearchPath      = "/youtube/v3/search"
	VideosPath      = "/youtube/v3/videos"
	ChatMessagePath = "/youtube/v3/liveChat/messages"
)

// MockYouTubeServer creates a test server that mocks YouTube Data API responses.
// Point a client at it with option.WithEndpoint(m.URL + "/").
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []*http.Request
}

// ChatItem is one live chat message served by MockChatPages.
type ChatItem struct {
	ID, Author, AuthorChannel, Text, PublishedAt string
}

// ChatPage is one scripted liveChatMessages.list response. Status other than 0 or 200
// produces an error response instead.
type ChatPage struct {
	Status        int
	Items         []ChatItem
	NextPageToken string
	IntervalMS    int64
}

// NewMockYouTubeServer creates a new mock YouTube API server.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Clone(r.Context()))
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		writeError(w, http.StatusNotFound, "notFound")
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns every request received for path, in arrival order.
func (m *MockYouTubeServer) Requests(path string) []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*http.Request
	for _, r := range m.requests {
		if r.URL.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (m *MockYouTubeServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

// MockSearchLive adds a handler for search.list returning the given live video ids.
func (m *MockYouTubeServer) MockSearchLive(videoIDs ...string) {
	m.handle(SearchPath, func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 0, len(videoIDs))
		for _, id := range videoIDs {
			items = append(items, map[string]any{
				"kind": "youtube#searchResult",
				"id":   map[string]string{"kind": "youtube#video", "videoId": id},
			})
		}
		writeJSON(w, map[string]any{"kind": "youtube#searchListResponse", "items": items})
	})
}

// MockVideo adds a handler for videos.list describing a single video. An empty chatID
// omits liveStreamingDetails.activeLiveChatId.
func (m *MockYouTubeServer) MockVideo(videoID, title, chatID string) {
	m.handle(VideosPath, func(w http.ResponseWriter, r *http.Request) {
		details := map[string]any{"actualStartTime": "2026-01-01T00:00:00Z"}
		if chatID != "" {
			details["activeLiveChatId"] = chatID
		}
		item := map[string]any{
			"id":                   videoID,
			"snippet":              map[string]any{"title": title},
			"liveStreamingDetails": details,
		}
		writeJSON(w, map[string]any{"kind": "youtube#videoListResponse", "items": []any{item}})
	})
}

// MockChatPages adds a handler for liveChatMessages.list that serves pages in order and
// repeats the last one once the script is exhausted.
func (m *MockYouTubeServer) MockChatPages(pages ...ChatPage) {
	var mu sync.Mutex
	next := 0
	m.handle(ChatMessagePath, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		p := pages[len(pages)-1]
		if next < len(pages) {
			p = pages[next]
			next++
		}
		mu.Unlock()
		if p.Status != 0 && p.Status != http.StatusOK {
			writeError(w, p.Status, "liveChatEnded")
			return
		}
		items := make([]map[string]any, 0, len(p.Items))
		for _, it := range p.Items {
			items = append(items, map[string]any{
				"kind": "youtube#liveChatMessage",
				"id":   it.ID,
				"snippet": map[string]any{
					"type":           "textMessageEvent",
					"displayMessage": it.Text,
					"publishedAt":    it.PublishedAt,
				},
				"authorDetails": map[string]any{
					"displayName": it.Author,
					"channelId":   it.AuthorChannel,
				},
			})
		}
		writeJSON(w, map[string]any{
			"kind":                  "youtube#liveChatMessageListResponse",
			"items":                 items,
			"nextPageToken":         p.NextPageToken,
			"pollingIntervalMillis": p.IntervalMS,
		})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
		"error": map[string]any{
			"code":    status,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}
