package youtubeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/onnwee/livechat-harvester/config"
	"github.com/onnwee/livechat-harvester/testutil"
)

// mockTokenStore implements TokenStore for testing
type mockTokenStore struct {
	tokens map[string]tokenData
}

type tokenData struct {
	access  string
	refresh string
	expiry  time.Time
	raw     string
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{
		tokens: make(map[string]tokenData),
	}
}

func (m *mockTokenStore) UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error {
	m.tokens[provider] = tokenData{
		access:  accessToken,
		refresh: refreshToken,
		expiry:  expiry,
		raw:     raw,
	}
	return nil
}

func (m *mockTokenStore) GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error) {
	if data, ok := m.tokens[provider]; ok {
		return data.access, data.refresh, data.expiry, data.raw, nil
	}
	return "", "", time.Time{}, "", nil
}

func newTestClient(t *testing.T, srv *testutil.MockYouTubeServer) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), &config.Config{YTAPIKey: "test-key"}, nil, option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

func TestNew_ScopeParsing(t *testing.T) {
	tests := []struct {
		name       string
		scopesConf string
		wantLen    int
	}{
		{"default single scope", "", 1},
		{"comma separated", "scope1,scope2,scope3", 3},
		{"space separated", "scope1 scope2 scope3", 3},
		{"mixed separators", "scope1, scope2 scope3", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				YTClientID:     "test-client-id",
				YTClientSecret: "test-secret",
				YTRedirectURI:  "http://localhost/callback",
				YTScopes:       tt.scopesConf,
			}
			svc := New(cfg, newMockTokenStore())
			if len(svc.oauth.Scopes) != tt.wantLen {
				t.Errorf("scopes length = %d, want %d", len(svc.oauth.Scopes), tt.wantLen)
			}
		})
	}
}

func TestAuthCodeURL(t *testing.T) {
	cfg := &config.Config{
		YTClientID:     "test-client-id",
		YTClientSecret: "test-secret",
		YTRedirectURI:  "http://localhost/callback",
	}
	url := New(cfg, newMockTokenStore()).AuthCodeURL("state-123")
	for _, want := range []string{"state=state-123", "access_type=offline", "client_id=test-client-id"} {
		if !strings.Contains(url, want) {
			t.Errorf("AuthCodeURL() = %q, missing %q", url, want)
		}
	}
}

func TestRefreshIfNeeded_NoToken(t *testing.T) {
	svc := New(&config.Config{YTClientID: "id", YTClientSecret: "secret"}, newMockTokenStore())
	if _, err := svc.refreshIfNeeded(context.Background()); err == nil {
		t.Fatal("expected error when no token stored")
	}
}

func TestRefreshIfNeeded_ValidToken(t *testing.T) {
	store := newMockTokenStore()
	expiry := time.Now().Add(time.Hour)
	_ = store.UpsertOAuthToken(context.Background(), provider, "access", "refresh", expiry, "")
	svc := New(&config.Config{YTClientID: "id", YTClientSecret: "secret"}, store)

	tok, err := svc.refreshIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("refreshIfNeeded() error: %v", err)
	}
	if tok.AccessToken != "access" || tok.RefreshToken != "refresh" {
		t.Errorf("unexpected token %+v", tok)
	}
}

func TestNewClient_NoCredentials(t *testing.T) {
	if _, err := NewClient(context.Background(), &config.Config{}, nil); err == nil {
		t.Fatal("expected error without credentials")
	}
	oauthCfg := &config.Config{YTClientID: "id", YTClientSecret: "secret"}
	if _, err := NewClient(context.Background(), oauthCfg, nil); err == nil {
		t.Fatal("expected error for oauth without token store")
	}
	if _, err := NewClient(context.Background(), oauthCfg, newMockTokenStore()); err == nil {
		t.Fatal("expected error for oauth without stored token")
	}
}

func TestSearchLive(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockSearchLive("V1", "V2")
	c := newTestClient(t, srv)

	ids, err := c.SearchLive(context.Background(), "UC123")
	if err != nil {
		t.Fatalf("SearchLive() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "V1" || ids[1] != "V2" {
		t.Errorf("SearchLive() = %v, want [V1 V2]", ids)
	}

	reqs := srv.Requests(testutil.SearchPath)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 search request, got %d", len(reqs))
	}
	q := reqs[0].URL.Query()
	if q.Get("channelId") != "UC123" || q.Get("eventType") != "live" || q.Get("type") != "video" || q.Get("key") != "test-key" {
		t.Errorf("unexpected search query %q", reqs[0].URL.RawQuery)
	}
}

func TestSearchLive_None(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockSearchLive()
	ids, err := newTestClient(t, srv).SearchLive(context.Background(), "UC123")
	if err != nil {
		t.Fatalf("SearchLive() error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("SearchLive() = %v, want none", ids)
	}
}

func TestVideoDetails(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockVideo("V1", "Launch Stream", "C1")
	d, err := newTestClient(t, srv).VideoDetails(context.Background(), "V1")
	if err != nil {
		t.Fatalf("VideoDetails() error: %v", err)
	}
	if d.Title != "Launch Stream" || d.ActiveChatID != "C1" {
		t.Errorf("VideoDetails() = %+v", d)
	}
	if got := srv.Requests(testutil.VideosPath)[0].URL.Query().Get("id"); got != "V1" {
		t.Errorf("videos id param = %q, want V1", got)
	}
}

func TestVideoDetails_ChatNotActive(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockVideo("V1", "Launch Stream", "")
	d, err := newTestClient(t, srv).VideoDetails(context.Background(), "V1")
	if err != nil {
		t.Fatalf("VideoDetails() error: %v", err)
	}
	if d.ActiveChatID != "" {
		t.Errorf("expected no chat id, got %q", d.ActiveChatID)
	}
}

func TestChatMessages(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockChatPages(
		testutil.ChatPage{
			Items: []testutil.ChatItem{
				{ID: "m1", Author: "alice", AuthorChannel: "UCa", Text: "hello", PublishedAt: "2026-01-01T00:00:01Z"},
				{ID: "m2", Author: "bob", AuthorChannel: "UCb", Text: "hi", PublishedAt: "2026-01-01T00:00:02Z"},
			},
			NextPageToken: "abc",
			IntervalMS:    2500,
		},
		testutil.ChatPage{NextPageToken: "def"},
	)
	c := newTestClient(t, srv)

	page, err := c.ChatMessages(context.Background(), "C1", "")
	if err != nil {
		t.Fatalf("ChatMessages() error: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != "m1" || page.Messages[1].ID != "m2" {
		t.Fatalf("unexpected messages %+v", page.Messages)
	}
	m := page.Messages[0]
	if m.AuthorName != "alice" || m.AuthorChannelID != "UCa" || m.Text != "hello" || m.PublishedAt != "2026-01-01T00:00:01Z" {
		t.Errorf("unexpected message mapping %+v", m)
	}
	if page.NextPageToken != "abc" || page.PollInterval != 2500*time.Millisecond {
		t.Errorf("unexpected paging %q / %v", page.NextPageToken, page.PollInterval)
	}

	if _, err := c.ChatMessages(context.Background(), "C1", "abc"); err != nil {
		t.Fatalf("second ChatMessages() error: %v", err)
	}
	reqs := srv.Requests(testutil.ChatMessagePath)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 chat requests, got %d", len(reqs))
	}
	if reqs[0].URL.Query().Has("pageToken") {
		t.Errorf("first request should omit pageToken, got %q", reqs[0].URL.RawQuery)
	}
	if got := reqs[1].URL.Query().Get("pageToken"); got != "abc" {
		t.Errorf("second request pageToken = %q, want abc", got)
	}
	if got := reqs[1].URL.Query().Get("liveChatId"); got != "C1" {
		t.Errorf("liveChatId = %q, want C1", got)
	}
}

func TestChatMessages_Error(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockChatPages(testutil.ChatPage{Status: http.StatusForbidden})
	if _, err := newTestClient(t, srv).ChatMessages(context.Background(), "C1", ""); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestOAuthClientSendsBearer(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockSearchLive("V1")
	store := newMockTokenStore()
	_ = store.UpsertOAuthToken(context.Background(), provider, "stored-access", "refresh", time.Now().Add(time.Hour), "")
	cfg := &config.Config{YTClientID: "id", YTClientSecret: "secret"}

	c, err := NewClient(context.Background(), cfg, store, option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if _, err := c.SearchLive(context.Background(), "UC123"); err != nil {
		t.Fatalf("SearchLive() error: %v", err)
	}
	if got := srv.Requests(testutil.SearchPath)[0].Header.Get("Authorization"); got != "Bearer stored-access" {
		t.Errorf("Authorization = %q, want Bearer stored-access", got)
	}
}

func TestRefreshToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q, want old-refresh", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600})
	}))
	defer tokenSrv.Close()

	svc := New(&config.Config{YTClientID: "id", YTClientSecret: "secret"}, newMockTokenStore())
	svc.oauth.Endpoint = oauth2.Endpoint{TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams}

	access, _, expiry, raw, err := svc.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken() error: %v", err)
	}
	if access != "fresh" || time.Until(expiry) < 50*time.Minute {
		t.Errorf("unexpected token access=%q expiry=%v", access, expiry)
	}
	if !strings.Contains(raw, "fresh") {
		t.Errorf("raw token JSON %q missing access token", raw)
	}
}

func TestOAuthClientRefreshesAfterCancel(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600})
	}))
	defer tokenSrv.Close()
	var gotAuth string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer apiSrv.Close()

	svc := New(&config.Config{YTClientID: "id", YTClientSecret: "secret"}, newMockTokenStore())
	svc.oauth.Endpoint = oauth2.Endpoint{TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams}

	ctx, cancel := context.WithCancel(context.Background())
	hc := svc.client(ctx, &oauth2.Token{AccessToken: "stale", RefreshToken: "r", Expiry: time.Now().Add(-time.Minute)})
	cancel()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiSrv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		t.Fatalf("request after cancel failed: %v", err)
	}
	_ = resp.Body.Close()
	if gotAuth != "Bearer fresh" {
		t.Errorf("Authorization = %q, want Bearer fresh", gotAuth)
	}
}
