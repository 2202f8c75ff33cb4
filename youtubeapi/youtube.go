// Package youtubeapi wraps the YouTube Data API for live video discovery, video metadata and
// live chat polling. Requests are authorized either with an API key or with a Google OAuth2
// token persisted through the TokenStore interface so it can be refreshed and reused.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/livechat-harvester/chat"
	"github.com/onnwee/livechat-harvester/config"
)

const provider = "youtube"

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

// Service manages the OAuth client config and the stored token.
type Service struct {
	db    TokenStore
	oauth *oauth2.Config
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube.readonly"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	return &Service{db: ts, oauth: &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store(ctx, tok); err != nil {
		return nil, fmt.Errorf("store youtube token: %w", err)
	}
	return tok, nil
}

func (s *Service) store(ctx context.Context, tok *oauth2.Token) error {
	rawBytes, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return s.db.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(rawBytes))
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, raw, err := s.db.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errors.New("no youtube token stored; complete /auth/youtube/start first")
	}
	var tok oauth2.Token
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &tok)
	}
	tok.AccessToken = access
	tok.RefreshToken = refresh
	tok.Expiry = expiry
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return &tok, err
	}
	if err := s.store(ctx, newTok); err != nil {
		return newTok, fmt.Errorf("store refreshed youtube token: %w", err)
	}
	return newTok, nil
}

// RefreshToken trades refreshToken for a new token. It matches oauth.RefreshFunc so a
// background refresher can keep the stored row current.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, string(raw), nil
}

// HTTPClient returns an OAuth-authorized client built from the stored token.
func (s *Service) HTTPClient(ctx context.Context) (*http.Client, error) {
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	return s.client(ctx, tok), nil
}

// client builds a transport that refreshes tok on demand. Refreshes are detached from ctx
// cancellation so a request still in flight during shutdown can renew its token.
func (s *Service) client(ctx context.Context, tok *oauth2.Token) *http.Client {
	return s.oauth.Client(context.WithoutCancel(ctx), tok)
}

// Client implements chat.API on top of the YouTube Data API v3.
type Client struct {
	svc *yt.Service
}

var _ chat.API = (*Client)(nil)

// NewClient builds a client authorized by the API key when configured, otherwise by the
// stored OAuth token. Extra options (e.g. option.WithEndpoint in tests) are appended.
func NewClient(ctx context.Context, cfg *config.Config, ts TokenStore, extra ...option.ClientOption) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.YTAPIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.YTAPIKey))
	case cfg.UsesOAuth():
		if ts == nil {
			return nil, errors.New("youtube oauth requires a token store")
		}
		hc, err := New(cfg, ts).HTTPClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("youtube oauth: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(hc))
	default:
		return nil, errors.New("youtube credentials not configured")
	}
	svc, err := yt.NewService(ctx, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// SearchLive lists videos currently live on channelID, in relevance order.
func (c *Client) SearchLive(ctx context.Context, channelID string) ([]string, error) {
	res, err := c.svc.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}
	ids := make([]string, 0, len(res.Items))
	for _, item := range res.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	return ids, nil
}

// VideoDetails returns the title and active live chat id of videoID.
func (c *Client) VideoDetails(ctx context.Context, videoID string) (chat.VideoDetails, error) {
	res, err := c.svc.Videos.List([]string{"liveStreamingDetails", "snippet"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return chat.VideoDetails{}, fmt.Errorf("youtube videos: %w", err)
	}
	if len(res.Items) == 0 {
		return chat.VideoDetails{}, nil
	}
	v := res.Items[0]
	var d chat.VideoDetails
	if v.Snippet != nil {
		d.Title = v.Snippet.Title
	}
	if v.LiveStreamingDetails != nil {
		d.ActiveChatID = v.LiveStreamingDetails.ActiveLiveChatId
	}
	return d, nil
}

// ChatMessages fetches the next page of chatID. An empty pageToken requests the first page.
func (c *Client) ChatMessages(ctx context.Context, chatID, pageToken string) (chat.ChatPage, error) {
	call := c.svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return chat.ChatPage{}, fmt.Errorf("youtube live chat: %w", err)
	}
	page := chat.ChatPage{
		Messages:      make([]chat.Message, 0, len(res.Items)),
		NextPageToken: res.NextPageToken,
		PollInterval:  time.Duration(res.PollingIntervalMillis) * time.Millisecond,
	}
	for _, item := range res.Items {
		m := chat.Message{ID: item.Id}
		if item.Snippet != nil {
			m.Text = item.Snippet.DisplayMessage
			m.PublishedAt = item.Snippet.PublishedAt
		}
		if item.AuthorDetails != nil {
			m.AuthorName = item.AuthorDetails.DisplayName
			m.AuthorChannelID = item.AuthorDetails.ChannelId
		}
		page.Messages = append(page.Messages, m)
	}
	return page, nil
}
