package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/livechat-harvester/telemetry"
)

// ErrNotReadyYet reports that the broadcast exists but its chat is not active yet.
var ErrNotReadyYet = errors.New("live chat not ready yet")

// Resolver turns a live video id into an attachable chat Session.
type Resolver struct {
	API             API
	DefaultTitle    string
	MinPollInterval time.Duration
}

// ResolveSession fetches video metadata and returns a Session with an empty cursor.
// It returns ErrNotReadyYet while the chat is not active, or the API error.
func (r *Resolver) ResolveSession(ctx context.Context, videoID string) (*Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "chat", "resolver.video_details", attribute.String("video_id", videoID))
	defer span.End()

	start := time.Now()
	details, err := r.API.VideoDetails(ctx, videoID)
	telemetry.ObserveAPICall("video_details", start, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("fetch video details: %w", err)
	}
	if details.ActiveChatID == "" {
		return nil, ErrNotReadyYet
	}

	title := details.Title
	if title == "" {
		title = r.DefaultTitle
	}
	telemetry.SetSpanSuccess(span)
	return &Session{
		VideoID:      videoID,
		ChatID:       details.ActiveChatID,
		Title:        title,
		PollInterval: r.MinPollInterval,
	}, nil
}
