package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/livechat-harvester/telemetry"
)

// ErrNotLiveYet reports that the channel has no active live video.
var ErrNotLiveYet = errors.New("channel not live yet")

// Discovery probes a channel for its active live video. It issues exactly one request per
// call; retry scheduling belongs to the caller.
type Discovery struct {
	API API
}

// FindActiveLiveVideo returns the first live video id for channelID, ErrNotLiveYet when
// there is none, or the API error. Callers treat every error the same way.
func (d *Discovery) FindActiveLiveVideo(ctx context.Context, channelID string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "chat", "discovery.search_live", attribute.String("channel_id", channelID))
	defer span.End()

	start := time.Now()
	ids, err := d.API.SearchLive(ctx, channelID)
	telemetry.ObserveAPICall("search_live", start, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("search live videos: %w", err)
	}
	for _, id := range ids {
		if id != "" {
			telemetry.SetSpanSuccess(span)
			return id, nil
		}
	}
	return "", ErrNotLiveYet
}
