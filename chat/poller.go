package chat

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/livechat-harvester/telemetry"
)

// Outcome is the result of one poll step.
type Outcome int

const (
	// Continue means another poll should be scheduled after PollResult.Wait.
	Continue Outcome = iota
	// Ended means the error budget is exhausted and the stream is considered over.
	Ended
)

func (o Outcome) String() string {
	if o == Ended {
		return "ended"
	}
	return "continue"
}

// PollResult tells the caller what to do next.
type PollResult struct {
	Outcome Outcome
	Wait    time.Duration
	Added   int
}

// Poller fetches chat pages for an attached Session.
type Poller struct {
	API             API
	RetryDelay      time.Duration // wait after a failed poll below the ceiling
	MinPollInterval time.Duration // used when the server does not advise an interval
}

// PollOnce performs exactly one chat fetch. On success the budget is reset, messages are
// appended in server order, and the session cursor and interval are advanced. On failure
// the cursor is left untouched so the retry resumes from the last successful page.
func (p *Poller) PollOnce(ctx context.Context, s *Session, budget *ErrorBudget, tr *Transcript) PollResult {
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_poller"), slog.String("video_id", s.VideoID))
	ctx, span := telemetry.StartSpan(ctx, "chat", "poller.chat_messages",
		attribute.String("video_id", s.VideoID),
		attribute.Bool("has_cursor", s.Cursor != ""),
	)
	defer span.End()

	start := time.Now()
	page, err := p.API.ChatMessages(ctx, s.ChatID, s.Cursor)
	telemetry.ObserveAPICall("chat_messages", start, err)
	if err != nil {
		telemetry.RecordError(span, err)
		exhausted := budget.Fail()
		telemetry.SetErrorBudget(budget.Failures())
		logger.Warn("live chat poll failed",
			slog.Int("failures", budget.Failures()),
			slog.Int("ceiling", budget.Ceiling()),
			slog.Any("err", err))
		if exhausted {
			logger.Info("error budget exhausted; treating stream as ended")
			return PollResult{Outcome: Ended}
		}
		return PollResult{Outcome: Continue, Wait: p.RetryDelay}
	}

	budget.Reset()
	telemetry.SetErrorBudget(0)

	recs := make([]Record, 0, len(page.Messages))
	for _, m := range page.Messages {
		recs = append(recs, Record{
			MessageID:       m.ID,
			VideoID:         s.VideoID,
			AuthorName:      m.AuthorName,
			AuthorChannelID: m.AuthorChannelID,
			Text:            m.Text,
			PublishedAt:     m.PublishedAt,
		})
	}
	tr.Append(recs...)
	telemetry.AddMessages(len(recs))

	s.Cursor = page.NextPageToken
	s.PollInterval = page.PollInterval
	if s.PollInterval <= 0 {
		s.PollInterval = p.MinPollInterval
	}
	telemetry.SetSpanSuccess(span)
	logger.Debug("live chat page fetched", slog.Int("messages", len(recs)), slog.Duration("next_poll", s.PollInterval))
	return PollResult{Outcome: Continue, Wait: s.PollInterval, Added: len(recs)}
}
