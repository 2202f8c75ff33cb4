package sink

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/onnwee/livechat-harvester/chat"
	"github.com/onnwee/livechat-harvester/db"
)

// Postgres stores transcripts in the broadcasts and live_chat_messages tables.
type Postgres struct {
	DB *sql.DB
}

func (p *Postgres) Write(ctx context.Context, label chat.Label, records []chat.Record) error {
	msgs := make([]db.ChatMessage, 0, len(records))
	for i, r := range records {
		m := db.ChatMessage{
			Seq:             i + 1,
			MessageID:       r.MessageID,
			AuthorName:      r.AuthorName,
			AuthorChannelID: r.AuthorChannelID,
			Message:         r.Text,
		}
		if t, err := time.Parse(time.RFC3339Nano, r.PublishedAt); err == nil {
			m.PublishedAt = sql.NullTime{Time: t, Valid: true}
		}
		msgs = append(msgs, m)
	}
	b := db.Broadcast{
		VideoID:      label.VideoID,
		ChannelID:    label.ChannelID,
		Title:        label.Title,
		StartedAt:    label.StartedAt,
		EndedAt:      label.EndedAt,
		MessageCount: len(records),
		EndReason:    string(label.Reason),
	}
	if err := db.InsertTranscript(ctx, p.DB, b, msgs); err != nil {
		return err
	}
	slog.Info("transcript stored in postgres", slog.String("component", "sink_postgres"), slog.String("video_id", label.VideoID), slog.Int("records", len(records)))
	return nil
}
