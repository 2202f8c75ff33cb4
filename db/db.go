// Package db provides database connection helpers, schema migration, and small data access helpers
// for harvested transcripts and stored OAuth tokens.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS broadcasts (
			video_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			title TEXT,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			message_count INTEGER DEFAULT 0,
			end_reason TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS live_chat_messages (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES broadcasts(video_id),
			seq INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			author_name TEXT,
			author_channel_id TEXT,
			message TEXT,
			published_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_video_seq ON live_chat_messages(video_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_author ON live_chat_messages(author_channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_broadcasts_channel ON broadcasts(channel_id, started_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Broadcast is the per-stream row written alongside its messages.
type Broadcast struct {
	VideoID      string
	ChannelID    string
	Title        string
	StartedAt    time.Time
	EndedAt      time.Time
	MessageCount int
	EndReason    string
}

// ChatMessage is one transcript row. Seq preserves fetch order within a broadcast.
type ChatMessage struct {
	Seq             int
	MessageID       string
	AuthorName      string
	AuthorChannelID string
	Message         string
	PublishedAt     sql.NullTime
}

// InsertTranscript writes the broadcast row and all messages in a single transaction.
// Re-flushing the same video appends after the highest existing seq.
func InsertTranscript(ctx context.Context, dbx *sql.DB, b Broadcast, msgs []ChatMessage) (err error) {
	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO broadcasts(video_id, channel_id, title, started_at, ended_at, message_count, end_reason, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT(video_id) DO UPDATE SET
			title=EXCLUDED.title,
			ended_at=EXCLUDED.ended_at,
			message_count=broadcasts.message_count + EXCLUDED.message_count,
			end_reason=EXCLUDED.end_reason,
			updated_at=NOW()`,
		b.VideoID, b.ChannelID, b.Title, nullTime(b.StartedAt), nullTime(b.EndedAt), b.MessageCount, b.EndReason)
	if err != nil {
		return fmt.Errorf("upsert broadcast: %w", err)
	}

	var base int
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM live_chat_messages WHERE video_id=$1`, b.VideoID).Scan(&base); err != nil {
		return fmt.Errorf("read last seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO live_chat_messages(video_id, seq, message_id, author_name, author_channel_id, message, published_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range msgs {
		if _, err = stmt.ExecContext(ctx, b.VideoID, base+m.Seq, m.MessageID, m.AuthorName, m.AuthorChannelID, m.Message, m.PublishedAt); err != nil {
			return fmt.Errorf("insert message %s: %w", m.MessageID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// UpsertOAuthToken stores or updates an OAuth token for a provider.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, updated_at)
		  VALUES($1,$2,$3,$4,$5,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    updated_at=NOW()`
	_, err := dbx.ExecContext(ctx, q, provider, access, refresh, expiry, scope)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not found.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var sc sql.NullString
	row := dbx.QueryRowContext(ctx, `SELECT access_token, refresh_token, expires_at, scope FROM oauth_tokens WHERE provider = $1`, provider)
	err = row.Scan(&access, &refresh, &expiry, &sc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	return access, refresh, expiry, sc.String, nil
}

// TokenStoreAdapter implements youtubeapi.TokenStore on top of the oauth_tokens table.
// The raw token JSON is kept in the scope column.
type TokenStoreAdapter struct{ DB *sql.DB }

func (t *TokenStoreAdapter) UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error {
	return UpsertOAuthToken(ctx, t.DB, provider, accessToken, refreshToken, expiry, raw)
}

func (t *TokenStoreAdapter) GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error) {
	return GetOAuthToken(ctx, t.DB, provider)
}
