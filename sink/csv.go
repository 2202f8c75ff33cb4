package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/onnwee/livechat-harvester/chat"
)

var csvHeader = []string{"MESSAGE_ID", "VIDEO_ID", "USER_NAME", "USER_CHANNEL_ID", "MESSAGE", "PUBLISHED_AT"}

var (
	nonAlnum   = regexp.MustCompile(`[^A-Za-z0-9]`)
	underscore = regexp.MustCompile(`_+`)
)

const maxTitleLen = 60

// CSV writes each transcript to a new file in Dir.
type CSV struct {
	Dir string
	Now func() time.Time
}

// NewCSV returns a CSV sink rooted at dir.
func NewCSV(dir string) *CSV { return &CSV{Dir: dir, Now: time.Now} }

// SanitizeTitle makes a broadcast title safe for use in a file name.
func SanitizeTitle(title string) string {
	s := underscore.ReplaceAllString(nonAlnum.ReplaceAllString(title, "_"), "_")
	if len(s) > maxTitleLen {
		s = s[:maxTitleLen]
	}
	return s
}

// FileName returns live_<title>_<video>_<UTC timestamp>.csv.
func FileName(label chat.Label, at time.Time) string {
	return fmt.Sprintf("live_%s_%s_%s.csv", SanitizeTitle(label.Title), label.VideoID, at.UTC().Format("2006-01-02_15-04-05"))
}

// Write stores records under a fresh file name. The file is written to a temporary name
// first and renamed once complete.
func (c *CSV) Write(ctx context.Context, label chat.Label, records []chat.Record) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	path := filepath.Join(c.Dir, FileName(label, now()))

	tmp, err := os.CreateTemp(c.Dir, ".transcript-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		if i%500 == 0 && ctx.Err() != nil {
			_ = tmp.Close()
			return ctx.Err()
		}
		if err := w.Write([]string{r.MessageID, r.VideoID, r.AuthorName, r.AuthorChannelID, r.Text, r.PublishedAt}); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write record %s: %w", r.MessageID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename csv: %w", err)
	}
	slog.Info("CSV saved", slog.String("component", "sink_csv"), slog.String("path", path), slog.Int("records", len(records)))
	return nil
}
