// Package oauth keeps a persisted OAuth token fresh while a long harvest session runs.
// It performs jittered checks and refreshes when expiry falls within a configured window,
// writing the new token back through the same store the API client reads from.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Store reads and writes one token row per provider.
type Store interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, raw).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// StartRefresher launches a goroutine that periodically checks the provider's token and refreshes it.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if _, err := refreshOnce(ctx, store, provider, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
			}
			// per-iteration jitter of +/-20% of interval
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			nextSleep := interval + time.Duration(rand.Int63n(jitterRange*2+1)-jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}

// refreshOnce refreshes the stored token if it expires within window. It reports whether a
// new token was persisted.
func refreshOnce(ctx context.Context, store Store, provider string, window time.Duration, fn RefreshFunc) (bool, error) {
	_, rt, exp, raw, err := store.GetOAuthToken(ctx, provider)
	if err != nil {
		return false, err
	}
	if rt == "" || time.Until(exp) > window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	newAT, newRT, newExp, newRaw, err := fn(ctx2, rt)
	cancel()
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newRaw == "" {
		newRaw = raw
	}
	if err := store.UpsertOAuthToken(ctx, provider, newAT, newRT, newExp, newRaw); err != nil {
		return false, err
	}
	slog.Info("token refreshed", slog.String("provider", provider), slog.Time("expiry", newExp))
	return true, nil
}
