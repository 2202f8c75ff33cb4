package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/livechat-harvester/telemetry"
)

// Stage is the lifecycle position of a Harvester.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageDiscovering  Stage = "waiting_for_live"
	StageResolving    Stage = "resolving_chat"
	StagePolling      Stage = "polling"
	StageShuttingDown Stage = "shutting_down"
	StageDone         Stage = "done"
)

// Options is the timing and labeling policy of a harvest session.
type Options struct {
	ChannelID       string
	DiscoveryRetry  time.Duration
	ResolveRetry    time.Duration
	PollRetry       time.Duration
	MinPollInterval time.Duration
	RequestTimeout  time.Duration
	FlushTimeout    time.Duration
	ErrorCeiling    int
	DefaultTitle    string
}

// Status is a point-in-time view of the harvester, safe to read from other goroutines.
type Status struct {
	Stage      Stage     `json:"stage"`
	ChannelID  string    `json:"channel_id"`
	VideoID    string    `json:"video_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Messages   int       `json:"messages"`
	Failures   int       `json:"consecutive_failures"`
	Ceiling    int       `json:"error_ceiling"`
	AttachedAt time.Time `json:"attached_at,omitzero"`
	LastPollAt time.Time `json:"last_poll_at,omitzero"`
}

// Harvester runs one monitoring session for one channel. All session state is owned by
// the goroutine executing Run; there is never more than one request or wait outstanding.
type Harvester struct {
	opts       Options
	discovery  *Discovery
	resolver   *Resolver
	poller     *Poller
	sink       Sink
	transcript *Transcript

	after func(time.Duration) <-chan time.Time

	mu     sync.RWMutex
	status Status
}

// New wires the pipeline stages around api and sink.
func New(api API, sink Sink, opts Options) *Harvester {
	if opts.DiscoveryRetry <= 0 {
		opts.DiscoveryRetry = 30 * time.Second
	}
	if opts.ResolveRetry <= 0 {
		opts.ResolveRetry = 10 * time.Second
	}
	if opts.PollRetry <= 0 {
		opts.PollRetry = 5 * time.Second
	}
	if opts.ErrorCeiling <= 0 {
		opts.ErrorCeiling = 3
	}
	if opts.MinPollInterval <= 0 {
		opts.MinPollInterval = 5 * time.Second
	}
	if opts.DefaultTitle == "" {
		opts.DefaultTitle = "live"
	}
	return &Harvester{
		opts:       opts,
		discovery:  &Discovery{API: api},
		resolver:   &Resolver{API: api, DefaultTitle: opts.DefaultTitle, MinPollInterval: opts.MinPollInterval},
		poller:     &Poller{API: api, RetryDelay: opts.PollRetry, MinPollInterval: opts.MinPollInterval},
		sink:       sink,
		transcript: &Transcript{},
		after:      time.After,
		status:     Status{Stage: StageIdle, ChannelID: opts.ChannelID, Ceiling: opts.ErrorCeiling},
	}
}

// Status returns a snapshot of the current session.
func (h *Harvester) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := h.status
	st.Messages = h.transcript.Len()
	return st
}

// Run monitors the channel until the stream ends, ctx is cancelled, or an unexpected
// panic occurs. Every path ends with exactly one flush attempt. The returned error is
// non-nil only for fatal termination; sink failures are reported in FlushResult.Err.
func (h *Harvester) Run(ctx context.Context) (res FlushResult, err error) {
	if telemetry.GetCorrelation(ctx) == "" {
		ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "harvester"), slog.String("channel_id", h.opts.ChannelID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	coord := NewCoordinator(h.sink, h.transcript, cancel, h.opts.FlushTimeout)
	coord.SetLabel(Label{ChannelID: h.opts.ChannelID})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("unexpected error; flushing transcript before exit", slog.Any("panic", r))
			res = h.finish(ctx, coord, ReasonFatal)
			err = fmt.Errorf("harvester: unexpected panic: %v", r)
		}
	}()

	logger.Info("monitoring channel for live stream")
	videoID, ok := h.awaitLive(runCtx, logger)
	if !ok {
		return h.finish(ctx, coord, ReasonInterrupted), nil
	}
	sess, ok := h.awaitSession(runCtx, logger, videoID)
	if !ok {
		coord.SetLabel(Label{ChannelID: h.opts.ChannelID, VideoID: videoID, Title: h.opts.DefaultTitle})
		return h.finish(ctx, coord, ReasonInterrupted), nil
	}

	attachedAt := time.Now().UTC()
	coord.SetLabel(Label{ChannelID: h.opts.ChannelID, VideoID: sess.VideoID, Title: sess.Title, StartedAt: attachedAt})
	h.update(func(st *Status) {
		st.Stage = StagePolling
		st.VideoID = sess.VideoID
		st.Title = sess.Title
		st.AttachedAt = attachedAt
	})
	logger.Info("live chat attached", slog.String("video_id", sess.VideoID), slog.String("title", sess.Title))

	budget := NewErrorBudget(h.opts.ErrorCeiling)
	for {
		if runCtx.Err() != nil {
			return h.finish(ctx, coord, ReasonInterrupted), nil
		}
		reqCtx, reqCancel := h.requestContext(runCtx)
		r := h.poller.PollOnce(reqCtx, sess, budget, h.transcript)
		reqCancel()
		h.update(func(st *Status) {
			st.Failures = budget.Failures()
			st.LastPollAt = time.Now().UTC()
		})
		if r.Outcome == Ended {
			logger.Info("live confirmed ended", slog.String("video_id", sess.VideoID))
			return h.finish(ctx, coord, ReasonStreamEnded), nil
		}
		if !h.wait(runCtx, r.Wait) {
			return h.finish(ctx, coord, ReasonInterrupted), nil
		}
	}
}

func (h *Harvester) awaitLive(ctx context.Context, logger *slog.Logger) (string, bool) {
	h.setStage(StageDiscovering)
	for {
		if ctx.Err() != nil {
			return "", false
		}
		reqCtx, cancel := h.requestContext(ctx)
		videoID, err := h.discovery.FindActiveLiveVideo(reqCtx, h.opts.ChannelID)
		cancel()
		switch {
		case err == nil:
			logger.Info("live detected", slog.String("video_id", videoID))
			return videoID, true
		case errors.Is(err, ErrNotLiveYet):
			logger.Info("no live found; checking again later", slog.Duration("retry_in", h.opts.DiscoveryRetry))
		default:
			logger.Warn("error checking live", slog.Duration("retry_in", h.opts.DiscoveryRetry), slog.Any("err", err))
		}
		if !h.wait(ctx, h.opts.DiscoveryRetry) {
			return "", false
		}
	}
}

func (h *Harvester) awaitSession(ctx context.Context, logger *slog.Logger, videoID string) (*Session, bool) {
	h.update(func(st *Status) {
		st.Stage = StageResolving
		st.VideoID = videoID
	})
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		reqCtx, cancel := h.requestContext(ctx)
		sess, err := h.resolver.ResolveSession(reqCtx, videoID)
		cancel()
		switch {
		case err == nil:
			return sess, true
		case errors.Is(err, ErrNotReadyYet):
			logger.Info("live chat not ready yet", slog.String("video_id", videoID), slog.Duration("retry_in", h.opts.ResolveRetry))
		default:
			logger.Warn("error getting live chat id", slog.String("video_id", videoID), slog.Duration("retry_in", h.opts.ResolveRetry), slog.Any("err", err))
		}
		if !h.wait(ctx, h.opts.ResolveRetry) {
			return nil, false
		}
	}
}

// requestContext detaches a request from cancellation so an in-flight call completes after
// shutdown begins; the loop checks ctx before scheduling anything new.
func (h *Harvester) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx := context.WithoutCancel(ctx)
	if h.opts.RequestTimeout > 0 {
		return context.WithTimeout(rctx, h.opts.RequestTimeout)
	}
	return context.WithCancel(rctx)
}

// wait sleeps for d unless ctx is cancelled first. It reports whether the loop may continue.
func (h *Harvester) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-h.after(d):
		return ctx.Err() == nil
	}
}

func (h *Harvester) finish(ctx context.Context, coord *Coordinator, reason Reason) FlushResult {
	h.setStage(StageShuttingDown)
	res, ok := coord.Shutdown(ctx, reason)
	if !ok {
		res = coord.Wait()
	}
	h.setStage(StageDone)
	return res
}

func (h *Harvester) setStage(s Stage) {
	h.update(func(st *Status) { st.Stage = s })
}

func (h *Harvester) update(fn func(*Status)) {
	h.mu.Lock()
	fn(&h.status)
	stage := h.status.Stage
	h.mu.Unlock()
	telemetry.SetStage(string(stage))
}
