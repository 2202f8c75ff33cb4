package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/livechat-harvester/telemetry"
)

// FlushResult describes what the single flush did.
type FlushResult struct {
	Reason  Reason
	Records int
	Skipped bool // transcript was empty, sink not called
	Err     error
}

// Coordinator turns any number of termination triggers into exactly one transcript flush.
type Coordinator struct {
	sink         Sink
	transcript   *Transcript
	stop         context.CancelFunc
	flushTimeout time.Duration

	fired atomic.Bool
	done  chan struct{}

	mu     sync.Mutex
	label  Label
	result FlushResult
}

// NewCoordinator returns a coordinator flushing tr into sink. stop, if non-nil, is called
// before flushing so nothing new gets scheduled. A zero flushTimeout means no deadline.
func NewCoordinator(sink Sink, tr *Transcript, stop context.CancelFunc, flushTimeout time.Duration) *Coordinator {
	return &Coordinator{
		sink:         sink,
		transcript:   tr,
		stop:         stop,
		flushTimeout: flushTimeout,
		done:         make(chan struct{}),
	}
}

// SetLabel records the broadcast metadata used to name the flushed transcript.
func (c *Coordinator) SetLabel(l Label) {
	c.mu.Lock()
	c.label = l
	c.mu.Unlock()
}

// ShuttingDown reports whether a shutdown has been initiated.
func (c *Coordinator) ShuttingDown() bool { return c.fired.Load() }

// Shutdown flushes the transcript if no other caller got there first. It reports whether
// this call performed the flush; losing callers return immediately with ok=false.
func (c *Coordinator) Shutdown(ctx context.Context, reason Reason) (res FlushResult, ok bool) {
	if !c.fired.CompareAndSwap(false, true) {
		return FlushResult{}, false
	}
	defer close(c.done)

	if c.stop != nil {
		c.stop()
	}

	c.mu.Lock()
	label := c.label
	c.mu.Unlock()
	label.Reason = reason
	res = FlushResult{Reason: reason}
	defer func() {
		if r := recover(); r != nil {
			telemetry.RecordFlush("failed")
			slog.Error("transcript flush panicked", slog.String("component", "chat_shutdown"), slog.Any("panic", r))
			res.Err = fmt.Errorf("flush transcript: sink panicked: %v", r)
			ok = true
			c.setResult(res)
		}
	}()
	if label.EndedAt.IsZero() {
		label.EndedAt = time.Now().UTC()
	}

	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_shutdown"), slog.String("reason", string(reason)))
	logger.Info("shutting down safely", slog.String("video_id", label.VideoID))

	records := c.transcript.Snapshot()
	res.Records = len(records)
	if len(records) == 0 {
		logger.Info("no messages captured; nothing to save")
		telemetry.RecordFlush("skipped_empty")
		res.Skipped = true
		c.setResult(res)
		return res, true
	}

	// The run context is usually already cancelled here; the flush must still complete.
	fctx := context.WithoutCancel(ctx)
	if c.flushTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, c.flushTimeout)
		defer cancel()
	}
	fctx, span := telemetry.StartSpan(fctx, "chat", "shutdown.flush",
		attribute.String("video_id", label.VideoID),
		attribute.Int("records", len(records)),
		attribute.String("reason", string(reason)),
	)
	defer span.End()

	if err := c.sink.Write(fctx, label, records); err != nil {
		telemetry.RecordError(span, err)
		telemetry.RecordFlush("failed")
		logger.Error("transcript flush failed", slog.Int("records", len(records)), slog.Any("err", err))
		res.Err = err
		c.setResult(res)
		return res, true
	}
	telemetry.SetSpanSuccess(span)
	telemetry.RecordFlush("written")
	logger.Info("transcript saved", slog.Int("records", len(records)))
	c.setResult(res)
	return res, true
}

// Wait blocks until the flush started by the winning Shutdown call has finished.
func (c *Coordinator) Wait() FlushResult {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Coordinator) setResult(r FlushResult) {
	c.mu.Lock()
	c.result = r
	c.mu.Unlock()
}
