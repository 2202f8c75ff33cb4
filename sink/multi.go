package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/livechat-harvester/chat"
)

// Named pairs a sink with the name used in error messages.
type Named struct {
	Name string
	Sink chat.Sink
}

// Multi writes the transcript to every sink, even when an earlier one fails.
type Multi []Named

func (m Multi) Write(ctx context.Context, label chat.Label, records []chat.Record) error {
	var errs []error
	for _, n := range m {
		if err := n.Sink.Write(ctx, label, records); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
