package voice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coachkit/voicecoach/internal/dialogue"
	"github.com/coachkit/voicecoach/internal/observability"
)

// TurnResult is delivered on the session's result channel when a dispatched
// turn finishes, whether it produced a reply or failed.
type TurnResult struct {
	TurnID  string
	Reply   string
	Elapsed time.Duration
	Err     error
}

// Dispatcher sends one user turn at a time to the dialogue backend and
// segments the reply for speech. Concurrency control lives in the caller;
// the dispatcher only guarantees that exactly one TurnResult comes back for
// every Dispatch call, even on panic.
type Dispatcher struct {
	backend      dialogue.Client
	maxSentences int
	logger       *zap.Logger
	metrics      *observability.Metrics
}

func NewDispatcher(backend dialogue.Client, maxSentences int, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		backend:      backend,
		maxSentences: maxSentences,
		logger:       logger.With(zap.String("component", "dispatcher")),
		metrics:      metrics,
	}
}

// Dispatch runs the backend exchange in its own goroutine and reports the
// outcome on done. The send is abandoned if ctx is cancelled first, so a
// closing session never leaks the goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, dialogueSessionID, turnID, text string, done chan<- TurnResult) {
	go func() {
		start := time.Now()
		res := TurnResult{TurnID: turnID}

		defer func() {
			if r := recover(); r != nil {
				res.Err = fmt.Errorf("turn dispatch panicked: %v", r)
				d.logger.Error("dispatch panic", zap.String("turn_id", turnID), zap.Any("panic", r))
			}
			res.Elapsed = time.Since(start)
			select {
			case done <- res:
			case <-ctx.Done():
			}
		}()

		reply, err := d.backend.SendMessage(ctx, dialogueSessionID, text)
		if err != nil {
			res.Err = err
			if d.metrics != nil {
				d.metrics.BackendFailures.WithLabelValues(string(dialogue.KindOf(err))).Inc()
			}
			return
		}

		res.Reply = SegmentReply(reply, d.maxSentences)
		if d.metrics != nil {
			d.metrics.ObserveDispatchLatency(time.Since(start))
		}
	}()
}
