package voice

import (
	"strings"
	"time"
)

// FlushOutcome tells the caller what happened to the buffered transcript
// when a debounce window expired.
type FlushOutcome string

const (
	FlushDispatched FlushOutcome = "dispatched"
	FlushTooShort   FlushOutcome = "too_short"
	FlushNoSession  FlushOutcome = "no_session"
	FlushBusy       FlushOutcome = "busy"
	FlushCooldown   FlushOutcome = "cooldown"

	// FlushMediaWait is reported by the session loop, not by Flush: the
	// aggregator was ready but the media room was not joined yet.
	FlushMediaWait FlushOutcome = "media_wait"
)

// Aggregator collects final transcript fragments for one session and decides
// when the accumulated text may be handed to the dialogue backend. It is
// owned by the session goroutine and is not safe for concurrent use.
type Aggregator struct {
	minLength int
	cooldown  time.Duration

	parts        []string
	sessionReady bool
	processing   bool
	completedAt  time.Time
	hasCompleted bool
}

func NewAggregator(minLength int, cooldown time.Duration) *Aggregator {
	if minLength <= 0 {
		minLength = 3
	}
	return &Aggregator{minLength: minLength, cooldown: cooldown}
}

// Append adds one final transcript fragment to the buffer. Whitespace-only
// fragments are ignored.
func (a *Aggregator) Append(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	a.parts = append(a.parts, trimmed)
}

// SetSessionReady marks whether a dialogue session exists to receive turns.
// Buffered text is retained while the session is not ready.
func (a *Aggregator) SetSessionReady(ready bool) {
	a.sessionReady = ready
}

func (a *Aggregator) HasBuffered() bool {
	return len(a.parts) > 0
}

func (a *Aggregator) Processing() bool {
	return a.processing
}

// Flush evaluates the buffered text against the dispatch gates. On
// FlushDispatched the returned text is the joined trimmed buffer and the
// aggregator enters the processing state until CompleteTurn is called.
// FlushNoSession retains the buffer; every other refusal clears it.
func (a *Aggregator) Flush(now time.Time) (string, FlushOutcome) {
	joined := strings.TrimSpace(strings.Join(a.parts, " "))

	if len([]rune(joined)) < a.minLength {
		a.parts = nil
		return "", FlushTooShort
	}
	if !a.sessionReady {
		return "", FlushNoSession
	}
	if a.processing {
		a.parts = nil
		return "", FlushBusy
	}
	if a.hasCompleted && now.Sub(a.completedAt) < a.cooldown {
		a.parts = nil
		return "", FlushCooldown
	}

	a.parts = nil
	a.processing = true
	return joined, FlushDispatched
}

// CompleteTurn releases the single-flight guard and starts the cooldown
// window. Safe to call even when no turn is in flight.
func (a *Aggregator) CompleteTurn(now time.Time) {
	a.processing = false
	a.completedAt = now
	a.hasCompleted = true
}
