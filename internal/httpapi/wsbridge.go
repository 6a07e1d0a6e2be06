package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coachkit/voicecoach/internal/protocol"
)

var errPlaybackTimeout = errors.New("playback not acknowledged in time")

// wsBridge turns Speak calls into agent_say frames on the connection's
// outbound queue and blocks until the client acknowledges playback. Writes
// stay single-threaded because everything funnels through the writer
// goroutine that owns the websocket.
type wsBridge struct {
	outbound   chan<- any
	voiceID    string
	modelID    string
	ackTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan struct{}
}

func newWSBridge(outbound chan<- any, voiceID, modelID string, ackTimeout time.Duration) *wsBridge {
	return &wsBridge{
		outbound:   outbound,
		voiceID:    voiceID,
		modelID:    modelID,
		ackTimeout: ackTimeout,
		pending:    make(map[string]chan struct{}),
	}
}

func (b *wsBridge) Speak(ctx context.Context, turnID, text string) error {
	ack := make(chan struct{})
	b.mu.Lock()
	b.pending[turnID] = ack
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, turnID)
		b.mu.Unlock()
	}()

	msg := protocol.AgentSay{
		Type:    protocol.TypeAgentSay,
		TurnID:  turnID,
		Text:    text,
		VoiceID: b.voiceID,
		ModelID: b.modelID,
	}
	select {
	case b.outbound <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-timer.C:
		return errPlaybackTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *wsBridge) AckPlayback(turnID string) {
	b.mu.Lock()
	ack, ok := b.pending[turnID]
	if ok {
		delete(b.pending, turnID)
	}
	b.mu.Unlock()
	if ok {
		close(ack)
	}
}
