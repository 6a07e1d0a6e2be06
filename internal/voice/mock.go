package voice

import (
	"context"
	"sync"
)

// RecordingBridge captures spoken lines instead of driving a transport.
// Used in tests and by the simulator CLI.
type RecordingBridge struct {
	mu     sync.Mutex
	spoken []string
	Err    error
}

func (b *RecordingBridge) Speak(_ context.Context, _, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.spoken = append(b.spoken, text)
	return nil
}

func (b *RecordingBridge) Spoken() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.spoken))
	copy(out, b.spoken)
	return out
}
