package voice

import (
	"time"

	"github.com/coachkit/voicecoach/internal/config"
	"github.com/coachkit/voicecoach/internal/protocol"
)

// VADProfile is the voice-activity tuning handed to the hosting runtime at
// session activation. Built once at startup and shared read-only by every
// session goroutine; nothing mutates it after load.
type VADProfile struct {
	minInterruptionDuration time.Duration
	minInterruptionWords    int
	minEndpointingDelay     time.Duration
	maxEndpointingDelay     time.Duration
}

func newVADProfile(cfg config.Config) VADProfile {
	p := VADProfile{
		minInterruptionDuration: cfg.MinInterruptionDuration,
		minInterruptionWords:    cfg.MinInterruptionWords,
		minEndpointingDelay:     cfg.MinEndpointingDelay,
		maxEndpointingDelay:     cfg.MaxEndpointingDelay,
	}
	if p.minEndpointingDelay <= 0 {
		p.minEndpointingDelay = 800 * time.Millisecond
	}
	if p.maxEndpointingDelay < p.minEndpointingDelay {
		p.maxEndpointingDelay = p.minEndpointingDelay
	}
	return p
}

func (p VADProfile) Options() protocol.VoiceOptions {
	return protocol.VoiceOptions{
		MinInterruptionDurationMS: p.minInterruptionDuration.Milliseconds(),
		MinInterruptionWords:      p.minInterruptionWords,
		MinEndpointingDelayMS:     p.minEndpointingDelay.Milliseconds(),
		MaxEndpointingDelayMS:     p.maxEndpointingDelay.Milliseconds(),
	}
}
