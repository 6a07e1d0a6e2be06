package voice

import "context"

// Bridge delivers synthesized speech to the participant's transport.
// Speak blocks until playback has been acknowledged, playback fails, or the
// context is cancelled.
type Bridge interface {
	Speak(ctx context.Context, turnID, text string) error
}

// PlaybackAcker is implemented by bridges that track playback completion
// through explicit acknowledgements from the client.
type PlaybackAcker interface {
	AckPlayback(turnID string)
}
