package voice

import (
	"context"
	"testing"
	"time"

	"github.com/coachkit/voicecoach/internal/config"
	"github.com/coachkit/voicecoach/internal/dialogue"
	"github.com/coachkit/voicecoach/internal/protocol"
	"github.com/coachkit/voicecoach/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		DebounceInterval:    30 * time.Millisecond,
		MinTranscriptLength: 3,
		MaxReplySentences:   4,
		SpeakAckTimeout:     time.Second,
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRunSessionFullTurn(t *testing.T) {
	backend := dialogue.NewMockClient()
	backend.Greeting = "Welkom bij de oefening."
	backend.Reply = "Goede vraag. Wat denk je zelf?"
	sessions := session.NewManager(time.Minute)
	bridge := &RecordingBridge{}

	orch := NewOrchestrator(testConfig(), sessions, backend, nil, nil, nil)
	sess := sessions.Create("roleplay-3.2-abc", "user-1")

	inbound := make(chan any, 8)
	outbound := make(chan any, 32)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- orch.RunSession(ctx, sess, bridge, inbound, outbound)
	}()

	inbound <- protocol.RoomReady{Type: protocol.TypeRoomReady}
	waitFor(t, time.Second, func() bool {
		return len(bridge.Spoken()) >= 1
	})
	if got := bridge.Spoken()[0]; got != "Welkom bij de oefening." {
		t.Fatalf("greeting = %q", got)
	}

	inbound <- protocol.Transcript{Type: protocol.TypeTranscript, Text: "Ik wil", IsFinal: true}
	inbound <- protocol.Transcript{Type: protocol.TypeTranscript, Text: "meer weten", IsFinal: true}

	waitFor(t, time.Second, func() bool {
		return len(backend.Messages()) == 1
	})
	if got := backend.Messages()[0]; got != "Ik wil meer weten" {
		t.Fatalf("dispatched text = %q", got)
	}
	waitFor(t, time.Second, func() bool {
		spoken := bridge.Spoken()
		return len(spoken) == 2 && spoken[1] == "Goede vraag. Wat denk je zelf?"
	})

	inbound <- protocol.RoomClose{Type: protocol.TypeRoomClose}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("RunSession: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not close")
	}

	got, err := sessions.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != session.StatusEnded || got.State != session.StateClosed {
		t.Fatalf("session not closed: %s/%s", got.Status, got.State)
	}
	waitFor(t, time.Second, func() bool {
		return len(backend.Deleted()) == 1
	})
}

func TestRunSessionDegradedStart(t *testing.T) {
	backend := dialogue.NewMockClient()
	backend.StartErr = context.DeadlineExceeded
	sessions := session.NewManager(time.Minute)
	bridge := &RecordingBridge{}

	orch := NewOrchestrator(testConfig(), sessions, backend, nil, nil, nil)
	sess := sessions.Create("roleplay-2.1-x", "user-1")

	inbound := make(chan any, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = orch.RunSession(ctx, sess, bridge, inbound, nil)
	}()

	inbound <- protocol.RoomReady{Type: protocol.TypeRoomReady}
	waitFor(t, time.Second, func() bool {
		return len(bridge.Spoken()) == 1
	})
	if got := bridge.Spoken()[0]; got != "Sorry, er ging iets mis." {
		t.Fatalf("degraded opening line = %q", got)
	}

	// No dialogue session exists, so buffered speech must never dispatch.
	inbound <- protocol.Transcript{Type: protocol.TypeTranscript, Text: "Hoor je mij nog?", IsFinal: true}
	time.Sleep(100 * time.Millisecond)
	if len(backend.Messages()) != 0 {
		t.Fatal("degraded session dispatched a turn")
	}

	got, _ := sessions.Get(sess.ID)
	if !got.Degraded {
		t.Fatal("session not marked degraded")
	}
}

// gatedClient delays session creation until released, to exercise the race
// between early speech and backend startup.
type gatedClient struct {
	*dialogue.MockClient
	release chan struct{}
}

func (g *gatedClient) CreateSession(ctx context.Context, topicID, userID string) (dialogue.Session, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return dialogue.Session{}, ctx.Err()
	}
	return g.MockClient.CreateSession(ctx, topicID, userID)
}

func TestRunSessionBuffersSpeechUntilBackendReady(t *testing.T) {
	backend := &gatedClient{MockClient: dialogue.NewMockClient(), release: make(chan struct{})}
	sessions := session.NewManager(time.Minute)
	bridge := &RecordingBridge{}

	orch := NewOrchestrator(testConfig(), sessions, backend, nil, nil, nil)
	sess := sessions.Create("roleplay-2.1-y", "user-1")

	inbound := make(chan any, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = orch.RunSession(ctx, sess, bridge, inbound, nil)
	}()

	inbound <- protocol.RoomReady{Type: protocol.TypeRoomReady}
	inbound <- protocol.Transcript{Type: protocol.TypeTranscript, Text: "Ik ben er al", IsFinal: true}

	// The debounce fires before the backend answers; the utterance must be
	// retained, not dropped.
	time.Sleep(80 * time.Millisecond)
	if len(backend.Messages()) != 0 {
		t.Fatal("dispatched before backend session existed")
	}

	close(backend.release)
	waitFor(t, time.Second, func() bool {
		return len(backend.Messages()) == 1
	})
	if got := backend.Messages()[0]; got != "Ik ben er al" {
		t.Fatalf("dispatched text = %q", got)
	}
}

func TestRunSessionStaysSilentOnTurnFailure(t *testing.T) {
	backend := dialogue.NewMockClient()
	backend.TurnErr = context.DeadlineExceeded
	sessions := session.NewManager(time.Minute)
	bridge := &RecordingBridge{}

	orch := NewOrchestrator(testConfig(), sessions, backend, nil, nil, nil)
	sess := sessions.Create("roleplay-2.1-z", "user-1")

	inbound := make(chan any, 8)
	outbound := make(chan any, 32)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = orch.RunSession(ctx, sess, bridge, inbound, outbound)
	}()

	inbound <- protocol.RoomReady{Type: protocol.TypeRoomReady}
	waitFor(t, time.Second, func() bool { return len(bridge.Spoken()) == 1 })

	inbound <- protocol.Transcript{Type: protocol.TypeTranscript, Text: "Wat is de volgende stap?", IsFinal: true}
	waitFor(t, time.Second, func() bool {
		return len(backend.Messages()) == 1
	})

	// A failed turn ends quietly: the trainee hears nothing extra, only a
	// turn_end event goes out so the host can stop its speaking indicator.
	waitFor(t, time.Second, func() bool {
		for {
			select {
			case msg := <-outbound:
				if te, ok := msg.(protocol.TurnEnd); ok && te.Reason == "error" {
					return true
				}
			default:
				return false
			}
		}
	})
	if spoken := bridge.Spoken(); len(spoken) != 1 {
		t.Fatalf("turn failure produced speech: %q", spoken[1:])
	}
}

func TestRunSessionHoldsSpeechUntilRoomReady(t *testing.T) {
	backend := dialogue.NewMockClient()
	backend.Reply = "Goed zo. Vertel eens verder?"
	sessions := session.NewManager(time.Minute)
	bridge := &RecordingBridge{}

	orch := NewOrchestrator(testConfig(), sessions, backend, nil, nil, nil)
	sess := sessions.Create("roleplay-2.1-w", "user-1")

	inbound := make(chan any, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = orch.RunSession(ctx, sess, bridge, inbound, nil)
	}()

	// The dialogue session lands immediately but the media room has not
	// joined; the debounce must fire without dispatching into a dead room.
	inbound <- protocol.Transcript{Type: protocol.TypeTranscript, Text: "Ben ik te vroeg?", IsFinal: true}
	time.Sleep(80 * time.Millisecond)
	if len(backend.Messages()) != 0 {
		t.Fatal("dispatched before room was ready")
	}
	if len(bridge.Spoken()) != 0 {
		t.Fatalf("spoke before room was ready: %q", bridge.Spoken())
	}

	inbound <- protocol.RoomReady{Type: protocol.TypeRoomReady}
	waitFor(t, time.Second, func() bool {
		return len(backend.Messages()) == 1
	})
	if got := backend.Messages()[0]; got != "Ben ik te vroeg?" {
		t.Fatalf("dispatched text = %q", got)
	}
	waitFor(t, time.Second, func() bool {
		spoken := bridge.Spoken()
		return len(spoken) == 2 && spoken[1] == "Goed zo. Vertel eens verder?"
	})
}
