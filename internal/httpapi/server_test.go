package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachkit/voicecoach/internal/config"
	"github.com/coachkit/voicecoach/internal/dialogue"
	"github.com/coachkit/voicecoach/internal/observability"
	"github.com/coachkit/voicecoach/internal/protocol"
	"github.com/coachkit/voicecoach/internal/session"
	"github.com/coachkit/voicecoach/internal/transcript"
	"github.com/coachkit/voicecoach/internal/voice"
)

func testServer(t *testing.T, backend dialogue.Client) (*httptest.Server, *session.Manager, transcript.Store) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		DebounceInterval:         30 * time.Millisecond,
		MinTranscriptLength:      3,
		MaxReplySentences:        4,
		SpeakAckTimeout:          2 * time.Second,
		TTSVoiceID:               "voice-1",
		TTSModelID:               "model-1",
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	store := transcript.NewInMemoryStore()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	orch := voice.NewOrchestrator(cfg, sessions, backend, store, metrics, nil)
	srv := New(cfg, sessions, orch, store, metrics, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions, store
}

func TestHealthAndReady(t *testing.T) {
	ts, _, _ := testServer(t, dialogue.NewMockClient())

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, res.StatusCode)
		}
	}
}

func TestGetSessionNotFound(t *testing.T) {
	ts, _, _ := testServer(t, dialogue.NewMockClient())

	res, err := http.Get(ts.URL + "/v1/sessions/nope")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestSessionTranscriptEndpoint(t *testing.T) {
	ts, sessions, store := testServer(t, dialogue.NewMockClient())

	sess := sessions.Create("roleplay-2.1-a", "user-1")
	for _, rec := range []transcript.TurnRecord{
		{SessionID: sess.ID, Role: transcript.RoleTrainee, Content: "Ik heb een vraag"},
		{SessionID: sess.ID, Role: transcript.RoleCoach, Content: "Vertel."},
	} {
		if err := store.SaveTurn(context.Background(), rec); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	res, err := http.Get(ts.URL + "/v1/sessions/" + sess.ID + "/transcript")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var body struct {
		SessionID string                  `json:"session_id"`
		Turns     []transcript.TurnRecord `json:"turns"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Turns) != 2 || body.Turns[0].Role != transcript.RoleTrainee {
		t.Fatalf("unexpected turns: %+v", body.Turns)
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts, _, _ := testServer(t, dialogue.NewMockClient())

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func dialRoomWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/rooms/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntilAgentSay(t *testing.T, conn *websocket.Conn) protocol.AgentSay {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var raw map[string]any
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("read: %v", err)
		}
		if raw["type"] != string(protocol.TypeAgentSay) {
			continue
		}
		data, _ := json.Marshal(raw)
		var say protocol.AgentSay
		if err := json.Unmarshal(data, &say); err != nil {
			t.Fatalf("decode agent_say: %v", err)
		}
		return say
	}
	t.Fatal("no agent_say received")
	return protocol.AgentSay{}
}

func TestRoomWSFullExchange(t *testing.T) {
	backend := dialogue.NewMockClient()
	backend.Greeting = "Welkom."
	backend.Reply = "Mooi. En dan?"
	ts, sessions, _ := testServer(t, backend)

	conn := dialRoomWS(t, ts)

	if err := conn.WriteJSON(protocol.RoomJoin{Type: protocol.TypeRoomJoin, Room: "roleplay-4.1-demo", UserID: "user-9"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	if err := conn.WriteJSON(protocol.RoomReady{Type: protocol.TypeRoomReady}); err != nil {
		t.Fatalf("write ready: %v", err)
	}

	greeting := readUntilAgentSay(t, conn)
	if greeting.Text != "Welkom." {
		t.Fatalf("greeting = %q", greeting.Text)
	}
	if greeting.VoiceID != "voice-1" {
		t.Fatalf("voice id = %q", greeting.VoiceID)
	}
	if err := conn.WriteJSON(protocol.PlaybackDone{Type: protocol.TypePlaybackDone, TurnID: greeting.TurnID}); err != nil {
		t.Fatalf("ack greeting: %v", err)
	}

	if err := conn.WriteJSON(protocol.Transcript{Type: protocol.TypeTranscript, Text: "Ik wil oefenen met bezwaren", IsFinal: true}); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	reply := readUntilAgentSay(t, conn)
	if reply.Text != "Mooi. En dan?" {
		t.Fatalf("reply = %q", reply.Text)
	}
	_ = conn.WriteJSON(protocol.PlaybackDone{Type: protocol.TypePlaybackDone, TurnID: reply.TurnID})

	if err := conn.WriteJSON(protocol.RoomClose{Type: protocol.TypeRoomClose}); err != nil {
		t.Fatalf("write close: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		list := sessions.List()
		if len(list) == 1 && list[0].Status == session.StatusEnded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session was not ended after room_close")
}

func TestRoomWSRejectsBadFirstFrame(t *testing.T) {
	ts, _, _ := testServer(t, dialogue.NewMockClient())

	conn := dialRoomWS(t, ts)
	if err := conn.WriteJSON(protocol.RoomReady{Type: protocol.TypeRoomReady}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw map[string]any
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	if raw["type"] != string(protocol.TypeErrorEvent) {
		t.Fatalf("expected error_event, got %v", raw["type"])
	}
}
