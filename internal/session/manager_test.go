package session

import (
	"context"
	"testing"
	"time"
)

func TestTopicFromRoom(t *testing.T) {
	cases := []struct {
		room string
		want string
	}{
		{"roleplay-2.3", "2.3"},
		{"roleplay-2.3-user42", "2.3"},
		{"roleplay", DefaultTopicID},
		{"", DefaultTopicID},
		{"roleplay-", DefaultTopicID},
	}
	for _, tc := range cases {
		if got := TopicFromRoom(tc.room); got != tc.want {
			t.Fatalf("TopicFromRoom(%q) = %q, want %q", tc.room, got, tc.want)
		}
	}
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("roleplay-4.2", "u1")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.TopicID != "4.2" {
		t.Fatalf("TopicID = %q, want 4.2", s.TopicID)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Status != StatusActive || got.State != "starting" {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.State != "closed" {
		t.Fatalf("ended session = %+v", ended)
	}
}

func TestManagerDialogueCorrelation(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("roleplay-2.1", "u1")

	if err := m.SetDialogueSession(s.ID, "remote-1"); err != nil {
		t.Fatalf("SetDialogueSession() error = %v", err)
	}
	if err := m.SetState(s.ID, "active", false); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DialogueSessionID != "remote-1" || got.State != "active" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestManagerTurnBookkeeping(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("roleplay-2.1", "u1")

	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.EndTurn(s.ID); err != nil {
		t.Fatalf("EndTurn() error = %v", err)
	}

	got, _ := m.Get(s.ID)
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty", got.ActiveTurnID)
	}
	if got.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", got.TurnCount)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("roleplay-2.1", "u1")

	expired := make(chan *Session, 1)
	m.SetExpireHook(func(es *Session) { expired <- es })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case es := <-expired:
		if es.ID != s.ID {
			t.Fatalf("expired ID = %q, want %q", es.ID, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("expire hook not called")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
