package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachkit/voicecoach/internal/protocol"
)

// turnsim replays a scripted trainee conversation against a running
// orchestrator and reports per-turn reply latency. It stands in for the
// hosting runtime: transcripts go in, agent_say frames come out.

type options struct {
	baseURL        string
	room           string
	userID         string
	texts          []string
	turnTimeout    time.Duration
	interTurnDelay time.Duration
	verbose        bool
}

var defaultUtterances = []string{
	"Ik wil vandaag oefenen met het omgaan met bezwaren",
	"De klant zegt dat het te duur is, wat nu",
	"Hoe stel ik dan een goede open vraag",
	"Dank je, dat ga ik proberen",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "turnsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "turnsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var turnTimeoutMS int
	var interTurnMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "orchestrator base URL")
	flag.StringVar(&cfg.room, "room", "roleplay-2.1-sim", "room name; the second segment selects the technique")
	flag.StringVar(&cfg.userID, "user-id", "turnsim", "user id attached to the session")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for the reply per turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 250, "delay between turns in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.room) == "" {
		return options{}, fmt.Errorf("room is required")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	wsURL, err := roomWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.RoomJoin{Type: protocol.TypeRoomJoin, Room: cfg.room, UserID: cfg.userID}); err != nil {
		return fmt.Errorf("send room_join: %w", err)
	}
	if err := conn.WriteJSON(protocol.RoomReady{Type: protocol.TypeRoomReady}); err != nil {
		return fmt.Errorf("send room_ready: %w", err)
	}

	greeting, err := awaitAgentSay(conn, cfg.turnTimeout)
	if err != nil {
		return fmt.Errorf("await greeting: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("turnsim: coach: %q\n", greeting.Text)
	}
	_ = conn.WriteJSON(protocol.PlaybackDone{Type: protocol.TypePlaybackDone, TurnID: greeting.TurnID})

	for i, text := range cfg.texts {
		if cfg.verbose {
			fmt.Printf("turnsim: turn %d/%d trainee: %q\n", i+1, len(cfg.texts), text)
		}
		start := time.Now()
		if err := conn.WriteJSON(protocol.Transcript{Type: protocol.TypeTranscript, Text: text, IsFinal: true}); err != nil {
			return fmt.Errorf("turn %d send transcript: %w", i+1, err)
		}

		say, err := awaitAgentSay(conn, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("turnsim: coach (%.0fms): %q\n", time.Since(start).Seconds()*1000, say.Text)
		}
		_ = conn.WriteJSON(protocol.PlaybackDone{Type: protocol.TypePlaybackDone, TurnID: say.TurnID})

		if cfg.interTurnDelay > 0 && i < len(cfg.texts)-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if err := conn.WriteJSON(protocol.RoomClose{Type: protocol.TypeRoomClose}); err != nil {
		return fmt.Errorf("send room_close: %w", err)
	}
	if cfg.verbose {
		fmt.Println("turnsim: replay completed")
	}
	return nil
}

func roomWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/rooms/ws"
	return u.String(), nil
}

func awaitAgentSay(conn *websocket.Conn, timeout time.Duration) (protocol.AgentSay, error) {
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return protocol.AgentSay{}, err
	}
	for time.Now().Before(deadline) {
		var msg struct {
			Type   string `json:"type"`
			TurnID string `json:"turn_id"`
			Text   string `json:"text"`
			Code   string `json:"code"`
			Detail string `json:"detail"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return protocol.AgentSay{}, err
		}
		switch msg.Type {
		case string(protocol.TypeAgentSay):
			return protocol.AgentSay{Type: protocol.TypeAgentSay, TurnID: msg.TurnID, Text: msg.Text}, nil
		case string(protocol.TypeErrorEvent):
			return protocol.AgentSay{}, fmt.Errorf("server error %s: %s", msg.Code, msg.Detail)
		}
	}
	return protocol.AgentSay{}, fmt.Errorf("timed out waiting for agent_say")
}
