package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants exchanged with the
// hosting runtime that owns the media room.
type MessageType string

const (
	TypeRoomJoin     MessageType = "room_join"
	TypeRoomReady    MessageType = "room_ready"
	TypeTranscript   MessageType = "transcript"
	TypePlaybackDone MessageType = "playback_done"
	TypeRoomClose    MessageType = "room_close"
	TypeAgentSay     MessageType = "agent_say"
	TypeSessionState MessageType = "session_state"
	TypeTurnEnd      MessageType = "turn_end"
	TypeErrorEvent   MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// RoomJoin announces a new media room; the room name carries the topic key.
type RoomJoin struct {
	Type   MessageType `json:"type"`
	Room   string      `json:"room"`
	UserID string      `json:"user_id,omitempty"`
}

// RoomReady signals that the media transport join completed. Speech output
// must not start before this arrives.
type RoomReady struct {
	Type MessageType `json:"type"`
}

type Transcript struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	IsFinal    bool        `json:"is_final"`
	Confidence float64     `json:"confidence,omitempty"`
	TSMs       int64       `json:"ts_ms,omitempty"`
}

type PlaybackDone struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
}

type RoomClose struct {
	Type MessageType `json:"type"`
}

// AgentSay asks the hosting runtime to synthesize and play the given text.
// Voice settings are carried opaquely; the orchestrator never interprets them.
type AgentSay struct {
	Type    MessageType `json:"type"`
	TurnID  string      `json:"turn_id"`
	Text    string      `json:"text"`
	VoiceID string      `json:"voice_id,omitempty"`
	ModelID string      `json:"model_id,omitempty"`
}

type SessionState struct {
	Type      MessageType  `json:"type"`
	SessionID string       `json:"session_id"`
	State     string       `json:"state"`
	Degraded  bool         `json:"degraded,omitempty"`
	VoiceOpts VoiceOptions `json:"voice_options,omitzero"`
}

// VoiceOptions are barge-in/endpointing thresholds and synthesis knobs
// forwarded verbatim to the hosting runtime at session activation. The
// orchestrator never interprets them.
type VoiceOptions struct {
	MinInterruptionDurationMS int64   `json:"min_interruption_duration_ms,omitempty"`
	MinInterruptionWords      int     `json:"min_interruption_words,omitempty"`
	MinEndpointingDelayMS     int64   `json:"min_endpointing_delay_ms,omitempty"`
	MaxEndpointingDelayMS     int64   `json:"max_endpointing_delay_ms,omitempty"`
	TTSStability              float64 `json:"tts_stability,omitempty"`
	TTSSimilarityBoost        float64 `json:"tts_similarity_boost,omitempty"`
	TTSStyle                  float64 `json:"tts_style,omitempty"`
	TTSSpeed                  float64 `json:"tts_speed,omitempty"`
}

type TurnEnd struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Reason string      `json:"reason"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Source string      `json:"source,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// ParseInbound decodes a raw client frame into its typed message.
func ParseInbound(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeRoomJoin:
		var m RoomJoin
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeRoomReady:
		var m RoomReady
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeTranscript:
		var m Transcript
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypePlaybackDone:
		var m PlaybackDone
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	case TypeRoomClose:
		var m RoomClose
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
