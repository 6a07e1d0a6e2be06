package transcript

import (
	"context"
	"time"
)

// TurnRecord stores one side of a dispatched roleplay exchange.
type TurnRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Room      string    `json:"room"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleTrainee = "trainee"
	RoleCoach   = "coach"
)

// Store persists per-session conversation turns.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	SessionTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Close() error
}
