package session

import "strings"

// DefaultTopicID is used when a room name carries no technique key.
const DefaultTopicID = "2.1"

// Lifecycle states reported to clients. A session moves starting -> active,
// bounces between active and processing while turns run, and ends via
// closing -> closed.
const (
	StateStarting   = "starting"
	StateActive     = "active"
	StateProcessing = "processing"
	StateClosing    = "closing"
	StateClosed     = "closed"
)

// TopicFromRoom derives the conversation technique key from a room name of
// the form "<prefix>-<topic>[-...]".
func TopicFromRoom(room string) string {
	parts := strings.Split(strings.TrimSpace(room), "-")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return DefaultTopicID
	}
	return parts[1]
}
