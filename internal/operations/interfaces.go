package operations

import "bfintake/pkg/contracts/events"

// WebSocketHub interface for sending progress messages
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// Progress event types pushed to the hub.
const (
	EventBatchStarted   = events.TypeBatchStarted
	EventFileCompleted  = events.TypeFileCompleted
	EventFileFailed     = events.TypeFileFailed
	EventBatchCompleted = events.TypeBatchCompleted
	EventCacheCleared   = events.TypeCacheCleared
)

type noopHub struct{}

func (noopHub) BroadcastUpdate(string, string, string, interface{}) {}
