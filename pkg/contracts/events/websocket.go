// Package events defines the frames the progress WebSocket pushes to
// clients.
package events

import "time"

// ProtocolVersion changes when a frame's shape changes incompatibly.
const ProtocolVersion = "1.0"

// Frame types. Pipeline frames carry the operation (upload, parse or
// export) in Step, or the stage for cache_cleared.
const (
	TypeConnection     = "connection"
	TypeBatchStarted   = "batch_started"
	TypeFileCompleted  = "file_completed"
	TypeFileFailed     = "file_failed"
	TypeBatchCompleted = "batch_completed"
	TypeCacheCleared   = "cache_cleared"
)

// Frame statuses.
const (
	StatusConnected = "connected"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Message is the frame pushed to every client.
type Message struct {
	Type      string      `json:"type"`
	Step      string      `json:"step,omitempty"`
	Status    string      `json:"status,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}
