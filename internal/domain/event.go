package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType тип события run.
type EventType string

const (
	EventNodeStarted  EventType = "NodeStarted"
	EventNodeFinished EventType = "NodeFinished"
	EventNodeSkipped  EventType = "NodeSkipped"
	EventRunCompleted EventType = "RunCompleted"
	EventRunCancelled EventType = "RunCancelled"
	EventRunFailed    EventType = "RunFailed"
)

// IsTerminal возвращает true для события, закрывающего поток.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventRunCompleted, EventRunCancelled, EventRunFailed:
		return true
	default:
		return false
	}
}

// RunEvent событие из потока run.
//
// События выдаются в порядке завершения операций, а не в топологическом
// порядке. Seq монотонно растёт в пределах одного run.
type RunEvent struct {
	Seq       int       `json:"seq"`
	Type      EventType `json:"type"`
	RunID     uuid.UUID `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// NodeFinished
	Outputs    map[string]any         `json:"outputs,omitempty"`
	Conditions map[string]bool        `json:"conditions,omitempty"`
	Messages   []NodeExecutionMessage `json:"messages,omitempty"`
	HasError   bool                   `json:"has_error,omitempty"`

	// NodeSkipped
	Reason SkipReason `json:"reason,omitempty"`

	// RunCompleted / RunFailed / RunCancelled
	Result *RunResult `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}
