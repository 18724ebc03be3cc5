package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageType тип сообщения в журнале узла.
type MessageType string

const (
	MessageTypeInfo  MessageType = "Info"
	MessageTypeError MessageType = "Error"
)

// NodeExecutionMessage запись в журнале выполнения узла.
type NodeExecutionMessage struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
}

// InfoMessage создаёт Info сообщение.
func InfoMessage(content string) NodeExecutionMessage {
	return NodeExecutionMessage{Type: MessageTypeInfo, Content: content}
}

// ErrorMessage создаёт Error сообщение.
func ErrorMessage(content string) NodeExecutionMessage {
	return NodeExecutionMessage{Type: MessageTypeError, Content: content}
}

// RunRequest входные данные одного run.
type RunRequest struct {
	// Inputs значения выходов Start-узлов (connectorID → value).
	Inputs map[string]any `json:"inputs,omitempty"`

	// Globals переопределяет значения глобальных переменных
	// (globalVariableID → value).
	Globals map[string]any `json:"globals,omitempty"`
}

// NodeState итоговое состояние узла.
type NodeState struct {
	Status     NodeStatus             `json:"status"`
	HasError   bool                   `json:"has_error,omitempty"`
	SkipReason SkipReason             `json:"skip_reason,omitempty"`
	Messages   []NodeExecutionMessage `json:"messages,omitempty"`
	Duration   time.Duration          `json:"duration,omitempty"`
}

// RunResult результат run.
type RunResult struct {
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`

	// Outputs значения входов Finish-узлов (connectorID → value).
	// Недостижимые входы отсутствуют в map, а не равны nil.
	Outputs map[string]any `json:"outputs"`

	// Conditions результаты OutCondition (connectorID → matched).
	Conditions map[string]bool `json:"conditions,omitempty"`

	// GlobalUpdates значения, записанные в isGlobal выходы.
	GlobalUpdates map[string]any `json:"global_updates,omitempty"`

	Nodes map[string]NodeState `json:"nodes"`

	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration возвращает продолжительность run.
func (r *RunResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasNodeErrors возвращает true, если хотя бы один узел завершился с ошибкой.
func (r *RunResult) HasNodeErrors() bool {
	for _, n := range r.Nodes {
		if n.HasError {
			return true
		}
	}
	return false
}
