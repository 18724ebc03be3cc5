package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus статус batch.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusCancelled BatchStatus = "CANCELLED"
	BatchStatusFailed    BatchStatus = "FAILED"
)

// Batch запуск flow по таблице строк.
type Batch struct {
	ID               uuid.UUID   `json:"id"`
	FlowID           uuid.UUID   `json:"flow_id"`
	Status           BatchStatus `json:"status"`
	RowCount         int         `json:"row_count"`
	RepeatTimes      int         `json:"repeat_times"`
	ConcurrencyLimit int         `json:"concurrency_limit"`
	Error            string      `json:"error,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	FinishedAt       *time.Time  `json:"finished_at,omitempty"`
}

// BatchCell итог одной пары (row, iteration) batch.
type BatchCell struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Row       int       `json:"row"`
	Iteration int       `json:"iteration"`
	RunID     uuid.UUID `json:"run_id"`
	Status    RunStatus `json:"status"`

	// Outputs значения входов Finish-узлов (connectorID → value).
	Outputs map[string]any `json:"outputs,omitempty"`

	// Messages журнал узлов run (nodeID → messages).
	Messages map[string][]NodeExecutionMessage `json:"messages,omitempty"`

	Error string `json:"error,omitempty"`
}
