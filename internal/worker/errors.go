package worker

import (
	"errors"
	"fmt"
)

// Ошибки Node Executor.
var (
	// ErrProtocol процессор нарушил контракт: вернул необъявленный
	// выход или условие. Фатально для run.
	ErrProtocol = errors.New("processor protocol violation")

	// ErrProcessorPanic процессор завершился паникой.
	ErrProcessorPanic = errors.New("processor panicked")

	// ErrNodeTimeout процессор превысил таймаут узла.
	ErrNodeTimeout = errors.New("node execution timeout")
)

// ProtocolError нарушение контракта процессора с контекстом.
type ProtocolError struct {
	NodeID      string
	ConnectorID string
	Message     string
}

// Error реализует интерфейс error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("node %s: connector %s: %s", e.NodeID, e.ConnectorID, e.Message)
}

// Unwrap возвращает ErrProtocol.
func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}
