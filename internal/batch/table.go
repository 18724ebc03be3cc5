package batch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// Outcome итог одного run в OutputTable.
type Outcome struct {
	RunID  uuid.UUID        `json:"run_id"`
	Status domain.RunStatus `json:"status"`

	// Outputs значения входов Finish-узлов (connectorID → value).
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error причина FAILED или ошибки запуска.
	Error string `json:"error,omitempty"`
}

// Metadata журнал сообщений узлов одного run (nodeID → messages).
type Metadata map[string][]domain.NodeExecutionMessage

// Table таблица rows × iterations, каждая ячейка пишется один раз.
//
// Table единственная структура, в которую пишут несколько run batch
// одновременно; запись синхронизирована.
type Table[T any] struct {
	mu      sync.RWMutex
	cells   [][]T
	written [][]bool
	filled  int
}

// NewTable создаёт пустую таблицу.
func NewTable[T any](rows, iterations int) *Table[T] {
	cells := make([][]T, rows)
	written := make([][]bool, rows)
	for i := range cells {
		cells[i] = make([]T, iterations)
		written[i] = make([]bool, iterations)
	}
	return &Table[T]{cells: cells, written: written}
}

// Set записывает ячейку. Повторная запись возвращает ErrCellWritten.
func (t *Table[T]) Set(row, iteration int, value T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if row < 0 || row >= len(t.cells) || iteration < 0 || iteration >= len(t.cells[row]) {
		return fmt.Errorf("%w: [%d][%d]", ErrCellOutOfRange, row, iteration)
	}
	if t.written[row][iteration] {
		return fmt.Errorf("%w: [%d][%d]", ErrCellWritten, row, iteration)
	}
	t.cells[row][iteration] = value
	t.written[row][iteration] = true
	t.filled++
	return nil
}

// Get возвращает ячейку и признак того, что она записана.
func (t *Table[T]) Get(row, iteration int) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero T
	if row < 0 || row >= len(t.cells) || iteration < 0 || iteration >= len(t.cells[row]) {
		return zero, false
	}
	if !t.written[row][iteration] {
		return zero, false
	}
	return t.cells[row][iteration], true
}

// Filled возвращает количество записанных ячеек.
func (t *Table[T]) Filled() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.filled
}

// Rows возвращает количество строк.
func (t *Table[T]) Rows() int {
	return len(t.cells)
}

// Iterations возвращает количество повторов.
func (t *Table[T]) Iterations() int {
	if len(t.cells) == 0 {
		return 0
	}
	return len(t.cells[0])
}

// OutputTable итоги run по ячейкам.
type OutputTable = Table[Outcome]

// MetadataTable сообщения узлов по ячейкам.
type MetadataTable = Table[Metadata]
