package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Структурные ошибки графа. Обнаруживаются до запуска любого узла.
var (
	// ErrGraphIntegrity граф нарушает инварианты модели.
	ErrGraphIntegrity = errors.New("graph integrity violation")

	// ErrCyclicGraph в графе обнаружен цикл.
	ErrCyclicGraph = errors.New("cyclic graph")

	// ErrMissingStart в графе нет ни одного Start узла.
	ErrMissingStart = errors.New("graph has no Start node")

	// ErrMissingFinish в графе нет ни одного Finish узла.
	ErrMissingFinish = errors.New("graph has no Finish node")

	// ErrDuplicateNodeID несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrDuplicateConnectorID несколько коннекторов с одинаковым ID.
	ErrDuplicateConnectorID = errors.New("duplicate connector ID")

	// ErrDanglingEdge ребро ссылается на несуществующий узел или коннектор.
	ErrDanglingEdge = errors.New("dangling edge endpoint")

	// ErrFanIn в однозначный handle входит больше одного ребра.
	ErrFanIn = errors.New("multiple edges into single-valued handle")

	// ErrInvalidHandle тип коннектора не подходит для конца ребра.
	ErrInvalidHandle = errors.New("invalid edge handle type")

	// ErrInvalidConnector коннектор не допустим для kind узла.
	ErrInvalidConnector = errors.New("connector not allowed on node")

	// ErrUnknownGlobal коннектор ссылается на неизвестную глобальную переменную.
	ErrUnknownGlobal = errors.New("unknown global variable")

	// ErrInvalidExpression выражение OutCondition не разбирается.
	ErrInvalidExpression = errors.New("invalid condition expression")
)

// Ошибки выполнения.
var (
	// ErrDuplicateWrite значение коннектора записано дважды за один run.
	ErrDuplicateWrite = errors.New("duplicate write")

	// ErrUnknownConnector обращение к несуществующему коннектору.
	ErrUnknownConnector = errors.New("unknown connector")

	// ErrConditionEval выражение условия не удалось вычислить.
	ErrConditionEval = errors.New("condition evaluation failed")

	// ErrNotANumber значение NaN нельзя сравнивать в выражении условия.
	ErrNotANumber = errors.New("value is NaN")
)

// GraphIntegrityError ошибка валидации графа с контекстом.
type GraphIntegrityError struct {
	NodeID      string // узел, где обнаружена ошибка
	ConnectorID string // коннектор или handle, если применимо
	Message     string
	Err         error // базовая ошибка
}

// Error реализует интерфейс error.
func (e *GraphIntegrityError) Error() string {
	var b strings.Builder
	b.WriteString("graph integrity: ")
	if e.NodeID != "" {
		b.WriteString("node " + e.NodeID + ": ")
	}
	if e.ConnectorID != "" {
		b.WriteString("connector " + e.ConnectorID + ": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap возвращает базовую ошибку.
func (e *GraphIntegrityError) Unwrap() error {
	return e.Err
}

// Is позволяет проверять errors.Is(err, ErrGraphIntegrity) для любой
// ошибки целостности, независимо от базовой причины.
func (e *GraphIntegrityError) Is(target error) bool {
	return target == ErrGraphIntegrity
}

func integrityError(nodeID, connectorID string, err error, format string, args ...any) *GraphIntegrityError {
	return &GraphIntegrityError{
		NodeID:      nodeID,
		ConnectorID: connectorID,
		Message:     fmt.Sprintf(format, args...),
		Err:         err,
	}
}

// CyclicGraphError граф содержит цикл. NodeIDs узлы, не попавшие
// в топологический порядок (участники цикла и всё, что за ним).
type CyclicGraphError struct {
	NodeIDs []string
}

// Error реализует интерфейс error.
func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("cyclic graph: nodes %s are part of or downstream of a cycle",
		strings.Join(e.NodeIDs, ", "))
}

// Unwrap возвращает ErrCyclicGraph.
func (e *CyclicGraphError) Unwrap() error {
	return ErrCyclicGraph
}

// DuplicateWriteError повторная запись в коннектор за один run.
// Сигнализирует об ошибке в процессоре.
type DuplicateWriteError struct {
	ConnectorID string
}

// Error реализует интерфейс error.
func (e *DuplicateWriteError) Error() string {
	return "duplicate write to connector " + e.ConnectorID
}

// Unwrap возвращает ErrDuplicateWrite.
func (e *DuplicateWriteError) Unwrap() error {
	return ErrDuplicateWrite
}

// IsStructural возвращает true для ошибок, обнаруживаемых до выполнения.
func IsStructural(err error) bool {
	return errors.Is(err, ErrGraphIntegrity) || errors.Is(err, ErrCyclicGraph)
}
