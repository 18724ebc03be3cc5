package engine

import (
	"fmt"
	"sync"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// VariableStore значения коннекторов одного run.
//
// Каждый коннектор записывается не больше одного раза. Наличие ключа
// означает, что значение разрешено; nil является допустимым значением.
// Store принадлежит одному run и не разделяется между run.
type VariableStore struct {
	graph *Graph

	mu         sync.RWMutex
	values     map[string]any
	conditions map[string]bool
}

// NewVariableStore создаёт пустой store для графа.
func NewVariableStore(g *Graph) *VariableStore {
	return &VariableStore{
		graph:      g,
		values:     make(map[string]any),
		conditions: make(map[string]bool),
	}
}

// Seed записывает значение до начала выполнения: выходы Start-узлов,
// глобальные и неподключённые входы.
func (s *VariableStore) Seed(connectorID string, value any) error {
	if s.graph.Connector(connectorID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}
	return s.write(connectorID, value)
}

// Set записывает значение выхода узла.
func (s *VariableStore) Set(connectorID string, value any) error {
	c := s.graph.Connector(connectorID)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}
	if c.Type != domain.ConnectorNodeOutput {
		return fmt.Errorf("%w: %s is %s, not NodeOutput", ErrUnknownConnector, connectorID, c.Type)
	}
	return s.write(connectorID, value)
}

func (s *VariableStore) write(connectorID string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.values[connectorID]; exists {
		return &DuplicateWriteError{ConnectorID: connectorID}
	}
	s.values[connectorID] = value
	return nil
}

// Get возвращает значение коннектора.
//
// Глобальный вход читается из seed или из таблицы глобальных переменных
// графа, рёбра при этом не учитываются. Вход с ребром читает значение
// выхода-источника.
func (s *VariableStore) Get(connectorID string) (any, bool) {
	c := s.graph.Connector(connectorID)
	if c == nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if c.Type == domain.ConnectorNodeInput {
		if c.IsGlobal {
			if v, ok := s.values[c.ID]; ok {
				return v, true
			}
			return s.graph.GlobalValue(c.GlobalVariableID)
		}
		if e, ok := s.graph.EdgeInto(c.ID); ok {
			v, ok := s.values[e.SourceHandle]
			return v, ok
		}
	}

	v, ok := s.values[c.ID]
	return v, ok
}

// Resolved реализует RunView.
func (s *VariableStore) Resolved(connectorID string) bool {
	_, ok := s.Get(connectorID)
	return ok
}

// SetCondition записывает результат OutCondition.
func (s *VariableStore) SetCondition(conditionID string, matched bool) error {
	c := s.graph.Connector(conditionID)
	if c == nil || c.Type != domain.ConnectorOutCondition {
		return fmt.Errorf("%w: %s is not an OutCondition", ErrUnknownConnector, conditionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conditions[conditionID]; exists {
		return &DuplicateWriteError{ConnectorID: conditionID}
	}
	s.conditions[conditionID] = matched
	return nil
}

// ConditionResult реализует RunView.
func (s *VariableStore) ConditionResult(conditionID string) (matched, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, known = s.conditions[conditionID]
	return matched, known
}

// Inputs возвращает разрешённые входы узла (connectorID → value).
func (s *VariableStore) Inputs(nodeID string) map[string]any {
	result := make(map[string]any)
	for _, c := range s.graph.ConnectorsOf(nodeID, domain.ConnectorNodeInput) {
		if v, ok := s.Get(c.ID); ok {
			result[c.ID] = v
		}
	}
	return result
}

// Values возвращает копию всех записанных значений.
func (s *VariableStore) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]any, len(s.values))
	for k, v := range s.values {
		result[k] = v
	}
	return result
}

// Conditions возвращает копию результатов условий.
func (s *VariableStore) Conditions() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]bool, len(s.conditions))
	for k, v := range s.conditions {
		result[k] = v
	}
	return result
}
