package orchestrator

import (
	"sync"
	"time"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
)

// RunState состояние одного run в памяти.
//
// Пишет в RunState только горутина координатора; чтение (Snapshot, Status)
// безопасно из любых горутин.
//
// RunState реализует engine.RunView поверх своего Variable Store.
type RunState struct {
	plan  *engine.Plan
	store *engine.VariableStore

	mu      sync.RWMutex
	status  domain.RunStatus
	nodes   map[string]*domain.NodeState
	started map[string]time.Time
}

// NewRunState создаёт RunState со всеми узлами в PENDING.
func NewRunState(plan *engine.Plan) *RunState {
	nodes := make(map[string]*domain.NodeState, plan.Graph.Size())
	for _, n := range plan.Graph.Nodes() {
		nodes[n.ID] = &domain.NodeState{Status: domain.NodeStatusPending}
	}
	return &RunState{
		plan:    plan,
		store:   plan.NewStore(),
		status:  domain.RunStatusIdle,
		nodes:   nodes,
		started: make(map[string]time.Time),
	}
}

// Store возвращает Variable Store run.
func (s *RunState) Store() *engine.VariableStore {
	return s.store
}

// Status возвращает статус run.
func (s *RunState) Status() domain.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus меняет статус run.
func (s *RunState) SetStatus(status domain.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// NodeStatus возвращает статус узла.
func (s *RunState) NodeStatus(nodeID string) domain.NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[nodeID]; ok {
		return n.Status
	}
	return ""
}

// MarkRunning помечает узел как выполняющийся.
func (s *RunState) MarkRunning(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[nodeID].Status = domain.NodeStatusRunning
	s.started[nodeID] = time.Now()
}

// MarkSucceeded помечает узел как успешно завершённый.
func (s *RunState) MarkSucceeded(nodeID string, messages []domain.NodeExecutionMessage) {
	s.finish(nodeID, domain.NodeStatusSucceeded, false, messages)
}

// MarkFailed помечает узел как завершённый с ошибкой.
func (s *RunState) MarkFailed(nodeID string, messages []domain.NodeExecutionMessage) {
	s.finish(nodeID, domain.NodeStatusFailed, true, messages)
}

// MarkCancelled помечает выполнявшийся узел, результат которого отброшен.
func (s *RunState) MarkCancelled(nodeID string) {
	s.finish(nodeID, domain.NodeStatusCancelled, false, nil)
}

// MarkSkipped помечает узел как пропущенный.
func (s *RunState) MarkSkipped(nodeID string, reason domain.SkipReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.nodes[nodeID]
	n.Status = domain.NodeStatusSkipped
	n.SkipReason = reason
}

func (s *RunState) finish(nodeID string, status domain.NodeStatus, hasError bool, messages []domain.NodeExecutionMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.nodes[nodeID]
	n.Status = status
	n.HasError = hasError
	n.Messages = append(n.Messages, messages...)
	if t, ok := s.started[nodeID]; ok {
		n.Duration = time.Since(t)
	}
}

// Resolved реализует engine.RunView.
func (s *RunState) Resolved(connectorID string) bool {
	return s.store.Resolved(connectorID)
}

// ConditionResult реализует engine.RunView.
func (s *RunState) ConditionResult(conditionID string) (matched, known bool) {
	return s.store.ConditionResult(conditionID)
}

// Settled реализует engine.RunView.
func (s *RunState) Settled(nodeID string) bool {
	return s.NodeStatus(nodeID).IsSettled()
}

// Snapshot возвращает копию состояний узлов.
func (s *RunState) Snapshot() map[string]domain.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.NodeState, len(s.nodes))
	for id, n := range s.nodes {
		cp := *n
		cp.Messages = append([]domain.NodeExecutionMessage(nil), n.Messages...)
		result[id] = cp
	}
	return result
}

// Stats возвращает количество узлов по статусу.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{Total: len(s.nodes)}
	for _, n := range s.nodes {
		switch n.Status {
		case domain.NodeStatusPending:
			stats.Pending++
		case domain.NodeStatusRunning:
			stats.Running++
		case domain.NodeStatusSucceeded:
			stats.Succeeded++
		case domain.NodeStatusFailed:
			stats.Failed++
		case domain.NodeStatusSkipped:
			stats.Skipped++
		case domain.NodeStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// RunStats статистика выполнения run.
type RunStats struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled int
}
