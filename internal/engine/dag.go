package engine

import (
	"sort"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// DAGNode узел графа зависимостей.
type DAGNode struct {
	// Node определение узла из FlowSpec.
	Node *domain.Node

	// ID совпадает с Node.ID.
	ID string

	// Order порядок создания узла; tie-break при сортировке.
	Order int

	// InDegree количество узлов, от которых зависит этот узел.
	InDegree int

	// DependsOn узлы-источники входящих рёбер.
	DependsOn []*DAGNode

	// Dependents узлы, которые зависят от этого узла.
	Dependents []*DAGNode
}

// DAG граф зависимостей между узлами, построенный по рёбрам.
type DAG struct {
	// Nodes все узлы (nodeID → DAGNode).
	Nodes map[string]*DAGNode

	// RootNodes узлы без зависимостей в порядке создания.
	RootNodes []*DAGNode

	// Order топологический порядок; при равенстве раньше идёт
	// узел, созданный раньше.
	Order []*DAGNode

	graph *Graph
}

// BuildDAG строит граф зависимостей и проверяет отсутствие циклов.
//
// Рёбра в глобальные входы не создают зависимостей: значение такого
// входа всегда берётся из таблицы глобальных переменных.
func BuildDAG(g *Graph) (*DAG, error) {
	dag := &DAG{
		Nodes:     make(map[string]*DAGNode, g.Size()),
		RootNodes: make([]*DAGNode, 0),
		graph:     g,
	}

	// Первый проход: создаём узлы
	for i, node := range g.Nodes() {
		dag.Nodes[node.ID] = &DAGNode{
			Node:       node,
			ID:         node.ID,
			Order:      i,
			DependsOn:  make([]*DAGNode, 0),
			Dependents: make([]*DAGNode, 0),
		}
	}

	// Второй проход: связываем узлы по входящим рёбрам
	for _, node := range g.Nodes() {
		to := dag.Nodes[node.ID]
		for _, t := range []domain.ConnectorType{domain.ConnectorNodeInput, domain.ConnectorInCondition} {
			for _, c := range g.ConnectorsOf(node.ID, t) {
				if c.IsGlobal {
					continue
				}
				e, ok := g.EdgeInto(c.ID)
				if !ok {
					continue
				}
				dag.addEdge(dag.Nodes[e.SourceNodeID], to)
			}
		}
	}

	for _, node := range g.Nodes() {
		if dn := dag.Nodes[node.ID]; dn.InDegree == 0 {
			dag.RootNodes = append(dag.RootNodes, dn)
		}
	}

	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addEdge добавляет ребро между узлами без дубликатов.
func (d *DAG) addEdge(from, to *DAGNode) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// topologicalSort выполняет сортировку алгоритмом Кана.
// Из готовых узлов всегда выбирается узел с наименьшим Order.
func (d *DAG) topologicalSort() ([]*DAGNode, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*DAGNode, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*DAGNode, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		added := false
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
				added = true
			}
		}
		if added {
			sort.Slice(queue, func(i, j int) bool { return queue[i].Order < queue[j].Order })
		}
	}

	if len(order) != len(d.Nodes) {
		stuck := make([]string, 0, len(d.Nodes)-len(order))
		for _, node := range d.graph.Nodes() {
			if inDegree[node.ID] > 0 {
				stuck = append(stuck, node.ID)
			}
		}
		return nil, &CyclicGraphError{NodeIDs: stuck}
	}

	return order, nil
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *DAGNode {
	return d.Nodes[id]
}

// Size возвращает количество узлов.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// Readiness состояние предиката активации узла.
type Readiness int

const (
	// ReadinessWaiting часть входов или условие ещё не вычислены.
	ReadinessWaiting Readiness = iota

	// ReadinessReady узел можно запускать.
	ReadinessReady

	// ReadinessSkipCondition входящее условие не совпало или
	// его источник завершился без результата.
	ReadinessSkipCondition

	// ReadinessBlocked хотя бы один вход никогда не получит значение.
	ReadinessBlocked
)

// String возвращает имя состояния.
func (r Readiness) String() string {
	switch r {
	case ReadinessWaiting:
		return "waiting"
	case ReadinessReady:
		return "ready"
	case ReadinessSkipCondition:
		return "skip_condition"
	case ReadinessBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// RunView доступ резолвера к состоянию одного run.
type RunView interface {
	// Resolved сообщает, получил ли коннектор значение.
	Resolved(connectorID string) bool

	// ConditionResult возвращает результат OutCondition.
	// known=false, если условие ещё не вычислено.
	ConditionResult(conditionID string) (matched, known bool)

	// Settled сообщает, что узел больше не изменит свои выходы.
	Settled(nodeID string) bool
}

// Readiness вычисляет предикат активации узла.
//
// Узел готов, если все его NodeInput разрешены и входящее условие
// (если оно подключено) совпало.
func (d *DAG) Readiness(nodeID string, view RunView) Readiness {
	g := d.graph

	if node := g.Node(nodeID); node == nil || node.Kind.IsStartLike() {
		return ReadinessReady
	}

	if in := g.InCondition(nodeID); in != nil {
		if e, ok := g.EdgeInto(in.ID); ok {
			matched, known := view.ConditionResult(e.SourceHandle)
			switch {
			case known && !matched:
				return ReadinessSkipCondition
			case !known && view.Settled(e.SourceNodeID):
				return ReadinessSkipCondition
			case !known:
				return ReadinessWaiting
			}
		}
	}

	result := ReadinessReady
	for _, c := range g.ConnectorsOf(nodeID, domain.ConnectorNodeInput) {
		if view.Resolved(c.ID) {
			continue
		}
		e, ok := g.EdgeInto(c.ID)
		if c.IsGlobal || !ok || view.Settled(e.SourceNodeID) {
			return ReadinessBlocked
		}
		result = ReadinessWaiting
	}
	return result
}
