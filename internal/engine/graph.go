package engine

import (
	"sort"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// Graph неизменяемое представление FlowSpec с индексами для быстрых запросов.
//
// Graph безопасен для одновременного чтения из нескольких run.
type Graph struct {
	nodes      []*domain.Node
	nodeIndex  map[string]int
	connectors map[string]*domain.Connector

	// byNode: nodeID → type → коннекторы, отсортированные по Index.
	byNode map[string]map[domain.ConnectorType][]*domain.Connector

	edgesFrom map[string][]*domain.Edge
	edgeInto  map[string]*domain.Edge
	globals   map[string]*domain.GlobalVariable
}

// NewGraph строит Graph и проверяет инварианты модели.
//
// Проверяет:
//   - уникальность ID узлов и коннекторов
//   - допустимость kind и коннекторов для kind
//   - концы рёбер (существование, тип handle, принадлежность узлу)
//   - отсутствие fan-in в NodeInput/InCondition
//   - наличие Start и Finish узлов
//   - ссылки на глобальные переменные
func NewGraph(spec *domain.FlowSpec) (*Graph, error) {
	if spec == nil {
		spec = &domain.FlowSpec{}
	}

	g := &Graph{
		nodes:      make([]*domain.Node, 0, len(spec.Nodes)),
		nodeIndex:  make(map[string]int, len(spec.Nodes)),
		connectors: make(map[string]*domain.Connector, len(spec.Connectors)),
		byNode:     make(map[string]map[domain.ConnectorType][]*domain.Connector),
		edgesFrom:  make(map[string][]*domain.Edge),
		edgeInto:   make(map[string]*domain.Edge),
		globals:    make(map[string]*domain.GlobalVariable, len(spec.Globals)),
	}

	// 1. Узлы
	if err := g.addNodes(spec.Nodes); err != nil {
		return nil, err
	}

	// 2. Глобальные переменные
	for i := range spec.Globals {
		gv := spec.Globals[i]
		g.globals[gv.ID] = &gv
	}

	// 3. Коннекторы
	if err := g.addConnectors(spec.Connectors); err != nil {
		return nil, err
	}

	// 4. Рёбра
	if err := g.addEdges(spec.Edges); err != nil {
		return nil, err
	}

	return g, nil
}

// addNodes копирует узлы и проверяет kind и наличие Start/Finish.
func (g *Graph) addNodes(nodes []domain.Node) error {
	hasStart, hasFinish := false, false

	for i := range nodes {
		node := nodes[i]

		if node.ID == "" {
			return integrityError("", "", ErrDuplicateNodeID, "node %d has empty ID", i)
		}
		if _, exists := g.nodeIndex[node.ID]; exists {
			return integrityError(node.ID, "", ErrDuplicateNodeID, "duplicate node ID")
		}
		if !node.Kind.IsValid() {
			return integrityError(node.ID, "", ErrInvalidConnector, "unknown node kind %q", node.Kind)
		}

		switch node.Kind {
		case domain.NodeKindStart:
			hasStart = true
		case domain.NodeKindFinish:
			hasFinish = true
		}

		g.nodeIndex[node.ID] = len(g.nodes)
		g.nodes = append(g.nodes, &node)
		g.byNode[node.ID] = make(map[domain.ConnectorType][]*domain.Connector)
	}

	if !hasStart {
		return integrityError("", "", ErrMissingStart, "graph must contain at least one Start node")
	}
	if !hasFinish {
		return integrityError("", "", ErrMissingFinish, "graph must contain at least one Finish node")
	}
	return nil
}

// addConnectors индексирует коннекторы по узлам.
func (g *Graph) addConnectors(connectors []domain.Connector) error {
	for i := range connectors {
		c := connectors[i]

		if c.ID == "" {
			return integrityError(c.NodeID, "", ErrDuplicateConnectorID, "connector %d has empty ID", i)
		}
		if _, exists := g.connectors[c.ID]; exists {
			return integrityError(c.NodeID, c.ID, ErrDuplicateConnectorID, "duplicate connector ID")
		}

		node := g.Node(c.NodeID)
		if node == nil {
			return integrityError(c.NodeID, c.ID, ErrDanglingEdge, "connector belongs to unknown node")
		}
		if err := validateConnectorKind(node, &c); err != nil {
			return err
		}

		if c.IsGlobal {
			if _, ok := g.globals[c.GlobalVariableID]; !ok {
				return integrityError(c.NodeID, c.ID, ErrUnknownGlobal,
					"unknown global variable %q", c.GlobalVariableID)
			}
		}

		g.connectors[c.ID] = &c
		g.byNode[c.NodeID][c.Type] = append(g.byNode[c.NodeID][c.Type], &c)
	}

	for nodeID, byType := range g.byNode {
		for t, list := range byType {
			sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
			if t == domain.ConnectorInCondition && len(list) > 1 {
				return integrityError(nodeID, list[1].ID, ErrInvalidConnector,
					"node has more than one InCondition")
			}
		}
	}

	// Узел Condition обязан иметь default case.
	for _, node := range g.nodes {
		if node.Kind != domain.NodeKindCondition {
			continue
		}
		conds := g.byNode[node.ID][domain.ConnectorOutCondition]
		if len(conds) == 0 || !conds[0].IsDefaultCase() {
			return integrityError(node.ID, "", ErrInvalidConnector,
				"condition node must have a default OutCondition with index 0")
		}
	}

	return nil
}

// validateConnectorKind проверяет, что тип коннектора допустим для kind узла.
//
// Start-подобные узлы имеют только выходы и исходящие условия,
// Finish только входы и входящее условие.
func validateConnectorKind(node *domain.Node, c *domain.Connector) error {
	switch c.Type {
	case domain.ConnectorNodeInput, domain.ConnectorNodeOutput,
		domain.ConnectorOutCondition, domain.ConnectorInCondition:
	default:
		return integrityError(node.ID, c.ID, ErrInvalidConnector, "unknown connector type %q", c.Type)
	}

	switch {
	case node.Kind.IsStartLike() && !c.Type.IsSource():
		return integrityError(node.ID, c.ID, ErrInvalidConnector,
			"%s node cannot have %s connector", node.Kind, c.Type)
	case node.Kind == domain.NodeKindFinish && !c.Type.IsTarget():
		return integrityError(node.ID, c.ID, ErrInvalidConnector,
			"%s node cannot have %s connector", node.Kind, c.Type)
	}
	return nil
}

// addEdges проверяет и индексирует рёбра.
func (g *Graph) addEdges(edges []domain.Edge) error {
	for i := range edges {
		e := edges[i]

		src := g.connectors[e.SourceHandle]
		if src == nil || src.NodeID != e.SourceNodeID {
			return integrityError(e.SourceNodeID, e.SourceHandle, ErrDanglingEdge,
				"edge %q source handle not found on source node", e.ID)
		}
		dst := g.connectors[e.TargetHandle]
		if dst == nil || dst.NodeID != e.TargetNodeID {
			return integrityError(e.TargetNodeID, e.TargetHandle, ErrDanglingEdge,
				"edge %q target handle not found on target node", e.ID)
		}

		if !src.Type.IsSource() {
			return integrityError(e.SourceNodeID, e.SourceHandle, ErrInvalidHandle,
				"edge source must be NodeOutput or OutCondition, got %s", src.Type)
		}
		if !dst.Type.IsTarget() {
			return integrityError(e.TargetNodeID, e.TargetHandle, ErrInvalidHandle,
				"edge target must be NodeInput or InCondition, got %s", dst.Type)
		}
		if (src.Type == domain.ConnectorOutCondition) != (dst.Type == domain.ConnectorInCondition) {
			return integrityError(e.TargetNodeID, e.TargetHandle, ErrInvalidHandle,
				"edge connects %s to %s", src.Type, dst.Type)
		}

		if _, exists := g.edgeInto[e.TargetHandle]; exists {
			return integrityError(e.TargetNodeID, e.TargetHandle, ErrFanIn,
				"handle already has an incoming edge")
		}

		g.edgeInto[e.TargetHandle] = &e
		g.edgesFrom[e.SourceHandle] = append(g.edgesFrom[e.SourceHandle], &e)
	}
	return nil
}

// Nodes возвращает узлы в порядке создания.
func (g *Graph) Nodes() []*domain.Node {
	return g.nodes
}

// Node возвращает узел по ID или nil.
func (g *Graph) Node(id string) *domain.Node {
	idx, ok := g.nodeIndex[id]
	if !ok {
		return nil
	}
	return g.nodes[idx]
}

// NodeOrder возвращает порядковый номер создания узла или -1.
func (g *Graph) NodeOrder(id string) int {
	idx, ok := g.nodeIndex[id]
	if !ok {
		return -1
	}
	return idx
}

// Connector возвращает коннектор по ID или nil.
func (g *Graph) Connector(id string) *domain.Connector {
	return g.connectors[id]
}

// ConnectorsOf возвращает коннекторы узла заданного типа, отсортированные по Index.
func (g *Graph) ConnectorsOf(nodeID string, t domain.ConnectorType) []*domain.Connector {
	byType, ok := g.byNode[nodeID]
	if !ok {
		return nil
	}
	return byType[t]
}

// InCondition возвращает входящее условие узла или nil.
func (g *Graph) InCondition(nodeID string) *domain.Connector {
	list := g.ConnectorsOf(nodeID, domain.ConnectorInCondition)
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

// EdgesFrom возвращает рёбра, выходящие из handle.
func (g *Graph) EdgesFrom(handle string) []*domain.Edge {
	return g.edgesFrom[handle]
}

// EdgeInto возвращает единственное ребро, входящее в handle.
func (g *Graph) EdgeInto(handle string) (*domain.Edge, bool) {
	e, ok := g.edgeInto[handle]
	return e, ok
}

// GlobalValue возвращает сохранённое значение глобальной переменной.
func (g *Graph) GlobalValue(globalVariableID string) (any, bool) {
	gv, ok := g.globals[globalVariableID]
	if !ok {
		return nil, false
	}
	return gv.Value, true
}

// StartOutputByName ищет выход Start-узла по имени переменной.
// Используется CLI и batch для сопоставления имён с ID коннекторов.
func (g *Graph) StartOutputByName(name string) *domain.Connector {
	for _, node := range g.nodes {
		if node.Kind != domain.NodeKindStart {
			continue
		}
		for _, c := range g.ConnectorsOf(node.ID, domain.ConnectorNodeOutput) {
			if c.Name == name {
				return c
			}
		}
	}
	return nil
}

// FinishInputs возвращает входы всех Finish-узлов в порядке создания узлов.
func (g *Graph) FinishInputs() []*domain.Connector {
	var result []*domain.Connector
	for _, node := range g.nodes {
		if node.Kind == domain.NodeKindFinish {
			result = append(result, g.ConnectorsOf(node.ID, domain.ConnectorNodeInput)...)
		}
	}
	return result
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.nodes)
}
