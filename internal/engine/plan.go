package engine

import (
	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// Plan скомпилированный граф: модель, зависимости и разобранные условия.
//
// Plan строится один раз на граф и только читается, поэтому его можно
// разделять между любым количеством одновременных run.
type Plan struct {
	Graph *Graph
	DAG   *DAG

	conditions map[string]*ConditionSet
}

// Compile проверяет FlowSpec и строит Plan.
// Все ошибки структурные: GraphIntegrityError или CyclicGraphError.
func Compile(spec *domain.FlowSpec) (*Plan, error) {
	g, err := NewGraph(spec)
	if err != nil {
		return nil, err
	}

	dag, err := BuildDAG(g)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Graph:      g,
		DAG:        dag,
		conditions: make(map[string]*ConditionSet),
	}

	for _, node := range g.Nodes() {
		conds := g.ConnectorsOf(node.ID, domain.ConnectorOutCondition)
		if len(conds) == 0 {
			continue
		}
		set, err := NewConditionSet(node, conds)
		if err != nil {
			return nil, err
		}
		plan.conditions[node.ID] = set
	}

	return plan, nil
}

// Conditions возвращает условия узла или nil, если у узла нет OutCondition.
func (p *Plan) Conditions(nodeID string) *ConditionSet {
	return p.conditions[nodeID]
}

// NewStore создаёт пустой Variable Store для нового run.
func (p *Plan) NewStore() *VariableStore {
	return NewVariableStore(p.Graph)
}
