// Package enginetest помогает собирать FlowSpec в тестах.
//
// ID коннекторов строятся из ID узла, поэтому тесты могут ссылаться
// на них без промежуточных переменных:
//
//	nodeID/in/name, nodeID/out/name, nodeID/cond/index, nodeID/gate
package enginetest

import (
	"fmt"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// Builder накапливает узлы, коннекторы и рёбра.
type Builder struct {
	spec    domain.FlowSpec
	indexes map[string]int
}

// NewBuilder создаёт пустой Builder.
func NewBuilder() *Builder {
	return &Builder{indexes: make(map[string]int)}
}

// InputID возвращает ID входа узла.
func InputID(nodeID, name string) string { return nodeID + "/in/" + name }

// OutputID возвращает ID выхода узла.
func OutputID(nodeID, name string) string { return nodeID + "/out/" + name }

// ConditionID возвращает ID OutCondition узла.
func ConditionID(nodeID string, index int) string { return fmt.Sprintf("%s/cond/%d", nodeID, index) }

// GateID возвращает ID InCondition узла.
func GateID(nodeID string) string { return nodeID + "/gate" }

// Node добавляет узел.
func (b *Builder) Node(id string, kind domain.NodeKind, typ string, config map[string]any) *Builder {
	b.spec.Nodes = append(b.spec.Nodes, domain.Node{ID: id, Kind: kind, Type: typ, Config: config})
	return b
}

// Start добавляет Start-узел с выходами.
func (b *Builder) Start(id string, outputs ...string) *Builder {
	b.Node(id, domain.NodeKindStart, "InputNode", nil)
	for _, name := range outputs {
		b.Output(id, name)
	}
	return b
}

// Finish добавляет Finish-узел со входами.
func (b *Builder) Finish(id string, inputs ...string) *Builder {
	b.Node(id, domain.NodeKindFinish, "OutputNode", nil)
	for _, name := range inputs {
		b.Input(id, name)
	}
	return b
}

// Process добавляет узел Process с входами и выходами.
func (b *Builder) Process(id, typ string, config map[string]any, inputs, outputs []string) *Builder {
	b.Node(id, domain.NodeKindProcess, typ, config)
	for _, name := range inputs {
		b.Input(id, name)
	}
	for _, name := range outputs {
		b.Output(id, name)
	}
	return b
}

// Input добавляет NodeInput.
func (b *Builder) Input(nodeID, name string) *Builder {
	return b.connector(domain.Connector{
		ID: InputID(nodeID, name), NodeID: nodeID, Type: domain.ConnectorNodeInput,
		Name: name, ValueType: domain.ValueTypeAny,
	})
}

// Output добавляет NodeOutput.
func (b *Builder) Output(nodeID, name string) *Builder {
	return b.connector(domain.Connector{
		ID: OutputID(nodeID, name), NodeID: nodeID, Type: domain.ConnectorNodeOutput,
		Name: name, ValueType: domain.ValueTypeString,
	})
}

// Default задаёт значение по умолчанию для выхода Start-узла.
func (b *Builder) Default(connectorID string, value any) *Builder {
	for i := range b.spec.Connectors {
		if b.spec.Connectors[i].ID == connectorID {
			b.spec.Connectors[i].DefaultValue = value
		}
	}
	return b
}

// GlobalInput добавляет вход, связанный с глобальной переменной.
func (b *Builder) GlobalInput(nodeID, name, globalID string) *Builder {
	return b.connector(domain.Connector{
		ID: InputID(nodeID, name), NodeID: nodeID, Type: domain.ConnectorNodeInput,
		Name: name, ValueType: domain.ValueTypeAny, IsGlobal: true, GlobalVariableID: globalID,
	})
}

// GlobalOutput добавляет выход, записывающий глобальную переменную.
func (b *Builder) GlobalOutput(nodeID, name, globalID string) *Builder {
	return b.connector(domain.Connector{
		ID: OutputID(nodeID, name), NodeID: nodeID, Type: domain.ConnectorNodeOutput,
		Name: name, ValueType: domain.ValueTypeString, IsGlobal: true, GlobalVariableID: globalID,
	})
}

// Global добавляет глобальную переменную.
func (b *Builder) Global(id, name string, value any) *Builder {
	b.spec.Globals = append(b.spec.Globals, domain.GlobalVariable{ID: id, Name: name, Value: value})
	return b
}

// Condition добавляет OutCondition с индексом index; индекс 0 это default case.
func (b *Builder) Condition(nodeID string, index int, expression string) *Builder {
	return b.connector(domain.Connector{
		ID: ConditionID(nodeID, index), NodeID: nodeID, Type: domain.ConnectorOutCondition,
		Index: index, ExpressionString: expression,
	})
}

// Gate добавляет InCondition.
func (b *Builder) Gate(nodeID string) *Builder {
	return b.connector(domain.Connector{
		ID: GateID(nodeID), NodeID: nodeID, Type: domain.ConnectorInCondition,
	})
}

// Connect добавляет ребро между двумя коннекторами.
func (b *Builder) Connect(sourceHandle, targetHandle string) *Builder {
	src := b.find(sourceHandle)
	dst := b.find(targetHandle)
	b.spec.Edges = append(b.spec.Edges, domain.Edge{
		ID:           fmt.Sprintf("e%d", len(b.spec.Edges)+1),
		SourceNodeID: src.NodeID,
		SourceHandle: sourceHandle,
		TargetNodeID: dst.NodeID,
		TargetHandle: targetHandle,
	})
	return b
}

// Spec возвращает собранный FlowSpec.
func (b *Builder) Spec() *domain.FlowSpec {
	spec := b.spec
	return &spec
}

func (b *Builder) connector(c domain.Connector) *Builder {
	if c.Type != domain.ConnectorOutCondition {
		key := c.NodeID + "/" + string(c.Type)
		c.Index = b.indexes[key]
		b.indexes[key]++
	}
	b.spec.Connectors = append(b.spec.Connectors, c)
	return b
}

func (b *Builder) find(id string) domain.Connector {
	for _, c := range b.spec.Connectors {
		if c.ID == id {
			return c
		}
	}
	// Неизвестный handle оставляем как есть: так тесты проверяют dangling edges.
	return domain.Connector{ID: id}
}
