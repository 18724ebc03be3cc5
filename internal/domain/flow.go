package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow хранит граф, созданный пользователем в редакторе.
//
// Движок получает уже десериализованный FlowSpec и не читает хранилище сам;
// Flow нужен адаптерам (repo, evaluation), которые загружают граф.
type Flow struct {
	// ID уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// Name человекочитаемое имя flow.
	Name string `json:"name"`

	// Content граф узлов, коннекторов и рёбер.
	Content FlowSpec `json:"content"`

	// UpdatedAt время последнего изменения графа.
	UpdatedAt time.Time `json:"updated_at"`
}

// FlowSpec описывает граф целиком.
//
// Порядок Nodes задаёт порядок создания узлов; он используется
// как tie-break при топологической сортировке.
type FlowSpec struct {
	Nodes      []Node           `json:"nodes" yaml:"nodes"`
	Connectors []Connector      `json:"connectors" yaml:"connectors"`
	Edges      []Edge           `json:"edges" yaml:"edges"`
	Globals    []GlobalVariable `json:"globals,omitempty" yaml:"globals,omitempty"`
}

// Node описывает вершину графа.
type Node struct {
	// ID уникален в пределах графа.
	ID string `json:"id" yaml:"id"`

	// Kind определяет, какие коннекторы допустимы на узле.
	Kind NodeKind `json:"kind" yaml:"kind"`

	// Type идентификатор процессора, например "TextTemplate".
	Type string `json:"type" yaml:"type"`

	// Config конфигурация процессора; движок её не интерпретирует,
	// кроме stopAtTheFirstMatch у узлов Condition.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Connector точка подключения на узле.
type Connector struct {
	// ID глобально уникален и принадлежит ровно одному узлу.
	ID string `json:"id" yaml:"id"`

	// NodeID узел-владелец.
	NodeID string `json:"nodeId" yaml:"nodeId"`

	Type ConnectorType `json:"type" yaml:"type"`

	// Index задаёт стабильный порядок среди коннекторов одного типа на узле.
	// Для OutCondition индекс 0 зарезервирован под default case.
	Index int `json:"index" yaml:"index"`

	// Name имя переменной; по нему процессоры и выражения условий
	// обращаются к значениям.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	ValueType ValueType `json:"valueType,omitempty" yaml:"valueType,omitempty"`

	// IsGlobal и GlobalVariableID привязывают коннектор к глобальной переменной.
	IsGlobal         bool   `json:"isGlobal,omitempty" yaml:"isGlobal,omitempty"`
	GlobalVariableID string `json:"globalVariableId,omitempty" yaml:"globalVariableId,omitempty"`

	// DefaultValue значение выхода Start-узла, если run не передал своё.
	DefaultValue any `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`

	// ExpressionString выражение OutCondition, например "x > 5".
	ExpressionString string `json:"expressionString,omitempty" yaml:"expressionString,omitempty"`
}

// IsDefaultCase возвращает true для OutCondition с индексом 0.
func (c *Connector) IsDefaultCase() bool {
	return c.Type == ConnectorOutCondition && c.Index == 0
}

// Edge направленная связь (SourceNodeID, SourceHandle) → (TargetNodeID, TargetHandle).
// Handles являются ID коннекторов.
type Edge struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	SourceNodeID string `json:"source" yaml:"source"`
	SourceHandle string `json:"sourceHandle" yaml:"sourceHandle"`
	TargetNodeID string `json:"target" yaml:"target"`
	TargetHandle string `json:"targetHandle" yaml:"targetHandle"`
}

// GlobalVariable значение уровня workspace, не зависящее от топологии графа.
type GlobalVariable struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}
