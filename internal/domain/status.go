package domain

// NodeKind класс узла.
type NodeKind string

const (
	NodeKindStart           NodeKind = "Start"
	NodeKindProcess         NodeKind = "Process"
	NodeKindFinish          NodeKind = "Finish"
	NodeKindCondition       NodeKind = "Condition"
	NodeKindSubroutine      NodeKind = "Subroutine"
	NodeKindSubroutineStart NodeKind = "SubroutineStart"
)

// IsValid проверяет, что kind известен.
func (k NodeKind) IsValid() bool {
	switch k {
	case NodeKindStart, NodeKindProcess, NodeKindFinish,
		NodeKindCondition, NodeKindSubroutine, NodeKindSubroutineStart:
		return true
	default:
		return false
	}
}

// IsStartLike возвращает true для узлов, чьи выходы берутся из запроса run.
func (k NodeKind) IsStartLike() bool {
	return k == NodeKindStart || k == NodeKindSubroutineStart
}

// ConnectorType вариант коннектора.
type ConnectorType string

const (
	ConnectorNodeInput    ConnectorType = "NodeInput"
	ConnectorNodeOutput   ConnectorType = "NodeOutput"
	ConnectorOutCondition ConnectorType = "OutCondition"
	ConnectorInCondition  ConnectorType = "InCondition"
)

// IsSource возвращает true для коннекторов, из которых могут выходить рёбра.
func (t ConnectorType) IsSource() bool {
	return t == ConnectorNodeOutput || t == ConnectorOutCondition
}

// IsTarget возвращает true для коннекторов, в которые могут входить рёбра.
func (t ConnectorType) IsTarget() bool {
	return t == ConnectorNodeInput || t == ConnectorInCondition
}

// ValueType тип значения коннектора.
type ValueType string

const (
	ValueTypeStructured ValueType = "Structured"
	ValueTypeString     ValueType = "String"
	ValueTypeAny        ValueType = "Any"
	ValueTypeAudio      ValueType = "Audio"
)

// RunStatus статус одного run.
//
// Жизненный цикл:
//
//	IDLE → SEEDING → EXECUTING → COMPLETED
//	                           ↘ FAILED (нарушение протокола процессором)
//	       (из любого нетерминального) → CANCELLED
type RunStatus string

const (
	RunStatusIdle      RunStatus = "IDLE"
	RunStatusSeeding   RunStatus = "SEEDING"
	RunStatusExecuting RunStatus = "EXECUTING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus состояние узла внутри run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "PENDING"
	NodeStatusRunning   NodeStatus = "RUNNING"
	NodeStatusSucceeded NodeStatus = "SUCCEEDED"
	NodeStatusFailed    NodeStatus = "FAILED"
	NodeStatusSkipped   NodeStatus = "SKIPPED"

	// NodeStatusCancelled узел был запущен, но run отменили;
	// его результат отброшен.
	NodeStatusCancelled NodeStatus = "CANCELLED"
)

// IsSettled возвращает true, если узел больше не изменит выходы.
func (s NodeStatus) IsSettled() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// SkipReason причина пропуска узла.
type SkipReason string

const (
	// SkipReasonConditionNotMatched входящее условие не совпало
	// или так и не было вычислено.
	SkipReasonConditionNotMatched SkipReason = "conditionNotMatched"

	// SkipReasonUpstreamUnresolved хотя бы один вход никогда не получит значение.
	SkipReasonUpstreamUnresolved SkipReason = "upstreamUnresolved"
)
