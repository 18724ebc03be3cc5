package steps

import "context"

// TypeCondition тип узла ветвления.
const TypeCondition = "Condition"

// ConditionProcessor пропускает входы на одноимённые выходы.
//
// Выбор ветки делает движок по выражениям OutCondition и флагу
// stopAtTheFirstMatch, поэтому процессор условия не возвращает.
type ConditionProcessor struct{}

// NewConditionProcessor создаёт ConditionProcessor.
func NewConditionProcessor() *ConditionProcessor {
	return &ConditionProcessor{}
}

// Type возвращает тип узла.
func (p *ConditionProcessor) Type() string {
	return TypeCondition
}

// Execute копирует входы в выходы с тем же именем.
func (p *ConditionProcessor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	resp := NewResponse()
	for _, out := range req.Outputs {
		if v, ok := req.Inputs[out.Name]; ok {
			resp.Outputs[out.ID] = v
		}
	}
	return resp, nil
}
