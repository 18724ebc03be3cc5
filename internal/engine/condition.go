package engine

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// ConfigStopAtTheFirstMatch ключ конфигурации узла с условиями.
const ConfigStopAtTheFirstMatch = "stopAtTheFirstMatch"

// Condition разобранный OutCondition.
type Condition struct {
	ID         string
	Index      int
	Default    bool
	Expression string

	// expr nil для default case и пустых выражений; такое условие не совпадает.
	expr hclsyntax.Expression
}

// ConditionSet упорядоченные OutCondition одного узла.
type ConditionSet struct {
	NodeID           string
	StopAtFirstMatch bool
	Conditions       []*Condition
}

// NewConditionSet разбирает выражения OutCondition узла.
// Синтаксическая ошибка возвращается как GraphIntegrityError.
func NewConditionSet(node *domain.Node, conds []*domain.Connector) (*ConditionSet, error) {
	set := &ConditionSet{
		NodeID:           node.ID,
		StopAtFirstMatch: configBool(node.Config, ConfigStopAtTheFirstMatch, true),
		Conditions:       make([]*Condition, 0, len(conds)),
	}

	for _, c := range conds {
		cond := &Condition{
			ID:         c.ID,
			Index:      c.Index,
			Default:    c.IsDefaultCase(),
			Expression: c.ExpressionString,
		}
		if !cond.Default && c.ExpressionString != "" {
			expr, diags := hclsyntax.ParseExpression([]byte(c.ExpressionString), c.ID, hcl.InitialPos)
			if diags.HasErrors() {
				return nil, integrityError(node.ID, c.ID, ErrInvalidExpression, "%s", diags.Error())
			}
			cond.expr = expr
		}
		set.Conditions = append(set.Conditions, cond)
	}

	return set, nil
}

// Evaluate вычисляет условия в порядке Index над переменными узла.
//
// При StopAtFirstMatch первое совпавшее условие выигрывает, остальные
// помечаются несовпавшими без вычисления. Иначе вычисляются все.
// Default case совпадает тогда и только тогда, когда не совпало ни одно
// другое условие.
//
// Паника при переводе значений или вычислении выражения возвращается
// как ошибка ErrConditionEval.
func (s *ConditionSet) Evaluate(named map[string]any) (results map[string]bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("%w: node %s: panic: %v", ErrConditionEval, s.NodeID, r)
		}
	}()

	vars, err := buildVariables(named)
	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %w", ErrConditionEval, s.NodeID, err)
	}
	ctx := &hcl.EvalContext{Variables: vars}

	return s.resolve(func(c *Condition) (bool, error) {
		return c.eval(ctx)
	})
}

// Normalize приводит результаты условий, которые вернул процессор,
// к тем же правилам: отсутствующие равны false, default пересчитывается.
func (s *ConditionSet) Normalize(results map[string]bool) map[string]bool {
	out, _ := s.resolve(func(c *Condition) (bool, error) {
		return results[c.ID], nil
	})
	return out
}

func (s *ConditionSet) resolve(match func(c *Condition) (bool, error)) (map[string]bool, error) {
	results := make(map[string]bool, len(s.Conditions))
	matchedAny := false

	for _, c := range s.Conditions {
		if c.Default {
			continue
		}
		if s.StopAtFirstMatch && matchedAny {
			results[c.ID] = false
			continue
		}
		ok, err := match(c)
		if err != nil {
			return nil, err
		}
		results[c.ID] = ok
		matchedAny = matchedAny || ok
	}

	for _, c := range s.Conditions {
		if c.Default {
			results[c.ID] = !matchedAny
		}
	}
	return results, nil
}

func (c *Condition) eval(ctx *hcl.EvalContext) (bool, error) {
	if c.expr == nil {
		return false, nil
	}

	val, diags := c.expr.Value(ctx)
	if diags.HasErrors() {
		return false, fmt.Errorf("%w: %s: %s", ErrConditionEval, c.Expression, diags.Error())
	}
	if val.IsNull() || !val.IsKnown() {
		return false, nil
	}

	b, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("%w: %s: result is %s, not bool", ErrConditionEval,
			c.Expression, val.Type().FriendlyName())
	}
	if b.IsNull() {
		return false, nil
	}
	return b.True(), nil
}

// configBool читает bool из конфигурации узла.
func configBool(cfg map[string]any, key string, def bool) bool {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
