package engine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// toCty переводит значение из Variable Store в cty.Value.
//
// Значения приходят из JSON/YAML и процессоров, поэтому gocty.ImpliedType
// не справляется с map[string]any и []any; их разбираем сами.
func toCty(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return val, nil
	case string:
		return cty.StringVal(val), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int32:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case uint64:
		return cty.NumberUIntVal(val), nil
	case float32:
		return toCty(float64(val))
	case float64:
		if math.IsNaN(val) {
			return cty.NilVal, ErrNotANumber
		}
		return cty.NumberFloatVal(val), nil
	case json.Number:
		return cty.ParseNumberVal(val.String())
	case []string:
		elems := make([]any, len(val))
		for i, s := range val {
			elems[i] = s
		}
		return toCty(elems)
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(val))
		for i, e := range val {
			ev, err := toCty(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, ev)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, e := range val {
			ev, err := toCty(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("attribute %q: %w", k, err)
			}
			attrs[k] = ev
		}
		return cty.ObjectVal(attrs), nil
	default:
		ty, err := gocty.ImpliedType(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("unable to infer cty type for %T: %w", v, err)
		}
		return gocty.ToCtyValue(v, ty)
	}
}

// buildVariables собирает переменные выражения по именам коннекторов.
// Имена, не являющиеся идентификаторами HCL, пропускаются.
func buildVariables(named map[string]any) (map[string]cty.Value, error) {
	vars := make(map[string]cty.Value, len(named))
	for name, v := range named {
		if !hclsyntax.ValidIdentifier(name) {
			continue
		}
		cv, err := toCty(v)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		vars[name] = cv
	}
	return vars, nil
}
