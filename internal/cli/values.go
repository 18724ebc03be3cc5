package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
)

var (
	// ErrBadAssignment аргумент не в формате KEY=VALUE.
	ErrBadAssignment = errors.New("expected KEY=VALUE")

	// ErrUnknownInput имя не соответствует ни одному выходу Start-узла.
	ErrUnknownInput = errors.New("unknown start variable")

	// ErrUnknownColumn колонка CSV не найдена.
	ErrUnknownColumn = errors.New("unknown column")
)

// parseAssignments разбирает список KEY=VALUE.
func parseAssignments(pairs []string) (map[string]string, error) {
	result := make(map[string]string, len(pairs))
	for _, p := range pairs {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadAssignment, p)
		}
		result[parts[0]] = parts[1]
	}
	return result, nil
}

// parseValue читает значение как JSON (числа, true/false, объекты),
// иначе оставляет строкой.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// startConnector находит выход Start-узла по имени переменной или ID коннектора.
func startConnector(g *engine.Graph, key string) (*domain.Connector, error) {
	if c := g.StartOutputByName(key); c != nil {
		return c, nil
	}
	if c := g.Connector(key); c != nil && c.Type == domain.ConnectorNodeOutput {
		if node := g.Node(c.NodeID); node != nil && node.Kind == domain.NodeKindStart {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownInput, key)
}

// resolveInputs переводит name=value в connectorID → value.
func resolveInputs(g *engine.Graph, pairs []string) (map[string]any, error) {
	assignments, err := parseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	inputs := make(map[string]any, len(assignments))
	for key, raw := range assignments {
		c, err := startConnector(g, key)
		if err != nil {
			return nil, err
		}
		inputs[c.ID] = parseValue(raw)
	}
	return inputs, nil
}

// resolveGlobals переводит id=value в globalVariableID → value.
// Проверку существования переменной выполняет Coordinator.
func resolveGlobals(pairs []string) (map[string]any, error) {
	assignments, err := parseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	globals := make(map[string]any, len(assignments))
	for id, raw := range assignments {
		globals[id] = parseValue(raw)
	}
	return globals, nil
}

// resolveColumns переводит name=column в connectorID → индекс колонки.
// column либо номер колонки (с нуля), либо имя из заголовка CSV.
func resolveColumns(g *engine.Graph, pairs []string, header []string) (map[string]int, error) {
	assignments, err := parseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	columns := make(map[string]int, len(assignments))
	for key, column := range assignments {
		c, err := startConnector(g, key)
		if err != nil {
			return nil, err
		}
		idx, err := columnIndex(column, header)
		if err != nil {
			return nil, err
		}
		columns[c.ID] = idx
	}
	return columns, nil
}

func columnIndex(column string, header []string) (int, error) {
	for i, h := range header {
		if h == column {
			return i, nil
		}
	}
	idx, err := strconv.Atoi(column)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	return idx, nil
}

// formatValue приводит значение к строке для таблиц и CSV.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// outputColumn заголовок колонки для входа Finish-узла.
func outputColumn(c *domain.Connector) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
