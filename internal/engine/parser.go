package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// ErrUnsupportedFormat расширение файла flow не поддерживается.
var ErrUnsupportedFormat = errors.New("unsupported flow file format")

// ParseSpec разбирает FlowSpec из JSON или YAML.
//
// JSON определяется по первому непробельному символу '{'.
// Неизвестные поля JSON считаются ошибкой.
func ParseSpec(data []byte) (*domain.FlowSpec, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("parse flow: empty document")
	}

	var spec domain.FlowSpec
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("parse flow json: %w", err)
		}
		return &spec, nil
	}

	if err := yaml.Unmarshal(trimmed, &spec); err != nil {
		return nil, fmt.Errorf("parse flow yaml: %w", err)
	}
	normalizeYAML(&spec)
	return &spec, nil
}

// LoadSpecFile читает FlowSpec из файла .json, .yaml или .yml.
func LoadSpecFile(path string) (*domain.FlowSpec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return ParseSpec(data)
}

// LoadPlanFile читает и компилирует flow из файла.
func LoadPlanFile(path string) (*Plan, error) {
	spec, err := LoadSpecFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(spec)
}

// normalizeYAML приводит map[string]interface{} из yaml.v3 к тем же
// типам, что даёт encoding/json, чтобы процессоры видели одинаковые значения.
func normalizeYAML(spec *domain.FlowSpec) {
	for i := range spec.Nodes {
		if spec.Nodes[i].Config != nil {
			spec.Nodes[i].Config = normalizeValue(spec.Nodes[i].Config).(map[string]any)
		}
	}
	for i := range spec.Connectors {
		spec.Connectors[i].DefaultValue = normalizeValue(spec.Connectors[i].DefaultValue)
	}
	for i := range spec.Globals {
		spec.Globals[i].Value = normalizeValue(spec.Globals[i].Value)
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeValue(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case int:
		return float64(val)
	default:
		return v
	}
}
