package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// TypeTextTemplate тип узла шаблона.
	TypeTextTemplate = "TextTemplate"

	configContent = "content"
	outputContent = "content"
)

// placeholder {{name}} с необязательными пробелами внутри скобок.
var placeholder = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// TextTemplateProcessor подставляет входы узла в шаблон.
//
// Конфигурация:
//
//	{"content": "{{greeting}} world"}
//
// Плейсхолдеры связываются с входами по имени коннектора. Неизвестное
// имя заменяется пустой строкой, как в mustache.
type TextTemplateProcessor struct{}

// NewTextTemplateProcessor создаёт TextTemplateProcessor.
func NewTextTemplateProcessor() *TextTemplateProcessor {
	return &TextTemplateProcessor{}
}

// Type возвращает тип узла.
func (p *TextTemplateProcessor) Type() string {
	return TypeTextTemplate
}

// Execute рендерит шаблон в выход content.
func (p *TextTemplateProcessor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	tmpl, ok := req.Config[configContent].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a string", ErrInvalidConfig, configContent)
	}

	rendered, missing := Render(tmpl, req.Inputs)

	resp := NewResponse()
	resp.SetOutput(req, outputContent, rendered)
	if len(missing) > 0 {
		resp.Info("unbound variables: %s", strings.Join(missing, ", "))
	}
	return resp, nil
}

// Render подставляет значения в {{name}} плейсхолдеры.
// Возвращает результат и имена, для которых значения не нашлось.
func Render(tmpl string, vars map[string]any) (string, []string) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	var missing []string
	seen := make(map[string]bool)

	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
			return ""
		}
		return Stringify(v)
	})
	return out, missing
}

// Stringify переводит значение в текст: строки как есть,
// nil в пустую строку, остальное в JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
