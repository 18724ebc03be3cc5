package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
)

// Ошибки процессоров.
var (
	// ErrProcessorNotFound тип узла не зарегистрирован.
	ErrProcessorNotFound = errors.New("processor type not found")

	// ErrInvalidConfig невалидная конфигурация узла.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrInvalidInput вход узла имеет неподходящий тип.
	ErrInvalidInput = errors.New("invalid node input")

	// ErrCancelled выполнение прервано через context.
	ErrCancelled = errors.New("processor execution cancelled")
)

// Processor реализация одного типа узла.
//
// Процессор получает конфигурацию и разрешённые входы и возвращает значения
// выходов. Движок не знает, что процессор делает внутри.
type Processor interface {
	// Type возвращает идентификатор типа узла, например "TextTemplate".
	Type() string

	// Execute выполняет узел. Ошибка делает узел hasError,
	// но не прерывает run.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Port коннектор узла, видимый процессору.
type Port struct {
	ID   string
	Name string
}

// Request входные данные процессора.
type Request struct {
	NodeID string

	// Config конфигурация узла из FlowSpec.
	Config map[string]any

	// Inputs разрешённые входы по имени коннектора.
	Inputs map[string]any

	// Outputs объявленные выходы узла в порядке Index.
	Outputs []Port

	// Conditions объявленные OutCondition узла в порядке Index.
	Conditions []Port
}

// OutputID возвращает ID выхода по имени. Если имя не найдено, а выход
// единственный, возвращается он.
func (r *Request) OutputID(name string) (string, bool) {
	for _, p := range r.Outputs {
		if p.Name == name {
			return p.ID, true
		}
	}
	if len(r.Outputs) == 1 {
		return r.Outputs[0].ID, true
	}
	return "", false
}

// Input возвращает значение входа по имени.
func (r *Request) Input(name string) (any, bool) {
	v, ok := r.Inputs[name]
	return v, ok
}

// Response результат процессора.
type Response struct {
	// Outputs значения выходов по ID коннектора.
	Outputs map[string]any

	// Conditions результаты OutCondition по ID, если процессор
	// выбирает ветку сам.
	Conditions map[string]bool

	// Messages журнал выполнения узла.
	Messages []domain.NodeExecutionMessage
}

// NewResponse создаёт пустой Response.
func NewResponse() *Response {
	return &Response{Outputs: make(map[string]any)}
}

// SetOutput записывает значение выхода по имени, если такой выход объявлен.
func (resp *Response) SetOutput(req *Request, name string, value any) {
	if id, ok := req.OutputID(name); ok {
		resp.Outputs[id] = value
	}
}

// Info добавляет Info сообщение.
func (resp *Response) Info(format string, args ...any) {
	resp.Messages = append(resp.Messages, domain.InfoMessage(fmt.Sprintf(format, args...)))
}

// checkContext возвращает ErrCancelled, если ctx уже отменён.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	default:
		return nil
	}
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigFloat извлекает число из конфига.
func GetConfigFloat(config map[string]any, key string) (float64, bool) {
	v, ok := config[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// GetConfigStrings извлекает список строк из конфига.
func GetConfigStrings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
