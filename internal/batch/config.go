package batch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
)

var validate = validator.New()

// Config параметры batch.
type Config struct {
	// RepeatTimes сколько раз выполнить каждую строку.
	RepeatTimes int `json:"repeatTimes" yaml:"repeatTimes" validate:"min=1"`

	// ConcurrencyLimit максимум одновременно выполняющихся run и
	// одновременных вызовов процессоров во всём batch.
	ConcurrencyLimit int `json:"concurrencyLimit" yaml:"concurrencyLimit" validate:"min=1"`

	// VariableIDToColumnIndex выход Start-узла → индекс колонки строки.
	VariableIDToColumnIndex map[string]int `json:"variableIdToColumnIndex" yaml:"variableIdToColumnIndex" validate:"dive,min=0"`
}

// Validate проверяет поля и сопоставление колонок с графом.
func (c Config) Validate(g *engine.Graph) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for id := range c.VariableIDToColumnIndex {
		conn := g.Connector(id)
		if conn == nil || conn.Type != domain.ConnectorNodeOutput || !g.Node(conn.NodeID).Kind.IsStartLike() {
			return fmt.Errorf("%w: %s", ErrUnknownVariable, id)
		}
	}
	return nil
}

// minColumns возвращает минимальное число колонок в строке.
func (c Config) minColumns() int {
	n := 0
	for _, idx := range c.VariableIDToColumnIndex {
		if idx+1 > n {
			n = idx + 1
		}
	}
	return n
}

// inputs строит RunRequest.Inputs из строки.
func (c Config) inputs(row []string) map[string]any {
	result := make(map[string]any, len(c.VariableIDToColumnIndex))
	for id, idx := range c.VariableIDToColumnIndex {
		result[id] = row[idx]
	}
	return result
}
