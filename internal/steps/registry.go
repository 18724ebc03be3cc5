package steps

import (
	"fmt"
	"sort"
	"sync"
)

// Registry таблица процессоров по типу узла.
//
// Собирается при старте и дальше только читается. Потокобезопасен.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]Processor),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными процессорами.
// completion может быть nil, тогда ChatGPTChatCompletion не регистрируется.
func DefaultRegistry(completion *ChatCompletionProcessor) *Registry {
	r := NewRegistry()

	r.Register(NewTextTemplateProcessor())
	r.Register(NewChatMessageProcessor())
	r.Register(NewConditionProcessor())
	if completion != nil {
		r.Register(completion)
	}

	return r
}

// Register регистрирует процессор. Процессор того же типа перезаписывается.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.Type()] = p
}

// Get возвращает процессор по типу узла.
func (r *Registry) Get(nodeType string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.processors[nodeType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProcessorNotFound, nodeType)
	}
	return p, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.processors[nodeType]
	return exists
}

// Types возвращает отсортированный список типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
