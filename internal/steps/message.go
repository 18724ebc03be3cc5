package steps

import (
	"context"
	"fmt"
)

const (
	// TypeChatGPTMessage тип узла, собирающего сообщение чата.
	TypeChatGPTMessage = "ChatGPTMessage"

	configRole = "role"

	inputMessages  = "messages"
	outputMessage  = "message"
	outputMessages = "messages"
)

// Роли сообщений чата.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessageProcessor рендерит сообщение чата и добавляет его к списку.
//
// Конфигурация:
//
//	{"role": "user", "content": "Translate {{text}}"}
//
// Входы используются как переменные шаблона; вход messages (если есть)
// это предыдущие сообщения. Выходы: message и messages.
type ChatMessageProcessor struct{}

// NewChatMessageProcessor создаёт ChatMessageProcessor.
func NewChatMessageProcessor() *ChatMessageProcessor {
	return &ChatMessageProcessor{}
}

// Type возвращает тип узла.
func (p *ChatMessageProcessor) Type() string {
	return TypeChatGPTMessage
}

// Execute формирует сообщение.
func (p *ChatMessageProcessor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	role := GetConfigString(req.Config, configRole)
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
	case "":
		role = RoleUser
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, role)
	}

	tmpl, ok := req.Config[configContent].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a string", ErrInvalidConfig, configContent)
	}

	history, err := messagesFromValue(req.Inputs[inputMessages])
	if err != nil {
		return nil, err
	}

	content, missing := Render(tmpl, req.Inputs)
	message := map[string]any{"role": role, "content": content}

	list := make([]any, 0, len(history)+1)
	for _, m := range history {
		list = append(list, map[string]any{"role": m.Role, "content": m.Content})
	}
	list = append(list, message)

	resp := NewResponse()
	setNamedOutput(resp, req, outputMessage, message)
	setNamedOutput(resp, req, outputMessages, list)
	if len(missing) > 0 {
		resp.Info("unbound variables: %v", missing)
	}
	return resp, nil
}

// chatMessage сообщение в форме {role, content}.
type chatMessage struct {
	Role    string
	Content string
}

// messagesFromValue разбирает список сообщений из значения входа.
// nil означает пустую историю.
func messagesFromValue(v any) ([]chatMessage, error) {
	if v == nil {
		return nil, nil
	}

	items, ok := v.([]any)
	if !ok {
		if m, ok := v.(map[string]any); ok {
			items = []any{m}
		} else {
			return nil, fmt.Errorf("%w: messages must be a list, got %T", ErrInvalidInput, v)
		}
	}

	result := make([]chatMessage, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: message %d is %T", ErrInvalidInput, i, item)
		}
		role, _ := m["role"].(string)
		if role == "" {
			return nil, fmt.Errorf("%w: message %d has no role", ErrInvalidInput, i)
		}
		result = append(result, chatMessage{Role: role, Content: Stringify(m["content"])})
	}
	return result, nil
}

// setNamedOutput пишет выход только при точном совпадении имени;
// у узлов с несколькими выходами fallback на единственный не нужен.
func setNamedOutput(resp *Response, req *Request, name string, value any) {
	for _, p := range req.Outputs {
		if p.Name == name {
			resp.Outputs[p.ID] = value
			return
		}
	}
}
