package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const (
	// TypeChatGPTChatCompletion тип узла, вызывающего chat completion API.
	TypeChatGPTChatCompletion = "ChatGPTChatCompletion"

	configModel              = "model"
	configTemperature        = "temperature"
	configSeed               = "seed"
	configResponseFormatType = "responseFormatType"
	configStop               = "stop"

	inputPrompt = "prompt"

	responseFormatJSONObject = "json_object"

	// DefaultChatModel модель, если ни узел, ни конфигурация её не задали.
	DefaultChatModel = "gpt-4o-mini"
)

// ErrEmptyCompletion API вернул ответ без вариантов.
var ErrEmptyCompletion = errors.New("chat completion returned no choices")

// ChatCompletionConfig параметры клиента OpenAI.
type ChatCompletionConfig struct {
	APIKey string

	// BaseURL переопределяет адрес API (прокси, совместимые сервера, тесты).
	BaseURL string

	// Model модель по умолчанию.
	Model string
}

// ChatCompletionProcessor вызывает OpenAI chat completion.
//
// Конфигурация узла:
//
//	{
//	    "model": "gpt-4o-mini",
//	    "temperature": 0.7,
//	    "seed": 42,
//	    "responseFormatType": "json_object",
//	    "stop": ["\n\n"]
//	}
//
// Входы: messages (список {role, content}) или prompt (строка).
// Выходы: content, message, messages.
//
// Повторы при ошибках API не выполняются: ошибка помечает узел hasError.
type ChatCompletionProcessor struct {
	client *openai.Client
	model  string
}

// NewChatCompletionProcessor создаёт процессор с клиентом OpenAI.
func NewChatCompletionProcessor(cfg ChatCompletionConfig) *ChatCompletionProcessor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}

	return &ChatCompletionProcessor{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Type возвращает тип узла.
func (p *ChatCompletionProcessor) Type() string {
	return TypeChatGPTChatCompletion
}

// Execute отправляет запрос и возвращает ответ ассистента.
func (p *ChatCompletionProcessor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	history, err := p.history(req)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: either messages or prompt is required", ErrInvalidInput)
	}

	apiReq, err := p.buildRequest(req.Config, history)
	if err != nil {
		return nil, err
	}

	apiResp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	answer := apiResp.Choices[0].Message
	message := map[string]any{"role": RoleAssistant, "content": answer.Content}

	list := make([]any, 0, len(history)+1)
	for _, m := range history {
		list = append(list, map[string]any{"role": m.Role, "content": m.Content})
	}
	list = append(list, message)

	resp := NewResponse()
	setNamedOutput(resp, req, outputContent, answer.Content)
	setNamedOutput(resp, req, outputMessage, message)
	setNamedOutput(resp, req, outputMessages, list)
	resp.Info("model=%s prompt_tokens=%d completion_tokens=%d total_tokens=%d",
		apiResp.Model, apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens, apiResp.Usage.TotalTokens)

	return resp, nil
}

// history собирает сообщения из входов messages и prompt.
// prompt добавляется последним сообщением пользователя.
func (p *ChatCompletionProcessor) history(req *Request) ([]chatMessage, error) {
	history, err := messagesFromValue(req.Inputs[inputMessages])
	if err != nil {
		return nil, err
	}

	if v, ok := req.Inputs[inputPrompt]; ok && v != nil {
		history = append(history, chatMessage{Role: RoleUser, Content: Stringify(v)})
	}
	return history, nil
}

// buildRequest переводит конфигурацию узла в запрос API.
func (p *ChatCompletionProcessor) buildRequest(cfg map[string]any, history []chatMessage) (openai.ChatCompletionRequest, error) {
	model := GetConfigString(cfg, configModel)
	if model == "" {
		model = p.model
	}

	apiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(history)),
		Stop:     GetConfigStrings(cfg, configStop),
	}
	for _, m := range history {
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	if t, ok := GetConfigFloat(cfg, configTemperature); ok {
		apiReq.Temperature = float32(t)
	}
	if s, ok := GetConfigFloat(cfg, configSeed); ok {
		seed := int(s)
		apiReq.Seed = &seed
	}

	switch format := GetConfigString(cfg, configResponseFormatType); format {
	case "", "text":
	case responseFormatJSONObject:
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	default:
		return apiReq, fmt.Errorf("%w: unknown responseFormatType %q", ErrInvalidConfig, format)
	}

	return apiReq, nil
}
