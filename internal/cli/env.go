package cli

import (
	"log/slog"

	"github.com/d6u/PromptPlay-sub006/internal/config"
	"github.com/d6u/PromptPlay-sub006/internal/steps"
	"github.com/d6u/PromptPlay-sub006/internal/telemetry"
)

// Env общее окружение команд, создаётся после парсинга флагов.
type Env struct {
	Config config.Config
	Logger *slog.Logger
}

// LoadEnv читает конфигурацию (файл и переменные окружения) и
// настраивает логгер CLI.
func LoadEnv(configPath string) (*Env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &Env{
		Config: cfg,
		Logger: telemetry.SetupCLILogger(cfg.Log.Level, cfg.Log.Format),
	}, nil
}

// Registry возвращает процессоры узлов. ChatGPTChatCompletion
// регистрируется только при заданном API ключе.
func (e *Env) Registry() *steps.Registry {
	return newRegistry(e.Config.OpenAI)
}

func newRegistry(cfg config.OpenAIConfig) *steps.Registry {
	var completion *steps.ChatCompletionProcessor
	if cfg.APIKey != "" {
		completion = steps.NewChatCompletionProcessor(steps.ChatCompletionConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	}
	return steps.DefaultRegistry(completion)
}
