// PromptPlay Worker выполняет batch из очереди batches.requested.
//
// Worker:
//   - Загружает flow из PostgreSQL и компилирует граф
//   - Выполняет run для каждой пары (row, iteration)
//   - Сохраняет ячейки batch и публикует события run в RabbitMQ
//   - Отдаёт /healthz и /metrics
//
// Workers масштабируются горизонтально: очередь распределяет batch
// между ними.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/d6u/PromptPlay-sub006/internal/batch"
	"github.com/d6u/PromptPlay-sub006/internal/config"
	"github.com/d6u/PromptPlay-sub006/internal/evaluation"
	"github.com/d6u/PromptPlay-sub006/internal/mq"
	"github.com/d6u/PromptPlay-sub006/internal/orchestrator"
	"github.com/d6u/PromptPlay-sub006/internal/repo"
	"github.com/d6u/PromptPlay-sub006/internal/steps"
	"github.com/d6u/PromptPlay-sub006/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		telemetry.SetupLogger("INFO", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting promptplay-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	mqConn, err := mq.NewConnection(mq.ConnectionConfig{
		URL:               cfg.MQ.URL,
		ReconnectDelay:    cfg.MQ.ReconnectDelay,
		ReconnectMaxDelay: cfg.MQ.ReconnectMaxDelay,
		ReconnectAttempts: cfg.MQ.ReconnectAttempts,
		// Очереди могли пропасть вместе с брокером.
		OnReconnect: mq.SetupTopology,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	publisher := mq.NewPublisher(mqConn, logger)

	var completion *steps.ChatCompletionProcessor
	if cfg.OpenAI.APIKey != "" {
		completion = steps.NewChatCompletionProcessor(steps.ChatCompletionConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
	} else {
		logger.Warn("OPENAI_API_KEY not set, ChatGPTChatCompletion nodes will fail")
	}

	runner := batch.NewRunner(batch.RunnerConfig{
		Registry:    steps.DefaultRegistry(completion),
		Sinks:       []orchestrator.EventSink{publisher},
		NodeTimeout: cfg.Batch.NodeTimeout,
		Logger:      logger,
	})

	svc := evaluation.New(evaluation.Config{
		Flows:    repo.NewFlowRepo(pool),
		Batches:  repo.NewBatchRepo(pool),
		Notifier: publisher,
		Runner:   runner,
		Conn:     mqConn,
		Prefetch: cfg.MQ.Prefetch,
		Logger:   logger,
	})

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start evaluation service", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			http.Error(w, "rabbitmq disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		logger.Info("listening", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения или отказ брокера
	select {
	case <-ctx.Done():
	case <-mqConn.Done():
		logger.Error("RabbitMQ connection lost", "error", mqConn.Err())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	svc.Stop()
	logger.Info("promptplay-worker stopped")

	if mqConn.Err() != nil {
		os.Exit(1)
	}
}
