package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/d6u/PromptPlay-sub006/internal/batch"
	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	"github.com/d6u/PromptPlay-sub006/internal/mq"
	"github.com/d6u/PromptPlay-sub006/internal/repo"
	"github.com/d6u/PromptPlay-sub006/internal/telemetry"
)

// FlowStore источник графов. Реализуется repo.FlowRepo.
type FlowStore interface {
	LoadSpec(ctx context.Context, id uuid.UUID) (*domain.FlowSpec, error)
}

// BatchStore хранилище batch и ячеек. Реализуется repo.BatchRepo.
type BatchStore interface {
	Create(ctx context.Context, b *domain.Batch) error
	SaveCell(ctx context.Context, cell *domain.BatchCell) error
	Finish(ctx context.Context, id uuid.UUID, status domain.BatchStatus, errMsg string) error
}

// Notifier сообщает о завершении batch. Реализуется mq.Publisher.
type Notifier interface {
	PublishBatchFinished(ctx context.Context, payload mq.BatchFinishedPayload) error
}

// Config конфигурация Service.
type Config struct {
	Flows   FlowStore
	Batches BatchStore

	// Notifier может быть nil.
	Notifier Notifier

	Runner *batch.Runner

	// Conn нужен только для Start.
	Conn     *mq.Connection
	Prefetch int

	Logger *slog.Logger
}

// Service выполняет batch по запросам из очереди batches.requested.
type Service struct {
	flows    FlowStore
	batches  BatchStore
	notifier Notifier
	runner   *batch.Runner

	conn     *mq.Connection
	prefetch int
	consumer *mq.Consumer

	logger *slog.Logger
	wg     sync.WaitGroup
}

// New создаёт Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = batch.NewRunner(batch.RunnerConfig{Logger: logger})
	}

	return &Service{
		flows:    cfg.Flows,
		batches:  cfg.Batches,
		notifier: cfg.Notifier,
		runner:   runner,
		conn:     cfg.Conn,
		prefetch: cfg.Prefetch,
		logger:   logger,
	}
}

// Start запускает чтение очереди batches.requested в фоне.
func (s *Service) Start(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("evaluation: no mq connection")
	}

	s.consumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueBatchesRequested),
		Handler:  s.HandleBatchRequested,
		Prefetch: s.prefetch,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("batch consumer stopped", "error", err)
		}
	}()

	s.logger.Info("evaluation service started", "queue", mq.QueueBatchesRequested)
	return nil
}

// Stop останавливает чтение очереди и ждёт выхода consumer.
func (s *Service) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.wg.Wait()
	s.logger.Info("evaluation service stopped")
}

// HandleBatchRequested mq.Handler для batch.requested.
func (s *Service) HandleBatchRequested(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.BatchRequestedPayload](&d.Message)
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrReject, err)
	}
	return s.Process(ctx, payload)
}

// Process выполняет один batch: загружает и компилирует граф, создаёт
// запись batch, сохраняет каждую ячейку и завершает batch.
//
// Отсутствующий flow и структурные ошибки графа возвращаются с ErrReject.
// Повторный запрос уже созданного batch пропускается.
func (s *Service) Process(ctx context.Context, p mq.BatchRequestedPayload) error {
	logger := telemetry.WithFlowID(telemetry.WithBatchID(s.logger, p.BatchID.String()), p.FlowID.String())

	spec, err := s.flows.LoadSpec(ctx, p.FlowID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: flow %s: %w", mq.ErrReject, p.FlowID, err)
	}
	if err != nil {
		return fmt.Errorf("load flow: %w", err)
	}

	plan, err := engine.Compile(spec)
	if err != nil {
		logger.Error("flow graph is invalid", "error", err)
		return fmt.Errorf("%w: %w", mq.ErrReject, err)
	}

	record := &domain.Batch{
		ID:               p.BatchID,
		FlowID:           p.FlowID,
		RowCount:         len(p.Rows),
		RepeatTimes:      p.RepeatTimes,
		ConcurrencyLimit: p.ConcurrencyLimit,
	}
	if err := s.batches.Create(ctx, record); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			logger.Warn("batch already processed, skipping")
			return nil
		}
		return fmt.Errorf("create batch: %w", err)
	}

	result, runErr := s.runner.Run(ctx, plan, batch.Request{
		ID:      p.BatchID,
		Rows:    p.Rows,
		Globals: p.Globals,
		Config: batch.Config{
			RepeatTimes:             p.RepeatTimes,
			ConcurrencyLimit:        p.ConcurrencyLimit,
			VariableIDToColumnIndex: p.VariableIDToColumnIndex,
		},
		OnCell: func(cell batch.Cell) {
			if err := s.batches.SaveCell(context.WithoutCancel(ctx), toDomainCell(cell)); err != nil {
				logger.Error("save batch cell", "row", cell.Row, "iteration", cell.Iteration, "error", err)
			}
		},
	})

	status := domain.BatchStatusCompleted
	errMsg := ""
	cells := 0
	switch {
	case runErr != nil:
		status = domain.BatchStatusFailed
		errMsg = runErr.Error()
		logger.Warn("batch rejected", "error", runErr)
	case result.Cancelled:
		status = domain.BatchStatusCancelled
	}
	if result != nil {
		cells = result.Outputs.Filled()
	}

	finishCtx := context.WithoutCancel(ctx)
	if err := s.batches.Finish(finishCtx, p.BatchID, status, errMsg); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}

	if s.notifier != nil {
		err := s.notifier.PublishBatchFinished(finishCtx, mq.BatchFinishedPayload{
			BatchID: p.BatchID,
			FlowID:  p.FlowID,
			Status:  status,
			Cells:   cells,
			Error:   errMsg,
		})
		if err != nil {
			logger.Warn("failed to publish batch finished", "error", err)
		}
	}

	logger.Info("batch processed", "status", status, "cells", cells)
	return nil
}

func toDomainCell(cell batch.Cell) *domain.BatchCell {
	return &domain.BatchCell{
		BatchID:   cell.BatchID,
		Row:       cell.Row,
		Iteration: cell.Iteration,
		RunID:     cell.Outcome.RunID,
		Status:    cell.Outcome.Status,
		Outputs:   cell.Outcome.Outputs,
		Messages:  cell.Metadata,
		Error:     cell.Outcome.Error,
	}
}
