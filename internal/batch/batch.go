package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	"github.com/d6u/PromptPlay-sub006/internal/orchestrator"
	"github.com/d6u/PromptPlay-sub006/internal/steps"
	"github.com/d6u/PromptPlay-sub006/internal/telemetry"
	"github.com/d6u/PromptPlay-sub006/internal/worker"
)

// Request один batch.
type Request struct {
	// ID идентификатор batch. Пустой ID генерируется.
	ID uuid.UUID

	// Rows значения колонок по строкам.
	Rows [][]string

	// Globals переопределения глобальных переменных для всех run.
	Globals map[string]any

	Config Config

	// OnCell вызывается после записи каждой ячейки. Вызовы идут
	// из разных горутин.
	OnCell func(cell Cell)
}

// Cell итог одной пары (row, iteration).
type Cell struct {
	BatchID   uuid.UUID
	Row       int
	Iteration int
	Outcome   Outcome
	Metadata  Metadata
}

// Result результат batch.
type Result struct {
	ID       uuid.UUID
	Outputs  *OutputTable
	Metadata *MetadataTable

	// Cancelled batch отменён до заполнения всех ячеек.
	Cancelled bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// RunnerConfig конфигурация Runner.
type RunnerConfig struct {
	// Registry процессоры узлов. nil означает встроенные процессоры.
	Registry *steps.Registry

	// Sinks получают события каждого run batch.
	Sinks []orchestrator.EventSink

	// NodeTimeout таймаут одного вызова процессора.
	NodeTimeout time.Duration

	Logger *slog.Logger
}

// Runner Batch Coordinator: выполняет граф для каждой пары
// (row, iteration) с ограниченной конкурентностью.
type Runner struct {
	registry    *steps.Registry
	sinks       []orchestrator.EventSink
	nodeTimeout time.Duration
	logger      *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = steps.DefaultRegistry(nil)
	}
	return &Runner{
		registry:    registry,
		sinks:       cfg.Sinks,
		nodeTimeout: cfg.NodeTimeout,
		logger:      logger,
	}
}

// Run выполняет batch и ждёт все run.
//
// Ошибки конфигурации и коротких строк возвращаются до запуска первого run.
// Ошибка одного run записывается в его ячейку и не отменяет соседние.
// Отмена ctx отменяет все выполняющиеся run; Result.Cancelled=true.
func (r *Runner) Run(ctx context.Context, plan *engine.Plan, req Request) (*Result, error) {
	if plan == nil {
		return nil, errors.New("run batch: nil plan")
	}
	cfg := req.Config
	if err := cfg.Validate(plan.Graph); err != nil {
		return nil, err
	}
	minCols := cfg.minColumns()
	for i, row := range req.Rows {
		if len(row) < minCols {
			return nil, fmt.Errorf("%w: row %d has %d columns, need %d", ErrShortRow, i, len(row), minCols)
		}
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	logger := telemetry.WithBatchID(r.logger, id.String())

	ctx, span := telemetry.Tracer().Start(ctx, "batch",
		trace.WithAttributes(
			attribute.String(telemetry.AttrBatchID, id.String()),
			attribute.Int("promptplay.rows", len(req.Rows)),
			attribute.Int("promptplay.repeat_times", cfg.RepeatTimes),
		),
	)
	defer span.End()

	// Один лимитер на все run: не больше k открытых вызовов процессоров.
	executor := worker.New(worker.Config{
		Registry: r.registry,
		Limiter:  semaphore.NewWeighted(int64(cfg.ConcurrencyLimit)),
		Timeout:  r.nodeTimeout,
		Logger:   logger,
	})
	coordinator := orchestrator.New(orchestrator.Config{
		Executor: executor,
		Sinks:    r.sinks,
		Logger:   logger,
	})

	result := &Result{
		ID:        id,
		Outputs:   NewTable[Outcome](len(req.Rows), cfg.RepeatTimes),
		Metadata:  NewTable[Metadata](len(req.Rows), cfg.RepeatTimes),
		StartedAt: time.Now(),
	}

	telemetry.BatchesInFlight.Inc()
	defer telemetry.BatchesInFlight.Dec()

	logger.Info("batch started",
		"rows", len(req.Rows),
		"repeat_times", cfg.RepeatTimes,
		"concurrency_limit", cfg.ConcurrencyLimit,
	)

	admission := semaphore.NewWeighted(int64(cfg.ConcurrencyLimit))
	var g errgroup.Group

dispatch:
	for row := range req.Rows {
		for iter := 0; iter < cfg.RepeatTimes; iter++ {
			if err := admission.Acquire(ctx, 1); err != nil {
				break dispatch
			}

			g.Go(func() error {
				defer admission.Release(1)
				r.runCell(ctx, coordinator, plan, req, result, id, row, iter, logger)
				return nil
			})
		}
	}

	_ = g.Wait()

	result.FinishedAt = time.Now()
	result.Cancelled = ctx.Err() != nil

	logger.Info("batch finished",
		"cells", result.Outputs.Filled(),
		"cancelled", result.Cancelled,
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)
	return result, nil
}

// runCell выполняет один run и записывает его ячейки.
func (r *Runner) runCell(
	ctx context.Context,
	coordinator *orchestrator.Coordinator,
	plan *engine.Plan,
	req Request,
	result *Result,
	batchID uuid.UUID,
	row, iter int,
	logger *slog.Logger,
) {
	logger = logger.With("row", row, "iteration", iter)

	outcome, meta := r.execute(ctx, coordinator, plan, domain.RunRequest{
		Inputs:  req.Config.inputs(req.Rows[row]),
		Globals: req.Globals,
	})

	if err := result.Outputs.Set(row, iter, outcome); err != nil {
		logger.Error("write output cell", "error", err)
		return
	}
	if err := result.Metadata.Set(row, iter, meta); err != nil {
		logger.Error("write metadata cell", "error", err)
		return
	}

	cellOutcome := telemetry.OutcomeOK
	if outcome.Status != domain.RunStatusCompleted {
		cellOutcome = telemetry.OutcomeError
	}
	telemetry.BatchCells.WithLabelValues(cellOutcome).Inc()
	logger.Debug("cell written", "run_id", outcome.RunID, "status", outcome.Status)

	if req.OnCell != nil {
		req.OnCell(Cell{
			BatchID:   batchID,
			Row:       row,
			Iteration: iter,
			Outcome:   outcome,
			Metadata:  meta,
		})
	}
}

func (r *Runner) execute(ctx context.Context, coordinator *orchestrator.Coordinator, plan *engine.Plan, req domain.RunRequest) (Outcome, Metadata) {
	run, err := coordinator.Start(ctx, plan, req)
	if err != nil {
		return Outcome{Status: domain.RunStatusFailed, Error: err.Error()}, Metadata{}
	}

	res, err := run.Wait()
	outcome := Outcome{
		RunID:   res.RunID,
		Status:  res.Status,
		Outputs: res.Outputs,
	}
	if err != nil {
		outcome.Error = err.Error()
	}

	meta := make(Metadata, len(res.Nodes))
	for nodeID, state := range res.Nodes {
		if len(state.Messages) > 0 {
			meta[nodeID] = state.Messages
		}
	}
	return outcome, meta
}
