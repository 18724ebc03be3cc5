package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	"github.com/d6u/PromptPlay-sub006/internal/steps"
	"github.com/d6u/PromptPlay-sub006/internal/telemetry"
	"github.com/d6u/PromptPlay-sub006/internal/worker"
)

// Coordinator запускает run над скомпилированными планами.
//
// Coordinator не хранит состояние run: каждый вызов Start создаёт
// независимый Run со своим Variable Store. Один Coordinator можно
// использовать одновременно из нескольких горутин.
type Coordinator struct {
	executor *worker.Executor
	sinks    []EventSink
	logger   *slog.Logger
}

// Config конфигурация Coordinator.
type Config struct {
	// Executor выполняет узлы. nil означает Executor со встроенными
	// процессорами и без лимита.
	Executor *worker.Executor

	// Sinks получают каждое событие каждого run.
	Sinks []EventSink

	Logger *slog.Logger
}

// New создаёт Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executor := cfg.Executor
	if executor == nil {
		executor = worker.New(worker.Config{
			Registry: steps.DefaultRegistry(nil),
			Logger:   logger,
		})
	}

	return &Coordinator{
		executor: executor,
		sinks:    cfg.Sinks,
		logger:   logger,
	}
}

// Start проверяет запрос и запускает run в отдельной горутине.
//
// Отмена ctx отменяет run так же, как Run.Cancel.
func (c *Coordinator) Start(ctx context.Context, plan *engine.Plan, req domain.RunRequest) (*Run, error) {
	if plan == nil {
		return nil, errors.New("start run: nil plan")
	}
	if err := validateRequest(plan.Graph, req); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	run := &Run{
		ID:          uuid.New(),
		coordinator: c,
		plan:        plan,
		req:         req,
		state:       NewRunState(plan),
		events:      NewEventLog(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	run.logger = telemetry.WithRunID(c.logger, run.ID.String())

	go run.execute(runCtx)
	return run, nil
}

// Execute запускает run и ждёт его завершения.
func (c *Coordinator) Execute(ctx context.Context, plan *engine.Plan, req domain.RunRequest) (*domain.RunResult, error) {
	run, err := c.Start(ctx, plan, req)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

// validateRequest проверяет, что ключи запроса ссылаются на выходы
// Start-узлов и на известные глобальные переменные.
func validateRequest(g *engine.Graph, req domain.RunRequest) error {
	for id := range req.Inputs {
		c := g.Connector(id)
		if c == nil || c.Type != domain.ConnectorNodeOutput || !g.Node(c.NodeID).Kind.IsStartLike() {
			return fmt.Errorf("%w: %s is not a start node output", ErrInvalidInput, id)
		}
	}
	for id := range req.Globals {
		if _, ok := g.GlobalValue(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGlobal, id)
		}
	}
	return nil
}

// Run один запуск графа.
type Run struct {
	ID uuid.UUID

	coordinator *Coordinator
	plan        *engine.Plan
	req         domain.RunRequest
	state       *RunState
	events      *EventLog
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// result и err записываются до закрытия done.
	result *domain.RunResult
	err    error
}

// Events возвращает поток событий run с самого начала.
// Канал закрывается после терминального события.
func (r *Run) Events(ctx context.Context) <-chan domain.RunEvent {
	return r.events.Subscribe(ctx)
}

// History возвращает события, выданные на данный момент.
func (r *Run) History() []domain.RunEvent {
	return r.events.Events()
}

// Cancel просит run остановиться в ближайшей безопасной точке.
// Повторные вызовы и вызовы после завершения ничего не делают.
func (r *Run) Cancel() {
	r.cancel()
}

// Done закрывается, когда run достиг терминального статуса.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait ждёт завершения run.
//
// Ошибка возвращается только для FAILED. Отменённый run возвращает
// результат со статусом CANCELLED и nil.
func (r *Run) Wait() (*domain.RunResult, error) {
	<-r.done
	return r.result, r.err
}

// Status возвращает текущий статус run.
func (r *Run) Status() domain.RunStatus {
	return r.state.Status()
}

// Stats возвращает количество узлов по статусу.
func (r *Run) Stats() RunStats {
	return r.state.Stats()
}

// nodeOutcome сообщение из горутины Executor: started=true означает, что
// узел прошёл лимитер, иначе это результат узла.
type nodeOutcome struct {
	nodeID  string
	started bool
	result  *worker.Result
	err     error
}

// execute основной цикл run. Состояние run меняет только эта горутина.
func (r *Run) execute(ctx context.Context) {
	defer close(r.done)
	defer r.events.Close()
	defer r.cancel()

	startedAt := time.Now()

	ctx, span := telemetry.Tracer().Start(ctx, "run",
		trace.WithAttributes(attribute.String(telemetry.AttrRunID, r.ID.String())),
	)
	defer span.End()

	r.logger.Info("run started", "nodes", r.plan.Graph.Size())

	r.state.SetStatus(domain.RunStatusSeeding)
	failure := r.seed()
	r.state.SetStatus(domain.RunStatusExecuting)

	results := make(chan nodeOutcome)
	inFlight := 0
	cancelled := false
	done := ctx.Done()

	for failure == nil || inFlight > 0 {
		if !cancelled && failure == nil {
			n, interrupted, err := r.dispatch(ctx, results)
			inFlight += n
			if err != nil {
				failure = err
			}
			if interrupted {
				cancelled = true
				done = nil
			}
		}
		if inFlight == 0 {
			break
		}

		select {
		case out := <-results:
			if out.started {
				r.emit(domain.RunEvent{Type: domain.EventNodeStarted, NodeID: out.nodeID})
				continue
			}
			inFlight--
			if !cancelled && ctx.Err() != nil {
				cancelled = true
				done = nil
			}
			if cancelled || failure != nil {
				r.state.MarkCancelled(out.nodeID)
				r.logger.Debug("node result discarded", "node_id", out.nodeID)
				continue
			}
			failure = r.apply(out)

		case <-done:
			cancelled = true
			done = nil
			r.logger.Info("run cancellation requested", "in_flight", inFlight)
		}
	}

	status := domain.RunStatusCompleted
	switch {
	case failure != nil:
		status = domain.RunStatusFailed
	case cancelled:
		status = domain.RunStatusCancelled
	}
	r.finish(status, failure, startedAt)

	span.SetAttributes(attribute.String(telemetry.AttrStatus, string(status)))
	if failure != nil {
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// seed записывает переопределения глобальных переменных и null в
// неподключённые входы. Выходы Start-подобных узлов записывает completeStart.
func (r *Run) seed() error {
	g := r.plan.Graph
	store := r.state.Store()

	for _, node := range g.Nodes() {
		if node.Kind.IsStartLike() {
			continue
		}

		for _, c := range g.ConnectorsOf(node.ID, domain.ConnectorNodeInput) {
			if c.IsGlobal {
				value, ok := r.req.Globals[c.GlobalVariableID]
				if !ok {
					continue
				}
				if err := store.Seed(c.ID, value); err != nil {
					return fmt.Errorf("seed %s: %w", c.ID, err)
				}
				continue
			}
			if _, ok := g.EdgeInto(c.ID); ok {
				continue
			}
			if err := store.Seed(c.ID, nil); err != nil {
				return fmt.Errorf("seed %s: %w", c.ID, err)
			}
		}
	}
	return nil
}

// dispatch проходит узлы в топологическом порядке и запускает готовые.
//
// Start и Finish узлы завершаются сразу, поэтому их значения видны
// узлам дальше в том же проходе. Возвращает число запущенных узлов и
// interrupted=true, если проход остановлен отменой ctx. Ошибка означает
// нарушение протокола при записи выходов Start-узла.
func (r *Run) dispatch(ctx context.Context, results chan<- nodeOutcome) (int, bool, error) {
	launched := 0

	for _, dn := range r.plan.DAG.Order {
		if r.state.NodeStatus(dn.ID) != domain.NodeStatusPending {
			continue
		}
		if ctx.Err() != nil {
			return launched, true, nil
		}

		switch r.plan.DAG.Readiness(dn.ID, r.state) {
		case engine.ReadinessWaiting:
		case engine.ReadinessSkipCondition:
			r.skip(dn.ID, domain.SkipReasonConditionNotMatched)
		case engine.ReadinessBlocked:
			r.skip(dn.ID, domain.SkipReasonUpstreamUnresolved)
		case engine.ReadinessReady:
			switch {
			case dn.Node.Kind.IsStartLike():
				if err := r.completeStart(dn.Node); err != nil {
					return launched, false, err
				}
			case dn.Node.Kind == domain.NodeKindFinish:
				r.completeFinish(dn.Node)
			default:
				r.launch(ctx, dn.Node, results)
				launched++
			}
		}
	}
	return launched, false, nil
}

// launch отправляет узел в Executor. NodeStarted выдаётся, когда узел
// прошёл лимитер Executor.
func (r *Run) launch(ctx context.Context, node *domain.Node, results chan<- nodeOutcome) {
	inputs := r.state.Store().Inputs(node.ID)

	r.state.MarkRunning(node.ID)

	go func() {
		res, err := r.coordinator.executor.ExecuteNotify(ctx, r.plan, node.ID, inputs, func() {
			results <- nodeOutcome{nodeID: node.ID, started: true}
		})
		results <- nodeOutcome{nodeID: node.ID, result: res, err: err}
	}()
}

// apply записывает результат узла. Ошибка означает нарушение протокола
// и переводит run в FAILED.
func (r *Run) apply(out nodeOutcome) error {
	if out.err != nil {
		r.state.MarkFailed(out.nodeID, []domain.NodeExecutionMessage{domain.ErrorMessage(out.err.Error())})
		r.emit(domain.RunEvent{
			Type:     domain.EventNodeFinished,
			NodeID:   out.nodeID,
			HasError: true,
			Error:    out.err.Error(),
		})
		return out.err
	}

	res := out.result
	if res.HasError {
		r.state.MarkFailed(out.nodeID, res.Messages)
		event := domain.RunEvent{
			Type:     domain.EventNodeFinished,
			NodeID:   out.nodeID,
			Messages: res.Messages,
			HasError: true,
		}
		if res.Err != nil {
			event.Error = res.Err.Error()
		}
		r.emit(event)
		return nil
	}

	store := r.state.Store()
	for _, id := range sortedKeys(res.Outputs) {
		if err := store.Set(id, res.Outputs[id]); err != nil {
			r.state.MarkFailed(out.nodeID, []domain.NodeExecutionMessage{domain.ErrorMessage(err.Error())})
			return err
		}
	}
	for _, id := range sortedKeys(res.Conditions) {
		if err := store.SetCondition(id, res.Conditions[id]); err != nil {
			r.state.MarkFailed(out.nodeID, []domain.NodeExecutionMessage{domain.ErrorMessage(err.Error())})
			return err
		}
	}

	r.state.MarkSucceeded(out.nodeID, res.Messages)
	r.emit(domain.RunEvent{
		Type:       domain.EventNodeFinished,
		NodeID:     out.nodeID,
		Outputs:    res.Outputs,
		Conditions: res.Conditions,
		Messages:   res.Messages,
	})
	return nil
}

// completeStart завершает Start-подобный узел: выходы берутся из запроса
// или значений по умолчанию, затем вычисляются исходящие условия.
//
// Выходы записываются в store только после успешного вычисления условий,
// поэтому при ошибке условия зависимые узлы пропускаются как
// upstreamUnresolved.
func (r *Run) completeStart(node *domain.Node) error {
	g := r.plan.Graph
	store := r.state.Store()

	outputs := make(map[string]any)
	for _, c := range g.ConnectorsOf(node.ID, domain.ConnectorNodeOutput) {
		value, ok := r.req.Inputs[c.ID]
		if !ok {
			value = c.DefaultValue
		}
		outputs[c.ID] = value
	}

	r.state.MarkRunning(node.ID)
	r.emit(domain.RunEvent{Type: domain.EventNodeStarted, NodeID: node.ID})

	var conditions map[string]bool
	if set := r.plan.Conditions(node.ID); set != nil {
		var err error
		if conditions, err = set.Evaluate(worker.ConditionVariables(g, node.ID, nil, outputs)); err != nil {
			msg := domain.ErrorMessage(err.Error())
			r.state.MarkFailed(node.ID, []domain.NodeExecutionMessage{msg})
			r.emit(domain.RunEvent{
				Type:     domain.EventNodeFinished,
				NodeID:   node.ID,
				Messages: []domain.NodeExecutionMessage{msg},
				HasError: true,
				Error:    err.Error(),
			})
			return nil
		}
	}

	for _, id := range sortedKeys(outputs) {
		if err := store.Seed(id, outputs[id]); err != nil {
			r.state.MarkFailed(node.ID, []domain.NodeExecutionMessage{domain.ErrorMessage(err.Error())})
			return fmt.Errorf("seed %s: %w", id, err)
		}
	}
	for _, id := range sortedKeys(conditions) {
		if err := store.SetCondition(id, conditions[id]); err != nil {
			r.state.MarkFailed(node.ID, []domain.NodeExecutionMessage{domain.ErrorMessage(err.Error())})
			return err
		}
	}

	r.state.MarkSucceeded(node.ID, nil)
	r.emit(domain.RunEvent{
		Type:       domain.EventNodeFinished,
		NodeID:     node.ID,
		Outputs:    outputs,
		Conditions: conditions,
	})
	return nil
}

// completeFinish завершает Finish-узел: его выходы это его входы.
func (r *Run) completeFinish(node *domain.Node) {
	r.state.MarkRunning(node.ID)
	r.emit(domain.RunEvent{Type: domain.EventNodeStarted, NodeID: node.ID})

	r.state.MarkSucceeded(node.ID, nil)
	r.emit(domain.RunEvent{
		Type:    domain.EventNodeFinished,
		NodeID:  node.ID,
		Outputs: r.state.Store().Inputs(node.ID),
	})
}

func (r *Run) skip(nodeID string, reason domain.SkipReason) {
	r.state.MarkSkipped(nodeID, reason)
	telemetry.NodesSkipped.WithLabelValues(string(reason)).Inc()
	r.logger.Debug("node skipped", "node_id", nodeID, "reason", reason)
	r.emit(domain.RunEvent{Type: domain.EventNodeSkipped, NodeID: nodeID, Reason: reason})
}

// finish собирает RunResult и выдаёт терминальное событие.
func (r *Run) finish(status domain.RunStatus, failure error, startedAt time.Time) {
	r.state.SetStatus(status)

	result := r.collect(status, startedAt)
	event := domain.RunEvent{Result: result}

	switch status {
	case domain.RunStatusCompleted:
		event.Type = domain.EventRunCompleted
	case domain.RunStatusCancelled:
		event.Type = domain.EventRunCancelled
	case domain.RunStatusFailed:
		event.Type = domain.EventRunFailed
		result.Error = failure.Error()
		event.Error = failure.Error()
		r.err = fmt.Errorf("%w: %w", ErrRunFailed, failure)
	}
	r.result = result
	r.emit(event)

	telemetry.Runs.WithLabelValues(string(status)).Inc()
	telemetry.RunDuration.Observe(result.Duration().Seconds())

	stats := r.state.Stats()
	if failure != nil {
		r.logger.Error("run failed", "error", failure, "duration", result.Duration())
		return
	}
	r.logger.Info("run finished",
		"status", status,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", result.Duration(),
	)
}

// collect строит RunResult из Variable Store.
//
// Outputs содержит только разрешённые входы Finish-узлов; входы узлов,
// пропущенных по условию, не попадают в результат.
func (r *Run) collect(status domain.RunStatus, startedAt time.Time) *domain.RunResult {
	g := r.plan.Graph
	store := r.state.Store()
	nodes := r.state.Snapshot()

	outputs := make(map[string]any)
	for _, c := range g.FinishInputs() {
		n := nodes[c.NodeID]
		if n.Status == domain.NodeStatusSkipped && n.SkipReason == domain.SkipReasonConditionNotMatched {
			continue
		}
		if v, ok := store.Get(c.ID); ok {
			outputs[c.ID] = v
		}
	}

	var globals map[string]any
	for _, node := range g.Nodes() {
		for _, c := range g.ConnectorsOf(node.ID, domain.ConnectorNodeOutput) {
			if !c.IsGlobal || c.GlobalVariableID == "" {
				continue
			}
			if nodes[node.ID].Status != domain.NodeStatusSucceeded {
				continue
			}
			v, ok := store.Get(c.ID)
			if !ok {
				continue
			}
			if globals == nil {
				globals = make(map[string]any)
			}
			globals[c.GlobalVariableID] = v
		}
	}

	return &domain.RunResult{
		RunID:         r.ID,
		Status:        status,
		Outputs:       outputs,
		Conditions:    store.Conditions(),
		GlobalUpdates: globals,
		Nodes:         nodes,
		StartedAt:     startedAt,
		FinishedAt:    time.Now(),
	}
}

// emit дописывает событие в журнал и передаёт его sinks.
func (r *Run) emit(event domain.RunEvent) {
	event.RunID = r.ID
	event.Timestamp = time.Now()
	event = r.events.Append(event)

	ctx := context.Background()
	for _, sink := range r.coordinator.sinks {
		if err := sink.PublishRunEvent(ctx, &event); err != nil {
			r.logger.Warn("event sink failed", "seq", event.Seq, "type", event.Type, "error", err)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
