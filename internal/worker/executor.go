package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	"github.com/d6u/PromptPlay-sub006/internal/steps"
	"github.com/d6u/PromptPlay-sub006/internal/telemetry"
)

// Result итог выполнения одного узла.
type Result struct {
	NodeID string

	// Outputs все объявленные выходы узла (connectorID → value).
	// Выходы, которые процессор не вернул, равны nil.
	// Пусто, если HasError.
	Outputs map[string]any

	// Conditions результаты OutCondition узла.
	Conditions map[string]bool

	Messages []domain.NodeExecutionMessage

	// HasError узел завершился ошибкой; Err содержит причину.
	HasError bool
	Err      error

	Duration time.Duration
}

// Config конфигурация Executor.
type Config struct {
	// Registry процессоры по типу узла (обязателен).
	Registry *steps.Registry

	// Limiter ограничивает число одновременных вызовов процессоров.
	// Может разделяться между несколькими run (batch). nil без ограничения.
	Limiter *semaphore.Weighted

	// Timeout таймаут одного вызова процессора. 0 без таймаута.
	Timeout time.Duration

	Logger *slog.Logger
}

// Executor Node Executor: вызывает процессор узла и нормализует результат.
//
// Executor не хранит состояние run и безопасен для одновременного
// использования из нескольких run.
type Executor struct {
	registry *steps.Registry
	limiter  *semaphore.Weighted
	timeout  time.Duration
	logger   *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = steps.NewRegistry()
	}

	return &Executor{
		registry: registry,
		limiter:  cfg.Limiter,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Execute выполняет узел с разрешёнными входами (connectorID → value).
//
// Ошибка процессора не возвращается как error: она записывается в Result
// (HasError, Error сообщение). error возвращается только при нарушении
// протокола (ProtocolError) или если ctx отменён до захвата лимитера.
//
// После захвата лимитера процессор выполняется до конца даже при отмене ctx.
func (e *Executor) Execute(ctx context.Context, plan *engine.Plan, nodeID string, inputs map[string]any) (*Result, error) {
	return e.ExecuteNotify(ctx, plan, nodeID, inputs, nil)
}

// ExecuteNotify как Execute, но вызывает onStart после захвата лимитера,
// непосредственно перед процессором. onStart может быть nil.
func (e *Executor) ExecuteNotify(ctx context.Context, plan *engine.Plan, nodeID string, inputs map[string]any, onStart func()) (*Result, error) {
	g := plan.Graph
	node := g.Node(nodeID)
	if node == nil {
		return nil, fmt.Errorf("%w: node %s", engine.ErrUnknownConnector, nodeID)
	}

	logger := telemetry.WithNodeID(e.logger, nodeID)
	req := buildRequest(g, node, inputs)

	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.limiter.Release(1)
	}
	if onStart != nil {
		onStart()
	}

	execCtx := context.WithoutCancel(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, e.timeout)
		defer cancel()
	}

	execCtx, span := telemetry.Tracer().Start(execCtx, "node."+node.Type,
		trace.WithAttributes(
			attribute.String(telemetry.AttrNodeID, nodeID),
			attribute.String(telemetry.AttrNodeType, node.Type),
		),
	)
	defer span.End()

	logger.Debug("node started", "type", node.Type)

	telemetry.NodesInFlight.Inc()
	start := time.Now()
	resp, execErr := e.invoke(execCtx, node.Type, req)
	duration := time.Since(start)
	telemetry.NodesInFlight.Dec()
	telemetry.NodeDuration.WithLabelValues(node.Type).Observe(duration.Seconds())

	if execErr == nil {
		if err := validateResponse(g, node, resp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("processor protocol violation", "error", err)
			return nil, err
		}
	}

	result := &Result{NodeID: nodeID, Duration: duration}
	if resp != nil {
		result.Messages = append(result.Messages, resp.Messages...)
	}

	if execErr == nil {
		result.Outputs = declaredOutputs(g, nodeID, resp.Outputs)
		result.Conditions, execErr = resolveConditions(plan, req, result.Outputs, resp.Conditions)
	}

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) {
			execErr = fmt.Errorf("%w: %w", ErrNodeTimeout, execErr)
		}
		result.HasError = true
		result.Err = execErr
		result.Outputs = nil
		result.Conditions = nil
		result.Messages = append(result.Messages, domain.ErrorMessage(execErr.Error()))

		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		telemetry.NodeExecutions.WithLabelValues(node.Type, telemetry.OutcomeError).Inc()
		logger.Warn("node failed", "type", node.Type, "error", execErr, "duration", duration)
		return result, nil
	}

	span.SetStatus(codes.Ok, "")
	telemetry.NodeExecutions.WithLabelValues(node.Type, telemetry.OutcomeOK).Inc()
	logger.Debug("node finished", "type", node.Type, "duration", duration)
	return result, nil
}

// invoke вызывает процессор и превращает панику в ошибку узла.
func (e *Executor) invoke(ctx context.Context, nodeType string, req *steps.Request) (resp *steps.Response, err error) {
	processor, err := e.registry.Get(nodeType)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}
	}()

	resp, err = processor.Execute(ctx, req)
	if err == nil && resp == nil {
		resp = steps.NewResponse()
	}
	return resp, err
}

// buildRequest собирает Request: входы по имени, порты выходов и условий.
func buildRequest(g *engine.Graph, node *domain.Node, inputs map[string]any) *steps.Request {
	req := &steps.Request{
		NodeID: node.ID,
		Config: node.Config,
		Inputs: make(map[string]any, len(inputs)),
	}

	for _, c := range g.ConnectorsOf(node.ID, domain.ConnectorNodeInput) {
		if v, ok := inputs[c.ID]; ok {
			req.Inputs[c.Name] = v
		}
	}
	for _, c := range g.ConnectorsOf(node.ID, domain.ConnectorNodeOutput) {
		req.Outputs = append(req.Outputs, steps.Port{ID: c.ID, Name: c.Name})
	}
	for _, c := range g.ConnectorsOf(node.ID, domain.ConnectorOutCondition) {
		req.Conditions = append(req.Conditions, steps.Port{ID: c.ID, Name: c.Name})
	}
	return req
}

// validateResponse проверяет, что процессор писал только в объявленные коннекторы узла.
func validateResponse(g *engine.Graph, node *domain.Node, resp *steps.Response) error {
	for id := range resp.Outputs {
		c := g.Connector(id)
		if c == nil || c.NodeID != node.ID || c.Type != domain.ConnectorNodeOutput {
			return &ProtocolError{NodeID: node.ID, ConnectorID: id, Message: "undeclared output"}
		}
	}
	for id := range resp.Conditions {
		c := g.Connector(id)
		if c == nil || c.NodeID != node.ID || c.Type != domain.ConnectorOutCondition {
			return &ProtocolError{NodeID: node.ID, ConnectorID: id, Message: "undeclared condition"}
		}
	}
	return nil
}

// declaredOutputs возвращает значения всех объявленных выходов;
// отсутствующие заполняются nil, чтобы зависимые узлы не ждали вечно.
func declaredOutputs(g *engine.Graph, nodeID string, values map[string]any) map[string]any {
	outs := g.ConnectorsOf(nodeID, domain.ConnectorNodeOutput)
	result := make(map[string]any, len(outs))
	for _, c := range outs {
		result[c.ID] = values[c.ID]
	}
	return result
}

// resolveConditions вычисляет OutCondition узла. Результаты процессора,
// если он их вернул, нормализуются; иначе вычисляются выражения.
func resolveConditions(plan *engine.Plan, req *steps.Request, outputs map[string]any, returned map[string]bool) (map[string]bool, error) {
	set := plan.Conditions(req.NodeID)
	if set == nil {
		return nil, nil
	}
	if returned != nil {
		return set.Normalize(returned), nil
	}
	return set.Evaluate(ConditionVariables(plan.Graph, req.NodeID, req.Inputs, outputs))
}

// ConditionVariables собирает переменные выражений условий: входы по имени,
// затем выходы по имени, если такого входа нет.
func ConditionVariables(g *engine.Graph, nodeID string, inputsByName, outputsByID map[string]any) map[string]any {
	vars := make(map[string]any, len(inputsByName)+len(outputsByID))
	for k, v := range inputsByName {
		vars[k] = v
	}
	for _, c := range g.ConnectorsOf(nodeID, domain.ConnectorNodeOutput) {
		if _, exists := vars[c.Name]; exists {
			continue
		}
		if v, ok := outputsByID[c.ID]; ok {
			vars[c.Name] = v
		}
	}
	return vars
}
