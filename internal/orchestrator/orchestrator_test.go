package orchestrator

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	et "github.com/d6u/PromptPlay-sub006/internal/engine/enginetest"
	"github.com/d6u/PromptPlay-sub006/internal/steps"
	"github.com/d6u/PromptPlay-sub006/internal/worker"
)

// --- helpers ---

type funcProcessor struct {
	typ string
	fn  func(ctx context.Context, req *steps.Request) (*steps.Response, error)
}

func (p *funcProcessor) Type() string { return p.typ }

func (p *funcProcessor) Execute(ctx context.Context, req *steps.Request) (*steps.Response, error) {
	return p.fn(ctx, req)
}

// failing всегда возвращает ошибку.
var failing = &funcProcessor{typ: "Fail", fn: func(context.Context, *steps.Request) (*steps.Response, error) {
	return nil, errors.New("boom")
}}

func newCoordinator(t *testing.T, sinks []EventSink, extra ...steps.Processor) *Coordinator {
	t.Helper()
	reg := steps.DefaultRegistry(nil)
	for _, p := range extra {
		reg.Register(p)
	}
	return New(Config{
		Executor: worker.New(worker.Config{Registry: reg}),
		Sinks:    sinks,
	})
}

func compile(t *testing.T, spec *domain.FlowSpec) *engine.Plan {
	t.Helper()
	plan, err := engine.Compile(spec)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return plan
}

func execute(t *testing.T, c *Coordinator, plan *engine.Plan, req domain.RunRequest) (*Run, *domain.RunResult) {
	t.Helper()
	run, err := c.Start(context.Background(), plan, req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	result, err := run.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return run, result
}

// hiWorld: start.x="hi" → tmpl("{{x}} world") → finish.result.
func hiWorld(t *testing.T) *engine.Plan {
	return compile(t, et.NewBuilder().
		Start("start", "x").
		Default(et.OutputID("start", "x"), "hi").
		Process("tmpl", steps.TypeTextTemplate, map[string]any{"content": "{{x}} world"},
			[]string{"x"}, []string{"content"}).
		Finish("finish", "result").
		Connect(et.OutputID("start", "x"), et.InputID("tmpl", "x")).
		Connect(et.OutputID("tmpl", "content"), et.InputID("finish", "result")).
		Spec())
}

func eventsOf(run *Run, typ domain.EventType) []domain.RunEvent {
	var result []domain.RunEvent
	for _, e := range run.History() {
		if e.Type == typ {
			result = append(result, e)
		}
	}
	return result
}

func started(run *Run, nodeID string) bool {
	for _, e := range eventsOf(run, domain.EventNodeStarted) {
		if e.NodeID == nodeID {
			return true
		}
	}
	return false
}

// --- Run Tests ---

func TestCoordinator_TemplateChain(t *testing.T) {
	c := newCoordinator(t, nil)
	run, result := execute(t, c, hiWorld(t), domain.RunRequest{})

	if result.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}
	if got := result.Outputs[et.InputID("finish", "result")]; got != "hi world" {
		t.Errorf("expected 'hi world', got %v", got)
	}
	if run.Status() != domain.RunStatusCompleted {
		t.Errorf("expected run status COMPLETED, got %s", run.Status())
	}
	for _, id := range []string{"start", "tmpl", "finish"} {
		if result.Nodes[id].Status != domain.NodeStatusSucceeded {
			t.Errorf("node %s: expected SUCCEEDED, got %s", id, result.Nodes[id].Status)
		}
	}
}

func TestCoordinator_InputOverride(t *testing.T) {
	c := newCoordinator(t, nil)
	_, result := execute(t, c, hiWorld(t), domain.RunRequest{
		Inputs: map[string]any{et.OutputID("start", "x"): "bye"},
	})

	if got := result.Outputs[et.InputID("finish", "result")]; got != "bye world" {
		t.Errorf("expected 'bye world', got %v", got)
	}
}

func TestCoordinator_InvalidRequest(t *testing.T) {
	c := newCoordinator(t, nil)
	plan := hiWorld(t)

	tests := []struct {
		name string
		req  domain.RunRequest
		want error
	}{
		{
			name: "unknown input",
			req:  domain.RunRequest{Inputs: map[string]any{"nope": 1}},
			want: ErrInvalidInput,
		},
		{
			name: "input is not a start output",
			req:  domain.RunRequest{Inputs: map[string]any{et.OutputID("tmpl", "content"): "x"}},
			want: ErrInvalidInput,
		},
		{
			name: "unknown global",
			req:  domain.RunRequest{Globals: map[string]any{"g": 1}},
			want: ErrUnknownGlobal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Start(context.Background(), plan, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCoordinator_ConditionSkipsDefaultBranch(t *testing.T) {
	plan := compile(t, et.NewBuilder().
		Start("start", "x").
		Default(et.OutputID("start", "x"), 10).
		Node("cond", domain.NodeKindCondition, steps.TypeCondition,
			map[string]any{engine.ConfigStopAtTheFirstMatch: true}).
		Input("cond", "x").
		Output("cond", "x").
		Condition("cond", 0, "").
		Condition("cond", 1, "x > 5").
		Process("low", steps.TypeTextTemplate, map[string]any{"content": "low {{x}}"},
			[]string{"x"}, []string{"content"}).
		Gate("low").
		Process("high", steps.TypeTextTemplate, map[string]any{"content": "high"},
			[]string{"x"}, []string{"content"}).
		Gate("high").
		Finish("finish", "low", "high").
		Connect(et.OutputID("start", "x"), et.InputID("cond", "x")).
		Connect(et.OutputID("cond", "x"), et.InputID("low", "x")).
		Connect(et.OutputID("cond", "x"), et.InputID("high", "x")).
		Connect(et.ConditionID("cond", 0), et.GateID("low")).
		Connect(et.ConditionID("cond", 1), et.GateID("high")).
		Connect(et.OutputID("low", "content"), et.InputID("finish", "low")).
		Connect(et.OutputID("high", "content"), et.InputID("finish", "high")).
		Spec())

	c := newCoordinator(t, nil)
	run, result := execute(t, c, plan, domain.RunRequest{})

	if !result.Conditions[et.ConditionID("cond", 1)] {
		t.Error("expected 'x > 5' to match")
	}
	if result.Conditions[et.ConditionID("cond", 0)] {
		t.Error("expected default case not to match")
	}

	low := result.Nodes["low"]
	if low.Status != domain.NodeStatusSkipped || low.SkipReason != domain.SkipReasonConditionNotMatched {
		t.Errorf("expected low skipped by condition, got %+v", low)
	}
	if started(run, "low") {
		t.Error("skipped node must never be started")
	}

	if got := result.Outputs[et.InputID("finish", "high")]; got != "high" {
		t.Errorf("expected 'high', got %v", got)
	}
	if _, ok := result.Outputs[et.InputID("finish", "low")]; ok {
		t.Error("unreachable finish input must be absent")
	}
}

func TestCoordinator_GateSourceFailed(t *testing.T) {
	plan := compile(t, et.NewBuilder().
		Start("start", "x").
		Node("cond", domain.NodeKindCondition, "Fail", nil).
		Input("cond", "x").
		Condition("cond", 0, "").
		Process("next", steps.TypeTextTemplate, map[string]any{"content": "ok"}, nil, []string{"content"}).
		Gate("next").
		Finish("finish").
		Connect(et.OutputID("start", "x"), et.InputID("cond", "x")).
		Connect(et.ConditionID("cond", 0), et.GateID("next")).
		Spec())

	c := newCoordinator(t, nil, failing)
	_, result := execute(t, c, plan, domain.RunRequest{})

	if !result.Nodes["cond"].HasError {
		t.Error("expected cond to fail")
	}
	next := result.Nodes["next"]
	if next.Status != domain.NodeStatusSkipped || next.SkipReason != domain.SkipReasonConditionNotMatched {
		t.Errorf("expected next skipped by condition, got %+v", next)
	}
}

func TestCoordinator_NaNConditionFailsNode(t *testing.T) {
	nan := &funcProcessor{typ: "NaN", fn: func(_ context.Context, req *steps.Request) (*steps.Response, error) {
		resp := steps.NewResponse()
		resp.SetOutput(req, "v", math.NaN())
		return resp, nil
	}}

	plan := compile(t, et.NewBuilder().
		Start("start").
		Process("calc", "NaN", nil, nil, []string{"v"}).
		Node("cond", domain.NodeKindCondition, steps.TypeCondition, nil).
		Input("cond", "v").
		Condition("cond", 0, "").
		Condition("cond", 1, "v > 5").
		Process("low", steps.TypeTextTemplate, map[string]any{"content": "low"}, nil, []string{"content"}).
		Gate("low").
		Process("high", steps.TypeTextTemplate, map[string]any{"content": "high"}, nil, []string{"content"}).
		Gate("high").
		Finish("finish").
		Connect(et.OutputID("calc", "v"), et.InputID("cond", "v")).
		Connect(et.ConditionID("cond", 0), et.GateID("low")).
		Connect(et.ConditionID("cond", 1), et.GateID("high")).
		Spec())

	c := newCoordinator(t, nil, nan)
	_, result := execute(t, c, plan, domain.RunRequest{})

	if result.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}
	if !result.Nodes["cond"].HasError {
		t.Errorf("expected cond hasError, got %+v", result.Nodes["cond"])
	}
	for _, id := range []string{"low", "high"} {
		n := result.Nodes[id]
		if n.Status != domain.NodeStatusSkipped || n.SkipReason != domain.SkipReasonConditionNotMatched {
			t.Errorf("expected %s skipped by condition, got %+v", id, n)
		}
	}
}

func TestCoordinator_StartConditionErrorLeavesOutputsUnresolved(t *testing.T) {
	plan := compile(t, et.NewBuilder().
		Start("start", "x").
		Condition("start", 0, "").
		Condition("start", 1, "x > 5").
		Process("tmpl", steps.TypeTextTemplate, map[string]any{"content": "{{x}}"},
			[]string{"x"}, []string{"content"}).
		Finish("finish", "result").
		Connect(et.OutputID("start", "x"), et.InputID("tmpl", "x")).
		Connect(et.OutputID("tmpl", "content"), et.InputID("finish", "result")).
		Spec())

	c := newCoordinator(t, nil)
	run, result := execute(t, c, plan, domain.RunRequest{
		Inputs: map[string]any{et.OutputID("start", "x"): math.NaN()},
	})

	if result.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}
	if !result.Nodes["start"].HasError {
		t.Errorf("expected start hasError, got %+v", result.Nodes["start"])
	}
	tmpl := result.Nodes["tmpl"]
	if tmpl.Status != domain.NodeStatusSkipped || tmpl.SkipReason != domain.SkipReasonUpstreamUnresolved {
		t.Errorf("expected tmpl skipped upstreamUnresolved, got %+v", tmpl)
	}
	if started(run, "tmpl") {
		t.Error("tmpl must not start")
	}
	if _, ok := result.Outputs[et.InputID("finish", "result")]; ok {
		t.Error("finish input must be absent")
	}
}

func TestCoordinator_StartedAfterLimiterAdmission(t *testing.T) {
	echo := &funcProcessor{typ: "Echo", fn: func(context.Context, *steps.Request) (*steps.Response, error) {
		return steps.NewResponse(), nil
	}}

	plan := compile(t, et.NewBuilder().
		Start("start", "x").
		Process("p1", "Echo", nil, []string{"x"}, nil).
		Process("p2", "Echo", nil, []string{"x"}, nil).
		Finish("finish").
		Connect(et.OutputID("start", "x"), et.InputID("p1", "x")).
		Connect(et.OutputID("start", "x"), et.InputID("p2", "x")).
		Spec())

	// Лимитер занят снаружи, как другим run в batch.
	limiter := semaphore.NewWeighted(1)
	if !limiter.TryAcquire(1) {
		t.Fatal("limiter must be free")
	}

	reg := steps.DefaultRegistry(nil)
	reg.Register(echo)
	c := New(Config{Executor: worker.New(worker.Config{Registry: reg, Limiter: limiter})})

	run, err := c.Start(context.Background(), plan, domain.RunRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if started(run, "p1") || started(run, "p2") {
		t.Error("node reported started while waiting for the limiter")
	}
	if !started(run, "start") {
		t.Error("expected start node to be reported")
	}

	limiter.Release(1)
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	if !started(run, "p1") || !started(run, "p2") {
		t.Error("expected p1 and p2 started after admission")
	}
	if stats := run.Stats(); stats.Succeeded != 4 {
		t.Errorf("expected 4 succeeded nodes, got %+v", stats)
	}
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	// A → B → C, A → D → C; B fails.
	plan := compile(t, et.NewBuilder().
		Start("A", "v").
		Default(et.OutputID("A", "v"), "a").
		Process("B", "Fail", nil, []string{"v"}, []string{"v"}).
		Process("D", steps.TypeTextTemplate, map[string]any{"content": "{{v}}!"},
			[]string{"v"}, []string{"content"}).
		Finish("C", "fromB", "fromD").
		Connect(et.OutputID("A", "v"), et.InputID("B", "v")).
		Connect(et.OutputID("A", "v"), et.InputID("D", "v")).
		Connect(et.OutputID("B", "v"), et.InputID("C", "fromB")).
		Connect(et.OutputID("D", "content"), et.InputID("C", "fromD")).
		Spec())

	c := newCoordinator(t, nil, failing)
	run, result := execute(t, c, plan, domain.RunRequest{})

	if result.Status != domain.RunStatusCompleted {
		t.Fatalf("node failure must not fail the run, got %s", result.Status)
	}
	if !result.Nodes["B"].HasError {
		t.Error("expected B hasError")
	}
	if !result.HasNodeErrors() {
		t.Error("expected HasNodeErrors")
	}
	if got := result.Outputs[et.InputID("C", "fromD")]; got != "a!" {
		t.Errorf("expected fromD 'a!', got %v", got)
	}
	if _, ok := result.Outputs[et.InputID("C", "fromB")]; ok {
		t.Error("fromB must be absent")
	}

	var bFinished *domain.RunEvent
	for _, e := range eventsOf(run, domain.EventNodeFinished) {
		if e.NodeID == "B" {
			e := e
			bFinished = &e
		}
	}
	if bFinished == nil || !bFinished.HasError || bFinished.Error == "" {
		t.Errorf("expected NodeFinished with error for B, got %+v", bFinished)
	}

	c2 := result.Nodes["C"]
	if c2.Status != domain.NodeStatusSkipped || c2.SkipReason != domain.SkipReasonUpstreamUnresolved {
		t.Errorf("expected C skipped upstreamUnresolved, got %+v", c2)
	}
}

func TestCoordinator_Deterministic(t *testing.T) {
	c := newCoordinator(t, nil)
	plan := hiWorld(t)

	_, first := execute(t, c, plan, domain.RunRequest{})
	_, second := execute(t, c, plan, domain.RunRequest{})

	if first.RunID == second.RunID {
		t.Error("runs must have distinct IDs")
	}
	if !reflect.DeepEqual(first.Outputs, second.Outputs) {
		t.Errorf("outputs differ: %v vs %v", first.Outputs, second.Outputs)
	}
}

func TestCoordinator_DispatchRespectsEdges(t *testing.T) {
	// start → p1, p2 → join → finish
	echo := &funcProcessor{typ: "Echo", fn: func(_ context.Context, req *steps.Request) (*steps.Response, error) {
		time.Sleep(5 * time.Millisecond)
		resp := steps.NewResponse()
		for _, port := range req.Outputs {
			resp.Outputs[port.ID] = req.NodeID
		}
		return resp, nil
	}}

	plan := compile(t, et.NewBuilder().
		Start("start", "x").
		Process("p1", "Echo", nil, []string{"x"}, []string{"y"}).
		Process("p2", "Echo", nil, []string{"x"}, []string{"y"}).
		Process("join", "Echo", nil, []string{"a", "b"}, []string{"y"}).
		Finish("finish", "y").
		Connect(et.OutputID("start", "x"), et.InputID("p1", "x")).
		Connect(et.OutputID("start", "x"), et.InputID("p2", "x")).
		Connect(et.OutputID("p1", "y"), et.InputID("join", "a")).
		Connect(et.OutputID("p2", "y"), et.InputID("join", "b")).
		Connect(et.OutputID("join", "y"), et.InputID("finish", "y")).
		Spec())

	c := newCoordinator(t, nil, echo)
	run, _ := execute(t, c, plan, domain.RunRequest{})

	finishedAt := make(map[string]int)
	for _, e := range run.History() {
		switch e.Type {
		case domain.EventNodeFinished:
			finishedAt[e.NodeID] = e.Seq
		case domain.EventNodeStarted:
			for _, dep := range plan.DAG.GetNode(e.NodeID).DependsOn {
				seq, ok := finishedAt[dep.ID]
				if !ok || seq > e.Seq {
					t.Errorf("%s started before %s finished", e.NodeID, dep.ID)
				}
			}
		}
	}
}

func TestCoordinator_GlobalVariables(t *testing.T) {
	plan := compile(t, et.NewBuilder().
		Global("g-greeting", "greeting", "hello").
		Global("g-last", "last", "").
		Start("start").
		Process("tmpl", steps.TypeTextTemplate, map[string]any{"content": "{{greeting}}!"}, nil, nil).
		GlobalInput("tmpl", "greeting", "g-greeting").
		GlobalOutput("tmpl", "content", "g-last").
		Finish("finish", "result").
		Connect(et.OutputID("tmpl", "content"), et.InputID("finish", "result")).
		Spec())

	c := newCoordinator(t, nil)

	_, result := execute(t, c, plan, domain.RunRequest{})
	if got := result.GlobalUpdates["g-last"]; got != "hello!" {
		t.Errorf("expected global update 'hello!', got %v", got)
	}

	_, result = execute(t, c, plan, domain.RunRequest{Globals: map[string]any{"g-greeting": "hey"}})
	if got := result.Outputs[et.InputID("finish", "result")]; got != "hey!" {
		t.Errorf("expected override 'hey!', got %v", got)
	}
}

func TestCoordinator_UnconnectedInputIsNull(t *testing.T) {
	var (
		mu     sync.Mutex
		inputs map[string]any
	)
	record := &funcProcessor{typ: "Record", fn: func(_ context.Context, req *steps.Request) (*steps.Response, error) {
		mu.Lock()
		inputs = req.Inputs
		mu.Unlock()
		return steps.NewResponse(), nil
	}}

	plan := compile(t, et.NewBuilder().
		Start("start").
		Process("rec", "Record", nil, []string{"y"}, nil).
		Finish("finish").
		Spec())

	c := newCoordinator(t, nil, record)
	_, result := execute(t, c, plan, domain.RunRequest{})

	if result.Nodes["rec"].Status != domain.NodeStatusSucceeded {
		t.Fatalf("expected rec to run, got %+v", result.Nodes["rec"])
	}
	mu.Lock()
	defer mu.Unlock()
	v, ok := inputs["y"]
	if !ok || v != nil {
		t.Errorf("expected y=nil, got %v (present=%v)", v, ok)
	}
}

func TestCoordinator_ProtocolErrorFailsRun(t *testing.T) {
	rogue := &funcProcessor{typ: "Rogue", fn: func(context.Context, *steps.Request) (*steps.Response, error) {
		resp := steps.NewResponse()
		resp.Outputs["somebody-else"] = 1
		return resp, nil
	}}

	plan := compile(t, et.NewBuilder().
		Start("start", "x").
		Process("rogue", "Rogue", nil, []string{"x"}, []string{"y"}).
		Finish("finish", "y").
		Connect(et.OutputID("start", "x"), et.InputID("rogue", "x")).
		Connect(et.OutputID("rogue", "y"), et.InputID("finish", "y")).
		Spec())

	c := newCoordinator(t, nil, rogue)
	run, err := c.Start(context.Background(), plan, domain.RunRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := run.Wait()
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got %v", err)
	}
	var pe *worker.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.NodeID != "rogue" {
		t.Errorf("expected rogue, got %s", pe.NodeID)
	}
	if result.Status != domain.RunStatusFailed || result.Error == "" {
		t.Errorf("expected FAILED with error, got %s %q", result.Status, result.Error)
	}

	history := run.History()
	if last := history[len(history)-1]; last.Type != domain.EventRunFailed {
		t.Errorf("expected RunFailed last, got %s", last.Type)
	}
	if started(run, "finish") {
		t.Error("no node may start after the run failed")
	}
}

// --- Cancellation Tests ---

func TestCoordinator_CancelDiscardsInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	block := &funcProcessor{typ: "Block", fn: func(_ context.Context, req *steps.Request) (*steps.Response, error) {
		close(entered)
		<-release
		resp := steps.NewResponse()
		resp.SetOutput(req, "y", "late")
		return resp, nil
	}}

	plan := compile(t, et.NewBuilder().
		Start("start", "x").
		Process("block", "Block", nil, []string{"x"}, []string{"y"}).
		Process("next", steps.TypeTextTemplate, map[string]any{"content": "{{y}}"},
			[]string{"y"}, []string{"content"}).
		Finish("finish", "result").
		Connect(et.OutputID("start", "x"), et.InputID("block", "x")).
		Connect(et.OutputID("block", "y"), et.InputID("next", "y")).
		Connect(et.OutputID("next", "content"), et.InputID("finish", "result")).
		Spec())

	c := newCoordinator(t, nil, block)
	run, err := c.Start(context.Background(), plan, domain.RunRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-entered
	run.Cancel()
	close(release)

	result, err := run.Wait()
	if err != nil {
		t.Fatalf("cancellation is not an error, got %v", err)
	}
	if result.Status != domain.RunStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", result.Status)
	}
	if result.Nodes["block"].Status != domain.NodeStatusCancelled {
		t.Errorf("expected block CANCELLED, got %s", result.Nodes["block"].Status)
	}
	if started(run, "next") {
		t.Error("no node may be dispatched after cancel")
	}
	if len(result.Outputs) != 0 {
		t.Errorf("expected no outputs, got %v", result.Outputs)
	}

	history := run.History()
	if last := history[len(history)-1]; last.Type != domain.EventRunCancelled {
		t.Errorf("expected RunCancelled last, got %s", last.Type)
	}
}

func TestCoordinator_ParentContextCancels(t *testing.T) {
	entered := make(chan struct{})
	block := &funcProcessor{typ: "Block", fn: func(_ context.Context, _ *steps.Request) (*steps.Response, error) {
		close(entered)
		time.Sleep(20 * time.Millisecond)
		return steps.NewResponse(), nil
	}}

	plan := compile(t, et.NewBuilder().
		Start("start").
		Process("block", "Block", nil, nil, nil).
		Finish("finish").
		Spec())

	ctx, cancel := context.WithCancel(context.Background())
	c := newCoordinator(t, nil, block)
	run, err := c.Start(ctx, plan, domain.RunRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-entered
	cancel()

	result, _ := run.Wait()
	if result.Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", result.Status)
	}
}

// --- Event Tests ---

type recordingSink struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (s *recordingSink) PublishRunEvent(_ context.Context, event *domain.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

type brokenSink struct{}

func (brokenSink) PublishRunEvent(context.Context, *domain.RunEvent) error {
	return errors.New("broker down")
}

func TestRun_EventsReplayable(t *testing.T) {
	sink := &recordingSink{}
	c := newCoordinator(t, []EventSink{brokenSink{}, sink})
	run, result := execute(t, c, hiWorld(t), domain.RunRequest{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var first, second []domain.RunEvent
	for e := range run.Events(ctx) {
		first = append(first, e)
	}
	for e := range run.Events(ctx) {
		second = append(second, e)
	}

	if len(first) == 0 {
		t.Fatal("expected events")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("subscriptions must replay the same events")
	}
	for i, e := range first {
		if e.Seq != i+1 {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, e.Seq)
		}
		if e.RunID != result.RunID {
			t.Errorf("event %d: wrong run id", i)
		}
	}

	last := first[len(first)-1]
	if last.Type != domain.EventRunCompleted || last.Result == nil {
		t.Errorf("expected RunCompleted with result, got %+v", last)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != len(first) {
		t.Errorf("sink got %d events, log has %d", len(sink.events), len(first))
	}
}

func TestEventLog_SubscribeBeforeAppend(t *testing.T) {
	log := NewEventLog()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch := log.Subscribe(ctx)

	log.Append(domain.RunEvent{Type: domain.EventNodeStarted, NodeID: "a"})
	log.Append(domain.RunEvent{Type: domain.EventRunCompleted})
	log.Close()

	var got []domain.RunEvent
	for e := range ch {
		got = append(got, e)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("unexpected seq: %d, %d", got[0].Seq, got[1].Seq)
	}
}

func TestEventLog_SubscriberCancel(t *testing.T) {
	log := NewEventLog()
	ctx, cancel := context.WithCancel(context.Background())

	ch := log.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

// --- RunState Tests ---

func TestRunState_Stats(t *testing.T) {
	state := NewRunState(hiWorld(t))

	if stats := state.Stats(); stats.Total != 3 || stats.Pending != 3 {
		t.Fatalf("unexpected initial stats: %+v", stats)
	}

	state.MarkRunning("start")
	state.MarkSucceeded("start", nil)
	state.MarkSkipped("tmpl", domain.SkipReasonUpstreamUnresolved)

	stats := state.Stats()
	if stats.Succeeded != 1 || stats.Skipped != 1 || stats.Pending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !state.Settled("start") || !state.Settled("tmpl") || state.Settled("finish") {
		t.Error("unexpected settled state")
	}
}
