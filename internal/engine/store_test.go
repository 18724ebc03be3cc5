package engine

import (
	"errors"
	"testing"

	et "github.com/d6u/PromptPlay-sub006/internal/engine/enginetest"
)

func TestVariableStore_SetGet(t *testing.T) {
	s := NewVariableStore(mustGraph(t, simpleChain().Spec()))

	in := et.InputID("tmpl", "x")
	if _, ok := s.Get(in); ok {
		t.Fatal("input must be unresolved before seeding")
	}

	if err := s.Seed(et.OutputID("start", "x"), "hi"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	v, ok := s.Get(in)
	if !ok || v != "hi" {
		t.Errorf("expected input to follow edge to %q, got %v (%v)", "hi", v, ok)
	}
}

func TestVariableStore_NilIsResolved(t *testing.T) {
	s := NewVariableStore(mustGraph(t, simpleChain().Spec()))

	if err := s.Set(et.OutputID("tmpl", "content"), nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.Resolved(et.InputID("finish", "result")) {
		t.Error("nil value must count as resolved")
	}
}

func TestVariableStore_DuplicateWrite(t *testing.T) {
	s := NewVariableStore(mustGraph(t, simpleChain().Spec()))
	out := et.OutputID("tmpl", "content")

	if err := s.Set(out, "a"); err != nil {
		t.Fatalf("first set: %v", err)
	}

	err := s.Set(out, "b")
	if !errors.Is(err, ErrDuplicateWrite) {
		t.Fatalf("expected ErrDuplicateWrite, got %v", err)
	}
	var dwe *DuplicateWriteError
	if !errors.As(err, &dwe) || dwe.ConnectorID != out {
		t.Errorf("expected DuplicateWriteError for %s, got %v", out, err)
	}

	if v, _ := s.Get(out); v != "a" {
		t.Errorf("first value must survive, got %v", v)
	}
}

func TestVariableStore_SetRejectsNonOutput(t *testing.T) {
	s := NewVariableStore(mustGraph(t, simpleChain().Spec()))

	if err := s.Set(et.InputID("tmpl", "x"), "v"); !errors.Is(err, ErrUnknownConnector) {
		t.Errorf("expected ErrUnknownConnector, got %v", err)
	}
	if err := s.Seed("nope", "v"); !errors.Is(err, ErrUnknownConnector) {
		t.Errorf("expected ErrUnknownConnector, got %v", err)
	}
}

func TestVariableStore_GlobalIgnoresEdges(t *testing.T) {
	spec := et.NewBuilder().
		Global("g", "shared", "stored").
		Start("start", "x").
		Finish("finish").
		GlobalInput("finish", "shared", "g").
		Connect(et.OutputID("start", "x"), et.InputID("finish", "shared")).
		Spec()

	s := NewVariableStore(mustGraph(t, spec))
	if err := s.Seed(et.OutputID("start", "x"), "from edge"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	v, ok := s.Get(et.InputID("finish", "shared"))
	if !ok || v != "stored" {
		t.Errorf("expected global table value, got %v (%v)", v, ok)
	}
}

func TestVariableStore_GlobalOverrideSeed(t *testing.T) {
	spec := et.NewBuilder().
		Global("g", "shared", "stored").
		Start("start").
		Finish("finish").
		GlobalInput("finish", "shared", "g").
		Spec()

	s := NewVariableStore(mustGraph(t, spec))
	in := et.InputID("finish", "shared")
	if err := s.Seed(in, "override"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if v, _ := s.Get(in); v != "override" {
		t.Errorf("expected seeded override, got %v", v)
	}
}

func TestVariableStore_Conditions(t *testing.T) {
	spec := et.NewBuilder().
		Start("start").
		Condition("start", 0, "").
		Finish("finish").
		Spec()

	s := NewVariableStore(mustGraph(t, spec))
	id := et.ConditionID("start", 0)

	if _, known := s.ConditionResult(id); known {
		t.Fatal("condition must be unknown before evaluation")
	}
	if err := s.SetCondition(id, true); err != nil {
		t.Fatalf("set condition: %v", err)
	}
	if err := s.SetCondition(id, false); !errors.Is(err, ErrDuplicateWrite) {
		t.Errorf("expected ErrDuplicateWrite, got %v", err)
	}
	if m, known := s.ConditionResult(id); !known || !m {
		t.Errorf("expected matched, got %v %v", m, known)
	}
	if got := s.Conditions(); len(got) != 1 {
		t.Errorf("expected 1 condition, got %v", got)
	}
}
