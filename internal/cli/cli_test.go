package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d6u/PromptPlay-sub006/internal/config"
	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	et "github.com/d6u/PromptPlay-sub006/internal/engine/enginetest"
)

// greetingFlow: start.topic → tpl (TextTemplate) → finish.greeting.
func greetingFlow() *domain.FlowSpec {
	return et.NewBuilder().
		Start("start", "topic").
		Default(et.OutputID("start", "topic"), "world").
		Process("tpl", "TextTemplate", map[string]any{"content": "Hello {{topic}}"},
			[]string{"topic"}, []string{"content"}).
		Finish("finish", "greeting").
		Connect(et.OutputID("start", "topic"), et.InputID("tpl", "topic")).
		Connect(et.OutputID("tpl", "content"), et.InputID("finish", "greeting")).
		Spec()
}

func writeFlow(t *testing.T, spec *domain.FlowSpec) string {
	t.Helper()
	data, err := json.Marshal(spec)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "flow.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type harness struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
	json   bool
}

func (h *harness) output() *Output {
	return NewOutputTo(&h.stdout, &h.stderr, h.json)
}

func (h *harness) env() (*Env, error) {
	return &Env{
		Config: config.Default(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "simple", pairs: []string{"a=1", "b=two"}, want: map[string]string{"a": "1", "b": "two"}},
		{name: "value with equals", pairs: []string{"q=x=y"}, want: map[string]string{"q": "x=y"}},
		{name: "empty value", pairs: []string{"a="}, want: map[string]string{"a": ""}},
		{name: "no equals", pairs: []string{"oops"}, wantErr: true},
		{name: "empty key", pairs: []string{"=1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.pairs)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadAssignment)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(42), parseValue("42"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseValue(`{"a":1}`))
	assert.Equal(t, "cats", parseValue("cats"))
	assert.Equal(t, "", parseValue(""))
}

func TestResolveInputs(t *testing.T) {
	plan, err := engine.Compile(greetingFlow())
	require.NoError(t, err)

	inputs, err := resolveInputs(plan.Graph, []string{"topic=cats"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{et.OutputID("start", "topic"): "cats"}, inputs)

	inputs, err = resolveInputs(plan.Graph, []string{et.OutputID("start", "topic") + "=7"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{et.OutputID("start", "topic"): float64(7)}, inputs)

	_, err = resolveInputs(plan.Graph, []string{"missing=1"})
	assert.ErrorIs(t, err, ErrUnknownInput)

	// Выход Process-узла не является входом run.
	_, err = resolveInputs(plan.Graph, []string{et.OutputID("tpl", "content") + "=x"})
	assert.ErrorIs(t, err, ErrUnknownInput)
}

func TestColumnIndex(t *testing.T) {
	header := []string{"id", "topic"}

	idx, err := columnIndex("topic", header)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = columnIndex("3", header)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	_, err = columnIndex("nope", header)
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = columnIndex("-1", nil)
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestValidateCmd(t *testing.T) {
	h := &harness{}
	cmd := NewValidateCmd(h.output)
	cmd.SetArgs([]string{writeFlow(t, greetingFlow())})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, h.stderr.String(), "Flow is valid: 3 nodes")
	assert.Contains(t, h.stdout.String(), "tpl")
	assert.Contains(t, h.stdout.String(), "TextTemplate")
}

func TestValidateCmd_JSON(t *testing.T) {
	h := &harness{json: true}
	cmd := NewValidateCmd(h.output)
	cmd.SetArgs([]string{writeFlow(t, greetingFlow())})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var nodes []planNode
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &nodes))
	require.Len(t, nodes, 3)
	assert.Equal(t, []string{"start", "tpl", "finish"}, []string{nodes[0].ID, nodes[1].ID, nodes[2].ID})
	assert.Equal(t, 1, nodes[2].Deps)
}

func TestValidateCmd_StructuralError(t *testing.T) {
	spec := greetingFlow()
	spec.Edges = append(spec.Edges, domain.Edge{
		SourceNodeID: "tpl",
		SourceHandle: "tpl/out/missing",
		TargetNodeID: "finish",
		TargetHandle: et.InputID("finish", "greeting"),
	})

	h := &harness{}
	cmd := NewValidateCmd(h.output)
	cmd.SetArgs([]string{writeFlow(t, spec)})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsStructural(err))
}

func TestRunCmd(t *testing.T) {
	h := &harness{}
	cmd := NewRunCmd(h.env, h.output)
	cmd.SetArgs([]string{writeFlow(t, greetingFlow()), "--input", "topic=cats", "--events"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, h.stdout.String(), "greeting")
	assert.Contains(t, h.stdout.String(), "Hello cats")
	assert.Contains(t, h.stderr.String(), "COMPLETED")
	assert.Contains(t, h.stderr.String(), string(domain.EventRunCompleted))
}

func TestRunCmd_DefaultValue(t *testing.T) {
	h := &harness{json: true}
	cmd := NewRunCmd(h.env, h.output)
	cmd.SetArgs([]string{writeFlow(t, greetingFlow())})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var result domain.RunResult
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &result))
	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Equal(t, "Hello world", result.Outputs[et.InputID("finish", "greeting")])
}

func TestRunCmd_EventsJSON(t *testing.T) {
	h := &harness{json: true}
	cmd := NewRunCmd(h.env, h.output)
	cmd.SetArgs([]string{writeFlow(t, greetingFlow()), "-i", "topic=dogs", "--events"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var events []domain.RunEvent
	dec := json.NewDecoder(&h.stdout)
	for dec.More() {
		var e domain.RunEvent
		require.NoError(t, dec.Decode(&e))
		events = append(events, e)
	}
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, domain.EventRunCompleted, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "Hello dogs", last.Result.Outputs[et.InputID("finish", "greeting")])
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
	}
}

func TestRunCmd_UnknownInput(t *testing.T) {
	h := &harness{}
	cmd := NewRunCmd(h.env, h.output)
	cmd.SetArgs([]string{writeFlow(t, greetingFlow()), "--input", "nope=1"})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	assert.ErrorIs(t, cmd.ExecuteContext(context.Background()), ErrUnknownInput)
}

func TestBatchRunCmd(t *testing.T) {
	h := &harness{}
	rowsPath := writeFile(t, "rows.csv", "id,topic\n1,cats\n2,dogs\n")
	outPath := filepath.Join(t.TempDir(), "out.csv")

	cmd := NewBatchCmd(h.env, h.output)
	cmd.SetArgs([]string{
		"run", writeFlow(t, greetingFlow()),
		"--csv", rowsPath,
		"--map", "topic=topic",
		"--repeat", "2",
		"--concurrency", "2",
		"--out", outPath,
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, h.stdout.String(), "Hello dogs")
	assert.Contains(t, h.stderr.String(), "4 of 4 cells")

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 5)
	assert.Equal(t, []string{"ROW", "ITER", "STATUS", "greeting", "ERRORS"}, records[0])
	assert.Equal(t, []string{"0", "0", "COMPLETED", "Hello cats", "0"}, records[1])
	assert.Equal(t, []string{"0", "1", "COMPLETED", "Hello cats", "0"}, records[2])
	assert.Equal(t, []string{"1", "0", "COMPLETED", "Hello dogs", "0"}, records[3])
	assert.Equal(t, []string{"1", "1", "COMPLETED", "Hello dogs", "0"}, records[4])
}

func TestBatchRunCmd_NoHeaderByIndex(t *testing.T) {
	h := &harness{json: true}
	rowsPath := writeFile(t, "rows.csv", "x,birds\n")

	cmd := NewBatchCmd(h.env, h.output)
	cmd.SetArgs([]string{
		"run", writeFlow(t, greetingFlow()),
		"--csv", rowsPath,
		"--no-header",
		"--map", "topic=1",
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var cells []cellView
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &cells))
	require.Len(t, cells, 1)
	assert.Equal(t, "Hello birds", cells[0].Outputs["greeting"])
}

func TestBatchRunCmd_ShortRow(t *testing.T) {
	h := &harness{}
	rowsPath := writeFile(t, "rows.csv", "id,topic\n1,cats\n2\n")

	cmd := NewBatchCmd(h.env, h.output)
	cmd.SetArgs([]string{
		"run", writeFlow(t, greetingFlow()),
		"--csv", rowsPath,
		"--map", "topic=topic",
	})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")
}

func TestOutput_Event(t *testing.T) {
	var stdout, stderr bytes.Buffer

	text := NewOutputTo(&stdout, &stderr, false)
	text.Event(domain.RunEvent{Seq: 3, Type: domain.EventNodeSkipped, NodeID: "b", Reason: domain.SkipReasonConditionNotMatched})
	assert.Contains(t, stderr.String(), "NodeSkipped")
	assert.Contains(t, stderr.String(), "(conditionNotMatched)")
	assert.Empty(t, stdout.String())

	stderr.Reset()
	js := NewOutputTo(&stdout, &stderr, true)
	js.Event(domain.RunEvent{Seq: 1, Type: domain.EventNodeStarted, NodeID: "a"})
	assert.Empty(t, stderr.String())

	var e domain.RunEvent
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &e))
	assert.Equal(t, domain.EventNodeStarted, e.Type)
	assert.Equal(t, "a", e.NodeID)
}
