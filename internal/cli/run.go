package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	"github.com/d6u/PromptPlay-sub006/internal/orchestrator"
	"github.com/d6u/PromptPlay-sub006/internal/worker"
)

// ErrRunCancelled run прерван до завершения.
var ErrRunCancelled = errors.New("run cancelled")

// NewRunCmd создаёт команду однократного выполнения flow.
//
//	promptplay run flow.yaml --input topic=cats --global g1=42 --events
func NewRunCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var (
		inputs  []string
		globals []string
		events  bool
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a flow once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			env, err := envFn()
			if err != nil {
				return err
			}

			plan, err := engine.LoadPlanFile(args[0])
			if err != nil {
				return err
			}

			var req domain.RunRequest
			if req.Inputs, err = resolveInputs(plan.Graph, inputs); err != nil {
				return err
			}
			if req.Globals, err = resolveGlobals(globals); err != nil {
				return err
			}

			coordinator := orchestrator.New(orchestrator.Config{
				Executor: worker.New(worker.Config{
					Registry: env.Registry(),
					Timeout:  env.Config.Batch.NodeTimeout,
					Logger:   env.Logger,
				}),
				Logger: env.Logger,
			})

			run, err := coordinator.Start(cmd.Context(), plan, req)
			if err != nil {
				return err
			}

			if events {
				for e := range run.Events(cmd.Context()) {
					out.Event(e)
				}
			}

			result, runErr := run.Wait()
			// В JSON режиме результат уже есть в терминальном событии.
			if !(events && out.JSONMode()) {
				printRunResult(out, plan.Graph, result)
			}

			if runErr != nil {
				return runErr
			}
			if result.Status == domain.RunStatusCancelled {
				return ErrRunCancelled
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Start variable as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&globals, "global", "g", nil, "Global variable override as id=value (repeatable)")
	cmd.Flags().BoolVar(&events, "events", false, "Stream run events while executing")

	return cmd
}

// printRunResult выводит значения входов Finish-узлов и ошибки узлов.
func printRunResult(out *Output, g *engine.Graph, result *domain.RunResult) {
	if out.JSONMode() {
		out.JSON(result)
		return
	}

	for _, nodeID := range sortedKeys(result.Nodes) {
		for _, msg := range result.Nodes[nodeID].Messages {
			if msg.Type == domain.MessageTypeError {
				out.Error(fmt.Sprintf("node %s: %s", nodeID, msg.Content))
			}
		}
	}
	out.Success(fmt.Sprintf("Run %s %s in %s", result.RunID, result.Status, result.Duration()))

	var rows [][]string
	for _, c := range g.FinishInputs() {
		value, ok := result.Outputs[c.ID]
		if !ok {
			continue
		}
		rows = append(rows, []string{outputColumn(c), formatValue(value)})
	}
	out.Table([]string{"NAME", "VALUE"}, rows)
}
