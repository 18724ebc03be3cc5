package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	"github.com/d6u/PromptPlay-sub006/internal/repo"
)

// NewFlowCmd создаёт группу команд для хранимых flows.
func NewFlowCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage stored flows",
	}

	cmd.AddCommand(
		newFlowPushCmd(envFn, outputFn),
		newFlowListCmd(envFn, outputFn),
		newFlowDeleteCmd(envFn, outputFn),
		newFlowSetGlobalCmd(envFn, outputFn),
	)

	return cmd
}

// withFlows открывает пул соединений на время fn.
func withFlows(ctx context.Context, env *Env, fn func(flows *repo.FlowRepo) error) error {
	pool, err := repo.NewPool(ctx, env.Config.DB.URL, env.Config.DB.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(repo.NewFlowRepo(pool))
}

func newFlowPushCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var (
		id   string
		name string
	)

	cmd := &cobra.Command{
		Use:   "push FILE",
		Short: "Validate a flow file and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			env, err := envFn()
			if err != nil {
				return err
			}

			spec, err := engine.LoadSpecFile(args[0])
			if err != nil {
				return err
			}
			if _, err := engine.Compile(spec); err != nil {
				return err
			}

			flow := &domain.Flow{ID: uuid.New(), Name: name, Content: *spec}
			if id != "" {
				if flow.ID, err = uuid.Parse(id); err != nil {
					return fmt.Errorf("invalid flow id: %w", err)
				}
			}
			if flow.Name == "" {
				flow.Name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			err = withFlows(cmd.Context(), env, func(flows *repo.FlowRepo) error {
				return flows.Save(cmd.Context(), flow)
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow saved: %s", flow.ID))
			out.Print(
				[]string{"ID", "NAME", "NODES", "UPDATED"},
				[][]string{{flow.ID.String(), flow.Name, strconv.Itoa(len(spec.Nodes)), flow.UpdatedAt.Format(time.RFC3339)}},
				flow,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Flow ID to create or replace (default: new)")
	cmd.Flags().StringVar(&name, "name", "", "Flow name (default: file name)")

	return cmd
}

func newFlowListCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			env, err := envFn()
			if err != nil {
				return err
			}

			var list []domain.Flow
			err = withFlows(cmd.Context(), env, func(flows *repo.FlowRepo) error {
				list, err = flows.List(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(list))
			for i, f := range list {
				rows[i] = []string{f.ID.String(), f.Name, f.UpdatedAt.Format(time.RFC3339)}
			}
			out.Print([]string{"ID", "NAME", "UPDATED"}, rows, list)
			return nil
		},
	}
}

func newFlowDeleteCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			env, err := envFn()
			if err != nil {
				return err
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid flow id: %w", err)
			}

			err = withFlows(cmd.Context(), env, func(flows *repo.FlowRepo) error {
				return flows.Delete(cmd.Context(), id)
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow deleted: %s", id))
			return nil
		},
	}
}

func newFlowSetGlobalCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "set-global ID VALUE",
		Short: "Set the stored value of a global variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			env, err := envFn()
			if err != nil {
				return err
			}

			value := parseValue(args[1])
			err = withFlows(cmd.Context(), env, func(flows *repo.FlowRepo) error {
				return flows.SetGlobal(cmd.Context(), args[0], value)
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Global %s = %s", args[0], formatValue(value)))
			return nil
		},
	}
}
