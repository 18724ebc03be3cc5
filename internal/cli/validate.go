package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/d6u/PromptPlay-sub006/internal/engine"
)

type planNode struct {
	Order int    `json:"order"`
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Type  string `json:"type"`
	Deps  int    `json:"dependencies"`
}

// NewValidateCmd создаёт команду проверки файла flow.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a flow file and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			plan, err := engine.LoadPlanFile(args[0])
			if err != nil {
				return err
			}

			nodes := make([]planNode, 0, len(plan.DAG.Order))
			rows := make([][]string, 0, len(plan.DAG.Order))
			for i, n := range plan.DAG.Order {
				pn := planNode{
					Order: i,
					ID:    n.Node.ID,
					Kind:  string(n.Node.Kind),
					Type:  n.Node.Type,
					Deps:  len(n.DependsOn),
				}
				nodes = append(nodes, pn)
				rows = append(rows, []string{strconv.Itoa(pn.Order), pn.ID, pn.Kind, pn.Type, strconv.Itoa(pn.Deps)})
			}

			out.Success(fmt.Sprintf("Flow is valid: %d nodes", plan.Graph.Size()))
			out.Print([]string{"ORDER", "ID", "KIND", "TYPE", "DEPS"}, rows, nodes)
			return nil
		},
	}
}
