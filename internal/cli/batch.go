package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/d6u/PromptPlay-sub006/internal/batch"
	"github.com/d6u/PromptPlay-sub006/internal/domain"
	"github.com/d6u/PromptPlay-sub006/internal/engine"
	"github.com/d6u/PromptPlay-sub006/internal/mq"
	"github.com/d6u/PromptPlay-sub006/internal/repo"
)

// ErrBatchCancelled batch прерван до заполнения всех ячеек.
var ErrBatchCancelled = errors.New("batch cancelled")

// batchFlags флаги, общие для batch run и batch submit.
type batchFlags struct {
	csvPath     string
	noHeader    bool
	mapping     []string
	globals     []string
	repeat      int
	concurrency int
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.csvPath, "csv", "", "CSV file with one row per run (required)")
	cmd.Flags().BoolVar(&f.noHeader, "no-header", false, "CSV file has no header row")
	cmd.Flags().StringArrayVarP(&f.mapping, "map", "m", nil, "Start variable to column as name=column (repeatable)")
	cmd.Flags().StringArrayVarP(&f.globals, "global", "g", nil, "Global variable override as id=value (repeatable)")
	cmd.Flags().IntVar(&f.repeat, "repeat", 1, "Runs per row")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Concurrency limit (default from config)")
	_ = cmd.MarkFlagRequired("csv")
}

// request читает CSV и собирает batch.Request для графа g.
func (f *batchFlags) request(g *engine.Graph, defaultConcurrency int) (batch.Request, error) {
	header, rows, err := readCSV(f.csvPath, !f.noHeader)
	if err != nil {
		return batch.Request{}, err
	}
	columns, err := resolveColumns(g, f.mapping, header)
	if err != nil {
		return batch.Request{}, err
	}
	globals, err := resolveGlobals(f.globals)
	if err != nil {
		return batch.Request{}, err
	}

	concurrency := f.concurrency
	if concurrency == 0 {
		concurrency = defaultConcurrency
	}
	return batch.Request{
		Rows:    rows,
		Globals: globals,
		Config: batch.Config{
			RepeatTimes:             f.repeat,
			ConcurrencyLimit:        concurrency,
			VariableIDToColumnIndex: columns,
		},
	}, nil
}

// NewBatchCmd создаёт группу команд batch.
func NewBatchCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluate a flow over rows of a CSV file",
	}

	cmd.AddCommand(
		newBatchRunCmd(envFn, outputFn),
		newBatchSubmitCmd(envFn, outputFn),
		newBatchShowCmd(envFn, outputFn),
	)

	return cmd
}

// cellView ячейка batch для вывода.
type cellView struct {
	Row       int                                      `json:"row"`
	Iteration int                                      `json:"iteration"`
	RunID     uuid.UUID                                `json:"run_id"`
	Status    domain.RunStatus                         `json:"status"`
	Outputs   map[string]any                           `json:"outputs,omitempty"`
	Messages  map[string][]domain.NodeExecutionMessage `json:"messages,omitempty"`
	Error     string                                   `json:"error,omitempty"`
}

func newBatchRunCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var (
		flags   batchFlags
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a batch locally",
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
			req, err := flags.request(plan.Graph, env.Config.Batch.Concurrency)
			if err != nil {
				return err
			}

			runner := batch.NewRunner(batch.RunnerConfig{
				Registry:    env.Registry(),
				NodeTimeout: env.Config.Batch.NodeTimeout,
				Logger:      env.Logger,
			})
			result, err := runner.Run(cmd.Context(), plan, req)
			if err != nil {
				return err
			}

			finish := plan.Graph.FinishInputs()
			cells := collectCells(result, finish)

			if outPath != "" {
				if err := writeCellsFile(outPath, cells, finish); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Wrote %d cells to %s", len(cells), outPath))
			}

			printCells(out, cells, finish)
			out.Success(fmt.Sprintf("Batch %s: %d of %d cells in %s",
				result.ID, len(cells), len(req.Rows)*req.Config.RepeatTimes,
				result.FinishedAt.Sub(result.StartedAt)))

			if result.Cancelled {
				return ErrBatchCancelled
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write cells to a CSV file")

	return cmd
}

func newBatchSubmitCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	var flags batchFlags

	cmd := &cobra.Command{
		Use:   "submit FLOW_ID",
		Short: "Queue a batch for the evaluation worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()
			env, err := envFn()
			if err != nil {
				return err
			}

			flowID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid flow id: %w", err)
			}

			pool, err := repo.NewPool(ctx, env.Config.DB.URL, env.Config.DB.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			spec, err := repo.NewFlowRepo(pool).LoadSpec(ctx, flowID)
			if err != nil {
				return err
			}
			plan, err := engine.Compile(spec)
			if err != nil {
				return err
			}
			req, err := flags.request(plan.Graph, env.Config.Batch.Concurrency)
			if err != nil {
				return err
			}
			if err := req.Config.Validate(plan.Graph); err != nil {
				return err
			}

			conn, err := mq.NewConnection(mq.ConnectionConfig{
				URL:               env.Config.MQ.URL,
				ReconnectDelay:    env.Config.MQ.ReconnectDelay,
				ReconnectMaxDelay: env.Config.MQ.ReconnectMaxDelay,
				ReconnectAttempts: env.Config.MQ.ReconnectAttempts,
				Logger:            env.Logger,
			})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := mq.SetupTopology(ctx, conn); err != nil {
				return err
			}

			payload := mq.BatchRequestedPayload{
				BatchID:                 uuid.New(),
				FlowID:                  flowID,
				Rows:                    req.Rows,
				RepeatTimes:             req.Config.RepeatTimes,
				ConcurrencyLimit:        req.Config.ConcurrencyLimit,
				VariableIDToColumnIndex: req.Config.VariableIDToColumnIndex,
				Globals:                 req.Globals,
			}
			if err := mq.NewPublisher(conn, env.Logger).PublishBatchRequested(ctx, payload); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Batch submitted: %s", payload.BatchID))
			out.Print(
				[]string{"BATCH_ID", "FLOW_ID", "ROWS", "REPEAT", "CONCURRENCY"},
				[][]string{{
					payload.BatchID.String(),
					flowID.String(),
					strconv.Itoa(len(payload.Rows)),
					strconv.Itoa(payload.RepeatTimes),
					strconv.Itoa(payload.ConcurrencyLimit),
				}},
				payload,
			)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newBatchShowCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show BATCH_ID",
		Short: "Show a stored batch and its cells",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()
			env, err := envFn()
			if err != nil {
				return err
			}

			batchID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			pool, err := repo.NewPool(ctx, env.Config.DB.URL, env.Config.DB.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			batches := repo.NewBatchRepo(pool)
			b, err := batches.GetByID(ctx, batchID)
			if err != nil {
				return err
			}
			stored, err := batches.ListCells(ctx, batchID)
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(struct {
					Batch *domain.Batch      `json:"batch"`
					Cells []domain.BatchCell `json:"cells"`
				}{b, stored})
				return nil
			}

			out.Success(fmt.Sprintf("Batch %s %s: %d of %d cells",
				b.ID, b.Status, len(stored), b.RowCount*b.RepeatTimes))
			if b.Error != "" {
				out.Error(b.Error)
			}

			rows := make([][]string, len(stored))
			for i, c := range stored {
				rows[i] = []string{
					strconv.Itoa(c.Row),
					strconv.Itoa(c.Iteration),
					string(c.Status),
					c.RunID.String(),
					c.Error,
				}
			}
			out.Table([]string{"ROW", "ITER", "STATUS", "RUN_ID", "ERROR"}, rows)
			return nil
		},
	}
}

// collectCells обходит заполненные ячейки в порядке (row, iteration).
// Выходы переименовываются в имена входов Finish-узлов.
func collectCells(result *batch.Result, finish []*domain.Connector) []cellView {
	var cells []cellView
	for row := 0; row < result.Outputs.Rows(); row++ {
		for iter := 0; iter < result.Outputs.Iterations(); iter++ {
			outcome, ok := result.Outputs.Get(row, iter)
			if !ok {
				continue
			}
			meta, _ := result.Metadata.Get(row, iter)

			outputs := make(map[string]any, len(outcome.Outputs))
			for _, c := range finish {
				if v, ok := outcome.Outputs[c.ID]; ok {
					outputs[outputColumn(c)] = v
				}
			}
			cells = append(cells, cellView{
				Row:       row,
				Iteration: iter,
				RunID:     outcome.RunID,
				Status:    outcome.Status,
				Outputs:   outputs,
				Messages:  meta,
				Error:     outcome.Error,
			})
		}
	}
	return cells
}

func cellHeaders(finish []*domain.Connector) []string {
	headers := []string{"ROW", "ITER", "STATUS"}
	for _, c := range finish {
		headers = append(headers, outputColumn(c))
	}
	return append(headers, "ERRORS")
}

func cellRecord(cell cellView, finish []*domain.Connector) []string {
	record := []string{strconv.Itoa(cell.Row), strconv.Itoa(cell.Iteration), string(cell.Status)}
	for _, c := range finish {
		record = append(record, formatValue(cell.Outputs[outputColumn(c)]))
	}

	errs := 0
	for _, msgs := range cell.Messages {
		for _, m := range msgs {
			if m.Type == domain.MessageTypeError {
				errs++
			}
		}
	}
	if cell.Error != "" {
		errs++
	}
	return append(record, strconv.Itoa(errs))
}

func printCells(out *Output, cells []cellView, finish []*domain.Connector) {
	rows := make([][]string, len(cells))
	for i, cell := range cells {
		rows[i] = cellRecord(cell, finish)
	}
	out.Print(cellHeaders(finish), rows, cells)
}

// readCSV читает строки batch. Строки разной длины допускаются:
// короткие строки отклоняет batch.Runner.
func readCSV(path string, hasHeader bool) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if hasHeader && len(records) > 0 {
		return records[0], records[1:], nil
	}
	return nil, records, nil
}

func writeCellsFile(path string, cells []cellView, finish []*domain.Connector) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output csv: %w", err)
	}
	if err := writeCells(f, cells, finish); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCells(w io.Writer, cells []cellView, finish []*domain.Connector) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cellHeaders(finish)); err != nil {
		return fmt.Errorf("write output csv: %w", err)
	}
	for _, cell := range cells {
		if err := cw.Write(cellRecord(cell, finish)); err != nil {
			return fmt.Errorf("write output csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write output csv: %w", err)
	}
	return nil
}
