// PromptPlay CLI: выполнение и проверка flows из файлов,
// управление хранимыми flows и batch.
//
// Использование:
//
//	promptplay [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	validate  Проверка flow
//	run       Однократное выполнение flow
//	batch     Выполнение flow по строкам CSV
//	flow      Управление хранимыми flows
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/d6u/PromptPlay-sub006/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "promptplay",
		Short:         "PromptPlay CLI: run and evaluate prompt flows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	envFn := func() (*cli.Env, error) { return cli.LoadEnv(configPath) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewValidateCmd(outputFn),
		cli.NewRunCmd(envFn, outputFn),
		cli.NewBatchCmd(envFn, outputFn),
		cli.NewFlowCmd(envFn, outputFn),
	)

	// Ctrl+C отменяет выполняющийся run или batch.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
