package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// options 汇总命令行参数。
type options struct {
	configPath string
	login      string
	envFiles   []string

	stdout io.Writer
	prompt func() (string, error)
}

func defaultConfigPath() string {
	if path := os.Getenv("GASLESS_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "gasless.json")
}

func newRootCmd() *cobra.Command {
	opts := &options{prompt: promptLogin}

	cmd := &cobra.Command{
		Use:           "gaslessd",
		Short:         "Autonomous agent that submits sponsored swaps when the oracle says so",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.stdout = cmd.OutOrStdout()
			return runLoop(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to the JSON config file")
	flags.StringVarP(&opts.login, "login", "l", "", "embedded wallet login method (google/apple/x)")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading credentials")

	cmd.AddCommand(newCycleCmd(opts))
	return cmd
}

func newCycleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single fetch/decide/dispatch cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.stdout = cmd.OutOrStdout()
			return runOnce(cmd.Context(), opts)
		},
	}
}

func runLoop(ctx context.Context, opts *options) error {
	a, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(opts.stdout, "收到退出信号，代理已停止")
		return nil
	}
	return err
}

func runOnce(ctx context.Context, opts *options) error {
	a, err := bootstrap(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.loop.RunCycle(ctx)
	printReport(opts.stdout, report)
	if report.Failed() {
		return report.Err
	}
	return nil
}
