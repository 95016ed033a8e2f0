package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ricco24/hermes/internal/runtime/config"
)

const version = "0.1.0"

// Exit codes understood by process supervisors.
const (
	exitOK      = 0
	exitError   = 1
	exitRestart = 3
)

// exitCodeError makes a command end the process with code.
type exitCodeError struct {
	code   int
	reason string
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit %d: %s", e.code, e.reason)
}

// app carries what every subcommand shares.
type app struct {
	configPath string
	cfg        *config.Config
	zap        *zap.Logger
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}
	root := &cobra.Command{
		Use:           "hermes",
		Short:         "Hermes message dispatch worker",
		Long:          "Hermes runs dispatch workers on a queue driver and controls them through restart and shutdown signals.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.zap != nil {
				_ = a.zap.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: hermes.yaml in . or /etc/hermes)")

	root.AddCommand(
		newWorkerCmd(a),
		newSendCmd(a),
		newTriggerCmd(a, "restart", "Ask running workers to restart"),
		newTriggerCmd(a, "shutdown", "Ask running workers to stop"),
		newStatusCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := newZapLogger(cfg.LogLevel, cfg.LogFormat, a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.zap = logger
	return nil
}

// run executes the CLI and maps the outcome to a process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var exit exitCodeError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitError
}
