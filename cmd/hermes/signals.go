package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricco24/hermes/internal/runtime"
	"github.com/ricco24/hermes/internal/runtime/logging"
	"github.com/ricco24/hermes/signal"
)

// newTriggerCmd builds the restart and shutdown commands, which differ only
// in the signal they write.
func newTriggerCmd(a *app, name, short string) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Long: short + ". Workers started at or before the recorded time stop at their next check;\n" +
			"workers started later ignore it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				when = parsed
			}

			signals, err := runtime.BuildSignals(a.cfg, logging.NewZapLogger(a.zap))
			if err != nil {
				return err
			}
			defer signals.Close()

			target := signals.Restart
			if name == "shutdown" {
				target = signals.Shutdown
			}
			if err := target.Trigger(cmd.Context(), when); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s recorded at %s\n", name, when.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to record instead of now")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorded restart and shutdown signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signals, err := runtime.BuildSignals(a.cfg, logging.NewZapLogger(a.zap))
			if err != nil {
				return err
			}
			defer signals.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "driver:   %s\n", a.cfg.Driver)
			fmt.Fprintf(out, "signals:  %s\n", a.cfg.SignalStore)
			for _, s := range []struct {
				name string
				sig  signal.Signal
			}{
				{"restart", signals.Restart},
				{"shutdown", signals.Shutdown},
			} {
				fmt.Fprintf(out, "%-9s %s\n", s.name+":", describe(cmd, s.sig))
			}
			return nil
		},
	}
}

func describe(cmd *cobra.Command, sig signal.Signal) string {
	rec, ok := sig.(signal.Recorder)
	if !ok {
		return "unknown"
	}
	at, set, err := rec.Recorded(cmd.Context())
	switch {
	case err != nil:
		return "error: " + err.Error()
	case !set:
		return "not set"
	}
	return at.UTC().Format(time.RFC3339)
}
