// Command pade finds features that differ between experimental conditions
// using resampling-based false discovery rate estimation.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gopade/internal"
	"gopade/internal/config"
)

// app holds what every subcommand needs once the root has loaded the
// configuration.
type app struct {
	cfg    *config.Config
	logger *internal.Logger
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	var envFile, logLevel string

	rootCmd := &cobra.Command{
		Use:           "pade",
		Short:         "Resampling-based differential analysis with FDR estimation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.logger = internal.NewLoggerTo(internal.ParseLogLevel(cfg.LogLevel), cmd.ErrOrStderr())
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file to load instead of .env")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: ERROR, WARN, INFO, DEBUG or TRACE (default $LOG_LEVEL)")

	rootCmd.AddCommand(
		newInitSchemaCmd(a),
		newRunCmd(a),
		newMigrateCmd(a),
		newShowCmd(a),
	)
	return rootCmd
}
