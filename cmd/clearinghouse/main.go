// Command clearinghouse ingests Civil Rights Litigation Clearinghouse cases,
// dockets and documents into a relational store.
//
// Usage:
//
//	go run ./cmd/clearinghouse ingest-mock [--case-limit 1]
//	go run ./cmd/clearinghouse ingest-live --since 2024-01-01
//	go run ./cmd/clearinghouse fetch-document <case-id> <document-id>
//	go run ./cmd/clearinghouse migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/logger"
	"github.com/spf13/cobra"
)

var Version = "dev"

// exitError carries a process exit code other than 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// app holds the state shared by all subcommands once the root command has
// loaded the configuration.
type app struct {
	configPath string
	verbose    bool
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "clearinghouse",
		Short:         "Incremental ingestion of Clearinghouse case data",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			level := cfg.Logging.Level
			if a.verbose {
				level = "debug"
			}
			logger.Setup(level, cfg.Logging.Format)
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newIngestCmd(a, ingestMock))
	root.AddCommand(newIngestCmd(a, ingestLive))
	root.AddCommand(newFetchDocumentCmd(a))
	root.AddCommand(newMigrateCmd(a))
	return root
}
