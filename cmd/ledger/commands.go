package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/api"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/builtin"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/ledger"
	"github.com/sharma-sourabh3435/provenance-ledger/internal/models"
	"github.com/sharma-sourabh3435/provenance-ledger/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by every subcommand
type app struct {
	v          *viper.Viper
	configFile string
	config     *utils.Config
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := &app{v: utils.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "ledger",
		Short:         "Run jobs in a workspace and record their runs, logs and artifacts",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default ./ledger.yaml if present)")
	flags.StringP("workspace", "w", ".", "Workspace root")
	flags.String("jobs-manifest", "", "YAML manifest of command jobs")
	flags.Bool("reconcile-abandoned", false, "Fail runs left running by a previous process")
	flags.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.String("log-format", "text", "Log format (text, json)")

	a.v.BindPFlag("workspace", flags.Lookup("workspace"))
	a.v.BindPFlag("jobs_manifest", flags.Lookup("jobs-manifest"))
	a.v.BindPFlag("reconcile_abandoned", flags.Lookup("reconcile-abandoned"))
	a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	a.v.BindPFlag("log_format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		a.newServeCmd(),
		a.newRunCmd(),
		a.newRunsCmd(),
		a.newLogsCmd(),
		a.newArtifactsCmd(),
	)

	return rootCmd
}

func (a *app) load() error {
	config, err := utils.LoadConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.config = config

	utils.SetDefaultLogLevel(config.GetLogLevel())
	if err := utils.SetDefaultFormat(config.LogFormat); err != nil {
		return err
	}
	utils.SetDefaultOutput(os.Stderr)
	return nil
}

// open opens the ledger and registers the builtin and manifest jobs
func (a *app) open(reconcile bool) (*ledger.Ledger, error) {
	l, err := ledger.Open(ledger.Options{
		Root:               a.config.WorkspaceRoot,
		ReconcileAbandoned: reconcile,
	})
	if err != nil {
		return nil, err
	}
	if err := builtin.Register(l.Jobs, a.config.JobsManifest); err != nil {
		l.Shutdown()
		return nil, err
	}
	return l, nil
}

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "API listen address")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "How long to wait for running jobs on shutdown")
	a.v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	a.v.BindPFlag("shutdown_timeout", cmd.Flags().Lookup("shutdown-timeout"))
	return cmd
}

func (a *app) serve() error {
	utils.Info("Starting provenance ledger")
	utils.Info("Workspace: %s", a.config.WorkspaceRoot)
	utils.Info("API Server: %s", a.config.HTTPAddr)

	l, err := a.open(a.config.ReconcileAbandoned)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	apiServer := api.NewServer(l, a.config.HTTPAddr)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	utils.Info("Registered jobs: %v", l.Jobs.Keys())

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		utils.Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			utils.Error("API server error: %v", err)
		}
	}

	utils.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		utils.Error("API server shutdown error: %v", err)
	}

	// Give in-flight runs the rest of the grace period before abandoning them.
	if err := l.Jobs.WaitContext(ctx); err != nil {
		utils.Warn("Abandoning %d running jobs: %v", l.Jobs.LiveCount(), err)
	}

	if err := l.Shutdown(); err != nil {
		return err
	}

	utils.Info("Shutdown complete")
	return nil
}

func (a *app) newRunCmd() *cobra.Command {
	var (
		input   string
		traceID string
		report  bool
	)

	cmd := &cobra.Command{
		Use:   "run <job-key>",
		Short: "Run a registered job and wait for it to settle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.open(false)
			if err != nil {
				return err
			}
			defer l.Shutdown()

			var payload interface{}
			if input != "" {
				payload = json.RawMessage(input)
			}

			runID, err := l.Jobs.Run(cmd.Context(), args[0], payload, jobs.RunOptions{TraceID: traceID})
			if err != nil {
				return err
			}

			// This process hosts the run, so it stays up until the body returns.
			run, err := waitForRun(l, runID)
			if err != nil {
				return err
			}
			if report {
				return printLedger(cmd, l, run)
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			return settledOK(run)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Job input as JSON")
	cmd.Flags().StringVar(&traceID, "trace-id", "", "Trace id (generated when empty)")
	cmd.Flags().BoolVar(&report, "report", true, "Print the settled run's ledger as JSON (otherwise print only the run id)")
	return cmd
}

// waitForRun blocks until the run's body returns. An interrupt cancels the
// run first.
func waitForRun(l *ledger.Ledger, runID string) (*models.Run, error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	go func() {
		l.Jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-sigChan:
		if _, err := l.Jobs.Cancel(context.Background(), runID); err != nil {
			return nil, err
		}
		<-done
	}

	run, err := l.Runs.GetRun(context.Background(), runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%s: %w", runID, errRunNotFound)
	}
	return run, nil
}

// printLedger prints the run with its logs and artifacts as JSON
func printLedger(cmd *cobra.Command, l *ledger.Ledger, run *models.Run) error {
	ctx := cmd.Context()
	logs, err := l.Logs.ListLogs(ctx, run.ID)
	if err != nil {
		return err
	}
	artifacts, err := l.Artifacts.ListArtifacts(ctx, run.ID)
	if err != nil {
		return err
	}

	if err := writeJSON(cmd.OutOrStdout(), models.RunWithLedger{Run: *run, Logs: logs, Artifacts: artifacts}); err != nil {
		return err
	}
	return settledOK(run)
}

func settledOK(run *models.Run) error {
	if run.Status != models.RunStatusSuccess {
		return fmt.Errorf("run %s finished with status %s", run.ID, run.Status)
	}
	return nil
}

func (a *app) newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.open(a.config.ReconcileAbandoned)
			if err != nil {
				return err
			}
			defer l.Shutdown()

			runs, err := l.Runs.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTATUS\tTRACE ID\tSTARTED\tFINISHED")
			for _, run := range runs {
				finished := "-"
				if run.FinishedAt != nil {
					finished = run.FinishedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", run.ID, run.Status, run.TraceID, run.StartedAt.Format(time.RFC3339), finished)
			}
			return tw.Flush()
		},
	}
}

func (a *app) newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Print a run's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.open(false)
			if err != nil {
				return err
			}
			defer l.Shutdown()

			if err := requireRun(cmd.Context(), l, args[0]); err != nil {
				return err
			}
			entries, err := l.Logs.ListLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n", e.CreatedAt.Format(time.RFC3339Nano), e.Level, e.Message)
			}
			return nil
		},
	}
}

func (a *app) newArtifactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <run-id>",
		Short: "List a run's artifacts with provenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.open(false)
			if err != nil {
				return err
			}
			defer l.Shutdown()

			if err := requireRun(cmd.Context(), l, args[0]); err != nil {
				return err
			}
			list, err := l.Artifacts.ListArtifacts(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tJOB\tINPUT HASH\tTRACE ID\tCREATED")
			for _, art := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", art.Path, art.JobKey, art.InputHash, art.TraceID, art.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

var errRunNotFound = errors.New("run not found")

func requireRun(ctx context.Context, l *ledger.Ledger, runID string) error {
	run, err := l.Runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%s: %w", runID, errRunNotFound)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
