package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/orchestrator"
	"github.com/arittr/spectacular-codex/internal/plan"
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute a plan in the foreground",
	Long: `Execute every phase of a plan against the repository and wait for the
result. Tasks whose branches already carry work for this run are skipped, so
re-running an interrupted plan with the same run id resumes it.

Interrupting the command cancels running agents; finished task branches are
kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("repo", "", "repository to run in (default: current directory)")
	runCmd.Flags().String("run-id", "", "run id to use instead of the plan's (6 hex characters)")
	runCmd.Flags().Bool("json", false, "print the final job as JSON")
	runCmd.Flags().BoolP("quiet", "q", false, "do not narrate progress")
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := plan.LoadFile(args[0])
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("run-id"); id != "" {
		p.RunID = plan.RunID(id)
		if err := p.Validate(); err != nil {
			return err
		}
	}

	dir, err := repoDir(cmd)
	if err != nil {
		return err
	}
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")

	bus := event.NewBus(logger)
	if !quiet && !asJSON {
		bus.SubscribeAll(syncHandler(progressPrinter(out, newStyles(out))))
	}

	jobs := job.NewStore()
	orch, err := orchestrator.FromConfig(ctx, cfg, dir, jobs, logger, bus)
	if err != nil {
		return err
	}

	runID, err := orch.Start(ctx, p)
	if err != nil {
		return err
	}
	orch.Wait()

	j, ok := jobs.Get(runID)
	if !ok {
		return errors.NewRunNotFoundError(runID.String())
	}
	return reportJob(out, j, asJSON)
}

// reportJob prints the final state of j and returns an error when it failed.
func reportJob(out io.Writer, j job.Job, asJSON bool) error {
	if asJSON {
		if err := writeJSON(out, j); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out)
		renderJob(out, newStyles(out), j)
	}
	if j.Status == job.StatusFailed {
		return fmt.Errorf("run %s failed: %s", j.RunID, j.Error)
	}
	return nil
}

// syncHandler serializes h; parallel tasks publish from their own goroutines.
func syncHandler(h event.Handler) event.Handler {
	var mu sync.Mutex
	return func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		h(e)
	}
}
