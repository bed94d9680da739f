package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/orchestrator"
	"github.com/arittr/spectacular-codex/internal/plan"
	"github.com/arittr/spectacular-codex/internal/resume"
)

var resumeCheckCmd = &cobra.Command{
	Use:   "resume-check <plan.yaml>",
	Short: "Show which tasks of a plan already have work in git",
	Long: `Inspect task branches and report, phase by phase, which tasks are completed
and which would run next. Nothing is executed or modified.

Each phase is checked against the branch the previous phase ended on, the way
a run would. Checking stops at the first phase with pending tasks, because
later phases would build on work that does not exist yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runResumeCheck,
}

func init() {
	rootCmd.AddCommand(resumeCheckCmd)
	resumeCheckCmd.Flags().String("repo", "", "repository to inspect (default: current directory)")
	resumeCheckCmd.Flags().String("run-id", "", "run id to use instead of the plan's")
	resumeCheckCmd.Flags().Int("phase", 0, "check only this phase (0 checks every reachable phase)")
	resumeCheckCmd.Flags().String("base", "", "base ref for the first checked phase (default: execution.base_ref)")
	resumeCheckCmd.Flags().Bool("json", false, "print the result as JSON")
}

// phaseCheck is one phase's partition as printed by resume-check.
type phaseCheck struct {
	Phase     int                    `json:"phase"`
	Base      string                 `json:"base"`
	Completed []resume.CompletedTask `json:"completed"`
	Pending   []plan.Task            `json:"pending"`
}

func runResumeCheck(cmd *cobra.Command, args []string) error {
	p, err := plan.LoadFile(args[0])
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("run-id"); id != "" {
		p.RunID = plan.RunID(id)
	}
	if !p.RunID.Valid() {
		return errors.NewValidationError("run id must be 6 hex characters").
			WithField("run_id").WithValue(p.RunID.String())
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

	c, err := orchestrator.BuildComponents(cfg, dir, logger)
	if err != nil {
		return err
	}

	only, _ := cmd.Flags().GetInt("phase")
	phases := p.Phases
	if only != 0 {
		ph, ok := p.Phase(only)
		if !ok {
			return errors.NewNotFoundError("phase", fmt.Sprint(only))
		}
		phases = []plan.Phase{ph}
	}

	base, _ := cmd.Flags().GetString("base")
	if base == "" {
		base = cfg.Execution.BaseRef
	}
	ctx := cmd.Context()
	base, err = c.Reader.ResolveRef(ctx, c.Worktrees.RepoDir(), base)
	if err != nil {
		return err
	}

	var checks []phaseCheck
	for _, ph := range phases {
		work, err := c.Resume.CheckExistingWork(ctx, ph, p.RunID, c.Worktrees.RepoDir(), base)
		if err != nil {
			return err
		}
		checks = append(checks, phaseCheck{Phase: ph.ID, Base: base, Completed: work.Completed, Pending: work.Pending})
		if !work.AllCompleted() {
			break
		}
		if last := lastBranch(work); last != "" {
			base = last
		}
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return json.NewEncoder(out).Encode(checks)
	}

	s := newStyles(out)
	fmt.Fprintf(out, "%s %s\n\n", s.title.Render("Run"), p.RunID)
	for _, pc := range checks {
		renderExistingWork(out, s, pc.Phase, resume.ExistingWork{Completed: pc.Completed, Pending: pc.Pending})
	}
	if len(phases) > len(checks) {
		fmt.Fprintln(out, s.muted.Render(fmt.Sprintf("\n%d later phase(s) not reached", len(phases)-len(checks))))
	}
	return nil
}

// lastBranch is the branch of the last completed task that has one.
func lastBranch(work resume.ExistingWork) string {
	for i := len(work.Completed) - 1; i >= 0; i-- {
		if b := work.Completed[i].Branch; b != "" {
			return b
		}
	}
	return ""
}
