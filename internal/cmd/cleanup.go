package cmd

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arittr/spectacular-codex/internal/orchestrator"
	"github.com/arittr/spectacular-codex/internal/plan"
)

// StaleWorktree is a run worktree found on disk.
type StaleWorktree struct {
	Path           string
	HasUncommitted bool
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove worktrees left behind by interrupted runs",
	Long: `Cleanup removes task and main worktrees that a run did not get to remove,
for example because the process was killed.

Task branches are never deleted: they are the record of completed work that
resume reads. Only the checkouts go away.

Do not run cleanup while a run for the same repository is in progress.
Use --dry-run to see what would be removed without making changes.`,
	RunE: runCleanup,
}

var (
	cleanupDryRun bool
	cleanupForce  bool
	cleanupRunID  string
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().String("repo", "", "repository to clean (default: current directory)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be cleaned up without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation and remove worktrees with uncommitted changes")
	cleanupCmd.Flags().StringVar(&cleanupRunID, "run", "", "Only clean worktrees of this run id")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupRunID != "" && !plan.RunID(cleanupRunID).Valid() {
		return fmt.Errorf("invalid run id %q: expected 6 hex characters", cleanupRunID)
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
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	paths, err := c.Worktrees.Owned(ctx, cleanupRunID)
	if err != nil {
		return fmt.Errorf("failed to discover stale worktrees: %w", err)
	}
	if len(paths) == 0 {
		fmt.Fprintln(out, "No stale worktrees found. Nothing to clean up.")
		return nil
	}

	stale := make([]StaleWorktree, 0, len(paths))
	for _, p := range paths {
		sw := StaleWorktree{Path: p}
		if dirty, err := c.Worktrees.Dirty(ctx, p); err == nil {
			sw.HasUncommitted = dirty
		}
		stale = append(stale, sw)
	}

	printCleanupSummary(cmd, stale)

	if cleanupDryRun {
		fmt.Fprintln(out, "\nDry run mode - no changes made.")
		return nil
	}

	if !cleanupForce {
		fmt.Fprint(out, "\nProceed with cleanup? [y/N] ")
		reader := bufio.NewReader(cmd.InOrStdin())
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cleanup cancelled.")
			return nil
		}
	}

	fmt.Fprintln(out)
	removed := 0
	for _, sw := range stale {
		if sw.HasUncommitted && !cleanupForce {
			fmt.Fprintf(out, "Skipping %s (has uncommitted changes, use --force to remove)\n", filepath.Base(sw.Path))
			continue
		}
		if err := c.Worktrees.Remove(ctx, sw.Path); err != nil {
			fmt.Fprintf(out, "Warning: failed to remove worktree %s: %v\n", filepath.Base(sw.Path), err)
			continue
		}
		fmt.Fprintf(out, "Removed worktree: %s\n", filepath.Base(sw.Path))
		removed++
	}

	fmt.Fprintf(out, "\nCleanup complete. Removed %d worktree(s).\n", removed)
	return nil
}

func printCleanupSummary(cmd *cobra.Command, stale []StaleWorktree) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintln(out, "Stale Worktrees Found")
	fmt.Fprintln(out, strings.Repeat("─", 60))

	fmt.Fprintf(out, "\nWorktrees (%d):\n", len(stale))
	for _, wt := range stale {
		status := ""
		if wt.HasUncommitted {
			status = " [uncommitted changes]"
		}
		fmt.Fprintf(out, "  - %s%s\n", filepath.Base(wt.Path), status)
	}
}
