package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/resume"
)

// Palette shared by every human-readable command output.
var (
	colorPrimary = lipgloss.Color("#A78BFA")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#F87171")
	colorMuted   = lipgloss.Color("#9CA3AF")
	colorRunning = lipgloss.Color("#60A5FA")
)

// styles renders status output.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	running lipgloss.Style
	width   int
}

// newStyles returns colored styles when out is a terminal and plain ones
// otherwise.
func newStyles(out io.Writer) styles {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return plainStyles()
	}
	s := styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		label:   lipgloss.NewStyle().Bold(true),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		success: lipgloss.NewStyle().Foreground(colorSuccess),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		failure: lipgloss.NewStyle().Foreground(colorError),
		running: lipgloss.NewStyle().Foreground(colorRunning),
	}
	if w, _, err := term.GetSize(int(f.Fd())); err == nil {
		s.width = w
	}
	return s
}

func plainStyles() styles {
	plain := lipgloss.NewStyle()
	return styles{
		title: plain, label: plain, muted: plain, success: plain,
		warning: plain, failure: plain, running: plain,
	}
}

func (s styles) jobStatus(st job.Status) string {
	switch st {
	case job.StatusCompleted:
		return s.success.Render(string(st))
	case job.StatusFailed:
		return s.failure.Render(string(st))
	default:
		return s.running.Render(string(st))
	}
}

func (s styles) taskState(t job.TaskStatus) string {
	label := string(t.Status)
	if t.Resumed {
		label += " (resumed)"
	}
	switch t.Status {
	case job.TaskCompleted:
		return s.success.Render(label)
	case job.TaskFailed:
		return s.failure.Render(label)
	case job.TaskRunning:
		return s.running.Render(label)
	default:
		return s.muted.Render(label)
	}
}

// truncate shortens line to the terminal width, if known.
func (s styles) truncate(line string) string {
	if s.width == 0 || lipgloss.Width(line) <= s.width {
		return line
	}
	return lipgloss.NewStyle().MaxWidth(s.width).Render(line)
}

// renderJob writes a human-readable summary of j.
func renderJob(w io.Writer, s styles, j job.Job) {
	fmt.Fprintf(w, "%s %s\n", s.title.Render("Run"), j.RunID)
	fmt.Fprintf(w, "  %s %s\n", s.label.Render("Status:"), s.jobStatus(j.Status))
	fmt.Fprintf(w, "  %s %d/%d\n", s.label.Render("Phase:"), j.Phase, j.TotalPhases)
	if j.BaseRef != "" {
		fmt.Fprintf(w, "  %s %s\n", s.label.Render("Base:"), j.BaseRef)
	}
	fmt.Fprintf(w, "  %s %s\n", s.label.Render("Started:"), j.StartedAt.Format(time.DateTime))
	if j.CompletedAt != nil {
		fmt.Fprintf(w, "  %s %s (%s)\n", s.label.Render("Finished:"),
			j.CompletedAt.Format(time.DateTime), j.CompletedAt.Sub(j.StartedAt).Round(time.Second))
	}
	if j.Error != "" {
		fmt.Fprintf(w, "  %s %s\n", s.label.Render("Error:"), s.failure.Render(j.Error))
	}
	for _, warn := range j.Warnings {
		fmt.Fprintf(w, "  %s %s\n", s.warning.Render("Warning:"), warn)
	}

	if len(j.Tasks) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", s.label.Render("Tasks:"))
	for _, t := range j.Tasks {
		line := fmt.Sprintf("    %-8s %s", t.ID, s.taskState(t))
		if t.Branch != "" {
			line += " " + s.muted.Render(t.Branch)
		}
		fmt.Fprintln(w, s.truncate(line))
		if t.Error != "" {
			fmt.Fprintln(w, s.truncate("             "+s.failure.Render(t.Error)))
		}
	}
}

// renderExistingWork writes the completed/pending partition of a phase.
func renderExistingWork(w io.Writer, s styles, phase int, work resume.ExistingWork) {
	fmt.Fprintf(w, "%s %d: %d completed, %d pending\n", s.title.Render("Phase"),
		phase, len(work.Completed), len(work.Pending))
	for _, c := range work.Completed {
		fmt.Fprintf(w, "  %s %-8s %s %s\n", s.success.Render("done"), c.ID, c.Branch,
			s.muted.Render(fmt.Sprintf("(%d commits)", c.CommitCount)))
	}
	for _, t := range work.Pending {
		fmt.Fprintf(w, "  %s %-8s %s\n", s.muted.Render("todo"), t.ID, t.Name)
	}
}

// progressPrinter returns an event handler that narrates a run as it goes.
func progressPrinter(w io.Writer, s styles) func(event.Event) {
	return func(e event.Event) {
		var line string
		switch ev := e.(type) {
		case event.PhaseStartedEvent:
			line = fmt.Sprintf("%s %d (%s): %d to run, %d resumed",
				s.title.Render("Phase"), ev.Phase, ev.Strategy, ev.Pending, ev.Resumed)
		case event.TaskResumedEvent:
			line = fmt.Sprintf("  %s %s %s", s.muted.Render("skip"), ev.TaskID, s.muted.Render(ev.Branch))
		case event.TaskStartedEvent:
			line = fmt.Sprintf("  %s %s", s.running.Render("run "), ev.TaskID)
		case event.TaskFinishedEvent:
			if ev.Success {
				line = fmt.Sprintf("  %s %s %s", s.success.Render("done"), ev.TaskID, s.muted.Render(ev.Branch))
			} else {
				line = fmt.Sprintf("  %s %s %s", s.failure.Render("fail"), ev.TaskID, ev.Error)
			}
		case event.ReviewVerdictEvent:
			verdict := s.success.Render("approved")
			if !ev.Approved {
				verdict = s.warning.Render(fmt.Sprintf("rejected (%d)", ev.Rejections))
			}
			line = fmt.Sprintf("  %s phase %d %s", s.label.Render("review"), ev.Phase, verdict)
		case event.StackingWarningEvent:
			line = fmt.Sprintf("  %s %s: %s", s.warning.Render("stacking"), ev.Backend, ev.Error)
		default:
			return
		}
		fmt.Fprintln(w, strings.TrimRight(s.truncate(line), " "))
	}
}
