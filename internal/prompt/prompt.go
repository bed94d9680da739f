// Package prompt renders the instructions sent to agents.
//
// Task prompts ask the agent to commit on a named branch and finish with a
// "BRANCH: <name>" line. Review prompts ask for a "VERDICT: APPROVED" or
// "VERDICT: REJECTED" line. Fix prompts carry the reviewer's reply back into
// the same conversation.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/arittr/spectacular-codex/internal/plan"
)

// TaskData is available to the task template.
type TaskData struct {
	PlanTitle string
	RunID     plan.RunID
	Phase     plan.Phase
	Task      plan.Task
	Branch    string
	BaseRef   string
	Workdir   string
}

// ReviewData is available to the review template.
type ReviewData struct {
	PlanTitle string
	RunID     plan.RunID
	Phase     plan.Phase
	BaseRef   string
	Branches  []string
}

// FixData is available to the fix template.
type FixData struct {
	Phase     plan.Phase
	Rejection int
	Review    string
}

var (
	taskTmpl   = template.Must(template.New("task").Parse(taskTemplate))
	reviewTmpl = template.Must(template.New("review").Parse(reviewTemplate))
	fixTmpl    = template.Must(template.New("fix").Parse(fixTemplate))
)

// Task renders the prompt for executing one task.
func Task(p *plan.Plan, ph plan.Phase, t plan.Task, baseRef, workdir string) (string, error) {
	return render(taskTmpl, TaskData{
		PlanTitle: p.Title,
		RunID:     p.RunID,
		Phase:     ph,
		Task:      t,
		Branch:    plan.TaskBranchName(p.RunID, t),
		BaseRef:   baseRef,
		Workdir:   workdir,
	})
}

// Review renders the prompt that opens a phase review.
func Review(p *plan.Plan, ph plan.Phase, baseRef string, branches []string) (string, error) {
	return render(reviewTmpl, ReviewData{
		PlanTitle: p.Title,
		RunID:     p.RunID,
		Phase:     ph,
		BaseRef:   baseRef,
		Branches:  branches,
	})
}

// Fix renders the prompt asking the agent to address a rejection.
func Fix(ph plan.Phase, rejection int, review string) (string, error) {
	return render(fixTmpl, FixData{Phase: ph, Rejection: rejection, Review: review})
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

const taskTemplate = `# Task {{.Task.ID}}: {{.Task.Name}}
{{- if .PlanTitle}}

Part of plan: {{.PlanTitle}} (run {{.RunID}}), phase {{.Phase.ID}} "{{.Phase.Name}}" ({{.Phase.Strategy}}).
{{- end}}

## Your Task

{{.Task.Description}}
{{- if .Task.Files}}

## Expected Files

{{range .Task.Files}}- {{.}}
{{end}}
{{- end}}
{{- if .Task.AcceptanceCriteria}}

## Acceptance Criteria

{{range .Task.AcceptanceCriteria}}- {{.}}
{{end}}
{{- end}}

## Guidelines

- You are working in {{.Workdir}}, checked out at {{.BaseRef}}.
- Create the branch {{.Branch}} from the current HEAD and commit all of your work on it.
- Focus only on this task; do not modify files outside its scope unless necessary.
- Run the project's tests before committing.

## Completion

When your work is committed, end your reply with exactly one line:

BRANCH: {{.Branch}}

If you could not complete the task, explain why and do not print a BRANCH line.
`

const reviewTemplate = `# Code Review: Phase {{.Phase.ID}} "{{.Phase.Name}}"
{{- if .PlanTitle}}

Plan: {{.PlanTitle}} (run {{.RunID}})
{{- end}}

Review the work of this phase against its tasks. The phase started from {{.BaseRef}}.

## Tasks

{{range .Phase.Tasks}}- {{.ID}} {{.Name}}
{{range .AcceptanceCriteria}}  - {{.}}
{{end}}{{end}}
{{- if .Branches}}
## Branches

{{range .Branches}}- {{.}}
{{end}}
{{- end}}
Check correctness, acceptance criteria, tests, and obvious bugs. List every
problem you find with the file it is in.

End your reply with exactly one verdict line:

VERDICT: APPROVED
or
VERDICT: REJECTED
`

const fixTemplate = `# Fix Review Findings (rejection {{.Rejection}})

The review of phase {{.Phase.ID}} "{{.Phase.Name}}" was rejected:

{{.Review}}

Address every finding. Commit the fixes on the branches that contain the
affected code, then summarize what you changed. Do not print a verdict.
`
