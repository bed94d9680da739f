// Package plan defines the execution plan model: a run identifier owning an
// ordered list of phases, each grouping tasks under one execution strategy.
package plan

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/arittr/spectacular-codex/internal/errors"
)

// Strategy is the execution discipline of a phase.
type Strategy string

const (
	// StrategyParallel runs every pending task concurrently and waits for all of them.
	StrategyParallel Strategy = "parallel"
	// StrategySequential runs pending tasks one at a time and stops on the first failure.
	StrategySequential Strategy = "sequential"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyParallel || s == StrategySequential
}

// Task is the smallest unit of work. Its ID has the form "{phase}-{index}".
type Task struct {
	ID                 string   `yaml:"id" json:"id"`
	Name               string   `yaml:"name" json:"name"`
	Description        string   `yaml:"description" json:"description"`
	Files              []string `yaml:"files,omitempty" json:"files,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
	// DependsOn is informational; scheduling is decided by phase grouping.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Phase is an ordered group of tasks sharing one strategy.
type Phase struct {
	ID       int      `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Tasks    []Task   `yaml:"tasks" json:"tasks"`
}

// TaskIDs returns the ids of the phase's tasks in order.
func (p Phase) TaskIDs() []string {
	ids := make([]string, len(p.Tasks))
	for i, t := range p.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// Ordered returns a copy of the phase with its tasks in ascending index
// order, so "4-2" runs before "4-10" whatever order the plan lists them in.
func (p Phase) Ordered() Phase {
	p.Tasks = slices.Clone(p.Tasks)
	slices.SortStableFunc(p.Tasks, func(a, b Task) int {
		return cmp.Compare(taskIndex(a.ID), taskIndex(b.ID))
	})
	return p
}

// taskIndex returns the numeric index of a "{phase}-{index}" id, or -1.
func taskIndex(id string) int {
	_, idx, ok := strings.Cut(id, "-")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return -1
	}
	return n
}

// Plan is the ordered sequence of phases owned by a run.
type Plan struct {
	RunID  RunID   `yaml:"run_id" json:"run_id"`
	Title  string  `yaml:"title,omitempty" json:"title,omitempty"`
	Phases []Phase `yaml:"phases" json:"phases"`
}

// Phase returns the phase with the given id.
func (p *Plan) Phase(id int) (Phase, bool) {
	for _, ph := range p.Phases {
		if ph.ID == id {
			return ph, true
		}
	}
	return Phase{}, false
}

// Task returns the task with the given id from any phase.
func (p *Plan) Task(id string) (Task, bool) {
	for _, ph := range p.Phases {
		for _, t := range ph.Tasks {
			if t.ID == id {
				return t, true
			}
		}
	}
	return Task{}, false
}

// TotalTasks returns the number of tasks across all phases.
func (p *Plan) TotalTasks() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Tasks)
	}
	return n
}

var taskIDPattern = regexp.MustCompile(`^(\d+)-(\d+)$`)

// Validate checks the structural invariants of the plan: a well-formed run
// id, 1-based strictly increasing phase ids, at least one task per phase,
// known strategies, and unique "{phase}-{index}" task ids.
// Dependencies must name tasks that exist in the plan.
func (p *Plan) Validate() error {
	if p == nil {
		return errors.NewValidationError("plan is nil")
	}
	if !p.RunID.Valid() {
		return errors.NewValidationError("run id must be 6 lowercase hex characters").
			WithField("run_id").WithValue(string(p.RunID))
	}
	if len(p.Phases) == 0 {
		return errors.NewValidationError("plan has no phases").WithField("phases")
	}

	seen := make(map[string]bool)
	prev := 0
	for i, ph := range p.Phases {
		field := fmt.Sprintf("phases[%d]", i)
		if ph.ID < 1 || ph.ID <= prev {
			return errors.NewValidationError("phase ids must be 1-based and strictly increasing").
				WithField(field + ".id").WithValue(ph.ID)
		}
		prev = ph.ID

		if !ph.Strategy.Valid() {
			return errors.NewValidationError("strategy must be parallel or sequential").
				WithField(field + ".strategy").WithValue(string(ph.Strategy))
		}
		if len(ph.Tasks) == 0 {
			return errors.NewValidationError("phase has no tasks").WithField(field + ".tasks")
		}

		for j, t := range ph.Tasks {
			tf := fmt.Sprintf("%s.tasks[%d].id", field, j)
			m := taskIDPattern.FindStringSubmatch(t.ID)
			if m == nil {
				return errors.NewValidationError("task id must have the form {phase}-{index}").
					WithField(tf).WithValue(t.ID)
			}
			if n, _ := strconv.Atoi(m[1]); n != ph.ID {
				return errors.NewValidationError(fmt.Sprintf("task id does not belong to phase %d", ph.ID)).
					WithField(tf).WithValue(t.ID)
			}
			if seen[t.ID] {
				return errors.NewValidationError("duplicate task id").WithField(tf).WithValue(t.ID)
			}
			seen[t.ID] = true
		}
	}

	for _, ph := range p.Phases {
		for _, t := range ph.Tasks {
			for _, dep := range t.DependsOn {
				if !seen[dep] {
					return errors.NewValidationError(fmt.Sprintf("task %s depends on unknown task", t.ID)).
						WithField("depends_on").WithValue(dep)
				}
			}
		}
	}

	return nil
}

// TaskBranchPrefix returns the branch name prefix that identifies the work of
// one task within one run: "{runID}-task-{taskID}-".
func TaskBranchPrefix(runID RunID, taskID string) string {
	return fmt.Sprintf("%s-task-%s-", runID, taskID)
}

// TaskBranchName returns the conventional branch name for a task:
// the task branch prefix followed by a slug of the task name.
func TaskBranchName(runID RunID, t Task) string {
	slug := Slugify(t.Name)
	if slug == "" {
		slug = "work"
	}
	return TaskBranchPrefix(runID, t.ID) + slug
}

// Slugify converts text to a lowercase dash-separated slug of ASCII letters
// and digits suitable for branch names, limited to 30 characters.
func Slugify(text string) string {
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = strings.Join(strings.Fields(slug), "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}

	s := result.String()
	if len(s) > 30 {
		s = s[:30]
	}
	return strings.Trim(s, "-")
}
