// Package mcp exposes run control as MCP tools over stdio.
//
// Two tools are registered:
//
//   - execute starts a plan run and returns its run id immediately.
//   - status returns the job of a run. A finished job is discarded once it
//     has been reported, so a later status call for it fails as not found.
package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/logging"
	"github.com/arittr/spectacular-codex/internal/plan"
)

// Starter launches plan runs.
type Starter interface {
	Start(ctx context.Context, p *plan.Plan) (plan.RunID, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "spectacular")
	Name string
	// Version is the implementation version (default: "dev")
	Version string
	Logger  *logging.Logger
}

// Server serves the spectacular tools.
type Server struct {
	mcp     *mcp.Server
	runs    Starter
	jobs    *job.Store
	logger  *logging.Logger
	version string
}

// NewServer creates a server backed by runs and jobs.
func NewServer(cfg Config, runs Starter, jobs *job.Store) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("run starter is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if cfg.Name == "" {
		cfg.Name = "spectacular"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		runs:    runs,
		jobs:    jobs,
		logger:  cfg.Logger.WithComponent("mcp"),
		version: cfg.Version,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", "version", s.version)
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

type executeInput struct {
	PlanPath string `json:"plan_path,omitempty" jsonschema:"Path to a YAML plan file"`
	PlanYAML string `json:"plan_yaml,omitempty" jsonschema:"Inline YAML plan, used when plan_path is empty"`
	RunID    string `json:"run_id,omitempty" jsonschema:"Run id to use or resume (6 hex chars); overrides the plan's"`
}

type executeOutput struct {
	RunID  string `json:"run_id" jsonschema:"Id of the started run"`
	Phases int    `json:"phases" jsonschema:"Number of phases in the plan"`
	Tasks  int    `json:"tasks" jsonschema:"Number of tasks in the plan"`
}

type statusInput struct {
	RunID string `json:"run_id" jsonschema:"Run id returned by execute"`
}

type taskOutput struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Branch  string `json:"branch,omitempty"`
	Error   string `json:"error,omitempty"`
	Resumed bool   `json:"resumed,omitempty"`
}

type statusOutput struct {
	RunID       string       `json:"run_id"`
	Status      string       `json:"status"`
	Phase       int          `json:"phase"`
	TotalPhases int          `json:"total_phases"`
	StartedAt   string       `json:"started_at"`
	CompletedAt string       `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Tasks       []taskOutput `json:"tasks"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "execute",
		Description: "Start executing an implementation plan; completed tasks are skipped",
	}, s.execute)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report the progress of a plan run",
	}, s.status)
}

func (s *Server) execute(ctx context.Context, _ *mcp.CallToolRequest, in executeInput) (*mcp.CallToolResult, executeOutput, error) {
	p, err := loadPlan(in)
	if err != nil {
		return nil, executeOutput{}, err
	}
	if in.RunID != "" {
		p.RunID = plan.RunID(in.RunID)
	}

	id, err := s.runs.Start(ctx, p)
	if err != nil {
		s.logger.Warn("execute rejected", "run_id", in.RunID, "error", err)
		return nil, executeOutput{}, err
	}

	out := executeOutput{RunID: id.String(), Phases: len(p.Phases), Tasks: p.TotalTasks()}
	s.logger.Info("run started", "run_id", out.RunID, "phases", out.Phases)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Run %s started: %d phases, %d tasks", out.RunID, out.Phases, out.Tasks)},
		},
	}, out, nil
}

func (s *Server) status(_ context.Context, _ *mcp.CallToolRequest, in statusInput) (*mcp.CallToolResult, statusOutput, error) {
	j, ok := s.jobs.Observe(plan.RunID(in.RunID))
	if !ok {
		return nil, statusOutput{}, errors.NewRunNotFoundError(in.RunID)
	}

	out := toStatus(j)
	text := fmt.Sprintf("Run %s %s (phase %d/%d)", out.RunID, out.Status, out.Phase, out.TotalPhases)
	if out.Error != "" {
		text += ": " + out.Error
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

func loadPlan(in executeInput) (*plan.Plan, error) {
	switch {
	case in.PlanPath != "":
		return plan.LoadFile(in.PlanPath)
	case in.PlanYAML != "":
		return plan.Parse([]byte(in.PlanYAML))
	default:
		return nil, errors.NewValidationError("plan_path or plan_yaml is required").WithField("plan_path")
	}
}

func toStatus(j job.Job) statusOutput {
	out := statusOutput{
		RunID:       j.RunID.String(),
		Status:      string(j.Status),
		Phase:       j.Phase,
		TotalPhases: j.TotalPhases,
		StartedAt:   j.StartedAt.Format(time.RFC3339),
		Error:       j.Error,
		Warnings:    j.Warnings,
		Tasks:       make([]taskOutput, 0, len(j.Tasks)),
	}
	if j.CompletedAt != nil {
		out.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	for _, t := range j.Tasks {
		out.Tasks = append(out.Tasks, taskOutput{
			ID:      t.ID,
			Status:  string(t.Status),
			Branch:  t.Branch,
			Error:   t.Error,
			Resumed: t.Resumed,
		})
	}
	return out
}
