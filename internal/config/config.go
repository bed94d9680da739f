package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. SPECTACULAR_EXECUTION_MAX_PARALLEL.
const EnvPrefix = "SPECTACULAR"

// Config represents the complete spectacular configuration
type Config struct {
	Agent       AgentConfig       `mapstructure:"agent"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Review      ReviewConfig      `mapstructure:"review"`
	Stacking    StackingConfig    `mapstructure:"stacking"`
	BranchState BranchStateConfig `mapstructure:"branchstate"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
}

// AgentConfig controls how task agents are launched
type AgentConfig struct {
	// Backend selects the agent CLI: "claude" or "codex" (default: "claude")
	Backend string `mapstructure:"backend"`
	// Command overrides the executable name; empty uses the backend's default
	Command string `mapstructure:"command"`
	// SkipPermissions passes --dangerously-skip-permissions to claude (default: true)
	SkipPermissions bool `mapstructure:"skip_permissions"`
	// ApprovalMode is the codex approval mode: "full-auto", "bypass" or "default" (default: "full-auto")
	ApprovalMode string `mapstructure:"approval_mode"`
}

// ExecutionConfig controls phase execution
type ExecutionConfig struct {
	// MaxParallel caps concurrently running tasks in a parallel phase (0 = unlimited)
	MaxParallel int `mapstructure:"max_parallel"`
	// WorktreeDir is where task worktrees are created.
	// Relative paths resolve against the repository root; ~ expands to the home directory.
	WorktreeDir string `mapstructure:"worktree_dir"`
	// BaseRef is the ref resume checks compare task branches against (default: "HEAD")
	BaseRef string `mapstructure:"base_ref"`
}

// ReviewConfig controls the post-phase code review loop
type ReviewConfig struct {
	// Enabled runs the review loop after every phase that executed tasks (default: true)
	Enabled bool `mapstructure:"enabled"`
	// MaxRejections is the rejection bound before escalation (1-3, default: 3)
	MaxRejections int `mapstructure:"max_rejections"`
}

// StackingConfig controls how parallel task branches are linearized
type StackingConfig struct {
	// Backend is "git-spice" or "rebase" (default: "git-spice")
	Backend string `mapstructure:"backend"`
	// Command is the git-spice executable (default: "gs")
	Command string `mapstructure:"command"`
}

// BranchStateConfig selects the branch state reader implementation
type BranchStateConfig struct {
	// Reader is "cli" (shells out to git) or "go-git" (default: "cli")
	Reader string `mapstructure:"reader"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for debug.log; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the long-running surfaces
type ServerConfig struct {
	// HTTPAddr is the listen address of the job query API (default: "127.0.0.1:7420")
	HTTPAddr string `mapstructure:"http_addr"`
}

// ResolveWorktreeDir returns the resolved worktree directory path.
// If WorktreeDir is empty, it returns the default path relative to repoRoot.
func (e *ExecutionConfig) ResolveWorktreeDir(repoRoot string) string {
	if e.WorktreeDir == "" {
		return filepath.Join(repoRoot, ".worktrees")
	}

	path := e.WorktreeDir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Backend:         "claude",
			Command:         "",
			SkipPermissions: true,
			ApprovalMode:    "full-auto",
		},
		Execution: ExecutionConfig{
			MaxParallel: 0, // launch every pending task at once
			WorktreeDir: ".worktrees",
			BaseRef:     "HEAD",
		},
		Review: ReviewConfig{
			Enabled:       true,
			MaxRejections: 3,
		},
		Stacking: StackingConfig{
			Backend: "git-spice",
			Command: "gs",
		},
		BranchState: BranchStateConfig{
			Reader: "cli",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:7420",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("agent.backend", defaults.Agent.Backend)
	viper.SetDefault("agent.command", defaults.Agent.Command)
	viper.SetDefault("agent.skip_permissions", defaults.Agent.SkipPermissions)
	viper.SetDefault("agent.approval_mode", defaults.Agent.ApprovalMode)

	viper.SetDefault("execution.max_parallel", defaults.Execution.MaxParallel)
	viper.SetDefault("execution.worktree_dir", defaults.Execution.WorktreeDir)
	viper.SetDefault("execution.base_ref", defaults.Execution.BaseRef)

	viper.SetDefault("review.enabled", defaults.Review.Enabled)
	viper.SetDefault("review.max_rejections", defaults.Review.MaxRejections)

	viper.SetDefault("stacking.backend", defaults.Stacking.Backend)
	viper.SetDefault("stacking.command", defaults.Stacking.Command)

	viper.SetDefault("branchstate.reader", defaults.BranchState.Reader)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	viper.SetDefault("server.http_addr", defaults.Server.HTTPAddr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "spectacular")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spectacular"
	}
	return filepath.Join(home, ".config", "spectacular")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
