package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arittr/spectacular-codex/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify spectacular configuration",
	Long: `View or modify spectacular configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  spectacular config set agent.backend codex
  spectacular config set execution.max_parallel 4
  spectacular config set stacking.backend rebase

Valid keys:
  agent.backend            - claude or codex
  agent.command            - executable override
  agent.skip_permissions   - pass --dangerously-skip-permissions to claude (true/false)
  agent.approval_mode      - codex approval: full-auto, bypass, default
  execution.max_parallel   - cap on concurrent parallel tasks (0 = unlimited)
  execution.worktree_dir   - where task worktrees are created
  execution.base_ref       - ref the first phase builds on
  review.enabled           - run the code review loop (true/false)
  review.max_rejections    - rejections before escalation (1-3)
  stacking.backend         - git-spice or rebase
  stacking.command         - git-spice executable
  branchstate.reader       - cli or go-git
  logging.level            - debug, info, warn, error
  logging.dir              - directory for debug.log (empty = stderr)
  server.http_addr         - listen address of the HTTP API`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/spectacular/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configKeys maps every settable key to its value kind.
var configKeys = map[string]string{
	"agent.backend":          "string",
	"agent.command":          "string",
	"agent.skip_permissions": "bool",
	"agent.approval_mode":    "string",
	"execution.max_parallel": "int",
	"execution.worktree_dir": "string",
	"execution.base_ref":     "string",
	"review.enabled":         "bool",
	"review.max_rejections":  "int",
	"stacking.backend":       "string",
	"stacking.command":       "string",
	"branchstate.reader":     "string",
	"logging.level":          "string",
	"logging.dir":            "string",
	"server.http_addr":       "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "agent:")
	fmt.Fprintf(out, "  backend: %s\n", cfg.Agent.Backend)
	fmt.Fprintf(out, "  command: %s\n", cfg.Agent.Command)
	fmt.Fprintf(out, "  skip_permissions: %v\n", cfg.Agent.SkipPermissions)
	fmt.Fprintf(out, "  approval_mode: %s\n", cfg.Agent.ApprovalMode)

	fmt.Fprintln(out, "execution:")
	fmt.Fprintf(out, "  max_parallel: %d\n", cfg.Execution.MaxParallel)
	fmt.Fprintf(out, "  worktree_dir: %s\n", cfg.Execution.WorktreeDir)
	fmt.Fprintf(out, "  base_ref: %s\n", cfg.Execution.BaseRef)

	fmt.Fprintln(out, "review:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Review.Enabled)
	fmt.Fprintf(out, "  max_rejections: %d\n", cfg.Review.MaxRejections)

	fmt.Fprintln(out, "stacking:")
	fmt.Fprintf(out, "  backend: %s\n", cfg.Stacking.Backend)
	fmt.Fprintf(out, "  command: %s\n", cfg.Stacking.Command)

	fmt.Fprintln(out, "branchstate:")
	fmt.Fprintf(out, "  reader: %s\n", cfg.BranchState.Reader)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  dir: %s\n", cfg.Logging.Dir)

	fmt.Fprintln(out, "server:")
	fmt.Fprintf(out, "  http_addr: %s\n", cfg.Server.HTTPAddr)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'spectacular config set --help' to see valid keys", key)
	}

	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = intVal
	}

	previous := viper.Get(key)
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigFile = `# spectacular configuration

# Coding agent used for tasks and reviews
agent:
  # claude or codex
  backend: claude
  # Executable override; empty uses the backend's default
  command: ""
  # Pass --dangerously-skip-permissions to claude
  skip_permissions: true
  # codex approval mode: full-auto, bypass, default
  approval_mode: full-auto

execution:
  # Cap on concurrently running tasks in a parallel phase (0 = unlimited)
  max_parallel: 0
  # Where task worktrees are created, relative to the repository root
  worktree_dir: .worktrees
  # Ref the first phase builds on
  base_ref: HEAD

review:
  # Review every phase that ran tasks before moving on
  enabled: true
  # Rejections tolerated before the run is escalated (1-3)
  max_rejections: 3

stacking:
  # git-spice or rebase
  backend: git-spice
  command: gs

branchstate:
  # cli (git subprocesses) or go-git (in-process)
  reader: cli

logging:
  level: info
  # Directory for debug.log; empty logs to stderr
  dir: ""

server:
  http_addr: 127.0.0.1:7420
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'spectacular config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_EXECUTION_MAX_PARALLEL)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}
