package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arittr/spectacular-codex/internal/config"
	"github.com/arittr/spectacular-codex/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "spectacular",
	Short: "Phase orchestrator for implementation plans",
	Long: `Spectacular executes an implementation plan phase by phase, running each
task through a coding agent in its own git worktree. Completed work is read
back from git, so an interrupted run resumes where it stopped.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/spectacular/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// e.g. SPECTACULAR_EXECUTION_MAX_PARALLEL for execution.max_parallel
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadRuntime loads the validated configuration and the logger it selects.
func loadRuntime() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// repoDir returns the --repo flag value or the working directory.
func repoDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("repo"); dir != "" {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}
