package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Agent.Backend != "claude" {
		t.Errorf("Agent.Backend = %q, want %q", cfg.Agent.Backend, "claude")
	}
	if !cfg.Agent.SkipPermissions {
		t.Error("Agent.SkipPermissions should be true by default")
	}

	// Unlimited by default so every pending task launches at once
	if cfg.Execution.MaxParallel != 0 {
		t.Errorf("Execution.MaxParallel = %d, want 0", cfg.Execution.MaxParallel)
	}
	if cfg.Execution.BaseRef != "HEAD" {
		t.Errorf("Execution.BaseRef = %q, want HEAD", cfg.Execution.BaseRef)
	}

	if !cfg.Review.Enabled {
		t.Error("Review.Enabled should be true by default")
	}
	if cfg.Review.MaxRejections != 3 {
		t.Errorf("Review.MaxRejections = %d, want 3", cfg.Review.MaxRejections)
	}

	if cfg.Stacking.Backend != "git-spice" {
		t.Errorf("Stacking.Backend = %q, want git-spice", cfg.Stacking.Backend)
	}
	if cfg.BranchState.Reader != "cli" {
		t.Errorf("BranchState.Reader = %q, want cli", cfg.BranchState.Reader)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() should validate cleanly, got %v", ValidationErrors(errs))
	}
}

func TestExecutionConfig_ResolveWorktreeDir(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		dir      string
		expected string
	}{
		{"empty uses default", "", "/repo/.worktrees"},
		{"relative", "wt", "/repo/wt"},
		{"absolute", "/tmp/wt", "/tmp/wt"},
		{"home expansion", "~/wt", filepath.Join(home, "wt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ExecutionConfig{WorktreeDir: tt.dir}
			if got := cfg.ResolveWorktreeDir("/repo"); got != tt.expected {
				t.Errorf("ResolveWorktreeDir() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/spectacular"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "spectacular"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigFile(), "/custom/config/spectacular/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.HTTPAddr != "127.0.0.1:7420" {
			t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
		}
	})

	t.Run("overrides are applied", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()
		viper.Set("execution.max_parallel", 4)
		viper.Set("stacking.backend", "rebase")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Execution.MaxParallel != 4 {
			t.Errorf("Execution.MaxParallel = %d, want 4", cfg.Execution.MaxParallel)
		}
		if cfg.Stacking.Backend != "rebase" {
			t.Errorf("Stacking.Backend = %q, want rebase", cfg.Stacking.Backend)
		}
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()
		viper.Set("review.max_rejections", 5)

		_, err := Load()
		if err == nil {
			t.Fatal("Load() should fail for review.max_rejections=5")
		}
		if _, ok := err.(ValidationErrors); !ok {
			t.Errorf("Load() error type = %T, want ValidationErrors", err)
		}
	})
}
