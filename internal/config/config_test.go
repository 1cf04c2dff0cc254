package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Limits.MaxChangedFiles)
	assert.Equal(t, 20, cfg.Limits.MaxFindings)
	assert.Equal(t, 8, cfg.Parallelism.MaxParallelKGCalls)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "ollama", cfg.Pipeline.ModelProvider)
	assert.Equal(t, "bolt://localhost:7687", cfg.KG.BoltURL)
}

func TestValidatePipeline(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "gemini without api key",
			mutate: func(c *Config) {
				c.Pipeline.ModelProvider = "gemini"
				c.Pipeline.GeminiAPIKey = ""
			},
			wantErr: true,
		},
		{
			name: "max_findings above schema cap",
			mutate: func(c *Config) {
				c.Limits.MaxFindings = 25
			},
			wantErr: true,
		},
		{
			name: "non-positive max_changed_files",
			mutate: func(c *Config) {
				c.Limits.MaxChangedFiles = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.validatePipeline()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateForCLI_RequiresToken(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.GitHub.Token = ""
	assert.Error(t, cfg.ValidateForCLI())

	cfg.GitHub.Token = "ghp_sometoken"
	assert.NoError(t, cfg.ValidateForCLI())
}

func TestLoadRepoConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := LoadRepoConfig(dir)
		assert.ErrorIs(t, err, ErrConfigNotFound)
		require.NotNil(t, cfg)
		assert.Empty(t, cfg.ExcludeDirs)
	})

	t.Run("file is parsed", func(t *testing.T) {
		content := "exclude_dirs:\n  - vendor\nexclude_exts:\n  - .md\ncustom_instructions:\n  - Focus on error handling\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".reviewcore.yml"), []byte(content), 0o600))

		cfg, err := LoadRepoConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"vendor"}, cfg.ExcludeDirs)
		assert.True(t, cfg.Excludes("vendor/lib.go"))
		assert.True(t, cfg.Excludes("README.md"))
		assert.False(t, cfg.Excludes("internal/app.go"))
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		bad := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(bad, ".reviewcore.yml"), []byte("exclude_dirs: {"), 0o600))
		_, err := LoadRepoConfig(bad)
		assert.ErrorIs(t, err, ErrConfigParsing)
	})
}
