package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "playwright", cfg.Publisher.Provider)
	assert.Equal(t, 3, cfg.Publisher.MaxRetries)
	assert.Equal(t, "env_file", cfg.Credentials.Backend)
	assert.Equal(t, 4, cfg.Orchestrator.Workers.Parse)
	assert.Equal(t, 4, cfg.Orchestrator.Workers.Proofread)
	assert.Equal(t, 2, cfg.Orchestrator.Workers.Publish)
	assert.Equal(t, 0.50, cfg.Optimization.MaxCostUSD)
	assert.Equal(t, 20, cfg.Proofreading.CarryForwardWindow)

	require.NoError(t, cfg.Validate())
}

func TestDefaultDurations(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 60*time.Second, cfg.SyncInterval())
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 60*time.Second, cfg.AICallTimeout())
	assert.Equal(t, 15*time.Second, cfg.StepTimeout())
	assert.Equal(t, 600*time.Second, cfg.TotalTimeout())
	assert.Equal(t, 300*time.Second, cfg.CredentialTTL())
	assert.Equal(t, 2*time.Second, cfg.RetryInitial())
	assert.Equal(t, 24*time.Hour, cfg.ReportInterval())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Orchestrator.SyncInterval = "not-a-duration"
	cfg.Publisher.StepTimeout = ""

	assert.Equal(t, 60*time.Second, cfg.SyncInterval())
	assert.Equal(t, 15*time.Second, cfg.StepTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "playwright", cfg.Publisher.Provider)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copydesk.yaml")

	cfg := DefaultConfig()
	cfg.Publisher.Provider = "hybrid"
	cfg.Publisher.MaxRetries = 5
	cfg.Proofreading.CarryForwardWindow = 50
	cfg.API.CORSOrigins = []string{"https://desk.example.com"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hybrid", loaded.Publisher.Provider)
	assert.Equal(t, 5, loaded.Publisher.MaxRetries)
	assert.Equal(t, 50, loaded.Proofreading.CarryForwardWindow)
	assert.Equal(t, []string{"https://desk.example.com"}, loaded.API.CORSOrigins)
}

func TestSaveBlanksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copydesk.yaml")

	cfg := DefaultConfig()
	cfg.LLM.APIKey = "AIza-secret"
	cfg.API.AuthToken = "bearer-secret"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "AIza-secret")
	assert.NotContains(t, string(data), "bearer-secret")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copydesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("publisher: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateClosedEnums(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad provider", func(c *Config) { c.Publisher.Provider = "selenium" }},
		{"bad vault backend", func(c *Config) { c.Credentials.Backend = "keychain" }},
		{"bad screenshot backend", func(c *Config) { c.Storage.Screenshots.Backend = "s3" }},
		{"bad auto_process", func(c *Config) { c.Orchestrator.AutoProcess = "always" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proofreading.CarryForwardWindow = 0
	assert.Error(t, cfg.Validate(), "carry-forward window must be positive")

	cfg = DefaultConfig()
	cfg.Orchestrator.Workers.Publish = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Optimization.MaxCostUSD = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retry.JitterPercent = 150
	assert.Error(t, cfg.Validate())
}

func TestValidateBackendRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credentials.Backend = "cloud_secret_manager"
	assert.Error(t, cfg.Validate(), "cloud backend needs project and secret")

	cfg.Credentials.Cloud = CloudSecretConfig{ProjectID: "newsroom-prod", SecretName: "cms-credentials"}
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.Screenshots.Backend = "object_store"
	assert.Error(t, cfg.Validate(), "object store needs a bucket")

	cfg.Storage.Screenshots.Bucket = "copydesk-screenshots"
	assert.NoError(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Publisher.Provider = "hybrid"
	cfg.LLM.ComputerUseModel = ""
	assert.Error(t, cfg.Validate(), "computer-use providers need a model")
}
