package config

import "fmt"

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	URL          string `yaml:"url" validate:"required"`
	MaxConns     int    `yaml:"max_conns" validate:"gte=1"`
	MigrateOnUp  bool   `yaml:"migrate_on_up"`
	QueryTimeout string `yaml:"query_timeout"`
}

// DocumentStoreConfig configures the upstream document store.
type DocumentStoreConfig struct {
	// Backend names the document store driver. Only "directory" ships
	// today; the field exists so a hosted drive backend can slot in.
	Backend string `yaml:"backend" validate:"oneof=directory"`
	// Root is the watched folder for the directory backend.
	Root string `yaml:"root"`
	// Folder is the logical folder label recorded on synced items.
	Folder       string `yaml:"folder"`
	FetchTimeout string `yaml:"fetch_timeout"`
}

// AutoProcess modes. Parsing always starts on its own after sync; the
// mode decides whether an item may also cross the review gates without
// an operator. There is deliberately no global "on".
const (
	AutoProcessOff         = "off"
	AutoProcessPerItemFlag = "per_item_flag_only"
)

// OrchestratorConfig controls the worklist sync loop and worker pools.
type OrchestratorConfig struct {
	SyncInterval string `yaml:"sync_interval"`
	// AutoProcess gates unattended review-gate advancement. "off" keeps
	// every gate manual; "per_item_flag_only" lets items whose document
	// metadata opts in advance without an operator.
	AutoProcess      string           `yaml:"auto_process" validate:"oneof=off per_item_flag_only"`
	Workers          WorkerPoolConfig `yaml:"workers"`
	ParseTimeout     string           `yaml:"parse_timeout"`
	ProofreadTimeout string           `yaml:"proofread_timeout"`
}

// WorkerPoolConfig sizes the per-stage worker pools. Queue capacity is
// derived as four times the pool size.
type WorkerPoolConfig struct {
	Parse     int `yaml:"parse" validate:"gte=1"`
	Proofread int `yaml:"proofread" validate:"gte=1"`
	Publish   int `yaml:"publish" validate:"gte=1"`
}

// APIConfig configures the HTTP review API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
	// AuthToken, when set, is required as a bearer token on every request.
	AuthToken   string   `yaml:"auth_token"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LLMConfig configures the Gemini client shared by parser, optimizer and
// the computer-use publisher.
type LLMConfig struct {
	Model            string `yaml:"model" validate:"required"`
	ComputerUseModel string `yaml:"computer_use_model"`
	APIKey           string `yaml:"api_key"`
	Timeout          string `yaml:"timeout"`
	MaxOutputTokens  int32  `yaml:"max_output_tokens" validate:"gte=0"`
	// PromptDir overlays prompt templates from *.yaml files when set.
	PromptDir string `yaml:"prompt_dir"`
}

// LoggingConfig configures category log files and the audit trail.
type LoggingConfig struct {
	Directory      string `yaml:"directory"`
	AuditDirectory string `yaml:"audit_directory"`
	Level          string `yaml:"level" validate:"oneof=debug info warn error"`
	JSONFormat     bool   `yaml:"json_format"`
	// Categories toggles individual log categories; unlisted categories
	// stay enabled.
	Categories map[string]bool `yaml:"categories"`
}

func (c *Config) validateLLM() error {
	if c.Publisher.Provider != "playwright" && c.LLM.ComputerUseModel == "" {
		return fmt.Errorf("llm.computer_use_model is required for provider %q", c.Publisher.Provider)
	}
	return nil
}
