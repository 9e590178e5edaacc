package config

import "fmt"

// PublisherConfig controls CMS publication.
type PublisherConfig struct {
	// Provider selects the automation engine for publish attempts.
	Provider string `yaml:"provider" validate:"oneof=playwright computer_use hybrid"`
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`
	// StepTimeout bounds a single CMS interaction step.
	StepTimeout string `yaml:"step_timeout"`
	// TotalTimeout bounds a whole publish attempt.
	TotalTimeout string `yaml:"total_timeout"`
	CMS          CMSConfig `yaml:"cms"`
}

// CMSConfig locates the target CMS and its selector map.
type CMSConfig struct {
	BaseURL string `yaml:"base_url"`
	// SelectorFile is the YAML selector map consumed by the browser
	// provider. It is watched and hot-reloaded.
	SelectorFile string `yaml:"selector_file"`
	Headless     bool   `yaml:"headless"`
}

// CredentialsConfig selects the credential vault backend.
type CredentialsConfig struct {
	Backend string `yaml:"backend" validate:"oneof=env_file cloud_secret_manager"`
	// TTL is how long fetched credentials stay cached in memory.
	TTL     string            `yaml:"ttl"`
	EnvFile EnvFileConfig     `yaml:"env_file"`
	Cloud   CloudSecretConfig `yaml:"cloud"`
}

// EnvFileConfig configures the env_file vault backend.
type EnvFileConfig struct {
	Path string `yaml:"path"`
}

// CloudSecretConfig configures the cloud_secret_manager vault backend.
// The secret payload is a JSON object mapping credential keys to values.
type CloudSecretConfig struct {
	ProjectID  string `yaml:"project_id"`
	SecretName string `yaml:"secret_name"`
}

// StorageConfig groups blob storage settings.
type StorageConfig struct {
	Screenshots ScreenshotStorageConfig `yaml:"screenshots"`
}

// ScreenshotStorageConfig controls where publish screenshots are written
// and how long they are kept.
type ScreenshotStorageConfig struct {
	Backend   string `yaml:"backend" validate:"oneof=local_fs object_store"`
	Directory string `yaml:"directory"`
	Bucket    string `yaml:"bucket"`
	// RetentionDays bounds how long screenshots survive before the
	// retention sweeper removes them. Zero disables sweeping.
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
}

func (c *Config) validatePublisher() error {
	if c.Publisher.CMS.SelectorFile == "" && c.Publisher.Provider != "computer_use" {
		return fmt.Errorf("publisher.cms.selector_file is required for provider %q", c.Publisher.Provider)
	}
	return nil
}

func (c *Config) validateCredentials() error {
	switch c.Credentials.Backend {
	case "env_file":
		if c.Credentials.EnvFile.Path == "" {
			return fmt.Errorf("credentials.env_file.path is required for the env_file backend")
		}
	case "cloud_secret_manager":
		if c.Credentials.Cloud.ProjectID == "" || c.Credentials.Cloud.SecretName == "" {
			return fmt.Errorf("credentials.cloud.project_id and secret_name are required for the cloud_secret_manager backend")
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Screenshots.Backend {
	case "local_fs":
		if c.Storage.Screenshots.Directory == "" {
			return fmt.Errorf("storage.screenshots.directory is required for the local_fs backend")
		}
	case "object_store":
		if c.Storage.Screenshots.Bucket == "" {
			return fmt.Errorf("storage.screenshots.bucket is required for the object_store backend")
		}
	}
	return nil
}
