package config

import "time"

// Duration fields are stored as strings ("60s", "5m") so config files stay
// readable. Each getter falls back to the documented default when the field
// is empty or unparseable.

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SyncInterval returns the worklist sync cadence.
func (c *Config) SyncInterval() time.Duration {
	return parseDuration(c.Orchestrator.SyncInterval, 60*time.Second)
}

// FetchTimeout returns the document store fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return parseDuration(c.DocumentStore.FetchTimeout, 30*time.Second)
}

// QueryTimeout returns the per-query database timeout.
func (c *Config) QueryTimeout() time.Duration {
	return parseDuration(c.Database.QueryTimeout, 30*time.Second)
}

// AICallTimeout returns the timeout for a single Gemini call.
func (c *Config) AICallTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// StepTimeout returns the timeout for a single CMS interaction step.
func (c *Config) StepTimeout() time.Duration {
	return parseDuration(c.Publisher.StepTimeout, 15*time.Second)
}

// TotalTimeout returns the timeout for a whole publish attempt.
func (c *Config) TotalTimeout() time.Duration {
	return parseDuration(c.Publisher.TotalTimeout, 600*time.Second)
}

// ParseTimeout returns the timeout for a parse job.
func (c *Config) ParseTimeout() time.Duration {
	return parseDuration(c.Orchestrator.ParseTimeout, 180*time.Second)
}

// ProofreadTimeout returns the timeout for an optimize+proofread job.
func (c *Config) ProofreadTimeout() time.Duration {
	return parseDuration(c.Orchestrator.ProofreadTimeout, 300*time.Second)
}

// CredentialTTL returns how long vault reads stay cached.
func (c *Config) CredentialTTL() time.Duration {
	return parseDuration(c.Credentials.TTL, 300*time.Second)
}

// RetryInitial returns the first backoff delay for AI calls and requeues.
func (c *Config) RetryInitial() time.Duration {
	return parseDuration(c.Retry.Initial, 2*time.Second)
}

// ReportInterval returns the cadence of the rule quality report job.
func (c *Config) ReportInterval() time.Duration {
	if c.Proofreading.ReportIntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Proofreading.ReportIntervalHours) * time.Hour
}
