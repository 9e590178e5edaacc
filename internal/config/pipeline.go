package config

// ParserConfig controls document parsing.
type ParserConfig struct {
	// UseAI selects the AI extraction strategy first. When false the
	// heuristic splitter runs alone.
	UseAI bool `yaml:"use_ai"`
	// HeuristicFallback falls back to the heuristic splitter when the AI
	// strategy errors, times out, or returns unusable output.
	HeuristicFallback bool `yaml:"heuristic_fallback"`
}

// OptimizationConfig controls the single-call article optimization step.
type OptimizationConfig struct {
	// MaxCostUSD is the hard per-article cap. An optimization run that
	// would exceed it fails the item rather than spend past the cap.
	MaxCostUSD float64 `yaml:"max_cost_usd" validate:"gt=0"`
	// NominalCostUSD is the expected per-article cost, used for the spend
	// ledger projection and the cost warning threshold.
	NominalCostUSD float64 `yaml:"nominal_cost_usd" validate:"gte=0"`
}

// ProofreadingConfig controls rule evaluation and decision carry-forward.
type ProofreadingConfig struct {
	// ActiveRulesetID pins proofreading to a specific published ruleset.
	// Zero means "latest published".
	ActiveRulesetID int64 `yaml:"active_ruleset_id" validate:"gte=0"`
	// CarryForwardWindow is the character tolerance when re-anchoring a
	// prior decision after re-analysis: same rule, same original text,
	// start offset within this many characters.
	CarryForwardWindow int `yaml:"carry_forward_window" validate:"gt=0"`
	// ReportIntervalHours is the cadence of the rule quality report job.
	ReportIntervalHours int `yaml:"report_interval_hours" validate:"gt=0"`
}

// RetryConfig shapes exponential backoff for AI calls and requeued jobs.
type RetryConfig struct {
	Initial       string  `yaml:"initial"`
	Factor        float64 `yaml:"factor" validate:"gte=1"`
	MaxAttempts   int     `yaml:"max_attempts" validate:"gte=1"`
	JitterPercent int     `yaml:"jitter_percent" validate:"gte=0,lte=100"`
}
