// Package llm wraps the Gemini API behind a small client interface.
// It owns outbound-call policy: timeouts, transient retry with jittered
// backoff, circuit breaking, token accounting and cost attribution.
// Callers receive text plus usage; interpreting the text is theirs.
package llm

import (
	"context"
	"time"
)

// Usage reports token consumption for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the outcome of one model call.
type Response struct {
	Text     string
	Usage    Usage
	CostUSD  float64
	Model    string
	Duration time.Duration
}

// Request describes one text completion call.
type Request struct {
	// System is the system instruction, may be empty.
	System string
	// Prompt is the user content.
	Prompt string
	// Schema, when set, is attached as a response schema and forces
	// JSON output.
	Schema map[string]any
	// JSONOutput forces application/json even without a schema.
	JSONOutput bool
	// Temperature defaults to 0 when nil; extraction callers want
	// deterministic output.
	Temperature *float32
	// MaxOutputTokens caps the completion; 0 uses the configured default.
	MaxOutputTokens int32
	// Timeout bounds the call; 0 uses the configured default.
	Timeout time.Duration
	// Model overrides the configured default model.
	Model string
}

// VisionRequest describes one multimodal call carrying a screenshot.
type VisionRequest struct {
	System   string
	Prompt   string
	ImagePNG []byte
	Schema   map[string]any
	Timeout  time.Duration
	Model    string
}

// Client is the model gateway used by the parser, the optimizer and the
// computer-use publish provider.
type Client interface {
	// Generate runs one text completion.
	Generate(ctx context.Context, req Request) (*Response, error)
	// GenerateVision runs one completion over a screenshot plus prompt.
	GenerateVision(ctx context.Context, req VisionRequest) (*Response, error)
}
