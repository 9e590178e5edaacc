package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"copydesk/internal/config"
	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// retryPolicy shapes the backoff between transient-failure attempts.
type retryPolicy struct {
	initial     time.Duration
	factor      float64
	maxAttempts int
	jitterPct   int
}

// wait returns the delay before the given retry (1-based), with the
// configured jitter spread around the exponential curve.
func (p retryPolicy) wait(retry int) time.Duration {
	d := float64(p.initial) * math.Pow(p.factor, float64(retry-1))
	if p.jitterPct > 0 {
		span := d * float64(p.jitterPct) / 100
		d = d - span + rand.Float64()*2*span
	}
	return time.Duration(d)
}

// Gemini is the production Client backed by the Gemini API. One breaker
// guards all outbound traffic so a dead gateway trips fast instead of
// burning every worker's retry budget.
type Gemini struct {
	client          *genai.Client
	model           string
	timeout         time.Duration
	maxOutputTokens int32
	breaker         *gobreaker.CircuitBreaker
	retry           retryPolicy
}

var _ Client = (*Gemini)(nil)

// NewGemini builds the shared model client from configuration.
func NewGemini(ctx context.Context, cfg *config.Config) (*Gemini, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("model api key not configured (set GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.LLM("circuit %s: %s -> %s", name, from, to)
		},
	})

	return &Gemini{
		client:          client,
		model:           cfg.LLM.Model,
		timeout:         cfg.AICallTimeout(),
		maxOutputTokens: cfg.LLM.MaxOutputTokens,
		breaker:         breaker,
		retry: retryPolicy{
			initial:     cfg.RetryInitial(),
			factor:      cfg.Retry.Factor,
			maxAttempts: cfg.Retry.MaxAttempts,
			jitterPct:   cfg.Retry.JitterPercent,
		},
	}, nil
}

// Generate runs one text completion with retry on transient failures.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	cfg := g.buildConfig(req.System, req.Schema, req.JSONOutput, req.Temperature, req.MaxOutputTokens)
	return g.generate(ctx, model, req.Timeout, genai.Text(req.Prompt), cfg)
}

// GenerateVision runs one completion over a screenshot plus instruction.
func (g *Gemini) GenerateVision(ctx context.Context, req VisionRequest) (*Response, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	cfg := g.buildConfig(req.System, req.Schema, true, nil, 0)
	parts := []*genai.Part{
		genai.NewPartFromBytes(req.ImagePNG, "image/png"),
		genai.NewPartFromText(req.Prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return g.generate(ctx, model, req.Timeout, contents, cfg)
}

func (g *Gemini) buildConfig(system string, schema map[string]any, jsonOutput bool, temperature *float32, maxTokens int32) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if temperature == nil {
		cfg.Temperature = genai.Ptr(float32(0))
	} else {
		cfg.Temperature = temperature
	}
	if maxTokens <= 0 {
		maxTokens = g.maxOutputTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = maxTokens
	}
	if schema != nil {
		// The schema rides in the system instruction; the response MIME
		// type keeps the model in JSON mode and SmartParse plus caller
		// validation enforce the shape.
		raw, err := json.Marshal(schema)
		if err == nil {
			if system != "" {
				system += "\n\n"
			}
			system += "Respond with a single JSON object matching this schema exactly:\n" + string(raw)
		}
		cfg.ResponseMIMEType = "application/json"
	} else if jsonOutput {
		cfg.ResponseMIMEType = "application/json"
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	return cfg
}

func (g *Gemini) generate(ctx context.Context, model string, timeout time.Duration, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*Response, error) {
	if timeout <= 0 {
		timeout = g.timeout
	}

	var lastErr error
	for attempt := 1; attempt <= g.retry.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := g.retry.wait(attempt - 1)
			logging.LLM("model %s retry %d/%d in %s: %v", model, attempt, g.retry.maxAttempts, wait.Round(time.Millisecond), lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, mapContextErr(ctx.Err())
			}
		}

		resp, err := g.attempt(ctx, model, timeout, contents, cfg)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, mapContextErr(ctx.Err())
		}
		if !types.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("model call failed after %d attempts: %w", g.retry.maxAttempts, lastErr)
}

func (g *Gemini) attempt(ctx context.Context, model string, timeout time.Duration, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.breaker.Execute(func() (interface{}, error) {
		return g.client.Models.GenerateContent(callCtx, model, contents, cfg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("model gateway unavailable (circuit open): %w", err)
		}
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("model call timeout after %s: %w", timeout, err)
		}
		return nil, fmt.Errorf("model call: %w", err)
	}

	result := raw.(*genai.GenerateContentResponse)
	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, fmt.Errorf("%w: empty completion", types.ErrGenerationFailed)
	}

	var usage Usage
	if result.UsageMetadata != nil {
		usage.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	cost := Cost(model, usage)
	duration := time.Since(start)
	logging.LLM("model %s completed in %s (in=%d out=%d cost=$%.4f)",
		model, duration.Round(time.Millisecond), usage.InputTokens, usage.OutputTokens, cost)

	return &Response{
		Text:     text,
		Usage:    usage,
		CostUSD:  cost,
		Model:    model,
		Duration: duration,
	}, nil
}

func mapContextErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: model call", types.ErrTimeout)
	case errors.Is(err, context.Canceled):
		return types.ErrCancelled
	default:
		return err
	}
}
