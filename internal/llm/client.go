// Package llm wraps the hosted chat-completion API behind a gateway that
// owns retry, backoff, call timeouts, and token/cost accounting.
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jonathan/interview-evaluator/internal/logger"
)

// Request describes a single model call.
type Request struct {
	Model        string
	SystemPrompt string
	UserMessage  string
	MaxTokens    int32
	Temperature  float32
}

// Result carries the generated text and the token counts reported by the
// backend for this call.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Caller performs one raw model call with no retry semantics.
type Caller interface {
	Call(ctx context.Context, req Request) (*Result, error)
	Close() error
}

// RetryPolicy controls the gateway retry loop. Waits between attempts are
// BackoffFactor^attempt seconds.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffFactor float64
}

// Gateway is the model gateway: it delegates raw calls to a Caller and
// retries transient failures with capped exponential backoff.
type Gateway struct {
	caller  Caller
	retry   RetryPolicy
	timeout time.Duration
	log     *zap.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewGateway wraps a Caller with retry and timeout behavior.
func NewGateway(caller Caller, retry RetryPolicy, timeout time.Duration, log *zap.Logger) *Gateway {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		caller:  caller,
		retry:   retry,
		timeout: timeout,
		log:     log,
		sleep:   time.Sleep,
	}
}

// Generate performs the call, retrying on any failure. It returns a
// terminal error only after every attempt has failed; the error wraps the
// last underlying failure with the attempt count.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if g.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		}

		start := time.Now()
		res, err := g.caller.Call(callCtx, req)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			g.log.Debug("model call succeeded",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt+1),
				zap.Duration("duration", time.Since(start)),
				zap.Int("input_tokens", res.InputTokens),
				zap.Int("output_tokens", res.OutputTokens))
			return res, nil
		}

		lastErr = err
		if attempt < g.retry.MaxAttempts-1 {
			wait := time.Duration(math.Pow(g.retry.BackoffFactor, float64(attempt)) * float64(time.Second))
			g.log.Warn("model call failed, retrying",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", g.retry.MaxAttempts),
				zap.Duration("wait", wait),
				zap.String("error", logger.Truncate(err.Error(), 200)))
			g.sleep(wait)
		}
	}

	return nil, fmt.Errorf("model call failed after %d attempts: %w", g.retry.MaxAttempts, lastErr)
}

// Close releases the underlying caller's resources.
func (g *Gateway) Close() error {
	return g.caller.Close()
}

// GeminiCaller implements Caller against the Gemini API.
type GeminiCaller struct {
	client *genai.Client
}

// NewGeminiCaller creates a Gemini-backed caller.
func NewGeminiCaller(ctx context.Context, apiKey string) (*GeminiCaller, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiCaller{client: client}, nil
}

// Call performs one generation request.
func (c *GeminiCaller) Call(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("no model configured")
	}

	model := c.client.GenerativeModel(req.Model)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemPrompt)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.UserMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, err
	}

	res := &Result{Text: text}
	if resp.UsageMetadata != nil {
		res.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		res.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return res, nil
}

// Close releases resources held by the client.
func (c *GeminiCaller) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from a Gemini API response.
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
