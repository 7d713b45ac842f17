// Package llm wraps the Anthropic Messages API for structured query parsing.
// The static system prompt is sent with cache_control ephemeral so repeated
// parses reuse cached prompt tokens; the first system block must stay
// byte-identical across calls or the provider cache misses.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"rxsearch/internal/fault"
	"rxsearch/internal/retry"
)

// =============================================================================
// CHATTER INTERFACE
// =============================================================================

// Chatter produces schema-conforming JSON from a system+user prompt pair.
type Chatter interface {
	Chat(ctx context.Context, system, user string, schema Schema) (json.RawMessage, error)
}

// strictDirective is appended as a second system block on the single retry
// after a non-conforming response. It is a separate block so the first
// (cached) block stays byte-identical.
const strictDirective = "Your previous answer was not valid JSON matching the required shape. " +
	"Respond with ONLY a single JSON object. No prose, no code fences, no explanations."

// =============================================================================
// ANTHROPIC CLIENT
// =============================================================================

// AnthropicClient implements Chatter against the Anthropic Messages API.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	policy  retry.Policy
	logger  *zap.Logger
}

// NewAnthropic creates a Messages API client. timeout bounds each attempt,
// not the whole call.
func NewAnthropic(apiKey, model string, timeout time.Duration, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		policy:  retry.Default(),
		logger:  logger,
	}, nil
}

// Chat sends system+user and returns the first JSON object in the response,
// validated against schema. A non-conforming response (no JSON, or JSON of
// the wrong shape) is retried once with a stricter directive; a second
// failure surfaces invalid_llm_response. Transport errors never trigger the
// strict retry; they have their own retry policy.
func (c *AnthropicClient) Chat(ctx context.Context, system, user string, schema Schema) (json.RawMessage, error) {
	raw, err := c.attempt(ctx, system, user, false)
	switch {
	case err == nil:
		verr := schema.Validate(raw)
		if verr == nil {
			return raw, nil
		}
		c.logger.Debug("llm response failed schema check, retrying strict", zap.Error(verr))
	case fault.KindOf(err) == fault.InvalidLLMResponse:
		c.logger.Debug("llm response had no JSON, retrying strict", zap.Error(err))
	default:
		return nil, err
	}

	raw, err = c.attempt(ctx, system, user, true)
	if err != nil {
		return nil, err
	}
	if verr := schema.Validate(raw); verr != nil {
		return nil, fault.E(fault.InvalidLLMResponse, "llm.chat", verr)
	}
	return raw, nil
}

// attempt performs one prompted exchange including transport retries and
// JSON extraction.
func (c *AnthropicClient) attempt(ctx context.Context, system, user string, strict bool) (json.RawMessage, error) {
	systemBlocks := []anthropic.TextBlockParam{
		{
			Text:         system,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		},
	}
	if strict {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: strictDirective})
	}

	var message *anthropic.Message
	err := retry.Do(ctx, c.policy, "llm.chat", func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var err error
		message, err = c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:       anthropic.Model(c.model),
			MaxTokens:   1024,
			Temperature: anthropic.Float(0),
			System:      systemBlocks,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err != nil {
			return classifyAnthropic(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("llm chat complete",
		zap.String("model", c.model),
		zap.Bool("strict", strict),
		zap.Int64("input_tokens", message.Usage.InputTokens),
		zap.Int64("output_tokens", message.Usage.OutputTokens),
		zap.Int64("cache_read_tokens", message.Usage.CacheReadInputTokens),
		zap.Int64("cache_creation_tokens", message.Usage.CacheCreationInputTokens),
	)

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	raw, ok := ExtractJSON(text.String())
	if !ok {
		return nil, fault.Errorf(fault.InvalidLLMResponse, "llm.chat",
			"no JSON object in response (%d chars)", text.Len())
	}
	return raw, nil
}

// classifyAnthropic maps API errors onto fault kinds. Rate limits, overload,
// and 5xx are transient; other API errors are not retryable.
func classifyAnthropic(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429, apierr.StatusCode >= 500, apierr.StatusCode == 408:
			return fault.E(fault.UpstreamTransient, "llm.chat", err)
		default:
			return fault.E(fault.Internal, "llm.chat", err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Deadline on a single attempt and transport failures are retryable.
	return fault.E(fault.UpstreamTransient, "llm.chat", err)
}

// ExtractJSON returns the first complete JSON object embedded in s. The model
// may wrap JSON in prose or code fences; scanning for a decodable value from
// each '{' handles both.
func ExtractJSON(s string) (json.RawMessage, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return raw, true
		}
	}
	return nil, false
}
