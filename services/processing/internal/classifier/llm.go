package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/telemetry"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const systemPrompt = `You classify social media posts and web pages for a casting marketplace.
Decide whether the text is a casting call: an invitation for actors, extras, models,
voice artists or other on-screen talent to apply or audition for a role.
Reply with a single JSON object and nothing else:
{"isCastingCall": bool, "confidence": number between 0 and 1,
 "fields": {"title": string, "description": string, "company": string,
 "location": string, "compensation": string, "requirements": [string],
 "deadline": string, "contactInfo": string}}
Use empty strings for unknown fields. Omit "fields" when isCastingCall is false.
Keep the original language of the text in field values.`

type LLMOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMClassifier calls an OpenAI-compatible chat completions endpoint.
type LLMClassifier struct {
	client  *openai.Client
	opts    LLMOptions
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLLMClassifier builds a classifier; limiter may be nil for no rate limit.
func NewLLMClassifier(httpClient *http.Client, opts LLMOptions, limiter *rate.Limiter, logger *zap.Logger) *LLMClassifier {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &LLMClassifier{
		client:  openai.NewClientWithConfig(cfg),
		opts:    opts,
		limiter: limiter,
		logger:  logger,
	}
}

func (c *LLMClassifier) Classify(ctx context.Context, text, sourceURL string) (ClassificationResult, error) {
	ctx, span := tracer.Start(ctx, "LLMClassifier.Classify")
	defer span.End()
	span.SetAttributes(
		telemetry.String("llm.model", c.opts.Model),
		telemetry.String("source.url", sourceURL),
	)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ClassificationResult{}, apperrors.Upstream("rate limiter wait interrupted", err)
		}
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Source: %s\n\n%s", sourceURL, text)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		span.RecordError(err)
		return ClassificationResult{}, c.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return ClassificationResult{}, apperrors.Upstream("classifier response has no choices", nil)
	}

	result, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		span.RecordError(err)
		return ClassificationResult{}, err
	}
	span.SetAttributes(
		telemetry.Bool("is_casting_call", result.IsCastingCall),
		telemetry.Float64("confidence", result.Confidence),
	)
	return result, nil
}

// statusCode extracts the HTTP status of a failed call, or 0 when the request
// never got a structured response.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// classifyError maps rate limiting, server errors, transport failures and
// timeouts to Upstream (retried) and other 4xx responses to Validation.
func (c *LLMClassifier) classifyError(err error) error {
	status := statusCode(err)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		c.logger.Error("classifier rejected request", zap.Int("status", status), zap.Error(err))
		return apperrors.Validation(fmt.Sprintf("classifier rejected request with status %d", status), err)
	}
	return apperrors.Upstream("classifier request failed", err)
}

func parseReply(content string) (ClassificationResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var result ClassificationResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &result); err != nil {
		return ClassificationResult{}, apperrors.Upstream("classifier reply is not the expected JSON", err)
	}
	result.Confidence = clampConfidence(result.Confidence)
	if !result.IsCastingCall {
		result.Fields = nil
	} else if result.Fields == nil || strings.TrimSpace(result.Fields.Title) == "" {
		return ClassificationResult{}, apperrors.Upstream("classifier marked a casting call without a title", nil)
	}
	return result, nil
}
