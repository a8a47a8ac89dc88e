package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// TargetLanguage is the language translations are written in.
	TargetLanguage string

	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration

	Logger *slog.Logger
}

// OpenAI asks a chat model for a translation and example sentences.
type OpenAI struct {
	client  *openai.Client
	model   string
	target  string
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger
}

// NewOpenAI builds the backend. An empty model means gpt-4o-mini; a
// non-positive rate disables throttling.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	target := cfg.TargetLanguage
	if target == "" {
		target = "English"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		target:  target,
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.Timeout,
		log:     log,
	}
}

const systemPrompt = `You help language learners. Translate the given text into %s.
Use the surrounding passage only to pick the right sense.
Reply with a JSON object: {"translation": string, "examples": [string, ...]}
with up to three short example sentences that use the text the same way.`

// Translate implements Service.
func (o *OpenAI) Translate(ctx context.Context, text, surrounding string) (Result, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	user := "Text: " + text
	if surrounding != "" && surrounding != text {
		user += "\nPassage: " + surrounding
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, o.target)},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, classify(err)
	}
	o.log.Debug("translation received", "model", o.model, "elapsed", time.Since(start))

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices", ErrResponseInvalid)
	}
	var res Result
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	res.Translation = strings.TrimSpace(res.Translation)
	if res.Translation == "" {
		return Result{}, fmt.Errorf("%w: empty translation", ErrResponseInvalid)
	}
	return res, nil
}

// classify maps client errors onto the package sentinels.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case status >= 500 || status == 0:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("translate: %w", err)
}
