// Package llm is the synthesis client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
	apperrors "github.com/target/ticket-enhancer/internal/errors"
	"github.com/target/ticket-enhancer/internal/ports"
	"github.com/target/ticket-enhancer/internal/retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	completionsPath = "/chat/completions"
	// maxResponseBytes bounds a completion response body.
	maxResponseBytes = 1 << 20
)

// Options configures NewClient.
type Options struct {
	Config     config.LLMConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Sleep replaces the backoff sleep in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client calls POST {base}/chat/completions with the shared retry policy.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	callTimeout time.Duration
	http        *http.Client
	policy      retry.Policy
	logger      *slog.Logger
}

// NewClient constructs a Client. When a token URL and client id are configured the
// HTTP client is wrapped with an OAuth2 client-credentials token source; otherwise
// the API key is sent as a bearer token.
func NewClient(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg.BaseURL == "" {
		return nil, errors.New("llm base URL is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.UsesClientCredentials() {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = cc.Client(ctx)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm_client")

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 45 * time.Second
	}
	c := &Client{
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + completionsPath,
		apiKey:      cfg.APIKey,
		model:       cfg.DefaultModel,
		maxTokens:   cfg.MaxTokens,
		callTimeout: callTimeout,
		http:        hc,
		logger:      logger,
	}
	if cfg.UsesClientCredentials() {
		c.apiKey = ""
	}
	c.policy = retry.Policy{
		MaxAttempts:   cfg.MaxAttempts,
		Backoff:       retry.Exponential{Base: cfg.RetryBase, Factor: 2, Max: cfg.RetryMax, Jitter: 0.2},
		Retryable:     retry.HTTPRetryable,
		MaxRetryAfter: cfg.RetryMax,
		Sleep:         opts.Sleep,
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	User      string        `json:"user,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Synthesize implements ports.Synthesizer.
//
// The call is bounded by the client's own timeout in addition to the caller's
// deadline. Failures are SynthesisFailed, except that an expired caller deadline
// is reported as Timeout so the job is released rather than failed.
func (c *Client) Synthesize(ctx context.Context, req ports.SynthesisRequest) (ports.Synthesis, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	body, err := json.Marshal(chatRequest{
		Model: modelName,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens: maxTokens,
		User:      req.TenantID,
	})
	if err != nil {
		return ports.Synthesis{}, apperrors.Wrap(err, apperrors.ErrCodeSynthesisFailed, "encode completion request")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var (
		out      ports.Synthesis
		attempts int
	)
	policy := c.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.WarnContext(ctx, "completion attempt failed, retrying",
			"job_id", req.JobID,
			"tenant_id", req.TenantID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	err = retry.Do(callCtx, policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		res, err := c.complete(ctx, body)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	out.Attempts = attempts
	if err == nil {
		return out, nil
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, apperrors.Wrap(err, apperrors.ErrCodeTimeout, "job deadline expired during synthesis")
	}
	if ctx.Err() != nil {
		return out, apperrors.Wrap(err, apperrors.ErrCodeCanceled, "synthesis canceled")
	}
	return out, apperrors.Wrapf(err, apperrors.ErrCodeSynthesisFailed, "synthesis failed after %d attempt(s)", attempts)
}

func (c *Client) complete(ctx context.Context, body []byte) (ports.Synthesis, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.Synthesis{}, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ports.Synthesis{}, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.Synthesis{}, retry.NewStatusError(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return ports.Synthesis{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return ports.Synthesis{}, retry.Permanent(errors.New("completion returned no content"))
	}
	return ports.Synthesis{
		Text: strings.TrimSpace(parsed.Choices[0].Message.Content),
		Usage: model.TokenUsage{
			Model:            parsed.Model,
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}
