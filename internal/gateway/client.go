// Package gateway is the HTTP client for the remote generation service:
// it submits structured prompt+parameter requests and returns generated
// text with token-usage metrics.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adrifthq/adrift/internal/difficulty"
	"github.com/adrifthq/adrift/internal/metrics"
	"github.com/adrifthq/adrift/internal/quota"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds a single generation attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries bounds how many attempts a request gets before a
	// typed error surfaces instead of hanging.
	DefaultMaxRetries = 3
)

// Message is one chat turn sent to the generation service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation call.
type Request struct {
	Messages       []Message
	Parameters     *difficulty.Parameters
	MaxTokens      int
	Temperature    float64
	ResponseFormat string // e.g. "json_object"; empty for plain text
}

// Response carries the generated text and its cost.
type Response struct {
	Text    string
	Metrics quota.TokenMetrics
}

// Config configures the gateway client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to the generation endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "gateway").Logger(),
		now:    time.Now,
	}
}

// Wire shapes of the generation endpoint.
type generateRequest struct {
	Messages       []Message         `json:"messages"`
	Config         *generateConfig   `json:"config,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Model          string            `json:"model,omitempty"`
}

type generateConfig struct {
	Parameters *difficulty.Parameters `json:"parameters,omitempty"`
}

type generateResponse struct {
	Completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage json.RawMessage `json:"usage"`
	} `json:"completion"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// errorDetail accepts both upstream error shapes: a bare string message
// and an object carrying message and code fields.
type errorDetail struct {
	Message string
	Code    string
}

func (d *errorDetail) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.Message = s
		return nil
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	d.Message = obj.Message
	d.Code = obj.Code
	return nil
}

// Generate submits a request, retrying transport and server failures up
// to the configured bound. Client errors (auth, validation) fail fast.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.generateOnce(ctx, req)
		if err == nil {
			metrics.GatewayRequests.WithLabelValues("ok").Inc()
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.GatewayRequests.WithLabelValues("canceled").Inc()
			return nil, &Error{Message: "generation canceled"}
		}
		if !retryable(err) {
			break
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Generation attempt failed")
	}

	metrics.GatewayRequests.WithLabelValues("error").Inc()
	if gerr, ok := lastErr.(*Error); ok {
		return nil, gerr
	}
	return nil, &Error{Message: lastErr.Error()}
}

func (c *Client) generateOnce(ctx context.Context, req Request) (*Response, error) {
	started := c.now()

	body := generateRequest{
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Model:       c.cfg.Model,
	}
	if req.Parameters != nil {
		body.Config = &generateConfig{Parameters: req.Parameters}
	}
	if req.ResponseFormat != "" {
		body.ResponseFormat = map[string]string{"type": req.ResponseFormat}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("generation request failed: %v", err)}
	}
	defer func() { _ = httpResp.Body.Close() }()

	metrics.GatewayDuration.Observe(c.now().Sub(started).Seconds())

	if httpResp.StatusCode != http.StatusOK {
		var errBody errorResponse
		_ = json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, newStatusError(httpResp.StatusCode, errBody.Error.Code, errBody.Error.Message)
	}

	var decoded generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(decoded.Completion.Choices) == 0 {
		return nil, &Error{Message: "empty completion"}
	}

	usage, err := quota.ParseMetrics(decoded.Completion.Usage, c.now())
	if err != nil {
		return nil, &Error{Message: "completion missing usage metrics"}
	}

	return &Response{
		Text:    decoded.Completion.Choices[0].Message.Content,
		Metrics: usage,
	}, nil
}
