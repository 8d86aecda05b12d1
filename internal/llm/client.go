// Package llm talks to an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the subset of an OpenAI chat completion request sidekick sends.
// Endpoint, when set, overrides the client's base URL for this request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Endpoint    string    `json:"-"`
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	HTTPClient     *http.Client
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Client sends chat requests. It holds no credential; the caller passes the
// current one on each call so credential changes apply immediately.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		httpClient:     opts.HTTPClient,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.openai.com/v1"
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = defaultInitialBackoff
	}
	return c
}

// BaseURL returns the endpoint the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) api(apiKey, endpoint string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.baseURL
	if endpoint = strings.TrimRight(endpoint, "/"); endpoint != "" {
		cfg.BaseURL = endpoint
	}
	cfg.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(cfg)
}

// Chat sends req and returns the first choice's message content. HTTP 429
// is retried with exponential backoff; every other failure returns at once.
func (c *Client) Chat(ctx context.Context, apiKey string, req ChatRequest) (string, error) {
	if apiKey == "" {
		return "", ErrMissingCredential
	}
	api := c.api(apiKey, req.Endpoint)
	oreq := toOpenAI(req)

	for attempt := range c.maxAttempts {
		content, err := c.doChat(ctx, api, oreq)
		if err == nil {
			return content, nil
		}

		var rl *rateLimitError
		if !errors.As(err, &rl) {
			return "", err
		}

		if attempt < c.maxAttempts-1 {
			backoff := time.Duration(float64(c.initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", &RateLimitError{Attempts: c.maxAttempts}
}

func (c *Client) doChat(ctx context.Context, api *openai.Client, req openai.ChatCompletionRequest) (string, error) {
	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAI(req ChatRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: wireTemperature(req.Temperature),
	}
}

// wireTemperature keeps a zero temperature on the wire; go-openai omits an
// exact 0.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// classify maps go-openai and transport errors onto this package's taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(reqErr.HTTPStatusCode, reqErr.Error())
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{Err: err}
	}
	return fmt.Errorf("chat completion: %w", err)
}

func statusError(status int, msg string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Status: status, Message: msg}
	case http.StatusTooManyRequests:
		return &rateLimitError{status: status}
	default:
		return &StatusError{Status: status, Message: msg}
	}
}

// ListModels returns the model ids available at the client's endpoint.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	return c.ListModelsAt(ctx, apiKey, "")
}

// ListModelsAt is ListModels against endpoint, or the client's base URL
// when endpoint is empty.
func (c *Client) ListModelsAt(ctx context.Context, apiKey, endpoint string) ([]string, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	list, err := c.api(apiKey, endpoint).ListModels(ctx)
	if err != nil {
		return nil, classify(ctx, err)
	}
	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	return ids, nil
}
