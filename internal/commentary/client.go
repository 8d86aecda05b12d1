package commentary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/sidekick/internal/llm"
)

var (
	// ErrNeedsCredential means the user has to configure (or fix) the API
	// credential before commentary can be generated.
	ErrNeedsCredential = errors.New("API credential needs to be configured")

	// ErrRateLimited means the endpoint kept answering 429 through backoff.
	ErrRateLimited = errors.New("rate limited by the model endpoint")
)

// Chatter sends one chat request with the given credential.
type Chatter interface {
	Chat(ctx context.Context, apiKey string, req llm.ChatRequest) (string, error)
}

// CredentialSource returns the current API credential.
type CredentialSource interface {
	Get() (string, bool, error)
}

// Retrier replays requests that failed on the network.
type Retrier interface {
	Submit(ctx context.Context, req llm.ChatRequest) (string, error)
}

// Client generates commentary. Model options and the credential are read
// again for every request.
type Client struct {
	chat    Chatter
	creds   CredentialSource
	retrier Retrier
	options func() Options
	logger  *slog.Logger
}

// NewClient creates a Client. retrier may be nil, in which case network
// errors are returned directly.
func NewClient(chat Chatter, creds CredentialSource, options func() Options) *Client {
	return &Client{
		chat:    chat,
		creds:   creds,
		options: options,
		logger:  slog.Default(),
	}
}

// SetRetrier attaches the queue used for network failures. The queue itself
// sends through c, so it is wired after construction.
func (c *Client) SetRetrier(r Retrier) {
	c.retrier = r
}

// Generate requests commentary for req. Malformed model output never
// produces an error; only credential, rate-limit and transport failures do.
func (c *Client) Generate(ctx context.Context, req Request) (Reply, error) {
	chatReq := BuildChatRequest(req, c.options())

	raw, err := c.Send(ctx, chatReq)
	if err != nil && llm.IsNetwork(err) && c.retrier != nil {
		c.logger.Warn("commentary request failed on the network, queueing", "error", err)
		raw, err = c.retrier.Submit(ctx, chatReq)
	}
	if err != nil {
		return Reply{}, classify(err)
	}

	reply := ParseReply(raw)
	c.logger.Debug("commentary generated", "file", req.FileName, "expression", reply.Expression)
	return reply, nil
}

// Send performs one attempt with the current credential.
func (c *Client) Send(ctx context.Context, req llm.ChatRequest) (string, error) {
	key, _, err := c.creds.Get()
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	return c.chat.Chat(ctx, key, req)
}

func classify(err error) error {
	switch {
	case errors.Is(err, llm.ErrMissingCredential), errors.Is(err, llm.ErrUnauthorized):
		return fmt.Errorf("%w: %w", ErrNeedsCredential, err)
	case llm.IsRateLimit(err):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	default:
		return fmt.Errorf("generating commentary: %w", err)
	}
}
