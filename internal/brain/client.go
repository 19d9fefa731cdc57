// Package brain talks to an OpenAI-completions-compatible inference server
// (LM Studio, Ollama, llama.cpp server) over HTTP.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/merithbot/merith/internal/reliability"
)

var (
	// ErrEndpointUnreachable means the inference server could not be reached
	// or answered with a retryable server error.
	ErrEndpointUnreachable = errors.New("inference endpoint unreachable")
	// ErrEndpointTimeout means the request exceeded the configured deadline.
	ErrEndpointTimeout = errors.New("inference endpoint timeout")
	// ErrMalformedResponse means the server answered but the payload was not
	// a usable completion.
	ErrMalformedResponse = errors.New("malformed inference response")
)

type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *log.Logger
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.With("component", "brain"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one user utterance under the given persona and returns the
// assistant reply. Connection failures, timeouts and retryable server errors
// get exactly one retry; malformed responses do not.
func (c *Client) Complete(ctx context.Context, persona, userText string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(0, 250*time.Millisecond, time.Second)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
			c.log.Warn("retrying inference request", "attempt", attempt+1, "cause", lastErr)
		}

		reply, retryable, err := c.attempt(ctx, persona, userText)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, persona, userText string) (string, bool, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: persona},
			{Role: "user", Content: userText},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if reliability.IsTimeout(err) {
			return "", true, fmt.Errorf("%w: %v", ErrEndpointTimeout, err)
		}
		return "", true, fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", true, fmt.Errorf("%w: status %d", ErrEndpointUnreachable, resp.StatusCode)
		}
		return "", false, fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("%w: empty choices", ErrMalformedResponse)
	}
	reply := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if reply == "" {
		return "", false, fmt.Errorf("%w: empty completion", ErrMalformedResponse)
	}
	return reply, false, nil
}

// HealthCheck probes the models listing endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/models"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrEndpointUnreachable, resp.StatusCode)
	}
	return nil
}

// Warmup issues a throwaway completion so the backend loads the model before
// the first real turn. Failures are reported but are not fatal to startup.
func (c *Client) Warmup(ctx context.Context, persona string) error {
	_, err := c.Complete(ctx, persona, "Say hi in one word.")
	return err
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}
