package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultSlackURL   = "https://slack.com/api"
	defaultMaxRetries = 3
	requestTimeout    = 10 * time.Second
)

var (
	// ErrMissingToken is returned when no bot token is configured.
	ErrMissingToken = errors.New("slack token is required")

	// ErrSlackAPI is returned when Slack answers with ok=false.
	ErrSlackAPI = errors.New("slack api error")
)

// SlackOptions configures a SlackNotifier.
type SlackOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// SlackNotifier posts messages with chat.postMessage.
type SlackNotifier struct {
	token string
	opts  SlackOptions
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// NewSlackNotifier returns a SlackNotifier authenticating with token.
func NewSlackNotifier(token string, opts SlackOptions) (*SlackNotifier, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultSlackURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SlackNotifier{token: token, opts: opts}, nil
}

// Notify posts message to channel, retrying on 5xx and rate limiting.
func (n *SlackNotifier) Notify(ctx context.Context, channel, message string) error {
	body, err := json.Marshal(postMessageRequest{Channel: channel, Text: message})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * n.opts.RetryDelay
			var rl *rateLimitError
			if errors.As(lastErr, &rl) && rl.retryAfter > 0 {
				wait = rl.retryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		retry, err := n.post(ctx, body)
		if err == nil {
			n.opts.Logger.Info("slack message posted", "channel", channel)
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		n.opts.Logger.Warn("slack post failed, retrying", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("slack post failed after %d attempts: %w", n.opts.MaxRetries, lastErr)
}

type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("slack rate limited, retry after %s", e.retryAfter)
}

// post sends one request and reports whether a failure may be retried.
func (n *SlackNotifier) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.opts.BaseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.opts.HTTPClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return true, &rateLimitError{retryAfter: time.Duration(secs) * time.Second}
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("slack server error: HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("slack rejected request: HTTP %d", resp.StatusCode)
	}

	var out postMessageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return false, fmt.Errorf("decode slack response: %w", err)
	}
	if !out.OK {
		return false, fmt.Errorf("%w: %s", ErrSlackAPI, out.Error)
	}
	return false, nil
}
