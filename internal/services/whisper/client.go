package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"subforge/internal/services"
)

const (
	defaultBaseURL        = "https://api-inference.huggingface.co/models/openai/whisper-large-v3"
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 5
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 32 * time.Second
)

// Config captures the runtime settings required to talk to the inference API.
type Config struct {
	APIToken       string
	BaseURL        string
	TimeoutSeconds int
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// Client wraps the Whisper inference HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(context.Context, time.Duration) error
	jitter           func() float64
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the default API base (useful for tests/mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		base = strings.TrimSpace(base)
		if base != "" {
			c.cfg.BaseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// WithJitter overrides the jitter source. The function must return values in
// [-1, 1]; tests pin it to zero for deterministic delays.
func WithJitter(jitter func() float64) Option {
	return func(c *Client) {
		if jitter != nil {
			c.jitter = jitter
		}
	}
}

// NewClient constructs a Whisper inference client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIToken:       strings.TrimSpace(cfg.APIToken),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		sleeper:          SleepWithContext,
		jitter:           defaultJitter,
	}
	if cfg.MaxRetries > 0 {
		client.retryMaxAttempts = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		client.retryBaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		client.retryMaxDelay = cfg.MaxDelay
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// Transcribe uploads the WAV file at audioPath and returns the decoded
// transcription. Transient failures are retried before the error escalates.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	var empty Transcription
	if strings.TrimSpace(c.cfg.APIToken) == "" {
		return empty, services.Wrap(services.ErrConfiguration, "transcribing", "transcribe", "api token required", nil)
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return empty, services.Wrap(services.ErrValidation, "transcribing", "read audio", audioPath, err)
	}
	if len(audio) == 0 {
		return empty, services.Wrap(services.ErrValidation, "transcribing", "read audio", "empty audio file: "+audioPath, nil)
	}
	body, err := c.Execute(ctx, http.MethodPost, c.cfg.BaseURL, audio, map[string]string{
		"Authorization": "Bearer " + c.cfg.APIToken,
		"Content-Type":  "audio/wav",
	})
	if err != nil {
		return empty, err
	}
	result, err := decodeTranscription(body)
	if err != nil {
		return empty, services.Wrap(services.ErrValidation, "transcribing", "decode response", "", err)
	}
	return result, nil
}

// Execute performs an HTTP request with the client's retry policy. Each
// attempt rebuilds the request from the supplied body so retries never reuse
// a drained reader. When the retry budget is exhausted the last transient
// error is escalated to a permanent one.
func (c *Client) Execute(ctx context.Context, method, requestURL string, body []byte, headers map[string]string) ([]byte, error) {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleeper(ctx, c.backoffDelay(attempt-1)); err != nil {
				return nil, err
			}
		}
		payload, err := c.executeOnce(ctx, method, requestURL, body, headers)
		if err == nil {
			return payload, nil
		}
		if !services.IsRetryable(err) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = services.Wrap(services.ErrTransient, "transcribing", "execute", "unknown retry failure", nil)
	}
	return nil, services.Escalate(fmt.Errorf("failed after %d attempts: %w", attempts, lastErr))
}

func (c *Client) executeOnce(ctx context.Context, method, requestURL string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "transcribing", "build request", "", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		marker := services.ErrValidation
		if isRetryableNetwork(err) {
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "transcribing", "execute", "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "transcribing", "execute", "read body", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		detail := fmt.Sprintf("http %d: %s", resp.StatusCode, summarizeBody(payload))
		marker := services.ErrValidation
		// 503 covers model cold starts and is always worth waiting out.
		if retryableStatus(resp.StatusCode) {
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "transcribing", "execute", detail, nil)
	}
	return payload, nil
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

// retryableStatus reports whether an HTTP status warrants another attempt.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableNetwork(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"temporary failure",
		"no such host",
		"awaiting headers",
	} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	const maxLen = 200
	if len(trimmed) > maxLen {
		return trimmed[:maxLen] + "..."
	}
	return trimmed
}
