package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"glimpse/internal/config"
	"glimpse/internal/engine"
)

const (
	defaultBaseURL        = "http://localhost:11434"
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
)

// Config captures the runtime settings required to talk to an Ollama server.
type Config struct {
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client implements engine.Engine against the Ollama HTTP API. Images travel
// as base64 attachments on chat messages; load and unload are expressed
// through keep_alive.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)

	mu        sync.Mutex
	loadedTag string
	cpuOnly   bool
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

// WithRetryMaxAttempts overrides the default retry count (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs an Ollama client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
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

// quantSuffixes are the tag suffixes this client manages. They are stripped
// before a new quantization suffix is applied so cascade steps do not stack.
var quantSuffixes = []string{"-q8_0", "-q4_0", "-fp16"}

// ModelTag maps a configured model name and quantization mode onto the
// Ollama tag to load. Quantization none keeps the configured name verbatim.
func ModelTag(model, quantization string) string {
	base := model
	for _, suffix := range quantSuffixes {
		base = strings.TrimSuffix(base, suffix)
	}
	switch quantization {
	case config.Quantization8Bit:
		return base + "-q8_0"
	case config.Quantization4Bit:
		return base + "-q4_0"
	default:
		return model
	}
}

// Load warms the model resolved from profile so the first caption does not
// pay the model load cost. A memory-exhaustion response surfaces through
// engine.IsOOM on the returned error.
func (c *Client) Load(ctx context.Context, profile engine.Profile) error {
	tag := ModelTag(c.cfg.Model, profile.Quantization)
	cpuOnly := profile.Device == config.DeviceCPU

	payload := generateRequest{Model: tag, Stream: false}
	if cpuOnly {
		payload.Options = map[string]any{"num_gpu": 0}
	}
	if _, err := c.postWithRetry(ctx, "/api/generate", payload, "ollama load"); err != nil {
		return err
	}

	c.mu.Lock()
	c.loadedTag = tag
	c.cpuOnly = cpuOnly
	c.mu.Unlock()
	return nil
}

// Generate requests a caption for img. The image is re-encoded as PNG and
// attached to a single user message; sampling parameters map onto Ollama
// model options.
func (c *Client) Generate(ctx context.Context, img image.Image, prompt string, params engine.Params) (string, error) {
	c.mu.Lock()
	tag := c.loadedTag
	cpuOnly := c.cpuOnly
	c.mu.Unlock()
	if tag == "" {
		return "", errors.New("ollama generate: model not loaded")
	}

	encoded, err := encodeImage(img)
	if err != nil {
		return "", fmt.Errorf("ollama generate: encode image: %w", err)
	}

	options := map[string]any{
		"temperature":    params.Temperature,
		"top_p":          params.TopP,
		"top_k":          params.TopK,
		"repeat_penalty": params.RepetitionPenalty,
		"num_predict":    params.MaxNewTokens,
	}
	if cpuOnly {
		options["num_gpu"] = 0
	}
	payload := chatRequest{
		Model: tag,
		Messages: []chatMessage{
			{Role: "user", Content: prompt, Images: []string{encoded}},
		},
		Stream:  false,
		Options: options,
	}

	body, err := c.postWithRetry(ctx, "/api/chat", payload, "ollama generate")
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("ollama generate: decode response: %w", err)
	}
	caption := strings.TrimSpace(parsed.Message.Content)
	if caption == "" {
		return "", fmt.Errorf("ollama generate: empty caption (response snippet: %s)", summarizeSnippet(string(body)))
	}
	return caption, nil
}

// Unload asks the server to evict the loaded model immediately. It is safe
// to call when nothing is loaded.
func (c *Client) Unload(ctx context.Context) error {
	c.mu.Lock()
	tag := c.loadedTag
	c.mu.Unlock()
	if tag == "" {
		return nil
	}

	payload := generateRequest{Model: tag, Stream: false, KeepAlive: 0}
	if _, err := c.postOnce(ctx, "/api/generate", payload, "ollama unload"); err != nil {
		return err
	}

	c.mu.Lock()
	c.loadedTag = ""
	c.cpuOnly = false
	c.mu.Unlock()
	return nil
}

// ClearCache is a no-op: the server owns its transient memory and frees it
// between requests.
func (c *Client) ClearCache(ctx context.Context) error {
	return nil
}

// Ping checks that the server answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("ollama ping: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("ollama ping: http %d", resp.StatusCode)
	}
	return nil
}

// TagInfo describes one locally available model.
type TagInfo struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Model string `json:"model"`
}

// Tags lists the models available on the server.
func (c *Client) Tags(ctx context.Context) ([]TagInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &httpStatusError{Op: "ollama tags", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var parsed struct {
		Models []TagInfo `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("ollama tags: decode response: %w", err)
	}
	return parsed.Models, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

type generateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive any            `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

type httpStatusError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	detail := e.Body
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(e.Body), &parsed) == nil && strings.TrimSpace(parsed.Error) != "" {
		detail = strings.TrimSpace(parsed.Error)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, detail)
}

func (c *Client) postWithRetry(ctx context.Context, path string, payload any, op string) ([]byte, error) {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.postOnce(ctx, path, payload, op)
		if err == nil {
			return body, nil
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, err
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func (c *Client) postOnce(ctx context.Context, path string, payload any, op string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: http error (timeout=%s): %w", op, c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body (timeout=%s): %w", op, c.timeoutDuration(), err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil {
		return defaultHTTPTimeout
	}
	if c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil {
		return 1
	}
	if c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

// retryDelay decides whether err warrants another attempt. Memory exhaustion
// is never retried here: the resource manager owns that path.
func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts {
		return 0, false
	}
	if err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	if engine.IsOOM(err) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return c.backoffDelay(attempt), true
	}

	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c != nil {
		if c.retryBaseDelay >= 0 {
			base = c.retryBaseDelay
		}
		if c.retryMaxDelay > 0 {
			maxDelay = c.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c != nil && c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("ollama retry: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c != nil && c.sleeper != nil {
		c.sleeper(delay)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func encodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func summarizeSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := replacer.Replace(trimmed)
	clean = strings.Join(strings.Fields(clean), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
