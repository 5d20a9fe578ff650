// Package openaicompat implements the captioning engine against any
// OpenAI-compatible chat completions endpoint (vLLM, LM Studio, hosted
// OpenAI). The engine is remote: Load verifies reachability and Unload
// releases nothing beyond local state, and memory exhaustion never occurs
// on this path.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"glimpse/internal/engine"
)

const defaultHTTPTimeout = 120 * time.Second

// Config captures the runtime settings for an OpenAI-compatible server.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// Client implements engine.Engine using the chat completions API. Images are
// attached as data-URI parts on a multi-content user message.
type Client struct {
	cfg        Config
	api        *openai.Client
	httpClient *http.Client

	mu     sync.Mutex
	loaded bool
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

// NewClient constructs an OpenAI-compatible client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}

	apiConfig := openai.DefaultConfig(client.cfg.APIKey)
	if client.cfg.BaseURL != "" {
		apiConfig.BaseURL = client.cfg.BaseURL
	}
	apiConfig.HTTPClient = client.httpClient
	client.api = openai.NewClientWithConfig(apiConfig)
	return client
}

// Load verifies the endpoint is reachable and the credentials are accepted.
// The profile is ignored: model placement is the server's concern.
func (c *Client) Load(ctx context.Context, profile engine.Profile) error {
	if c.cfg.Model == "" {
		return errors.New("openai load: model name required")
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("openai load: %w", err)
	}
	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Generate requests a caption for img. Sampling parameters map onto their
// chat-completion equivalents; repetition_penalty shifts by -1 onto
// frequency_penalty and top_k has no equivalent and is dropped.
func (c *Client) Generate(ctx context.Context, img image.Image, prompt string, params engine.Params) (string, error) {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if !loaded {
		return "", errors.New("openai generate: model not loaded")
	}

	encoded, err := encodeImage(img)
	if err != nil {
		return "", fmt.Errorf("openai generate: encode image: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/png;base64," + encoded,
						},
					},
				},
			},
		},
		Temperature:      float32(params.Temperature),
		TopP:             float32(params.TopP),
		MaxTokens:        params.MaxNewTokens,
		FrequencyPenalty: float32(params.RepetitionPenalty - 1),
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai generate: empty choices")
	}
	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	if caption == "" {
		return "", errors.New("openai generate: empty caption")
	}
	return caption, nil
}

// Unload clears local state; there is nothing to release server-side.
func (c *Client) Unload(ctx context.Context) error {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
	return nil
}

// ClearCache is a no-op for a remote engine.
func (c *Client) ClearCache(ctx context.Context) error {
	return nil
}

func encodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
