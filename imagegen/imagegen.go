// Package imagegen wraps the external image-generation API used by the relic
// forge. The call is opaque to the coordinator: prompt in, hosted URL out.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGenerationsURL = "https://api.together.xyz/v1/images/generations"
	defaultModel          = "black-forest-labs/FLUX.1-schnell"
	defaultTimeout        = 30 * time.Second
)

// ErrMissingAPIKey indicates no credential was configured for image generation.
var ErrMissingAPIKey = errors.New("TOGETHER_API key not configured")

// Config configures the generations endpoint and HTTP behavior.
type Config struct {
	APIKey         string
	Model          string
	GenerationsURL string
	Timeout        time.Duration
	HTTPClient     *http.Client
}

// Client calls the Together images API.
type Client struct {
	cfg Config
}

// New builds an image-generation client with endpoint and timeout defaults.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.GenerationsURL) == "" {
		cfg.GenerationsURL = defaultGenerationsURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg}
}

type generationsBody struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Steps  int    `json:"steps"`
	N      int    `json:"n"`
}

type generationsReply struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Generate renders one 1024x1024 image for the prompt and returns its URL.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	body, err := json.Marshal(generationsBody{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Width:  1024,
		Height: 1024,
		Steps:  4,
		N:      1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generations body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GenerationsURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generations request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image generation call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generations reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image API error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var reply generationsReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("decode generations reply: %w", err)
	}
	if len(reply.Data) == 0 || reply.Data[0].URL == "" {
		return "", errors.New("invalid response from image API")
	}
	return reply.Data[0].URL, nil
}
