// Package ai relays condensed market snapshots to an OpenAI-compatible
// text-generation endpoint. The client composes prompts and forwards them; it
// never interprets or post-processes the returned commentary.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configure the upstream endpoint.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// MaxOutputTokens bounds the generated commentary; 0 uses the default.
	MaxOutputTokens int
}

// Client talks to the /responses endpoint.
type Client struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
}

// NewClient constructs the relay client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 900
	}
	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "ai").Logger(),
	}
}

// Enabled reports whether the relay is configured with credentials.
func (c *Client) Enabled() bool {
	return c.opts.APIKey != ""
}

type responsesRequest struct {
	Model           string `json:"model"`
	Input           string `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

type responsesReply struct {
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate submits the prompt and returns the model's text output.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("ai relay not configured")
	}

	body, err := json.Marshal(responsesRequest{
		Model:           c.opts.Model,
		Input:           prompt,
		MaxOutputTokens: c.opts.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal ai request: %w", err)
	}

	url := strings.TrimRight(c.opts.BaseURL, "/") + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send ai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read ai response: %w", err)
	}

	var reply responsesReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("decode ai response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if reply.Error != nil && reply.Error.Message != "" {
			return "", fmt.Errorf("ai status %d: %s", resp.StatusCode, reply.Error.Message)
		}
		return "", fmt.Errorf("ai status %d", resp.StatusCode)
	}

	text := extractText(reply)
	if text == "" {
		return "", fmt.Errorf("ai response contained no text output")
	}

	c.logger.Info().
		Dur("elapsed", time.Since(started)).
		Int("prompt_bytes", len(prompt)).
		Int("output_bytes", len(text)).
		Msg("commentary generated")
	return text, nil
}

func extractText(reply responsesReply) string {
	builder := strings.Builder{}
	for _, out := range reply.Output {
		for _, content := range out.Content {
			if content.Type == "output_text" || content.Type == "text" {
				builder.WriteString(content.Text)
			}
		}
	}
	return strings.TrimSpace(builder.String())
}
