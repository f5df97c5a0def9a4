package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// minTextLen guards against feeding the model a transcript fragment that
// cannot produce a meaningful summary.
const minTextLen = 50

// Client implements ports.Summarizer against any OpenAI-compatible
// chat-completions endpoint. Groq and a local Ollama expose the same API,
// so provider choice collapses into configuration.
type Client struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var _ ports.Summarizer = (*Client)(nil)

// Options configures a summarizer client.
type Options struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewClient builds a client from options.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		endpoint:    opts.Endpoint,
		model:       opts.Model,
		apiKey:      opts.APIKey,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Summarize asks the model for a summary of at most maxLines lines.
func (c *Client) Summarize(ctx context.Context, title, text string, maxLines int) (string, error) {
	if c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("summarizer misconfigured: %w", domain.ErrUnavailable)
	}
	if len(strings.TrimSpace(text)) < minTextLen {
		return "", fmt.Errorf("transcript too short to summarize: %w", domain.ErrInvalidInput)
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": buildPrompt(title, text, maxLines)},
		},
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize call: %w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", classifyStatus(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w: %v", domain.ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty completion: %w", domain.ErrUnavailable)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func classifyStatus(status int, snippet string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("provider throttled: %w: %s", domain.ErrRateLimited, snippet)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("provider rejected request: %w: %s", domain.ErrInvalidInput, snippet)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("provider auth failed (%d): %w: %s", status, domain.ErrInvalidInput, snippet)
	default:
		return fmt.Errorf("provider status %d: %w: %s", status, domain.ErrUnavailable, snippet)
	}
}

func buildPrompt(title, text string, maxLines int) string {
	var b strings.Builder
	b.WriteString("You are a professional news summarizer. Create a concise, neutral summary.\n\n")
	fmt.Fprintf(&b, "Title: %s\n\nContent:\n%s\n\n", title, text)
	fmt.Fprintf(&b, "Provide a summary in %d lines or fewer.\n", maxLines)
	b.WriteString("- Use a neutral, professional tone\n")
	b.WriteString("- Preserve technical meaning and important details\n")
	b.WriteString("- Do not mention sources, links or URLs\n\nSummary:")
	return b.String()
}
