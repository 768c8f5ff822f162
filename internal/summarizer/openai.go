// Package summarizer turns page diffs into short natural-language descriptions
// using an OpenAI-compatible chat-completions endpoint (Groq by default).
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	openai "github.com/sashabaranov/go-openai"

	"github.com/JakeFAU/webmonitor/internal/metrics"
	"github.com/JakeFAU/webmonitor/internal/monitor"
)

const systemPrompt = "You are a concise change analyst. Summarize the changes on a webpage in 1-2 flowing, " +
	"human-readable sentences in a single paragraph.\n\n" +
	"RULES:\n" +
	"1. Output PLAIN TEXT ONLY. Strictly NO HTML tags.\n" +
	"2. Cite the relevant snippets from the diff (prices, version numbers, key text updates) where they add context.\n" +
	"3. Combine all changes into a single narrative, bridging related changes with words like 'while' or 'additionally'.\n" +
	"4. DO NOT use technical formatting or diff symbols (+, -, @@)."

// Summary outcomes reported to metrics.
const (
	resultOK    = "ok"
	resultError = "error"
	resultEmpty = "empty"
)

var leadingMarkers = regexp.MustCompile(`(?m)^[\s+\-•*@]+`)

var errEmptyAnswer = errors.New("summarizer: empty answer")

// Config configures the chat-completions client.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	MaxDiffChars int
	Timeout      time.Duration
}

// Client implements monitor.Summarizer with go-openai.
type Client struct {
	client       *openai.Client
	apiKey       string
	model        string
	maxTokens    int
	maxDiffChars int
	timeout      time.Duration
	sanitizer    *bluemonday.Policy
}

// New builds a Client. Use NewDisabled when no API key is configured.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("summarizer: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("summarizer: model is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.MaxDiffChars <= 0 {
		cfg.MaxDiffChars = 3000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		client:       openai.NewClientWithConfig(oc),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		maxDiffChars: cfg.MaxDiffChars,
		timeout:      cfg.Timeout,
		sanitizer:    bluemonday.StrictPolicy(),
	}, nil
}

// Summarize asks the model to describe diff. An empty answer is an error.
func (c *Client) Summarize(ctx context.Context, url string, diff monitor.Diff) (string, error) {
	start := time.Now()
	summary, err := c.summarize(ctx, url, diff)
	result := resultOK
	switch {
	case errors.Is(err, errEmptyAnswer):
		result = resultEmpty
	case err != nil:
		result = resultError
	}
	metrics.ObserveSummary(result, time.Since(start))
	return summary, err
}

func (c *Client) summarize(ctx context.Context, url string, diff monitor.Diff) (string, error) {
	snippet := diff.Unified
	if snippet == "" {
		snippet = diff.Markup
	}
	snippet = truncate(snippet, c.maxDiffChars)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(
					"URL: %s\n\nRecent Changes (Diff):\n%s\n\nProvide a human-readable summary with citations/snippets (single paragraph):",
					url, snippet,
				),
			},
		},
	})
	if err != nil {
		return "", c.wrap("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyAnswer
	}
	summary := c.clean(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", errEmptyAnswer
	}
	return summary, nil
}

// Ping lists models to confirm the endpoint accepts the key.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return c.wrap("list models", err)
	}
	return nil
}

// clean strips markup and diff notation the model may echo back and folds the
// answer into a single paragraph.
func (c *Client) clean(answer string) string {
	text := html.UnescapeString(c.sanitizer.Sanitize(answer))
	text = leadingMarkers.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "@@", "")
	return strings.Join(strings.Fields(text), " ")
}

// wrap annotates err, flattening it to text when the message would leak the API key.
func (c *Client) wrap(op string, err error) error {
	if len(c.apiKey) > 10 && strings.Contains(err.Error(), c.apiKey) {
		return fmt.Errorf("summarizer: %s: %s", op, strings.ReplaceAll(err.Error(), c.apiKey, "[MASKED_KEY]"))
	}
	return fmt.Errorf("summarizer: %s: %w", op, err)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
