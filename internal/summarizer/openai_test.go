package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

const testKey = "gsk-test-key-0123456789"

func completionHandler(t *testing.T, answer string, seen chan<- openai.ChatCompletionRequest) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer "+testKey {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if seen != nil {
			seen <- req
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:       testKey,
		BaseURL:      baseURL + "/v1/",
		Model:        "llama-3.1-8b-instant",
		MaxDiffChars: 3000,
		Timeout:      timeout,
	})
	require.NoError(t, err)
	return c
}

func TestSummarizeSendsPromptAndCleansAnswer(t *testing.T) {
	t.Parallel()

	seen := make(chan openai.ChatCompletionRequest, 1)
	answer := "<p>The price rose from $10 to $12</p>\n+ Additionally a new FAQ entry was added @@"
	srv := httptest.NewServer(completionHandler(t, answer, seen))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	summary, err := c.Summarize(context.Background(), "https://example.com/pricing", monitor.Diff{
		Markup:  `<span class="diff-add">+$12</span>`,
		Unified: "@@ -1 +1 @@\n-$10\n+$12",
		Added:   1,
		Removed: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "The price rose from $10 to $12 Additionally a new FAQ entry was added", summary)

	req := <-seen
	require.Equal(t, "llama-3.1-8b-instant", req.Model)
	require.Equal(t, 300, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	require.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	require.Contains(t, req.Messages[1].Content, "URL: https://example.com/pricing")
	require.Contains(t, req.Messages[1].Content, "-$10\n+$12")
}

func TestSummarizeTruncatesDiff(t *testing.T) {
	t.Parallel()

	seen := make(chan openai.ChatCompletionRequest, 1)
	srv := httptest.NewServer(completionHandler(t, "Lots of text was added.", seen))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Second)
	_, err := c.Summarize(context.Background(), "https://example.com", monitor.Diff{
		Unified: "+" + strings.Repeat("z", 5000),
		Added:   1,
	})
	require.NoError(t, err)

	content := (<-seen).Messages[1].Content
	require.Contains(t, content, strings.Repeat("z", 2999))
	require.NotContains(t, content, strings.Repeat("z", 3000))
}

func TestSummarizeEmptyAnswer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(completionHandler(t, "  <br/> ", nil))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, time.Second).Summarize(context.Background(), "https://example.com", monitor.Diff{Unified: "+x", Added: 1})
	require.ErrorIs(t, err, errEmptyAnswer)
}

func TestSummarizeTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(t, srv.URL, 50*time.Millisecond).Summarize(context.Background(), "https://example.com", monitor.Diff{Unified: "+x", Added: 1})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestSummarizeMasksKeyInErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key ` + testKey + `","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, time.Second).Summarize(context.Background(), "https://example.com", monitor.Diff{Unified: "+x", Added: 1})
	require.Error(t, err)
	require.NotContains(t, err.Error(), testKey)
	require.Contains(t, err.Error(), "[MASKED_KEY]")
}

func TestPing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama-3.1-8b-instant","object":"model"}]}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL, time.Second).Ping(context.Background()))

	srv.Close()
	require.Error(t, newTestClient(t, srv.URL, time.Second).Ping(context.Background()))
}

func TestNewRequiresKeyAndModel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: "m"})
	require.ErrorContains(t, err, "api key")
	_, err = New(Config{APIKey: "k"})
	require.ErrorContains(t, err, "model")
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	d := NewDisabled()
	_, err := d.Summarize(context.Background(), "https://example.com", monitor.Diff{})
	require.ErrorIs(t, err, monitor.ErrSummarizerDisabled)
	require.ErrorIs(t, d.Ping(context.Background()), monitor.ErrSummarizerDisabled)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "ab", truncate("abc", 2))
	require.Equal(t, "h", truncate("héllo", 2))
	require.Equal(t, "abc", truncate("abc", 0))
}
