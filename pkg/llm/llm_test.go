package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompleter returns a canned response or error.
type fakeCompleter struct {
	response string
	err      error
	lastReq  CompletionRequest
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.lastReq = req
	return f.response, f.err
}

func TestParseMetadataResponse(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		meta, err := parseMetadataResponse(`{
			"title": "Electric Invoice March",
			"correspondent": "City Power Co",
			"document_date": "2026-03-01",
			"document_type": "invoice",
			"summary": "Monthly electricity bill.",
			"suggested_tags": ["utilities", "invoice"]
		}`)
		require.NoError(t, err)
		assert.Equal(t, "Electric Invoice March", meta.Title)
		assert.Equal(t, "City Power Co", meta.Correspondent)
		assert.Equal(t, "2026-03-01", meta.DocumentDate)
		assert.Equal(t, []string{"utilities", "invoice"}, meta.SuggestedTags)
	})

	t.Run("strips code fences", func(t *testing.T) {
		meta, err := parseMetadataResponse("```json\n{\"title\": \"Fenced\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "Fenced", meta.Title)
	})

	t.Run("strips bare fences", func(t *testing.T) {
		meta, err := parseMetadataResponse("```\n{\"title\": \"Bare\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "Bare", meta.Title)
	})

	t.Run("caps tag count and drops unknowns", func(t *testing.T) {
		tags := make([]string, 0, 15)
		for i := 0; i < 14; i++ {
			tags = append(tags, strings.Repeat("t", i+1))
		}
		tags = append(tags, "Unknown")
		raw, _ := json.Marshal(map[string]interface{}{"suggested_tags": tags})
		meta, err := parseMetadataResponse(string(raw))
		require.NoError(t, err)
		assert.Len(t, meta.SuggestedTags, maxTags)
	})

	t.Run("truncates long fields", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]interface{}{
			"title":   strings.Repeat("a", 600),
			"summary": strings.Repeat("b", 2000),
		})
		meta, err := parseMetadataResponse(string(raw))
		require.NoError(t, err)
		assert.Len(t, meta.Title, maxTitleLen)
		assert.Len(t, meta.Summary, maxSummaryLen)
	})

	t.Run("rejects non-JSON", func(t *testing.T) {
		_, err := parseMetadataResponse("I think this is an invoice.")
		assert.Error(t, err)
	})
}

func TestIsUnknown(t *testing.T) {
	assert.True(t, IsUnknown(""))
	assert.True(t, IsUnknown("  "))
	assert.True(t, IsUnknown("Unknown"))
	assert.True(t, IsUnknown("unknown"))
	assert.False(t, IsUnknown("ACME Corp"))
}

func TestExtractMetadataNeverErrors(t *testing.T) {
	t.Run("provider failure yields empty metadata", func(t *testing.T) {
		svc := NewService(&fakeCompleter{err: errors.New("connection refused")}, hclog.NewNullLogger())
		meta := svc.ExtractMetadata(context.Background(), "text", "a.pdf", nil)
		assert.Equal(t, Metadata{}, meta)
	})

	t.Run("parse failure yields empty metadata", func(t *testing.T) {
		svc := NewService(&fakeCompleter{response: "not json at all"}, hclog.NewNullLogger())
		meta := svc.ExtractMetadata(context.Background(), "text", "a.pdf", nil)
		assert.Equal(t, Metadata{}, meta)
	})
}

func TestExtractMetadataPromptTruncation(t *testing.T) {
	fake := &fakeCompleter{response: `{"title":"x"}`}
	svc := NewService(fake, hclog.NewNullLogger())

	longText := strings.Repeat("z", 10000)
	svc.ExtractMetadata(context.Background(), longText, "big.pdf", []string{"tax", "medical"})

	prompt := fake.lastReq.Messages[0].Content
	assert.NotContains(t, prompt, strings.Repeat("z", maxMetadataInput+1))
	assert.Contains(t, prompt, strings.Repeat("z", maxMetadataInput))
	assert.Contains(t, prompt, "tax, medical")
}

func TestGenerateAnswer(t *testing.T) {
	t.Run("numbers excerpts and forwards history", func(t *testing.T) {
		fake := &fakeCompleter{response: "The total is 42 EUR."}
		svc := NewService(fake, hclog.NewNullLogger())

		history := make([]Message, 0, 12)
		for i := 0; i < 12; i++ {
			history = append(history, Message{Role: "user", Content: "older"})
		}

		answer := svc.GenerateAnswer(context.Background(), "What is the total?",
			[]string{"chunk one", "chunk two"}, history)
		assert.Equal(t, "The total is 42 EUR.", answer)

		// Last message contains the numbered excerpt blocks plus the question.
		last := fake.lastReq.Messages[len(fake.lastReq.Messages)-1].Content
		assert.Contains(t, last, "Document excerpt 1:\nchunk one")
		assert.Contains(t, last, "Document excerpt 2:\nchunk two")
		assert.Contains(t, last, "Question: What is the total?")

		// History trimmed to the last 10 turns, plus the new question.
		assert.Len(t, fake.lastReq.Messages, maxHistoryTurns+1)
		assert.InDelta(t, 0.3, fake.lastReq.Temperature, 0.001)
		assert.Equal(t, 1000, fake.lastReq.MaxTokens)
	})

	t.Run("provider failure yields fixed sentence", func(t *testing.T) {
		svc := NewService(&fakeCompleter{err: errors.New("boom")}, hclog.NewNullLogger())
		answer := svc.GenerateAnswer(context.Background(), "q", []string{"c"}, nil)
		assert.Equal(t, AnswerFailureSentence, answer)
	})
}

func TestOllamaCompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.False(t, req.Stream)
		require.Equal(t, "system", req.Messages[0].Role)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: "assistant", Content: "hello back"},
			Done:    true,
		})
	}))
	defer server.Close()

	completer, err := NewOllamaCompleter(Config{
		Provider: "ollama",
		Model:    "llama3.2",
		BaseURL:  server.URL,
	}, hclog.NewNullLogger())
	require.NoError(t, err)

	out, err := completer.Complete(context.Background(), CompletionRequest{
		System:      "be brief",
		Messages:    []Message{{Role: "user", Content: "hello"}},
		Temperature: 0.3,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
}

func TestNewCompleterUnknownProvider(t *testing.T) {
	_, err := NewCompleter(context.Background(), Config{Provider: "bogus"})
	assert.Error(t, err)
}
