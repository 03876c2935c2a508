package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartulary/cartulary/pkg/llm"
	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/search"
)

type fakeRetriever struct {
	results []search.Result
	err     error
	calls   int
}

func (f *fakeRetriever) Search(ctx context.Context, query string, user *models.User, limit int, threshold float64) ([]search.Result, error) {
	f.calls++
	return f.results, f.err
}

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.calls++
	return f.response, f.err
}

func hit(title, chunk string, score float64) search.Result {
	return search.Result{
		Document: models.Document{
			ID:    uuid.New(),
			Title: title,
		},
		Score:        score,
		MatchedChunk: chunk,
	}
}

func newAnswerer(t *testing.T, retriever Retriever, completer llm.Completer) *Answerer {
	t.Helper()
	a, err := NewAnswerer(AnswererConfig{
		Semantic: retriever,
		LLM:      llm.NewService(completer, hclog.NewNullLogger()),
	})
	require.NoError(t, err)
	return a
}

func TestChatEmptyRetrieval(t *testing.T) {
	completer := &fakeCompleter{response: "should not be called"}
	a := newAnswerer(t, &fakeRetriever{}, completer)

	resp, err := a.Chat(context.Background(), "what is this?", &models.User{}, nil, 5, 0.3)
	require.NoError(t, err)
	assert.Equal(t, NoEvidenceSentence, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Empty(t, resp.ChunksUsed)
	assert.Zero(t, completer.calls, "no LLM call on empty retrieval")
}

func TestChatDedupesSourcesByDocument(t *testing.T) {
	doc := hit("Invoice", "chunk A", 0.9)
	dup := doc // same document appearing twice
	dup.MatchedChunk = "chunk B"
	retriever := &fakeRetriever{results: []search.Result{doc, dup, hit("Letter", "chunk C", 0.5)}}
	a := newAnswerer(t, retriever, &fakeCompleter{response: "Answer."})

	resp, err := a.Chat(context.Background(), "q", &models.User{}, nil, 5, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "Answer.", resp.Answer)
	assert.Len(t, resp.Sources, 2, "duplicate document collapsed")
	assert.Equal(t, []string{"chunk A", "chunk B", "chunk C"}, resp.ChunksUsed)
}

func TestChatRespectsNumChunks(t *testing.T) {
	results := make([]search.Result, 8)
	for i := range results {
		results[i] = hit("Doc", "chunk", 0.8)
	}
	a := newAnswerer(t, &fakeRetriever{results: results}, &fakeCompleter{response: "ok"})

	resp, err := a.Chat(context.Background(), "q", &models.User{}, nil, 3, 0.3)
	require.NoError(t, err)
	assert.Len(t, resp.ChunksUsed, 3)
}

func TestChatLLMFailureKeepsSources(t *testing.T) {
	retriever := &fakeRetriever{results: []search.Result{hit("Invoice", "chunk A", 0.9)}}
	a := newAnswerer(t, retriever, &fakeCompleter{err: errors.New("provider down")})

	resp, err := a.Chat(context.Background(), "q", &models.User{}, nil, 5, 0.3)
	require.NoError(t, err)
	assert.Equal(t, llm.AnswerFailureSentence, resp.Answer)
	assert.Len(t, resp.Sources, 1)
	assert.Equal(t, []string{"chunk A"}, resp.ChunksUsed)
}

func TestChatRetrievalFailure(t *testing.T) {
	a := newAnswerer(t, &fakeRetriever{err: errors.New("db down")}, &fakeCompleter{})
	_, err := a.Chat(context.Background(), "q", &models.User{}, nil, 5, 0.3)
	assert.Error(t, err)
}

func TestChatValidatesQuestion(t *testing.T) {
	a := newAnswerer(t, &fakeRetriever{}, &fakeCompleter{})
	_, err := a.Chat(context.Background(), "", &models.User{}, nil, 5, 0.3)
	assert.Error(t, err)
}
