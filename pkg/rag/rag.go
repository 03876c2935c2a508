// Package rag answers questions grounded in the user's documents:
// semantic retrieval, context assembly, and a provider-abstracted LLM
// call.
package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/cartulary/cartulary/pkg/llm"
	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/search"
)

// NoEvidenceSentence is returned when retrieval finds nothing relevant;
// no LLM call is made in that case.
const NoEvidenceSentence = "I couldn't find any relevant information in your documents to answer this question."

// Chunk-count bounds per request.
const (
	DefaultNumChunks = 5
	MaxNumChunks     = 20
)

// Source identifies a document that contributed evidence.
type Source struct {
	DocumentID uuid.UUID `json:"documentId"`
	Title      string    `json:"title"`
	Similarity float64   `json:"similarity"`
}

// Response is the answer plus its supporting evidence.
type Response struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	ChunksUsed []string `json:"chunksUsed"`
}

// Retriever finds relevant chunks for a question. Satisfied by
// search.SemanticSearch.
type Retriever interface {
	Search(ctx context.Context, query string, user *models.User, limit int, threshold float64) ([]search.Result, error)
}

// AnswererConfig holds configuration for the RAG answerer.
type AnswererConfig struct {
	Semantic Retriever
	LLM      *llm.Service
	Logger   hclog.Logger
}

// Answerer composes retrieval and generation.
type Answerer struct {
	semantic Retriever
	llm      *llm.Service
	logger   hclog.Logger
}

// NewAnswerer creates a RAG answerer.
func NewAnswerer(cfg AnswererConfig) (*Answerer, error) {
	if cfg.Semantic == nil {
		return nil, fmt.Errorf("semantic search is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Answerer{
		semantic: cfg.Semantic,
		llm:      cfg.LLM,
		logger:   logger.Named("rag"),
	}, nil
}

// Chat answers a question from the user's accessible documents. An
// empty retrieval short-circuits with the fixed no-evidence sentence;
// LLM failures still return the resolved sources and chunks so the UI
// can show the evidence.
func (a *Answerer) Chat(ctx context.Context, question string, user *models.User, history []llm.Message, numChunks int, threshold float64) (*Response, error) {
	if question == "" {
		return nil, fmt.Errorf("question cannot be empty")
	}
	if numChunks <= 0 {
		numChunks = DefaultNumChunks
	}
	if numChunks > MaxNumChunks {
		numChunks = MaxNumChunks
	}

	hits, err := a.semantic.Search(ctx, question, user, numChunks, threshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	if len(hits) == 0 {
		a.logger.Debug("no relevant chunks found", "question", question)
		return &Response{
			Answer:     NoEvidenceSentence,
			Sources:    []Source{},
			ChunksUsed: []string{},
		}, nil
	}

	// Dedupe sources by document id, preserving first-seen chunks.
	seen := make(map[uuid.UUID]bool, len(hits))
	sources := make([]Source, 0, len(hits))
	chunks := make([]string, 0, numChunks)
	for _, hit := range hits {
		if len(chunks) == numChunks {
			break
		}
		if hit.MatchedChunk != "" {
			chunks = append(chunks, hit.MatchedChunk)
		}
		if !seen[hit.Document.ID] {
			seen[hit.Document.ID] = true
			sources = append(sources, Source{
				DocumentID: hit.Document.ID,
				Title:      hit.Document.Title,
				Similarity: hit.Score,
			})
		}
	}

	answer := a.llm.GenerateAnswer(ctx, question, chunks, history)

	a.logger.Debug("chat answered",
		"question", question, "sources", len(sources), "chunks", len(chunks))
	return &Response{
		Answer:     answer,
		Sources:    sources,
		ChunksUsed: chunks,
	}, nil
}
