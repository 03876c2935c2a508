package llm

import (
	"context"
	"fmt"
	"strings"
)

// AnswerFailureSentence is returned verbatim when the provider call
// fails, so the UI always has something to show next to the sources.
const AnswerFailureSentence = "I encountered an error while generating the answer. Please try again."

const answerSystemPrompt = "You are a helpful assistant that answers questions about the user's documents. " +
	"Answer using ONLY the document excerpts provided in the conversation. " +
	"If the excerpts do not contain the answer, say so. Do not use outside knowledge."

// maxHistoryTurns bounds how much prior conversation is forwarded.
const maxHistoryTurns = 10

// GenerateAnswer produces a grounded answer from retrieved chunks and
// recent conversation history. Provider failures are converted to the
// fixed failure sentence; callers never see an error.
func (s *Service) GenerateAnswer(ctx context.Context, question string, chunks []string, history []Message) string {
	var excerpts strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&excerpts, "Document excerpt %d:\n%s\n\n", i+1, chunk)
	}

	messages := make([]Message, 0, maxHistoryTurns+1)
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	messages = append(messages, history...)
	messages = append(messages, Message{
		Role:    "user",
		Content: fmt.Sprintf("%sQuestion: %s", excerpts.String(), question),
	})

	answer, err := s.completer.Complete(ctx, CompletionRequest{
		System:      answerSystemPrompt,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		s.logger.Warn("answer generation failed", "error", err)
		return AnswerFailureSentence
	}
	return strings.TrimSpace(answer)
}
