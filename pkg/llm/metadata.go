package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Metadata is the structured extraction result. String fields may hold
// "Unknown" when the model could not determine a value; the pipeline
// skips those on application.
type Metadata struct {
	Title         string   `json:"title"`
	Correspondent string   `json:"correspondent"`
	DocumentDate  string   `json:"document_date"` // YYYY-MM-DD or empty
	DocumentType  string   `json:"document_type"`
	Summary       string   `json:"summary"`
	SuggestedTags []string `json:"suggested_tags"`
}

// Field caps applied after parsing.
const (
	maxMetadataInput = 4000
	maxTitleLen      = 500
	maxNameLen       = 255
	maxTypeLen       = 100
	maxSummaryLen    = 1000
	maxTagLen        = 50
	maxTags          = 10
)

const metadataSystemPrompt = "You are a document analysis assistant. " +
	"You extract structured metadata from document text and respond with JSON only."

// ExtractMetadata derives structured metadata from extracted text.
// It never returns an error: provider or parse failures yield the
// empty metadata structure so the pipeline can finish the stage.
func (s *Service) ExtractMetadata(ctx context.Context, text, filename string, existingTags []string) Metadata {
	prompt := buildMetadataPrompt(text, filename, existingTags)

	raw, err := s.completer.Complete(ctx, CompletionRequest{
		System:      metadataSystemPrompt,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: 0.1,
		MaxTokens:   1000,
	})
	if err != nil {
		s.logger.Warn("metadata extraction failed", "filename", filename, "error", err)
		return Metadata{}
	}

	meta, err := parseMetadataResponse(raw)
	if err != nil {
		s.logger.Warn("metadata response was not valid JSON",
			"filename", filename, "error", err)
		return Metadata{}
	}
	return meta
}

func buildMetadataPrompt(text, filename string, existingTags []string) string {
	if len(text) > maxMetadataInput {
		text = text[:maxMetadataInput]
	}

	var b strings.Builder
	b.WriteString("Analyze the following document text and extract metadata.\n\n")
	if filename != "" {
		fmt.Fprintf(&b, "Filename: %s\n\n", filename)
	}
	fmt.Fprintf(&b, "Document text:\n%s\n\n", text)
	if len(existingTags) > 0 {
		fmt.Fprintf(&b, "Existing tags in the system: %s\n", strings.Join(existingTags, ", "))
		b.WriteString("Prefer existing tag names, but only when they truly apply to this document.\n\n")
	}
	b.WriteString(`Respond with ONLY a JSON object in exactly this shape:
{
  "title": "document title",
  "correspondent": "sender or institution",
  "document_date": "YYYY-MM-DD",
  "document_type": "invoice, letter, contract, receipt, report, or similar",
  "summary": "one or two sentence summary",
  "suggested_tags": ["tag1", "tag2"]
}

Rules:
- Use "Unknown" for any string field you cannot determine.
- Use null for document_date if no date is present.
- Suggest at most 10 short lowercase tags.
- Do not include any text outside the JSON object.`)
	return b.String()
}

// parseMetadataResponse strips Markdown code fences and decodes the
// JSON body, then applies the field caps.
func parseMetadataResponse(raw string) (Metadata, error) {
	cleaned := stripCodeFences(raw)

	var meta Metadata
	if err := json.Unmarshal([]byte(cleaned), &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}

	meta.Title = truncate(strings.TrimSpace(meta.Title), maxTitleLen)
	meta.Correspondent = truncate(strings.TrimSpace(meta.Correspondent), maxNameLen)
	meta.DocumentDate = strings.TrimSpace(meta.DocumentDate)
	meta.DocumentType = truncate(strings.TrimSpace(meta.DocumentType), maxTypeLen)
	meta.Summary = truncate(strings.TrimSpace(meta.Summary), maxSummaryLen)

	tags := meta.SuggestedTags
	meta.SuggestedTags = nil
	for _, tag := range tags {
		tag = truncate(strings.ToLower(strings.TrimSpace(tag)), maxTagLen)
		if tag == "" || tag == "unknown" {
			continue
		}
		meta.SuggestedTags = append(meta.SuggestedTags, tag)
		if len(meta.SuggestedTags) >= maxTags {
			break
		}
	}
	return meta, nil
}

// stripCodeFences removes a surrounding ```json ... ``` block if present.
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop the language hint line ("json", "JSON", or empty).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// IsUnknown reports whether a metadata field should be treated as
// absent.
func IsUnknown(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || strings.EqualFold(v, "unknown")
}
