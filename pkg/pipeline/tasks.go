package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/embedding"
	"github.com/cartulary/cartulary/pkg/extract"
	"github.com/cartulary/cartulary/pkg/llm"
	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/queue"
)

// RegisterHandlers binds the pipeline's task handlers on a worker mux.
func (p *Pipeline) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskProcessDocument, p.HandleProcessDocument)
	mux.HandleFunc(queue.TaskReprocessDocument, p.HandleProcessDocument)
	mux.HandleFunc(queue.TaskGenerateEmbeddings, p.HandleGenerateEmbeddings)
	mux.HandleFunc(queue.TaskExtractMetadata, p.HandleExtractMetadata)
}

// loadTaskDocument resolves a task payload to its document row. A
// missing document aborts the task without retries: the row was deleted
// after the task was queued.
func (p *Pipeline) loadTaskDocument(ctx context.Context, t *asynq.Task) (*models.Document, error) {
	payload, err := queue.ParsePayload(t)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	docID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", payload.DocumentID, asynq.SkipRetry)
	}
	doc, err := models.GetDocument(p.db.WithContext(ctx), docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.logger.Warn("task references missing document, dropping",
				"type", t.Type(), "document_id", docID)
			return nil, fmt.Errorf("document %s not found: %w", docID, asynq.SkipRetry)
		}
		return nil, err
	}
	return doc, nil
}

// failStage records a stage error on the document before the task goes
// back to the queue, so a document never sits on its previous status
// with an empty processing_error after retries exhaust. Interrupted
// stages write through a fresh context; the task's own is already dead.
func (p *Pipeline) failStage(ctx context.Context, doc *models.Document, err error) {
	msg := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ctx = context.Background()
		msg = "processing was interrupted"
	}
	if terr := p.transition(ctx, doc, models.StatusFailed, msg); terr != nil {
		p.logger.Error("failed to mark document failed",
			"document_id", doc.ID, "error", terr)
	}
}

// HandleProcessDocument runs the OCR stage: text extraction, language
// detection and page counting, then chains into the next enabled stage.
func (p *Pipeline) HandleProcessDocument(ctx context.Context, t *asynq.Task) error {
	doc, err := p.loadTaskDocument(ctx, t)
	if err != nil {
		return err
	}
	logger := p.logger.With("document_id", doc.ID)

	if err := p.transition(ctx, doc, models.StatusProcessing, ""); err != nil {
		return err
	}

	absPath, cleanup, err := p.store.Localize(ctx, doc.FilePath)
	if err != nil {
		_ = p.transition(ctx, doc, models.StatusFailed, fmt.Sprintf("blob unavailable: %v", err))
		return err
	}
	defer cleanup()

	text, err := p.extractor.ExtractText(ctx, absPath, false)
	if err != nil {
		p.failStage(ctx, doc, err)
		return err
	}

	if strings.TrimSpace(text) == "" {
		logger.Warn("no text extracted")
		return p.transition(ctx, doc, models.StatusOCRFailed, NoTextError)
	}

	updates := map[string]interface{}{
		"ocr_text":     text,
		"ocr_language": extract.DetectLanguage(text),
	}
	if pages, err := p.extractor.PageCount(absPath); err != nil {
		logger.Warn("failed to count pages", "error", err)
	} else if pages > 0 {
		updates["page_count"] = pages
	}
	if err := p.db.WithContext(ctx).Model(doc).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to save extracted text: %w", err)
	}
	doc.OCRText = text

	if err := p.transition(ctx, doc, models.StatusOCRComplete, ""); err != nil {
		return err
	}
	logger.Info("text extracted", "chars", len(text))

	return p.chainAfterOCR(ctx, doc)
}

// chainAfterOCR queues whichever optional stage comes next.
func (p *Pipeline) chainAfterOCR(ctx context.Context, doc *models.Document) error {
	switch {
	case p.embedder != nil:
		return p.queue.Enqueue(ctx, queue.TaskGenerateEmbeddings, doc.ID.String())
	case p.llm != nil:
		return p.queue.Enqueue(ctx, queue.TaskExtractMetadata, doc.ID.String())
	default:
		return nil
	}
}

// HandleGenerateEmbeddings chunks the extracted text and stores one
// embedded row per chunk, replacing any previous chunks atomically.
func (p *Pipeline) HandleGenerateEmbeddings(ctx context.Context, t *asynq.Task) error {
	doc, err := p.loadTaskDocument(ctx, t)
	if err != nil {
		return err
	}
	logger := p.logger.With("document_id", doc.ID)

	if p.embedder == nil {
		logger.Warn("embedding task received with embeddings disabled, skipping")
		return p.chainAfterEmbedding(ctx, doc)
	}
	if doc.OCRText == "" {
		logger.Warn("no extracted text, skipping embeddings")
		return p.chainAfterEmbedding(ctx, doc)
	}

	chunks := embedding.Chunk(doc.OCRText, p.chunkSize, p.chunkOverlap)
	vectors, err := p.embedder.EmbedBatch(ctx, chunks, embedBatchSize)
	if err != nil {
		err = fmt.Errorf("failed to embed %d chunks: %w", len(chunks), err)
		p.failStage(ctx, doc, err)
		return err
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
		p.failStage(ctx, doc, err)
		return err
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.DocumentChunk{}).Error; err != nil {
			return err
		}
		return p.insertChunks(tx, doc.ID, chunks, vectors)
	})
	if err != nil {
		err = fmt.Errorf("failed to store chunks: %w", err)
		p.failStage(ctx, doc, err)
		return err
	}

	if err := p.transition(ctx, doc, models.StatusEmbeddingComplete, ""); err != nil {
		return err
	}
	logger.Info("embeddings generated",
		"chunks", len(chunks), "model", p.embedder.Model(), "dimension", p.embedder.Dimension())

	return p.chainAfterEmbedding(ctx, doc)
}

// insertChunks writes chunk rows inside tx. The vector column only
// exists on Postgres, where the migrations declare it; other dialects
// keep the text rows alone.
func (p *Pipeline) insertChunks(tx *gorm.DB, docID uuid.UUID, chunks []string, vectors [][]float32) error {
	postgres := tx.Dialector.Name() == "postgres"
	for i, text := range chunks {
		row := models.DocumentChunk{
			DocumentID:     docID,
			ChunkIndex:     i,
			ChunkText:      text,
			EmbeddingModel: p.embedder.Model(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if postgres {
			err := tx.Exec("UPDATE document_chunks SET embedding = ?::vector WHERE id = ?",
				models.VectorLiteral(vectors[i]), row.ID).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) chainAfterEmbedding(ctx context.Context, doc *models.Document) error {
	if p.llm != nil {
		return p.queue.Enqueue(ctx, queue.TaskExtractMetadata, doc.ID.String())
	}
	return nil
}

// HandleExtractMetadata runs the LLM metadata stage. The stage always
// completes: extraction failures apply nothing but still land the
// document on llm_complete.
func (p *Pipeline) HandleExtractMetadata(ctx context.Context, t *asynq.Task) error {
	doc, err := p.loadTaskDocument(ctx, t)
	if err != nil {
		return err
	}
	logger := p.logger.With("document_id", doc.ID)

	if p.llm == nil {
		logger.Warn("metadata task received with LLM disabled, skipping")
		return nil
	}
	if doc.OCRText == "" {
		logger.Warn("no extracted text, skipping metadata")
		return p.transition(ctx, doc, models.StatusLLMComplete, "")
	}

	meta := p.llm.ExtractMetadata(ctx, doc.OCRText, doc.OriginalFilename, p.existingTagNames(ctx))
	if err := p.applyMetadata(ctx, doc, meta); err != nil {
		return err
	}

	if err := p.transition(ctx, doc, models.StatusLLMComplete, ""); err != nil {
		return err
	}
	logger.Info("metadata extracted", "tags", len(meta.SuggestedTags))
	return nil
}

// existingTagNames feeds the metadata prompt so the model reuses the
// vocabulary already in the system.
func (p *Pipeline) existingTagNames(ctx context.Context) []string {
	var names []string
	err := p.db.WithContext(ctx).Model(&models.Tag{}).
		Order("name").Limit(100).Pluck("name", &names).Error
	if err != nil {
		p.logger.Warn("failed to load existing tags", "error", err)
		return nil
	}
	return names
}

// applyMetadata writes the extracted fields. Unknown values are
// skipped, the visible title is only overridden while it still equals
// the filename default, and each tag is applied in isolation so one bad
// tag cannot sink the rest.
func (p *Pipeline) applyMetadata(ctx context.Context, doc *models.Document, meta llm.Metadata) error {
	updates := map[string]interface{}{}

	if meta.Title != "" && !llm.IsUnknown(meta.Title) {
		updates["extracted_title"] = meta.Title
		if doc.Title == doc.OriginalFilename {
			updates["title"] = meta.Title
		}
	}
	if meta.Correspondent != "" && !llm.IsUnknown(meta.Correspondent) {
		updates["extracted_correspondent"] = meta.Correspondent
	}
	if meta.DocumentType != "" && !llm.IsUnknown(meta.DocumentType) {
		updates["extracted_document_type"] = meta.DocumentType
	}
	if meta.Summary != "" && !llm.IsUnknown(meta.Summary) {
		updates["extracted_summary"] = meta.Summary
	}
	if meta.DocumentDate != "" && !llm.IsUnknown(meta.DocumentDate) {
		if parsed, err := dateparse.ParseAny(meta.DocumentDate); err != nil {
			p.logger.Warn("unparseable document date",
				"document_id", doc.ID, "value", meta.DocumentDate, "error", err)
		} else {
			day := parsed.Truncate(24 * time.Hour)
			updates["extracted_date"] = day
			if doc.DocumentDate == nil {
				updates["document_date"] = day
			}
		}
	}

	if len(updates) > 0 {
		if err := p.db.WithContext(ctx).Model(doc).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to apply metadata: %w", err)
		}
		p.events.DocumentUpdated(ctx, doc.ID.String(), doc.OwnerID.String())
	}

	if len(meta.SuggestedTags) > 0 {
		applied := p.applyTags(ctx, doc, meta.SuggestedTags)
		if p.activity != nil {
			p.activity.RecordAutoTagging(ctx, doc.ID, meta.SuggestedTags, applied)
		}
	}
	return nil
}

// applyTags upserts and links each suggested tag, returning the names
// that made it on. Per-tag failures are logged and skipped.
func (p *Pipeline) applyTags(ctx context.Context, doc *models.Document, suggested []string) []string {
	db := p.db.WithContext(ctx)
	applied := make([]string, 0, len(suggested))
	for _, name := range suggested {
		tag, err := models.UpsertTag(db, name, nil)
		if err != nil {
			p.logger.Warn("failed to upsert tag",
				"document_id", doc.ID, "tag", name, "error", err)
			continue
		}
		link := models.DocumentTag{
			DocumentID:   doc.ID,
			TagID:        tag.ID,
			IsAutoTagged: true,
		}
		err = db.Where("document_id = ? AND tag_id = ?", doc.ID, tag.ID).
			FirstOrCreate(&link).Error
		if err != nil {
			p.logger.Warn("failed to link tag",
				"document_id", doc.ID, "tag", tag.Name, "error", err)
			continue
		}
		applied = append(applied, tag.Name)
	}
	return applied
}
