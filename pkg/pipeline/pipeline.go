// Package pipeline orchestrates the document lifecycle: intake and
// dedup, the OCR / embedding / metadata task stages, and the status
// machine that ties them together. All processing_status transitions
// happen here; nothing else writes that column.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/activity"
	"github.com/cartulary/cartulary/pkg/cartuerr"
	"github.com/cartulary/cartulary/pkg/embedding"
	"github.com/cartulary/cartulary/pkg/eventbus"
	"github.com/cartulary/cartulary/pkg/extract"
	"github.com/cartulary/cartulary/pkg/llm"
	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/queue"
	"github.com/cartulary/cartulary/pkg/storage"
)

// NoTextError is recorded on documents whose OCR stage produced nothing.
const NoTextError = "No text could be extracted"

// embedBatchSize is how many chunks go to the provider per request.
const embedBatchSize = 8

// Enqueuer submits pipeline tasks. Satisfied by queue.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType, documentID string) error
}

// Config wires the pipeline's collaborators. Store, DB, Queue and
// Events are required; Embedder and LLM are optional stages and
// Extractor may run without an OCR engine.
type Config struct {
	DB        *gorm.DB
	Store     storage.Store
	Queue     Enqueuer
	Events    *eventbus.Publisher
	Extractor *extract.Extractor

	// Embedder enables the chunk-and-embed stage when non-nil.
	Embedder embedding.Provider

	// LLM enables the metadata stage when non-nil.
	LLM *llm.Service

	// Activity records the audit trail. Optional.
	Activity *activity.Recorder

	ChunkSize    int
	ChunkOverlap int

	Logger hclog.Logger
}

// Pipeline runs documents through their processing stages.
type Pipeline struct {
	db        *gorm.DB
	store     storage.Store
	queue     Enqueuer
	events    *eventbus.Publisher
	extractor *extract.Extractor
	embedder  embedding.Provider
	llm       *llm.Service
	activity  *activity.Recorder

	chunkSize    int
	chunkOverlap int

	logger hclog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("task queue is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("event publisher is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pipeline{
		db:           cfg.DB,
		store:        cfg.Store,
		queue:        cfg.Queue,
		events:       cfg.Events,
		extractor:    cfg.Extractor,
		embedder:     cfg.Embedder,
		llm:          cfg.LLM,
		activity:     cfg.Activity,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		logger:       logger.Named("pipeline"),
	}, nil
}

// SubmitRequest describes one incoming document.
type SubmitRequest struct {
	OwnerID    uuid.UUID
	UploadedBy *uuid.UUID

	Filename string
	Content  io.ReadSeeker

	// Title overrides the filename-derived default when set.
	Title    string
	IsPublic bool
}

// Submit stores a new document and queues it for processing. Content
// identical to an existing document of the same owner is rejected with
// a DuplicateError carrying the existing id.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*models.Document, error) {
	filename, err := storage.SanitizeFilename(req.Filename)
	if err != nil {
		return nil, err
	}

	checksum, err := storage.Checksum(req.Content)
	if err != nil {
		return nil, err
	}
	existing, err := models.FindDocumentByChecksum(p.db.WithContext(ctx), req.OwnerID, checksum)
	if err == nil {
		return nil, cartuerr.NewDuplicate(existing.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}

	docID := uuid.New()
	saved, err := p.store.Put(ctx, docID.String(), filename, req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	doc := &models.Document{
		ID:               docID,
		OwnerID:          req.OwnerID,
		UploadedBy:       req.UploadedBy,
		Title:            req.Title,
		OriginalFilename: filename,
		FilePath:         saved.RelativePath,
		FileSize:         saved.Size,
		MimeType:         saved.MimeType,
		Checksum:         checksum,
		IsPublic:         req.IsPublic,
		ProcessingStatus: models.StatusPending,
	}
	if err := p.db.WithContext(ctx).Create(doc).Error; err != nil {
		if derr := p.store.Delete(ctx, saved.RelativePath); derr != nil {
			p.logger.Warn("failed to clean up blob after create failure",
				"path", saved.RelativePath, "error", derr)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	// A failed enqueue leaves the document pending; Reprocess picks
	// those up later.
	if err := p.queue.Enqueue(ctx, queue.TaskProcessDocument, docID.String()); err != nil {
		p.logger.Error("failed to enqueue processing", "document_id", docID, "error", err)
	}
	p.events.DocumentCreated(ctx, docID.String(), doc.OwnerID.String())

	p.logger.Info("document submitted",
		"document_id", docID, "filename", filename, "size", saved.Size)
	return doc, nil
}

// Reprocess resets a document to pending and queues it again.
func (p *Pipeline) Reprocess(ctx context.Context, docID uuid.UUID) error {
	doc, err := models.GetDocument(p.db.WithContext(ctx), docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("document %s: %w", docID, cartuerr.ErrNotFound)
		}
		return err
	}
	if err := p.transition(ctx, doc, models.StatusPending, ""); err != nil {
		return err
	}
	if err := p.queue.Enqueue(ctx, queue.TaskReprocessDocument, docID.String()); err != nil {
		return err
	}
	if p.activity != nil {
		p.activity.Record(ctx, nil, activity.ActionDocumentReprocess, "document", &docID,
			"document queued for reprocessing", nil)
	}
	return nil
}

// RegenerateEmbeddings re-runs only the embedding stage. Documents
// without extracted text are rejected.
func (p *Pipeline) RegenerateEmbeddings(ctx context.Context, docID uuid.UUID) error {
	if p.embedder == nil {
		return fmt.Errorf("%w: embeddings are disabled", cartuerr.ErrInvalidInput)
	}
	doc, err := models.GetDocument(p.db.WithContext(ctx), docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("document %s: %w", docID, cartuerr.ErrNotFound)
		}
		return err
	}
	if doc.OCRText == "" {
		return fmt.Errorf("%w: document has no extracted text", cartuerr.ErrInvalidInput)
	}
	return p.queue.Enqueue(ctx, queue.TaskGenerateEmbeddings, docID.String())
}

// Delete removes a document, its blob, and all dependent rows.
func (p *Pipeline) Delete(ctx context.Context, doc *models.Document) error {
	if err := p.store.Delete(ctx, doc.FilePath); err != nil {
		p.logger.Warn("failed to delete blob, removing row anyway",
			"document_id", doc.ID, "path", doc.FilePath, "error", err)
	}
	if err := p.db.WithContext(ctx).Select("Chunks", "Shares", "Tags").Delete(doc).Error; err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	p.events.DocumentDeleted(ctx, doc.ID.String(), doc.OwnerID.String())
	return nil
}

// ValidateDimension checks the configured provider against the stored
// vector column. See CheckDimension.
func (p *Pipeline) ValidateDimension(ctx context.Context) error {
	if p.embedder == nil {
		return nil
	}
	return CheckDimension(ctx, p.db, p.embedder)
}

// CheckDimension verifies that the vector column width in Postgres
// matches the embedding provider, so a model change does not silently
// write truncated vectors. Callers typically disable the embedding
// stage on mismatch; the rest of the pipeline keeps working.
func CheckDimension(ctx context.Context, db *gorm.DB, provider embedding.Provider) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}

	var typmod int
	err := db.WithContext(ctx).Raw(`
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = 'document_chunks' AND a.attname = 'embedding'
	`).Scan(&typmod).Error
	if err != nil {
		return fmt.Errorf("failed to read vector column type: %w", err)
	}
	// For pgvector columns atttypmod is the declared dimension.
	if typmod > 0 && typmod != provider.Dimension() {
		return fmt.Errorf("embedding dimension mismatch: column is vector(%d) but provider %s/%s produces %d dimensions",
			typmod, provider.Name(), provider.Model(), provider.Dimension())
	}
	return nil
}

// transition moves a document to a new status and announces it.
func (p *Pipeline) transition(ctx context.Context, doc *models.Document, status, procErr string) error {
	old := doc.ProcessingStatus
	if err := doc.SetStatus(p.db.WithContext(ctx), status, procErr); err != nil {
		return fmt.Errorf("failed to set status %s: %w", status, err)
	}
	p.events.StatusChanged(ctx, doc.ID.String(), old, status)
	p.logger.Debug("status changed",
		"document_id", doc.ID, "from", old, "to", status)
	return nil
}
