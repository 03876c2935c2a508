package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cartulary/cartulary/pkg/activity"
	"github.com/cartulary/cartulary/pkg/cartuerr"
	"github.com/cartulary/cartulary/pkg/eventbus"
	"github.com/cartulary/cartulary/pkg/extract"
	"github.com/cartulary/cartulary/pkg/llm"
	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/queue"
	"github.com/cartulary/cartulary/pkg/storage"
)

type fakeQueue struct {
	tasks []string // "<type>:<doc_id>"
	err   error
}

func (f *fakeQueue) Enqueue(ctx context.Context, taskType, documentID string) error {
	f.tasks = append(f.tasks, taskType+":"+documentID)
	return f.err
}

type fakeEmbedder struct {
	err error
}

func (fakeEmbedder) Name() string   { return "fake" }
func (fakeEmbedder) Model() string  { return "fake-model" }
func (fakeEmbedder) Dimension() int { return 4 }

func (f fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 2, 3, 4}, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2, 3, 4}
	}
	return out, nil
}

type fakeEngine struct {
	text string
	err  error
}

func (fakeEngine) Name() string { return "fake" }

func (fakeEngine) Initialize(languages []string, useGPU bool) error { return nil }

func (f fakeEngine) ExtractText(ctx context.Context, imagePath string) (string, error) {
	return f.text, f.err
}

type fakeCompleter struct {
	response string
	err      error
}

func (fakeCompleter) Name() string { return "fake" }

func (f fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return f.response, f.err
}

type testEnv struct {
	db       *gorm.DB
	queue    *fakeQueue
	pipeline *Pipeline
	root     string
}

type envOptions struct {
	engine    extract.Engine
	embedder  *fakeEmbedder
	completer llm.Completer
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.ModelsToAutoMigrate()...))

	root := t.TempDir()
	store, err := storage.NewLocalStore(storage.LocalStoreConfig{Root: root})
	require.NoError(t, err)

	// Events go to a dead endpoint: publishing is best-effort and the
	// failures are only logged.
	events, err := eventbus.NewPublisher(eventbus.PublisherConfig{
		Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
	})
	require.NoError(t, err)

	cfg := Config{
		DB:        db,
		Store:     store,
		Queue:     &fakeQueue{},
		Events:    events,
		Extractor: extract.NewExtractor(extract.Config{Engine: opts.engine}),
		Activity:  activity.NewRecorder(db, nil),
	}
	if opts.embedder != nil {
		cfg.Embedder = opts.embedder
	}
	if opts.completer != nil {
		cfg.LLM = llm.NewService(opts.completer, nil)
	}

	p, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{db: db, queue: cfg.Queue.(*fakeQueue), pipeline: p, root: root}
}

func (e *testEnv) createUser(t *testing.T) *models.User {
	t.Helper()
	u := &models.User{Email: "owner@example.com", Username: "owner"}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

// seedProcessedDoc creates a document that already went through OCR.
func (e *testEnv) seedProcessedDoc(t *testing.T, owner *models.User, text string) *models.Document {
	t.Helper()
	d := &models.Document{
		OwnerID:          owner.ID,
		OriginalFilename: "letter.pdf",
		FilePath:         "xx/x/letter.pdf",
		OCRText:          text,
		ProcessingStatus: models.StatusOCRComplete,
	}
	require.NoError(t, e.db.Create(d).Error)
	return d
}

// seedStoredDoc creates a pending document whose blob really exists
// under the store root.
func (e *testEnv) seedStoredDoc(t *testing.T, owner *models.User, filename string, content []byte) *models.Document {
	t.Helper()
	id := uuid.New()
	rel := storage.BlobKey(id.String(), filename)
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, content, 0o644))

	d := &models.Document{
		ID:               id,
		OwnerID:          owner.ID,
		OriginalFilename: filename,
		FilePath:         rel,
	}
	require.NoError(t, e.db.Create(d).Error)
	return d
}

func documentTask(t *testing.T, taskType string, docID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := queue.NewDocumentTask(taskType, docID.String())
	require.NoError(t, err)
	return task
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.createUser(t)
	ctx := context.Background()

	doc, err := env.pipeline.Submit(ctx, SubmitRequest{
		OwnerID:  owner.ID,
		Filename: "report.txt",
		Content:  strings.NewReader("quarterly report body"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, doc.ProcessingStatus)
	assert.Equal(t, "report.txt", doc.OriginalFilename)
	assert.Equal(t, "report.txt", doc.Title)
	assert.NotEmpty(t, doc.Checksum)
	assert.Equal(t, doc.ID.String()[:2]+"/"+doc.ID.String()+"/report.txt", doc.FilePath)
	assert.Equal(t, []string{queue.TaskProcessDocument + ":" + doc.ID.String()}, env.queue.tasks)

	_, err = os.Stat(filepath.Join(env.root, filepath.FromSlash(doc.FilePath)))
	assert.NoError(t, err, "blob written under store root")
}

func TestSubmitRejectsDuplicateContent(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.createUser(t)
	ctx := context.Background()

	first, err := env.pipeline.Submit(ctx, SubmitRequest{
		OwnerID:  owner.ID,
		Filename: "a.txt",
		Content:  strings.NewReader("same bytes"),
	})
	require.NoError(t, err)

	_, err = env.pipeline.Submit(ctx, SubmitRequest{
		OwnerID:  owner.ID,
		Filename: "b.txt", // name differs, content does not
		Content:  strings.NewReader("same bytes"),
	})
	require.ErrorIs(t, err, cartuerr.ErrDuplicate)
	existing, ok := cartuerr.ExistingDocumentID(err)
	require.True(t, ok)
	assert.Equal(t, first.ID, existing)
}

func TestSubmitRejectsTraversalFilename(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.createUser(t)

	_, err := env.pipeline.Submit(context.Background(), SubmitRequest{
		OwnerID:  owner.ID,
		Filename: "..",
		Content:  strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, cartuerr.ErrInvalidInput)
}

func TestProcessDocumentNoText(t *testing.T) {
	// OCR disabled and a non-PDF blob: extraction yields nothing.
	env := newTestEnv(t, envOptions{})
	owner := env.createUser(t)
	doc := env.seedStoredDoc(t, owner, "scan.png", []byte("not really an image"))

	err := env.pipeline.HandleProcessDocument(context.Background(),
		documentTask(t, queue.TaskProcessDocument, doc.ID))
	require.NoError(t, err)

	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOCRFailed, got.ProcessingStatus)
	assert.Equal(t, NoTextError, got.ProcessingError)
	assert.Empty(t, env.queue.tasks, "failed OCR does not chain")
}

func TestProcessDocumentOCRSuccess(t *testing.T) {
	ocrText := "This electricity invoice is due on the first of next month and lists the total amount payable."
	env := newTestEnv(t, envOptions{engine: fakeEngine{text: ocrText}})
	owner := env.createUser(t)
	doc := env.seedStoredDoc(t, owner, "scan.png", []byte("png bytes"))

	err := env.pipeline.HandleProcessDocument(context.Background(),
		documentTask(t, queue.TaskProcessDocument, doc.ID))
	require.NoError(t, err)

	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOCRComplete, got.ProcessingStatus)
	assert.Equal(t, ocrText, got.OCRText)
	assert.Equal(t, "en", got.OCRLanguage)
	assert.Empty(t, got.ProcessingError)
	assert.Empty(t, env.queue.tasks, "no optional stages configured")
}

func TestProcessDocumentChainsToEmbeddings(t *testing.T) {
	env := newTestEnv(t, envOptions{
		engine:   fakeEngine{text: "Enough recognizable text to pass through the extraction stage."},
		embedder: &fakeEmbedder{},
	})
	owner := env.createUser(t)
	doc := env.seedStoredDoc(t, owner, "scan.png", []byte("png bytes"))

	err := env.pipeline.HandleProcessDocument(context.Background(),
		documentTask(t, queue.TaskProcessDocument, doc.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{queue.TaskGenerateEmbeddings + ":" + doc.ID.String()}, env.queue.tasks)
}

func TestProcessDocumentMissingRowSkipsRetry(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	err := env.pipeline.HandleProcessDocument(context.Background(),
		documentTask(t, queue.TaskProcessDocument, uuid.New()))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestGenerateEmbeddings(t *testing.T) {
	env := newTestEnv(t, envOptions{embedder: &fakeEmbedder{}})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, strings.Repeat("Sentences to chunk and embed. ", 50))

	err := env.pipeline.HandleGenerateEmbeddings(context.Background(),
		documentTask(t, queue.TaskGenerateEmbeddings, doc.ID))
	require.NoError(t, err)

	var chunks []models.DocumentChunk
	require.NoError(t, env.db.Where("document_id = ?", doc.ID).Order("chunk_index").Find(&chunks).Error)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "fake-model", c.EmbeddingModel)
		assert.NotEmpty(t, c.ChunkText)
	}

	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmbeddingComplete, got.ProcessingStatus)
	assert.Empty(t, env.queue.tasks, "LLM disabled, nothing chained")
}

func TestGenerateEmbeddingsProviderFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t, envOptions{
		embedder: &fakeEmbedder{err: errors.New("model backend unavailable")},
	})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, "Text whose embedding request is going to fail.")

	err := env.pipeline.HandleGenerateEmbeddings(context.Background(),
		documentTask(t, queue.TaskGenerateEmbeddings, doc.ID))
	require.Error(t, err)

	// Retries see the error; the row records it too, so the document
	// never sits on ocr_complete with nothing to show after the last one.
	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.ProcessingStatus)
	assert.Contains(t, got.ProcessingError, "model backend unavailable")
	assert.Empty(t, env.queue.tasks, "failed stage does not chain")
}

func TestGenerateEmbeddingsReplacesPreviousChunks(t *testing.T) {
	env := newTestEnv(t, envOptions{embedder: &fakeEmbedder{}})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, "Short text that fits into a single chunk without splitting.")

	stale := models.DocumentChunk{
		DocumentID:     doc.ID,
		ChunkIndex:     7,
		ChunkText:      "stale chunk from the previous model",
		EmbeddingModel: "old-model",
	}
	require.NoError(t, env.db.Create(&stale).Error)

	err := env.pipeline.HandleGenerateEmbeddings(context.Background(),
		documentTask(t, queue.TaskGenerateEmbeddings, doc.ID))
	require.NoError(t, err)

	var chunks []models.DocumentChunk
	require.NoError(t, env.db.Where("document_id = ?", doc.ID).Find(&chunks).Error)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "fake-model", chunks[0].EmbeddingModel)
}

func TestGenerateEmbeddingsChainsToMetadata(t *testing.T) {
	env := newTestEnv(t, envOptions{
		embedder:  &fakeEmbedder{},
		completer: fakeCompleter{response: "{}"},
	})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, "Some extracted text.")

	err := env.pipeline.HandleGenerateEmbeddings(context.Background(),
		documentTask(t, queue.TaskGenerateEmbeddings, doc.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{queue.TaskExtractMetadata + ":" + doc.ID.String()}, env.queue.tasks)
}

func TestExtractMetadataAppliesFields(t *testing.T) {
	response := `{
		"title": "Electricity Invoice March",
		"correspondent": "City Power",
		"document_date": "2024-03-15",
		"document_type": "invoice",
		"summary": "Monthly electricity invoice.",
		"suggested_tags": ["Invoice", "utilities"]
	}`
	env := newTestEnv(t, envOptions{completer: fakeCompleter{response: response}})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, "invoice text")
	// Title still carries the filename default, so extraction may
	// replace it.
	require.Equal(t, doc.Title, doc.OriginalFilename)

	err := env.pipeline.HandleExtractMetadata(context.Background(),
		documentTask(t, queue.TaskExtractMetadata, doc.ID))
	require.NoError(t, err)

	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLLMComplete, got.ProcessingStatus)
	assert.Equal(t, "Electricity Invoice March", got.Title)
	assert.Equal(t, "Electricity Invoice March", got.ExtractedTitle)
	assert.Equal(t, "City Power", got.ExtractedCorrespondent)
	assert.Equal(t, "invoice", got.ExtractedDocumentType)
	require.NotNil(t, got.DocumentDate)
	assert.Equal(t, "2024-03-15", got.DocumentDate.UTC().Format("2006-01-02"))

	var tags []models.Tag
	require.NoError(t, env.db.Order("name").Find(&tags).Error)
	require.Len(t, tags, 2)
	assert.Equal(t, "invoice", tags[0].Name, "tag names normalized to lowercase")
	assert.Equal(t, "utilities", tags[1].Name)

	var links []models.DocumentTag
	require.NoError(t, env.db.Where("document_id = ?", doc.ID).Find(&links).Error)
	require.Len(t, links, 2)
	for _, l := range links {
		assert.True(t, l.IsAutoTagged)
	}

	var logs []models.ActivityLog
	require.NoError(t, env.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, activity.ActionDocumentAutoTagged, logs[0].Action)
}

func TestExtractMetadataKeepsUserTitle(t *testing.T) {
	response := `{"title": "LLM Title", "correspondent": "Unknown"}`
	env := newTestEnv(t, envOptions{completer: fakeCompleter{response: response}})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, "text")
	require.NoError(t, env.db.Model(doc).Update("title", "My Custom Title").Error)
	doc.Title = "My Custom Title"

	err := env.pipeline.HandleExtractMetadata(context.Background(),
		documentTask(t, queue.TaskExtractMetadata, doc.ID))
	require.NoError(t, err)

	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Custom Title", got.Title, "user title preserved")
	assert.Equal(t, "LLM Title", got.ExtractedTitle)
	assert.Empty(t, got.ExtractedCorrespondent, `"Unknown" values skipped`)
}

func TestExtractMetadataFailureStillCompletes(t *testing.T) {
	env := newTestEnv(t, envOptions{completer: fakeCompleter{err: errors.New("provider down")}})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, "text")

	err := env.pipeline.HandleExtractMetadata(context.Background(),
		documentTask(t, queue.TaskExtractMetadata, doc.ID))
	require.NoError(t, err)

	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLLMComplete, got.ProcessingStatus)
	assert.Empty(t, got.ExtractedTitle)
}

func TestReprocess(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.createUser(t)
	doc := env.seedProcessedDoc(t, owner, "text")
	require.NoError(t, doc.SetStatus(env.db, models.StatusFailed, "boom"))

	require.NoError(t, env.pipeline.Reprocess(context.Background(), doc.ID))

	got, err := models.GetDocument(env.db, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.ProcessingStatus)
	assert.Empty(t, got.ProcessingError)
	assert.Equal(t, []string{queue.TaskReprocessDocument + ":" + doc.ID.String()}, env.queue.tasks)
}

func TestRegenerateEmbeddings(t *testing.T) {
	env := newTestEnv(t, envOptions{embedder: &fakeEmbedder{}})
	owner := env.createUser(t)

	t.Run("rejects documents without text", func(t *testing.T) {
		doc := env.seedProcessedDoc(t, owner, "")
		err := env.pipeline.RegenerateEmbeddings(context.Background(), doc.ID)
		assert.ErrorIs(t, err, cartuerr.ErrInvalidInput)
	})

	t.Run("queues the embedding stage", func(t *testing.T) {
		d := &models.Document{
			OwnerID:          owner.ID,
			OriginalFilename: "other.pdf",
			FilePath:         "yy/y/other.pdf",
			OCRText:          "has text",
		}
		require.NoError(t, env.db.Create(d).Error)
		require.NoError(t, env.pipeline.RegenerateEmbeddings(context.Background(), d.ID))
		assert.Contains(t, env.queue.tasks, queue.TaskGenerateEmbeddings+":"+d.ID.String())
	})

	t.Run("unknown document", func(t *testing.T) {
		err := env.pipeline.RegenerateEmbeddings(context.Background(), uuid.New())
		assert.ErrorIs(t, err, cartuerr.ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := env.createUser(t)

	doc, err := env.pipeline.Submit(context.Background(), SubmitRequest{
		OwnerID:  owner.ID,
		Filename: "gone.txt",
		Content:  strings.NewReader("bytes"),
	})
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Delete(context.Background(), doc))

	_, err = models.GetDocument(env.db, doc.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = os.Stat(filepath.Join(env.root, filepath.FromSlash(doc.FilePath)))
	assert.True(t, os.IsNotExist(err))
}
