package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/cartuerr"
	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/pipeline"
)

// settleDelay is how long a file must stay quiet before import, so
// half-written files are not picked up.
const settleDelay = 2 * time.Second

// settlePollInterval is how often pending files are checked for
// quiescence.
const settlePollInterval = 500 * time.Millisecond

// DirWatcherConfig configures a directory watcher.
type DirWatcherConfig struct {
	DB       *gorm.DB
	Source   models.ImportSource
	Pipeline Submitter
	Logger   hclog.Logger
}

// DirWatcher imports files dropped into one watched directory. The
// watch is non-recursive.
type DirWatcher struct {
	db       *gorm.DB
	source   models.ImportSource
	pipeline Submitter
	logger   hclog.Logger

	// pending maps file path to the time of its last write event.
	pending map[string]time.Time
}

// NewDirWatcher creates a watcher for one directory source.
func NewDirWatcher(cfg DirWatcherConfig) *DirWatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DirWatcher{
		db:       cfg.DB,
		source:   cfg.Source,
		pipeline: cfg.Pipeline,
		logger:   logger.Named("dir-watcher").With("source_id", cfg.Source.ID),
		pending:  make(map[string]time.Time),
	}
}

// Run imports files already present, then watches for new ones until
// the context is cancelled.
func (w *DirWatcher) Run(ctx context.Context) error {
	if err := w.scanExisting(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.source.WatchPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.source.WatchPath, err)
	}
	w.logger.Info("watching directory", "path", w.source.WatchPath)

	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 && Importable(evt.Name) {
				w.pending[evt.Name] = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-ticker.C:
			w.importSettled(ctx)
		}
	}
}

// scanExisting imports importable files that were already in the
// directory when the watcher started.
func (w *DirWatcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.source.WatchPath)
	if err != nil {
		return fmt.Errorf("failed to read watch directory: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !Importable(entry.Name()) {
			continue
		}
		w.importFile(ctx, filepath.Join(w.source.WatchPath, entry.Name()))
	}
	return nil
}

// importSettled imports pending files whose last write is old enough.
func (w *DirWatcher) importSettled(ctx context.Context) {
	now := time.Now()
	for path, last := range w.pending {
		if now.Sub(last) < settleDelay {
			continue
		}
		delete(w.pending, path)
		w.importFile(ctx, path)
	}
}

// importFile submits one file and applies the source's post-import
// action. Per-file failures are recorded on the source but do not stop
// the watcher.
func (w *DirWatcher) importFile(ctx context.Context, path string) {
	logger := w.logger.With("path", path)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Moved away before we got to it.
			return
		}
		w.recordError(fmt.Sprintf("failed to open %s: %v", filepath.Base(path), err))
		return
	}

	doc, err := w.pipeline.Submit(ctx, pipeline.SubmitRequest{
		OwnerID:  w.source.OwnerID,
		Filename: filepath.Base(path),
		Content:  f,
	})
	f.Close()

	switch {
	case err == nil:
		logger.Info("imported file", "document_id", doc.ID)
	case errors.Is(err, cartuerr.ErrDuplicate):
		// Duplicates still get the post-import action so they do not
		// pile up in the watch directory.
		logger.Info("skipping duplicate file")
	default:
		w.recordError(fmt.Sprintf("failed to import %s: %v", filepath.Base(path), err))
		return
	}

	if err := w.postImport(path); err != nil {
		w.recordError(err.Error())
		return
	}
	if err := w.source.RecordRun(w.db); err != nil {
		logger.Warn("failed to record source run", "error", err)
	}
}

// postImport moves or deletes the original file per the source config.
func (w *DirWatcher) postImport(path string) error {
	src := &w.source
	switch {
	case src.DeleteAfterImport:
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s after import: %v", filepath.Base(path), err)
		}
	case src.MoveAfterImport && src.MoveToPath != "":
		if err := os.MkdirAll(src.MoveToPath, 0o755); err != nil {
			return fmt.Errorf("failed to create move target: %v", err)
		}
		dest := filepath.Join(src.MoveToPath, filepath.Base(path))
		if err := moveFile(path, dest); err != nil {
			return fmt.Errorf("failed to move %s after import: %v", filepath.Base(path), err)
		}
	}
	return nil
}

// moveFile renames, falling back to copy+delete across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (w *DirWatcher) recordError(msg string) {
	w.logger.Warn("import error", "error", msg)
	if err := w.source.RecordError(w.db, msg); err != nil {
		w.logger.Error("failed to record source error", "error", err)
	}
}
