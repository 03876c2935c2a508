// Package ingest feeds documents into the pipeline from configured
// import sources: watched directories and IMAP mailboxes. A reconciler
// keeps one runner alive per active source and follows configuration
// changes without a restart.
package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/cartulary/cartulary/pkg/models"
	"github.com/cartulary/cartulary/pkg/pipeline"
)

// DefaultInterval is how often sources are reconciled and mailboxes
// polled.
const DefaultInterval = 60 * time.Second

// Submitter pushes one document into the pipeline. Satisfied by
// pipeline.Pipeline.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.Document, error)
}

// importExtensions are the file types picked up from import sources.
var importExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// Importable reports whether a filename is a type worth importing.
func Importable(name string) bool {
	return importExtensions[strings.ToLower(filepath.Ext(name))]
}

// ReconcilerConfig configures the source reconciler.
type ReconcilerConfig struct {
	DB       *gorm.DB
	Pipeline Submitter
	Interval time.Duration
	Logger   hclog.Logger
}

// Reconciler drives one runner per active import source.
type Reconciler struct {
	db       *gorm.DB
	pipeline Submitter
	interval time.Duration
	logger   hclog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*runningSource
}

type runningSource struct {
	cancel    context.CancelFunc
	done      chan struct{}
	updatedAt time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		db:       cfg.DB,
		pipeline: cfg.Pipeline,
		interval: interval,
		logger:   logger.Named("ingest"),
		running:  make(map[uuid.UUID]*runningSource),
	}
}

// Run reconciles until the context is cancelled, then stops all
// runners and waits for them to exit.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			r.stopAll()
			return ctx.Err()
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile aligns the set of runners with the active sources in the
// database. Sources whose configuration changed are restarted.
func (r *Reconciler) Reconcile(ctx context.Context) {
	desired := make(map[uuid.UUID]models.ImportSource)
	for _, sourceType := range []string{models.SourceTypeDirectory, models.SourceTypeIMAP} {
		sources, err := models.ListActiveSources(r.db.WithContext(ctx), sourceType)
		if err != nil {
			r.logger.Error("failed to list import sources",
				"source_type", sourceType, "error", err)
			return
		}
		for _, s := range sources {
			desired[s.ID] = s
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, run := range r.running {
		src, ok := desired[id]
		if ok && src.UpdatedAt.Equal(run.updatedAt) {
			continue
		}
		r.logger.Info("stopping source runner", "source_id", id, "restart", ok)
		run.cancel()
		<-run.done
		delete(r.running, id)
	}

	for id, src := range desired {
		if _, ok := r.running[id]; ok {
			continue
		}
		r.startLocked(ctx, src)
	}
}

// startLocked launches a runner for one source. Caller holds r.mu.
func (r *Reconciler) startLocked(ctx context.Context, src models.ImportSource) {
	srcCtx, cancel := context.WithCancel(ctx)
	run := &runningSource{
		cancel:    cancel,
		done:      make(chan struct{}),
		updatedAt: src.UpdatedAt,
	}
	r.running[src.ID] = run
	r.logger.Info("starting source runner",
		"source_id", src.ID, "name", src.Name, "type", src.SourceType)

	go func() {
		defer close(run.done)
		var err error
		switch src.SourceType {
		case models.SourceTypeDirectory:
			w := NewDirWatcher(DirWatcherConfig{
				DB:       r.db,
				Source:   src,
				Pipeline: r.pipeline,
				Logger:   r.logger,
			})
			err = w.Run(srcCtx)
		case models.SourceTypeIMAP:
			p := NewIMAPPoller(IMAPPollerConfig{
				DB:       r.db,
				Source:   src,
				Pipeline: r.pipeline,
				Interval: r.interval,
				Logger:   r.logger,
			})
			err = p.Run(srcCtx)
		}
		if err != nil && srcCtx.Err() == nil {
			r.logger.Error("source runner failed",
				"source_id", src.ID, "name", src.Name, "error", err)
			if rerr := src.RecordError(r.db, err.Error()); rerr != nil {
				r.logger.Error("failed to record source error",
					"source_id", src.ID, "error", rerr)
			}
		}
	}()
}

func (r *Reconciler) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, run := range r.running {
		run.cancel()
		<-run.done
		delete(r.running, id)
	}
}

// RunnerCount reports how many source runners are alive.
func (r *Reconciler) RunnerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
