package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/spf13/afero"

	"github.com/cartulary/cartulary/pkg/cartuerr"
)

// LocalStoreConfig configures a filesystem-backed blob store.
type LocalStoreConfig struct {
	// Root is the storage root directory.
	Root string

	// Fs overrides the filesystem, for tests. Defaults to the OS
	// filesystem.
	Fs afero.Fs

	// Logger for store operations. Defaults to a null logger.
	Logger hclog.Logger
}

// LocalStore persists blobs under Root using the sharded layout.
type LocalStore struct {
	fs     afero.Fs
	root   string
	logger hclog.Logger
}

// NewLocalStore creates a local blob store rooted at cfg.Root.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := fs.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStore{
		fs:     fs,
		root:   cfg.Root,
		logger: logger.Named("local-store"),
	}, nil
}

// Put writes the blob under <prefix>/<doc_id>/<safe_name>. Supported
// image uploads are converted to a single-page PDF; the stored filename
// gets a .pdf extension and the original image bytes are never written.
func (s *LocalStore) Put(ctx context.Context, docID, filename string, r io.Reader) (*SaveResult, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(name))
	if IsImageExtension(ext) {
		pdf, err := convertImageToPDF(r)
		if err != nil {
			return nil, fmt.Errorf("failed to convert image to PDF: %w", err)
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".pdf"
		r = bytes.NewReader(pdf)
		s.logger.Debug("converted image upload to PDF", "doc_id", docID, "filename", name)
	}

	rel := BlobKey(docID, name)
	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := s.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := s.fs.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(abs)
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}

	return &SaveResult{
		RelativePath:  rel,
		FinalFilename: name,
		MimeType:      MimeTypeFor(name),
		Size:          n,
	}, nil
}

// Open returns a reader over the stored blob.
func (s *LocalStore) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %s", cartuerr.ErrNotFound, relPath)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Localize returns the blob's absolute path. Local blobs need no
// staging, so the cleanup func is a no-op.
func (s *LocalStore) Localize(ctx context.Context, relPath string) (string, func(), error) {
	abs := s.abs(relPath)
	ok, err := afero.Exists(s.fs, abs)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat blob: %w", err)
	}
	if !ok {
		return "", nil, fmt.Errorf("%w: blob %s", cartuerr.ErrNotFound, relPath)
	}
	return abs, func() {}, nil
}

// Size returns the stored byte count.
func (s *LocalStore) Size(ctx context.Context, relPath string) (int64, error) {
	info, err := s.fs.Stat(s.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: blob %s", cartuerr.ErrNotFound, relPath)
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

// Delete removes the blob and prunes the document and prefix directories
// when they end up empty.
func (s *LocalStore) Delete(ctx context.Context, relPath string) error {
	abs := s.abs(relPath)
	if err := s.fs.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: blob %s", cartuerr.ErrNotFound, relPath)
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	// Non-empty directories are left alone.
	docDir := filepath.Dir(abs)
	_ = s.fs.Remove(docDir)
	_ = s.fs.Remove(filepath.Dir(docDir))
	return nil
}

// Exists reports whether the blob is present.
func (s *LocalStore) Exists(ctx context.Context, relPath string) (bool, error) {
	return afero.Exists(s.fs, s.abs(relPath))
}

func (s *LocalStore) abs(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

// convertImageToPDF flattens the image onto a white background, encodes
// it as a quality-95 JPEG and wraps it in a single-page PDF.
func convertImageToPDF(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Alpha channels render black in JPEG; composite over white first.
	bounds := img.Bounds()
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var jpg bytes.Buffer
	if err := imaging.Encode(&jpg, flat, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("failed to encode intermediate JPEG: %w", err)
	}

	var pdf bytes.Buffer
	if err := api.ImportImages(nil, &pdf, []io.Reader{&jpg}, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to build PDF: %w", err)
	}
	return pdf.Bytes(), nil
}
