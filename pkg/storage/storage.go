// Package storage persists document blobs under a two-char sharded
// directory tree and normalizes image uploads to PDF.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cartulary/cartulary/pkg/cartuerr"
)

// SaveResult describes where a blob ended up after Put, including any
// image-to-PDF normalization that happened on the way in.
type SaveResult struct {
	RelativePath  string
	FinalFilename string
	MimeType      string
	Size          int64
}

// Store is the blob store contract. Keys are relative paths of the form
// <prefix>/<doc_id>/<safe_filename> where prefix is doc_id[:2].
type Store interface {
	// Put writes the blob, converting supported images to PDF.
	Put(ctx context.Context, docID, filename string, r io.Reader) (*SaveResult, error)

	// Open returns a reader over the stored blob.
	Open(ctx context.Context, relPath string) (io.ReadCloser, error)

	// Localize makes the blob available on the local filesystem and
	// returns an absolute path plus a cleanup func (no-op for local
	// storage).
	Localize(ctx context.Context, relPath string) (string, func(), error)

	// Size returns the stored byte count.
	Size(ctx context.Context, relPath string) (int64, error)

	// Delete removes the blob and prunes now-empty parent directories.
	Delete(ctx context.Context, relPath string) error

	// Exists reports whether the blob is present.
	Exists(ctx context.Context, relPath string) (bool, error)
}

// imageExtensions are the upload types normalized to PDF on Put.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".gif":  true,
}

// IsImageExtension reports whether ext (with leading dot) is an image
// type the store converts to PDF.
func IsImageExtension(ext string) bool {
	return imageExtensions[strings.ToLower(ext)]
}

var mimeByExtension = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
	".gif":  "image/gif",
	".txt":  "text/plain",
}

// MimeTypeFor maps a filename to a mime type, defaulting to
// application/octet-stream.
func MimeTypeFor(filename string) string {
	if mt, ok := mimeByExtension[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// SanitizeFilename strips directory components and rejects traversal.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: unusable filename %q", cartuerr.ErrInvalidInput, name)
	}
	return name, nil
}

// BlobKey composes the sharded relative path for a document's blob.
func BlobKey(docID, filename string) string {
	prefix := docID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.ToSlash(filepath.Join(prefix, docID, filename))
}

// Checksum streams r through SHA-256 and rewinds it so the caller can
// re-read the same bytes.
func Checksum(r io.ReadSeeker) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
