// Package cartuerr defines the error kinds shared across the service.
// Callers classify failures with errors.Is against the sentinel values
// and attach context by wrapping with fmt.Errorf and %w.
package cartuerr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a missing resource (maps to HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a checksum collision on ingest (HTTP 409).
	ErrDuplicate = errors.New("duplicate document")

	// ErrUnauthenticated indicates missing or invalid credentials (HTTP 401).
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrPermissionDenied indicates the access predicate evaluated false (HTTP 403).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput indicates a malformed request, unsupported file type,
	// or configuration mismatch such as an embedding dimension conflict (HTTP 400).
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderTransient indicates a recoverable OCR/embedding/LLM
	// back-end failure. Callers fall back or surface a user-visible message.
	ErrProviderTransient = errors.New("provider failure")
)

// DuplicateError carries the id of the already-stored document so the
// HTTP layer can include it as the 409 detail.
type DuplicateError struct {
	ExistingID uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate document: matches existing document %s", e.ExistingID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// NewDuplicate returns a duplicate error pointing at the existing document.
func NewDuplicate(existingID uuid.UUID) error {
	return &DuplicateError{ExistingID: existingID}
}

// ExistingDocumentID extracts the colliding document id from err, if any.
func ExistingDocumentID(err error) (uuid.UUID, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.ExistingID, true
	}
	return uuid.Nil, false
}
