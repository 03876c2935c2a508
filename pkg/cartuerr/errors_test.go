package cartuerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateErrorCarriesExistingID(t *testing.T) {
	id := uuid.New()
	err := NewDuplicate(id)

	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), id.String())

	got, ok := ExistingDocumentID(err)
	require.True(t, ok)
	assert.Equal(t, id, got)

	// Survives wrapping on the way up.
	wrapped := fmt.Errorf("ingest: %w", err)
	got, ok = ExistingDocumentID(wrapped)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestExistingDocumentIDOnOtherErrors(t *testing.T) {
	_, ok := ExistingDocumentID(errors.New("boom"))
	assert.False(t, ok)

	_, ok = ExistingDocumentID(ErrDuplicate)
	assert.False(t, ok)
}
