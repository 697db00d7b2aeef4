package requests

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/verdantis/emissary/internal/model"
)

// FileDocumentReader reads uploaded supporting documents from a directory,
// one file per document uuid.
type FileDocumentReader struct {
	Dir string
}

func (r FileDocumentReader) ReadDocument(_ context.Context, doc model.SupportingDocument) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(r.Dir, doc.UUID.String()))
	if err != nil {
		return nil, fmt.Errorf("requests: read document %s: %w", doc.UUID, err)
	}
	return content, nil
}
