// Package export renders a generated documentation bundle to a single HTML
// page or a PDF.
package export

import (
	"context"
	"errors"

	"docuflow/api/internal/store"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	DocID  string
	Format Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetGeneratedDoc(ctx context.Context, docID string) (store.GeneratedDoc, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
}

var (
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
