package export

import (
	"context"
	"fmt"
	"html/template"
)

// Service renders generated documentation bundles for download.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the generated doc identified by req.DocID in the requested
// format. The HTML path never fails on content; the PDF path requires a
// chromium binary on the host.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	doc, err := s.store.GetGeneratedDoc(ctx, req.DocID)
	if err != nil {
		return nil, err
	}

	projectName := doc.ProjectID
	if project, err := s.store.GetProject(ctx, doc.ProjectID); err == nil {
		projectName = project.Name
	}

	data := TemplateData{
		ProjectName: projectName,
		GeneratedBy: doc.GeneratedBy,
		GeneratedAt: doc.GeneratedAt,
		Files:       make([]TemplateFile, 0, len(doc.Files)),
	}
	for _, f := range doc.Files {
		data.Files = append(data.Files, TemplateFile{
			Path:        f.Path,
			ContentHTML: template.HTML(MarkdownToHTML(f.Content)),
		})
	}

	html, err := RenderBundleHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render bundle: %w", err)
	}

	if req.Format == FormatPDF {
		return exportPDF(html, projectName)
	}

	return &Result{
		Data:     []byte(html),
		Filename: sanitizeFilename(projectName) + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}
