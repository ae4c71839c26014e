package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var bundleTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/bundle.html")
	if err != nil {
		bundleTemplate = template.Must(template.New("bundle").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	bundleTemplate = template.Must(template.New("bundle").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for bundle template rendering
type TemplateData struct {
	ProjectName string
	GeneratedBy string
	GeneratedAt time.Time
	Files       []TemplateFile
}

// TemplateFile holds one rendered markdown file
type TemplateFile struct {
	Path        string
	ContentHTML template.HTML
}

// RenderBundleHTML renders the bundle template with provided data
func RenderBundleHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := bundleTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProjectName}} documentation</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .file { margin: 2rem 0; }
    .file-path { background: #f5f5f5; padding: 0.5rem 1rem; font-family: monospace; border-left: 3px solid #333; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
  </style>
</head>
<body>
  <h1>{{.ProjectName}}</h1>
  <div class="meta">Generated by {{.GeneratedBy}} on {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>
  {{range .Files}}
  <div class="file">
    <div class="file-path">{{.Path}}</div>
    <div>{{.ContentHTML | safeHTML}}</div>
  </div>
  {{end}}
</body>
</html>`
