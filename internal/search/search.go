// Package search provides session search: a canonical substring scan over
// stored questionnaire and answer content, plus an optional Meilisearch
// index for dashboard typeahead.
package search

import (
	"context"

	"docuflow/api/internal/store"
)

// Query describes a containment search over analysis sessions.
type Query struct {
	Text         string
	ProjectID    string // empty = all projects
	AnalysisType string // empty = all types
	Limit        int
}

// Suggestion is a single typeahead hit from the Meilisearch index.
type Suggestion struct {
	SessionID    string `json:"session_id"`
	ProjectID    string `json:"project_id"`
	AnalysisType string `json:"analysis_type"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet,omitempty"`
}

// SessionSource supplies candidate sessions for scanning, newest-first.
type SessionSource interface {
	ListAnalysisSessions(ctx context.Context, projectID, analysisType string) ([]store.AnalysisSession, error)
}
