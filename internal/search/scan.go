package search

import (
	"context"
	"encoding/json"
	"strings"

	"docuflow/api/internal/store"
)

// Scan is the canonical searcher: a session matches exactly when the
// lowercased query appears as a substring anywhere in its serialized
// yaml_config or answers. Linear, unranked, untokenized.
type Scan struct {
	source SessionSource
}

// NewScan creates a scan searcher over a session source.
func NewScan(source SessionSource) *Scan {
	return &Scan{source: source}
}

// Search fetches sessions matching the cheap structural filters newest-first
// and keeps those containing the query, capped at the limit.
func (s *Scan) Search(ctx context.Context, q Query) ([]store.AnalysisSession, error) {
	query := strings.ToLower(strings.TrimSpace(q.Text))
	if query == "" {
		return []store.AnalysisSession{}, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	sessions, err := s.source.ListAnalysisSessions(ctx, q.ProjectID, q.AnalysisType)
	if err != nil {
		return nil, err
	}

	matches := make([]store.AnalysisSession, 0, limit)
	for _, session := range sessions {
		if sessionContains(session, query) {
			matches = append(matches, session)
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

func sessionContains(session store.AnalysisSession, loweredQuery string) bool {
	if strings.Contains(serializeLower(session.YAMLConfig), loweredQuery) {
		return true
	}
	return strings.Contains(serializeLower(session.Answers), loweredQuery)
}

func serializeLower(value map[string]any) string {
	if value == nil {
		return "{}"
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(data))
}
