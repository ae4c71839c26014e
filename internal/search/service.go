package search

import (
	"context"
	"log"

	"docuflow/api/internal/store"
)

// Service fronts both search paths. The substring scan is authoritative for
// /api/search/analyses; Meilisearch only feeds the typeahead endpoint and
// may be absent entirely.
type Service struct {
	scan  *Scan
	meili *Meili
}

// NewService creates the search facade. meili may be nil when Meilisearch
// is not configured.
func NewService(scan *Scan, meili *Meili) *Service {
	return &Service{scan: scan, meili: meili}
}

// Search runs the canonical containment scan.
func (s *Service) Search(ctx context.Context, q Query) ([]store.AnalysisSession, error) {
	return s.scan.Search(ctx, q)
}

// Suggest returns typeahead hits, or nothing when the index is unavailable.
func (s *Service) Suggest(text string, limit int) []Suggestion {
	if s.meili == nil || !s.meili.Healthy() {
		return []Suggestion{}
	}
	suggestions, err := s.meili.Suggest(text, limit)
	if err != nil {
		log.Printf("search: suggest failed: %v", err)
		return []Suggestion{}
	}
	return suggestions
}

// IndexSession pushes a session into the typeahead index, fire-and-forget.
func (s *Service) IndexSession(session store.AnalysisSession) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSession(session); err != nil {
			log.Printf("search: index session %s: %v", session.ID, err)
		}
	}()
}

// Healthy reports whether the optional index is reachable.
func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}
