package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"docuflow/api/internal/store"
)

const idxSessions = "docuflow_sessions"

// sessionRecord is the shape indexed per analysis session.
type sessionRecord struct {
	ID           string `json:"id"`
	ProjectID    string `json:"projectId"`
	AnalysisType string `json:"analysisType"`
	Status       string `json:"status"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Body         string `json:"body"`
}

// Meili maintains the typeahead index. It never serves the canonical
// containment search; Meilisearch tokenization cannot reproduce substring
// semantics.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the session index.
// The caller should proceed without it if the instance stays unreachable;
// the health loop reconfigures on recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSessions,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxSessions, err)
	}

	index := m.client.Index(idxSessions)
	filterable := []interface{}{"projectId", "analysisType", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxSessions, err)
	}
	searchable := []string{"title", "description", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxSessions, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexSession pushes one session into the typeahead index.
func (m *Meili) IndexSession(session store.AnalysisSession) error {
	record := toSessionRecord(session)
	index := m.client.Index(idxSessions)
	if _, err := index.AddDocuments([]sessionRecord{record}, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("meilisearch index session %s: %w", session.ID, err)
	}
	return nil
}

// Suggest runs a ranked typeahead query against the session index.
func (m *Meili) Suggest(text string, limit int) ([]Suggestion, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 10
	}

	resp, err := m.client.Index(idxSessions).Search(text, &meili.SearchRequest{
		Limit:                 int64(limit),
		AttributesToHighlight: []string{"title", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch suggest: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		suggestions = append(suggestions, Suggestion{
			SessionID:    decodeString(hit, "id"),
			ProjectID:    decodeString(hit, "projectId"),
			AnalysisType: decodeString(hit, "analysisType"),
			Title:        firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
			Snippet:      firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		})
	}
	return suggestions, nil
}

func toSessionRecord(session store.AnalysisSession) sessionRecord {
	title, _ := session.YAMLConfig["title"].(string)
	description, _ := session.YAMLConfig["description"].(string)
	return sessionRecord{
		ID:           session.ID,
		ProjectID:    session.ProjectID,
		AnalysisType: session.AnalysisType,
		Status:       session.Status,
		Title:        title,
		Description:  description,
		Body:         flattenStrings(session.YAMLConfig) + " " + flattenStrings(session.Answers),
	}
}

// flattenStrings collects every string leaf of a nested mapping so question
// labels and answer text are searchable without a fixed schema.
func flattenStrings(value map[string]any) string {
	var parts []string
	var walk func(v any)
	walk = func(v any) {
		switch typed := v.(type) {
		case string:
			parts = append(parts, typed)
		case map[string]any:
			for _, inner := range typed {
				walk(inner)
			}
		case []any:
			for _, inner := range typed {
				walk(inner)
			}
		}
	}
	walk(value)
	return strings.Join(parts, " ")
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
