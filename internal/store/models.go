package store

import "time"

// Project statuses. Archived is the soft-delete terminal state; archived
// rows are never removed.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
	ProjectArchived  = "archived"
)

// Analysis session statuses. InReview is reserved for future review
// tooling; no workflow operation sets it.
const (
	SessionPendingAnswers = "pending_answers"
	SessionCompleted      = "completed"
	SessionInReview       = "in_review"
)

type Project struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	Status      string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IterationSnapshot records what was asked and answered in a superseded
// round. Appended to AnalysisSession.IterationHistory immediately before
// each new iteration replaces the questionnaire.
type IterationSnapshot struct {
	Iteration  int            `json:"iteration"`
	YAMLConfig map[string]any `json:"yaml_config"`
	Answers    map[string]any `json:"answers"`
	Timestamp  time.Time      `json:"timestamp"`
}

type AnalysisSession struct {
	ID               string
	ProjectID        string
	AnalysisType     string
	Status           string
	YAMLConfig       map[string]any
	Answers          map[string]any
	Iteration        int
	NeedsMoreInfo    bool
	ShareToken       string
	CreatedBy        string
	AssignedTo       string
	IterationHistory []IterationSnapshot
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type GeneratedFile struct {
	Path        string    `json:"path"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GeneratedDoc is immutable after insert; there is no update path.
type GeneratedDoc struct {
	ID          string
	ProjectID   string
	SessionID   string
	Files       []GeneratedFile
	GeneratedBy string
	GeneratedAt time.Time
}

// ProjectFilter narrows ListProjects. Zero values mean "no filter".
type ProjectFilter struct {
	Status    string
	CreatedBy string
	Limit     int
	Skip      int
}

// CommitInfo describes one commit in a project's docs-as-code mirror.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
