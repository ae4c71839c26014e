package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Projects

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	metadata, err := marshalMap(project.Metadata)
	if err != nil {
		return fmt.Errorf("marshal project metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_by, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, project.ID, project.Name, project.Description, project.CreatedBy, project.Status, metadata, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	const query = `
		SELECT id, name, description, created_by, status, metadata, created_at, updated_at
		FROM projects WHERE id = $1
	`
	return scanProject(s.db.QueryRowContext(ctx, query, projectID))
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error) {
	query := `
		SELECT id, name, description, created_by, status, metadata, created_at, updated_at
		FROM projects
	`
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Skip > 0 {
		args = append(args, filter.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) error {
	metadata, err := marshalMap(project.Metadata)
	if err != nil {
		return fmt.Errorf("marshal project metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET name = $2, description = $3, status = $4, metadata = $5, updated_at = $6
		WHERE id = $1
	`, project.ID, project.Name, project.Description, project.Status, metadata, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Analysis sessions

func (s *PostgresStore) InsertAnalysisSession(ctx context.Context, session AnalysisSession) error {
	yamlConfig, answers, history, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_sessions (
			id, project_id, analysis_type, status, yaml_config, answers,
			iteration, needs_more_info, share_token, created_by, assigned_to,
			iteration_history, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, session.ID, session.ProjectID, session.AnalysisType, session.Status,
		yamlConfig, answers, session.Iteration, session.NeedsMoreInfo,
		session.ShareToken, session.CreatedBy, nullable(session.AssignedTo),
		history, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert analysis session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisSession(ctx context.Context, sessionID string) (AnalysisSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, sessionQuery+` WHERE id = $1`, sessionID))
}

func (s *PostgresStore) GetAnalysisSessionByToken(ctx context.Context, shareToken string) (AnalysisSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, sessionQuery+` WHERE share_token = $1`, shareToken))
}

// SaveAnalysisSession persists every mutable session field in one statement.
// AddIteration's history append and field rewrite land together here; there
// is no two-phase write and no version check (last writer wins).
func (s *PostgresStore) SaveAnalysisSession(ctx context.Context, session AnalysisSession) error {
	yamlConfig, answers, history, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE analysis_sessions
		SET status = $2, yaml_config = $3, answers = $4, iteration = $5,
			needs_more_info = $6, share_token = $7, assigned_to = $8,
			iteration_history = $9, updated_at = $10
		WHERE id = $1
	`, session.ID, session.Status, yamlConfig, answers, session.Iteration,
		session.NeedsMoreInfo, session.ShareToken, nullable(session.AssignedTo),
		history, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save analysis session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save analysis session rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListAnalysisSessions returns sessions newest-created-first. Empty
// projectID or analysisType skips that filter; the search scan calls this
// with both empty to walk the whole collection.
func (s *PostgresStore) ListAnalysisSessions(ctx context.Context, projectID, analysisType string) ([]AnalysisSession, error) {
	query := sessionQuery
	var where []string
	var args []any
	if projectID != "" {
		args = append(args, projectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if analysisType != "" {
		args = append(args, analysisType)
		where = append(where, fmt.Sprintf("analysis_type = $%d", len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analysis sessions: %w", err)
	}
	defer rows.Close()

	var sessions []AnalysisSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Generated docs

func (s *PostgresStore) InsertGeneratedDoc(ctx context.Context, doc GeneratedDoc) error {
	files, err := json.Marshal(doc.Files)
	if err != nil {
		return fmt.Errorf("marshal generated files: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generated_docs (id, project_id, session_id, files, generated_by, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.ProjectID, doc.SessionID, files, doc.GeneratedBy, doc.GeneratedAt)
	if err != nil {
		return fmt.Errorf("insert generated doc: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGeneratedDoc(ctx context.Context, docID string) (GeneratedDoc, error) {
	return scanGeneratedDoc(s.db.QueryRowContext(ctx, generatedDocQuery+` WHERE id = $1`, docID))
}

func (s *PostgresStore) GetGeneratedDocBySession(ctx context.Context, sessionID string) (GeneratedDoc, error) {
	const query = generatedDocQuery + ` WHERE session_id = $1 ORDER BY generated_at DESC LIMIT 1`
	return scanGeneratedDoc(s.db.QueryRowContext(ctx, query, sessionID))
}

func (s *PostgresStore) ListGeneratedDocsByProject(ctx context.Context, projectID string) ([]GeneratedDoc, error) {
	const query = generatedDocQuery + ` WHERE project_id = $1 ORDER BY generated_at DESC`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list generated docs: %w", err)
	}
	defer rows.Close()

	var docs []GeneratedDoc
	for rows.Next() {
		doc, err := scanGeneratedDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Row scanning

const sessionQuery = `
	SELECT id, project_id, analysis_type, status, yaml_config, answers,
		iteration, needs_more_info, share_token, created_by, assigned_to,
		iteration_history, created_at, updated_at
	FROM analysis_sessions
`

const generatedDocQuery = `
	SELECT id, project_id, session_id, files, generated_by, generated_at
	FROM generated_docs
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var project Project
	var metadata []byte
	err := row.Scan(&project.ID, &project.Name, &project.Description, &project.CreatedBy,
		&project.Status, &metadata, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if err := unmarshalMap(metadata, &project.Metadata); err != nil {
		return Project{}, fmt.Errorf("unmarshal project metadata: %w", err)
	}
	return project, nil
}

func scanSession(row rowScanner) (AnalysisSession, error) {
	var session AnalysisSession
	var yamlConfig, answers, history []byte
	var assignedTo sql.NullString
	err := row.Scan(&session.ID, &session.ProjectID, &session.AnalysisType, &session.Status,
		&yamlConfig, &answers, &session.Iteration, &session.NeedsMoreInfo,
		&session.ShareToken, &session.CreatedBy, &assignedTo,
		&history, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return AnalysisSession{}, err
	}
	session.AssignedTo = assignedTo.String
	if err := unmarshalMap(yamlConfig, &session.YAMLConfig); err != nil {
		return AnalysisSession{}, fmt.Errorf("unmarshal yaml config: %w", err)
	}
	if err := unmarshalMap(answers, &session.Answers); err != nil {
		return AnalysisSession{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	session.IterationHistory = []IterationSnapshot{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &session.IterationHistory); err != nil {
			return AnalysisSession{}, fmt.Errorf("unmarshal iteration history: %w", err)
		}
	}
	return session, nil
}

func scanGeneratedDoc(row rowScanner) (GeneratedDoc, error) {
	var doc GeneratedDoc
	var files []byte
	err := row.Scan(&doc.ID, &doc.ProjectID, &doc.SessionID, &files, &doc.GeneratedBy, &doc.GeneratedAt)
	if err != nil {
		return GeneratedDoc{}, err
	}
	doc.Files = []GeneratedFile{}
	if len(files) > 0 {
		if err := json.Unmarshal(files, &doc.Files); err != nil {
			return GeneratedDoc{}, fmt.Errorf("unmarshal generated files: %w", err)
		}
	}
	return doc, nil
}

func marshalSessionBlobs(session AnalysisSession) (yamlConfig, answers, history []byte, err error) {
	yamlConfig, err = marshalMap(session.YAMLConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal yaml config: %w", err)
	}
	answers, err = marshalMap(session.Answers)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal answers: %w", err)
	}
	snapshots := session.IterationHistory
	if snapshots == nil {
		snapshots = []IterationSnapshot{}
	}
	history, err = json.Marshal(snapshots)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal iteration history: %w", err)
	}
	return yamlConfig, answers, history, nil
}

func marshalMap(value map[string]any) ([]byte, error) {
	if value == nil {
		value = map[string]any{}
	}
	return json.Marshal(value)
}

func unmarshalMap(data []byte, target *map[string]any) error {
	*target = map[string]any{}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
