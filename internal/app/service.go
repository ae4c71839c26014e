package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"docuflow/api/internal/archive"
	"docuflow/api/internal/config"
	"docuflow/api/internal/email"
	"docuflow/api/internal/export"
	"docuflow/api/internal/gitmirror"
	"docuflow/api/internal/search"
	"docuflow/api/internal/sharelink"
	"docuflow/api/internal/store"
	"docuflow/api/internal/util"
	"docuflow/api/internal/yamlform"
)

// AnalysisTypes is the closed set of questionnaire kinds a session can carry.
var AnalysisTypes = []string{
	"deployment",
	"api",
	"architecture",
	"requirements",
	"executive-view",
	"technical",
	"business-processes",
	"adr",
	"swagger",
}

var allowedAnalysisTypes = map[string]struct{}{}

var allowedProjectStatuses = map[string]struct{}{
	store.ProjectActive:    {},
	store.ProjectCompleted: {},
	store.ProjectArchived:  {},
}

func init() {
	for _, t := range AnalysisTypes {
		allowedAnalysisTypes[t] = struct{}{}
	}
}

type dataStore interface {
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjects(context.Context, store.ProjectFilter) ([]store.Project, error)
	UpdateProject(context.Context, store.Project) error
	InsertAnalysisSession(context.Context, store.AnalysisSession) error
	GetAnalysisSession(context.Context, string) (store.AnalysisSession, error)
	GetAnalysisSessionByToken(context.Context, string) (store.AnalysisSession, error)
	SaveAnalysisSession(context.Context, store.AnalysisSession) error
	ListAnalysisSessions(context.Context, string, string) ([]store.AnalysisSession, error)
	InsertGeneratedDoc(context.Context, store.GeneratedDoc) error
	GetGeneratedDoc(context.Context, string) (store.GeneratedDoc, error)
	GetGeneratedDocBySession(context.Context, string) (store.GeneratedDoc, error)
	ListGeneratedDocsByProject(context.Context, string) ([]store.GeneratedDoc, error)
	Ping(ctx context.Context) error
}

// linkCache is the optional share_token -> session id fast path.
type linkCache interface {
	Put(ctx context.Context, token, sessionID string) error
	Lookup(ctx context.Context, token string) (string, error)
	Rotate(ctx context.Context, oldToken, newToken, sessionID string) error
	Ping(ctx context.Context) error
}

type searcher interface {
	Search(ctx context.Context, q search.Query) ([]store.AnalysisSession, error)
	Suggest(text string, limit int) []search.Suggestion
	IndexSession(session store.AnalysisSession)
	Healthy() bool
}

type mailer interface {
	IsConfigured() bool
	SendShareLink(to, projectName, analysisType string, iteration int, shareURL string) error
}

type docArchive interface {
	SaveDoc(ctx context.Context, doc store.GeneratedDoc) error
}

type docMirror interface {
	CommitFiles(projectID string, files []store.GeneratedFile, author, message string) (store.CommitInfo, error)
	History(projectID string, limit int) ([]store.CommitInfo, error)
}

type docExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	links    linkCache
	search   searcher
	mail     mailer
	archive  docArchive
	mirror   docMirror
	exporter docExporter
}

// New wires the workflow service. linksStore and archiveStore may be nil when
// the corresponding backend is not configured.
func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	linksStore *sharelink.RedisStore,
	searchService *search.Service,
	mailService *email.Service,
	archiveStore *archive.Store,
	mirrorService *gitmirror.Service,
	exporterService *export.Service,
) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		search:   searchService,
		exporter: exporterService,
	}
	if linksStore != nil {
		s.links = linksStore
	}
	if mailService != nil {
		s.mail = mailService
	}
	if archiveStore != nil {
		s.archive = archiveStore
	}
	if mirrorService != nil {
		s.mirror = mirrorService
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// LinkCachePing reports cache reachability, or nil when no cache is wired.
func (s *Service) LinkCachePing(ctx context.Context) (configured bool, err error) {
	if s.links == nil {
		return false, nil
	}
	return true, s.links.Ping(ctx)
}

func (s *Service) SearchIndexHealthy() bool {
	return s.search.Healthy()
}

func (s *Service) Environment() string {
	return s.cfg.Environment
}

// ShareURL builds the public answer link for a share token.
func (s *Service) ShareURL(token string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return base + "/answer/?token=" + url.QueryEscape(token)
}

// Projects

type UpdateProjectInput struct {
	Name        *string
	Description *string
	Status      *string
	Metadata    map[string]any
}

func (s *Service) CreateProject(ctx context.Context, name, description, createdBy string, metadata map[string]any) (store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, invalidInput("name is required", nil)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now().UTC()
	project := store.Project{
		ID:          util.NewID("proj"),
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		Status:      store.ProjectActive,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

func (s *Service) ListProjects(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error) {
	if filter.Status != "" {
		if _, ok := allowedProjectStatuses[filter.Status]; !ok {
			return nil, invalidInput("unknown status filter", map[string]any{"status": filter.Status})
		}
	}
	return s.store.ListProjects(ctx, filter)
}

// UpdateProject applies only the provided fields. Metadata keys merge into
// the stored map instead of replacing it.
func (s *Service) UpdateProject(ctx context.Context, projectID string, input UpdateProjectInput) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return store.Project{}, invalidInput("name cannot be empty", nil)
		}
		project.Name = trimmed
	}
	if input.Description != nil {
		project.Description = *input.Description
	}
	if input.Status != nil {
		if _, ok := allowedProjectStatuses[*input.Status]; !ok {
			return store.Project{}, invalidInput("unknown project status", map[string]any{"status": *input.Status})
		}
		project.Status = *input.Status
	}
	if len(input.Metadata) > 0 {
		if project.Metadata == nil {
			project.Metadata = map[string]any{}
		}
		for key, value := range input.Metadata {
			project.Metadata[key] = value
		}
	}
	project.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

// DeleteProject archives the project. The row is retained and keeps serving
// reads for sessions that reference it.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	project.Status = store.ProjectArchived
	project.UpdatedAt = time.Now().UTC()
	return s.store.UpdateProject(ctx, project)
}

// Analysis sessions

type CreateAnalysisInput struct {
	AnalysisType string
	YAMLConfig   map[string]any
	YAMLString   string
	CreatedBy    string
	AssignedTo   string
}

type IterationInput struct {
	YAMLConfig    map[string]any
	YAMLString    string
	NeedsMoreInfo bool
}

// AnalysisDetail pairs a session with its project name for responses.
type AnalysisDetail struct {
	Session     store.AnalysisSession
	ProjectName string
}

// PublicAnswerView is the unauthenticated projection of a session. Internal
// ids, creator, and assignee are withheld.
type PublicAnswerView struct {
	ProjectName  string         `json:"project_name"`
	AnalysisType string         `json:"analysis_type"`
	YAMLConfig   map[string]any `json:"yaml_config"`
	Answers      map[string]any `json:"answers"`
	Iteration    int            `json:"iteration"`
}

func (s *Service) CreateAnalysis(ctx context.Context, projectID string, input CreateAnalysisInput) (AnalysisDetail, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return AnalysisDetail{}, err
	}
	if _, ok := allowedAnalysisTypes[input.AnalysisType]; !ok {
		return AnalysisDetail{}, invalidInput("unknown analysis type", map[string]any{"analysis_type": input.AnalysisType})
	}
	yamlConfig, err := resolveYAMLConfig(input.YAMLConfig, input.YAMLString)
	if err != nil {
		return AnalysisDetail{}, err
	}

	now := time.Now().UTC()
	session := store.AnalysisSession{
		ID:               util.NewID("as"),
		ProjectID:        project.ID,
		AnalysisType:     input.AnalysisType,
		Status:           store.SessionPendingAnswers,
		YAMLConfig:       yamlConfig,
		Answers:          map[string]any{},
		Iteration:        1,
		NeedsMoreInfo:    true,
		ShareToken:       util.NewShareToken(),
		CreatedBy:        input.CreatedBy,
		AssignedTo:       input.AssignedTo,
		IterationHistory: []store.IterationSnapshot{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertAnalysisSession(ctx, session); err != nil {
		return AnalysisDetail{}, fmt.Errorf("insert analysis session: %w", err)
	}

	if s.links != nil {
		if err := s.links.Put(ctx, session.ShareToken, session.ID); err != nil {
			log.Printf("sharelink: cache put for session %s: %v", session.ID, err)
		}
	}
	s.search.IndexSession(session)
	s.notifyAssignee(project.Name, session)

	return AnalysisDetail{Session: session, ProjectName: project.Name}, nil
}

func (s *Service) GetAnalysis(ctx context.Context, sessionID string) (AnalysisDetail, error) {
	session, err := s.store.GetAnalysisSession(ctx, sessionID)
	if err != nil {
		return AnalysisDetail{}, err
	}
	return s.withProjectName(ctx, session)
}

// GetAnalysisByToken resolves the public share link. The cache is a fast
// path only; a miss or a stale entry falls through to the store.
func (s *Service) GetAnalysisByToken(ctx context.Context, token string) (PublicAnswerView, error) {
	session, err := s.sessionByToken(ctx, token)
	if err != nil {
		return PublicAnswerView{}, err
	}
	projectName := session.ProjectID
	if project, err := s.store.GetProject(ctx, session.ProjectID); err == nil {
		projectName = project.Name
	}
	return PublicAnswerView{
		ProjectName:  projectName,
		AnalysisType: session.AnalysisType,
		YAMLConfig:   session.YAMLConfig,
		Answers:      session.Answers,
		Iteration:    session.Iteration,
	}, nil
}

// SubmitAnswers merges the provided answers into the session addressed by
// the share token. New keys overwrite, absent keys stay untouched. Answer
// shapes are not validated.
func (s *Service) SubmitAnswers(ctx context.Context, token string, answers map[string]any) (PublicAnswerView, error) {
	session, err := s.sessionByToken(ctx, token)
	if err != nil {
		return PublicAnswerView{}, err
	}
	if session.Answers == nil {
		session.Answers = map[string]any{}
	}
	for key, value := range answers {
		session.Answers[key] = value
	}
	session.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveAnalysisSession(ctx, session); err != nil {
		return PublicAnswerView{}, err
	}
	s.search.IndexSession(session)

	view, err := s.GetAnalysisByToken(ctx, token)
	if err != nil {
		return PublicAnswerView{}, err
	}
	return view, nil
}

// AddIteration snapshots the current questionnaire round into the history,
// then advances: iteration+1, new yaml_config, answers cleared, share token
// rotated so the superseded public link stops resolving.
func (s *Service) AddIteration(ctx context.Context, sessionID string, input IterationInput) (AnalysisDetail, error) {
	session, err := s.store.GetAnalysisSession(ctx, sessionID)
	if err != nil {
		return AnalysisDetail{}, err
	}
	yamlConfig, err := resolveYAMLConfig(input.YAMLConfig, input.YAMLString)
	if err != nil {
		return AnalysisDetail{}, err
	}

	now := time.Now().UTC()
	session.IterationHistory = append(session.IterationHistory, store.IterationSnapshot{
		Iteration:  session.Iteration,
		YAMLConfig: session.YAMLConfig,
		Answers:    session.Answers,
		Timestamp:  now,
	})

	oldToken := session.ShareToken
	session.Iteration++
	session.YAMLConfig = yamlConfig
	session.Answers = map[string]any{}
	session.NeedsMoreInfo = input.NeedsMoreInfo
	session.ShareToken = util.NewShareToken()
	session.UpdatedAt = now

	if err := s.store.SaveAnalysisSession(ctx, session); err != nil {
		return AnalysisDetail{}, err
	}

	if s.links != nil {
		if err := s.links.Rotate(ctx, oldToken, session.ShareToken, session.ID); err != nil {
			log.Printf("sharelink: cache rotate for session %s: %v", session.ID, err)
		}
	}
	s.search.IndexSession(session)

	detail, err := s.withProjectName(ctx, session)
	if err != nil {
		return AnalysisDetail{}, err
	}
	s.notifyAssignee(detail.ProjectName, session)
	return detail, nil
}

// CompleteAnalysis marks the session completed. Calling it again is a no-op.
func (s *Service) CompleteAnalysis(ctx context.Context, sessionID string) (AnalysisDetail, error) {
	session, err := s.store.GetAnalysisSession(ctx, sessionID)
	if err != nil {
		return AnalysisDetail{}, err
	}
	if session.Status != store.SessionCompleted {
		session.Status = store.SessionCompleted
		session.NeedsMoreInfo = false
		session.UpdatedAt = time.Now().UTC()
		if err := s.store.SaveAnalysisSession(ctx, session); err != nil {
			return AnalysisDetail{}, err
		}
		s.search.IndexSession(session)
	}
	return s.withProjectName(ctx, session)
}

func (s *Service) ListProjectAnalyses(ctx context.Context, projectID, analysisType string) ([]store.AnalysisSession, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if analysisType != "" {
		if _, ok := allowedAnalysisTypes[analysisType]; !ok {
			return nil, invalidInput("unknown analysis type", map[string]any{"analysis_type": analysisType})
		}
	}
	return s.store.ListAnalysisSessions(ctx, projectID, analysisType)
}

func (s *Service) SearchAnalyses(ctx context.Context, q search.Query) ([]store.AnalysisSession, error) {
	return s.search.Search(ctx, q)
}

func (s *Service) Suggest(text string, limit int) []search.Suggestion {
	return s.search.Suggest(text, limit)
}

// Generated docs

func (s *Service) GenerateDocs(ctx context.Context, projectID, sessionID string, files []store.GeneratedFile, generatedBy string) (store.GeneratedDoc, error) {
	if len(files) == 0 {
		return store.GeneratedDoc{}, invalidInput("files cannot be empty", nil)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return store.GeneratedDoc{}, err
	}
	session, err := s.store.GetAnalysisSession(ctx, sessionID)
	if err != nil {
		return store.GeneratedDoc{}, err
	}
	if session.ProjectID != projectID {
		return store.GeneratedDoc{}, invalidInput("session does not belong to project", nil)
	}

	now := time.Now().UTC()
	stamped := make([]store.GeneratedFile, len(files))
	for i, file := range files {
		if strings.TrimSpace(file.Path) == "" {
			return store.GeneratedDoc{}, invalidInput("file path is required", map[string]any{"index": i})
		}
		if file.GeneratedAt.IsZero() {
			file.GeneratedAt = now
		}
		stamped[i] = file
	}

	doc := store.GeneratedDoc{
		ID:          util.NewID("gd"),
		ProjectID:   projectID,
		SessionID:   sessionID,
		Files:       stamped,
		GeneratedBy: generatedBy,
		GeneratedAt: now,
	}
	if err := s.store.InsertGeneratedDoc(ctx, doc); err != nil {
		return store.GeneratedDoc{}, fmt.Errorf("insert generated doc: %w", err)
	}

	if s.archive != nil {
		if err := s.archive.SaveDoc(ctx, doc); err != nil {
			log.Printf("archive: save doc %s: %v", doc.ID, err)
		}
	}
	if s.mirror != nil {
		message := fmt.Sprintf("Generated docs for session %s (%s)", sessionID, session.AnalysisType)
		if _, err := s.mirror.CommitFiles(projectID, stamped, generatedBy, message); err != nil {
			log.Printf("gitmirror: commit for project %s: %v", projectID, err)
		}
	}
	return doc, nil
}

func (s *Service) ListProjectDocs(ctx context.Context, projectID string) ([]store.GeneratedDoc, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListGeneratedDocsByProject(ctx, projectID)
}

func (s *Service) GetDoc(ctx context.Context, docID string) (store.GeneratedDoc, error) {
	return s.store.GetGeneratedDoc(ctx, docID)
}

func (s *Service) GetSessionDoc(ctx context.Context, sessionID string) (store.GeneratedDoc, error) {
	if _, err := s.store.GetAnalysisSession(ctx, sessionID); err != nil {
		return store.GeneratedDoc{}, err
	}
	return s.store.GetGeneratedDocBySession(ctx, sessionID)
}

func (s *Service) DocsHistory(ctx context.Context, projectID string, limit int) ([]store.CommitInfo, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if s.mirror == nil {
		return []store.CommitInfo{}, nil
	}
	return s.mirror.History(projectID, limit)
}

func (s *Service) ExportDoc(ctx context.Context, docID string, format export.Format) (*export.Result, error) {
	return s.exporter.Export(ctx, export.Request{DocID: docID, Format: format})
}

// helpers

func (s *Service) sessionByToken(ctx context.Context, token string) (store.AnalysisSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.AnalysisSession{}, notFound("share link not found")
	}
	if s.links != nil {
		if sessionID, err := s.links.Lookup(ctx, token); err == nil {
			session, err := s.store.GetAnalysisSession(ctx, sessionID)
			// The token must still be current; a stale cache entry after a
			// rotation must not resurrect the old link.
			if err == nil && session.ShareToken == token {
				return session, nil
			}
		} else if !errors.Is(err, sharelink.ErrNotFound) {
			log.Printf("sharelink: cache lookup: %v", err)
		}
	}
	session, err := s.store.GetAnalysisSessionByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AnalysisSession{}, notFound("share link not found")
	}
	return session, err
}

func (s *Service) withProjectName(ctx context.Context, session store.AnalysisSession) (AnalysisDetail, error) {
	projectName := session.ProjectID
	if project, err := s.store.GetProject(ctx, session.ProjectID); err == nil {
		projectName = project.Name
	}
	return AnalysisDetail{Session: session, ProjectName: projectName}, nil
}

func (s *Service) notifyAssignee(projectName string, session store.AnalysisSession) {
	if s.mail == nil || !s.mail.IsConfigured() || session.AssignedTo == "" {
		return
	}
	shareURL := s.ShareURL(session.ShareToken)
	go func() {
		if err := s.mail.SendShareLink(session.AssignedTo, projectName, session.AnalysisType, session.Iteration, shareURL); err != nil {
			log.Printf("email: share link for session %s: %v", session.ID, err)
		}
	}()
}

func resolveYAMLConfig(yamlConfig map[string]any, raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) != "" {
		parsed, err := yamlform.ParseString(raw)
		if err != nil {
			return nil, toValidationError(err)
		}
		return parsed, nil
	}
	if err := yamlform.Validate(yamlConfig); err != nil {
		return nil, toValidationError(err)
	}
	return yamlConfig, nil
}

func toValidationError(err error) error {
	var verr *yamlform.ValidationError
	if errors.As(err, &verr) {
		return invalidInput(verr.Error(), nil)
	}
	return invalidInput(err.Error(), nil)
}
