package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"testing"
	"time"

	"docuflow/api/internal/config"
	"docuflow/api/internal/export"
	"docuflow/api/internal/search"
	"docuflow/api/internal/store"
)

// fakeStore is an in-memory dataStore. Individual methods can be overridden
// through the Fn fields to inject failures.
type fakeStore struct {
	projects map[string]store.Project
	sessions map[string]store.AnalysisSession
	docs     map[string]store.GeneratedDoc

	pingFn func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: map[string]store.Project{},
		sessions: map[string]store.AnalysisSession{},
		docs:     map[string]store.GeneratedDoc{},
	}
}

func (f *fakeStore) InsertProject(ctx context.Context, project store.Project) error {
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (f *fakeStore) ListProjects(ctx context.Context, filter store.ProjectFilter) ([]store.Project, error) {
	out := []store.Project{}
	for _, project := range f.projects {
		if filter.Status != "" && project.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && project.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateProject(ctx context.Context, project store.Project) error {
	if _, ok := f.projects[project.ID]; !ok {
		return sql.ErrNoRows
	}
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) InsertAnalysisSession(ctx context.Context, session store.AnalysisSession) error {
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) GetAnalysisSession(ctx context.Context, sessionID string) (store.AnalysisSession, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return store.AnalysisSession{}, sql.ErrNoRows
	}
	return session, nil
}

func (f *fakeStore) GetAnalysisSessionByToken(ctx context.Context, shareToken string) (store.AnalysisSession, error) {
	for _, session := range f.sessions {
		if session.ShareToken == shareToken {
			return session, nil
		}
	}
	return store.AnalysisSession{}, sql.ErrNoRows
}

func (f *fakeStore) SaveAnalysisSession(ctx context.Context, session store.AnalysisSession) error {
	if _, ok := f.sessions[session.ID]; !ok {
		return sql.ErrNoRows
	}
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) ListAnalysisSessions(ctx context.Context, projectID, analysisType string) ([]store.AnalysisSession, error) {
	out := []store.AnalysisSession{}
	for _, session := range f.sessions {
		if projectID != "" && session.ProjectID != projectID {
			continue
		}
		if analysisType != "" && session.AnalysisType != analysisType {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) InsertGeneratedDoc(ctx context.Context, doc store.GeneratedDoc) error {
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) GetGeneratedDoc(ctx context.Context, docID string) (store.GeneratedDoc, error) {
	doc, ok := f.docs[docID]
	if !ok {
		return store.GeneratedDoc{}, sql.ErrNoRows
	}
	return doc, nil
}

func (f *fakeStore) GetGeneratedDocBySession(ctx context.Context, sessionID string) (store.GeneratedDoc, error) {
	var newest store.GeneratedDoc
	found := false
	for _, doc := range f.docs {
		if doc.SessionID != sessionID {
			continue
		}
		if !found || doc.GeneratedAt.After(newest.GeneratedAt) {
			newest = doc
			found = true
		}
	}
	if !found {
		return store.GeneratedDoc{}, sql.ErrNoRows
	}
	return newest, nil
}

func (f *fakeStore) ListGeneratedDocsByProject(ctx context.Context, projectID string) ([]store.GeneratedDoc, error) {
	out := []store.GeneratedDoc{}
	for _, doc := range f.docs {
		if doc.ProjectID == projectID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:      config.Config{PublicBaseURL: "http://localhost:8000", Environment: "test"},
		store:    fs,
		search:   search.NewService(search.NewScan(fs), nil),
		exporter: export.NewService(fs),
	}
}

func validYAML(title string) map[string]any {
	return map[string]any{
		"title":       title,
		"description": "questionnaire for " + title,
		"sections": []any{
			map[string]any{
				"icon":      "cloud",
				"title":     "Infrastructure",
				"questions": []any{"Which cloud provider do you use?"},
			},
		},
	}
}

func mustCreateProject(t *testing.T, svc *Service, name string) store.Project {
	t.Helper()
	project, err := svc.CreateProject(context.Background(), name, "", "ana", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return project
}

func mustCreateAnalysis(t *testing.T, svc *Service, projectID string) AnalysisDetail {
	t.Helper()
	detail, err := svc.CreateAnalysis(context.Background(), projectID, CreateAnalysisInput{
		AnalysisType: "deployment",
		YAMLConfig:   validYAML("Deployment"),
		CreatedBy:    "ana",
	})
	if err != nil {
		t.Fatalf("CreateAnalysis: %v", err)
	}
	return detail
}

func TestCreateProjectRequiresName(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.CreateProject(context.Background(), "  ", "", "ana", nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 domain error, got %v", err)
	}
}

func TestUpdateProjectAppliesOnlyProvidedFields(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	project := mustCreateProject(t, svc, "Payments")

	description := "payment backend"
	updated, err := svc.UpdateProject(context.Background(), project.ID, UpdateProjectInput{
		Description: &description,
	})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if updated.Name != "Payments" {
		t.Errorf("name changed unexpectedly: %q", updated.Name)
	}
	if updated.Description != description {
		t.Errorf("description not applied: %q", updated.Description)
	}
}

func TestUpdateProjectMergesMetadata(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	project, err := svc.CreateProject(context.Background(), "Payments", "", "ana", map[string]any{"team": "core", "tier": "1"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	updated, err := svc.UpdateProject(context.Background(), project.ID, UpdateProjectInput{
		Metadata: map[string]any{"tier": "2", "region": "eu"},
	})
	if err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	want := map[string]any{"team": "core", "tier": "2", "region": "eu"}
	for key, value := range want {
		if updated.Metadata[key] != value {
			t.Errorf("metadata[%s] = %v, want %v", key, updated.Metadata[key], value)
		}
	}
}

func TestUpdateProjectRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")

	bogus := "paused"
	_, err := svc.UpdateProject(context.Background(), project.ID, UpdateProjectInput{Status: &bogus})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 domain error, got %v", err)
	}
}

func TestDeleteProjectArchivesRecord(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	project := mustCreateProject(t, svc, "Payments")

	if err := svc.DeleteProject(context.Background(), project.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	archived, err := svc.GetProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("archived project must remain readable: %v", err)
	}
	if archived.Status != store.ProjectArchived {
		t.Errorf("status = %q, want %q", archived.Status, store.ProjectArchived)
	}
}

func TestCreateAnalysisUnknownProject(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.CreateAnalysis(context.Background(), "proj_missing", CreateAnalysisInput{
		AnalysisType: "deployment",
		YAMLConfig:   validYAML("Deployment"),
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestCreateAnalysisRejectsUnknownType(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")

	_, err := svc.CreateAnalysis(context.Background(), project.ID, CreateAnalysisInput{
		AnalysisType: "phrenology",
		YAMLConfig:   validYAML("Deployment"),
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 domain error, got %v", err)
	}
}

func TestCreateAnalysisRejectsMalformedYAML(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")

	cases := []map[string]any{
		{"title": "t", "description": "d"},
		{"title": "t", "description": "d", "sections": []any{}},
		{"description": "d", "sections": []any{map[string]any{"icon": "i", "title": "t", "questions": []any{}}}},
	}
	for i, yamlConfig := range cases {
		_, err := svc.CreateAnalysis(context.Background(), project.ID, CreateAnalysisInput{
			AnalysisType: "deployment",
			YAMLConfig:   yamlConfig,
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
			t.Errorf("case %d: expected 400 domain error, got %v", i, err)
		}
	}
}

func TestCreateAnalysisAcceptsRawYAMLString(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")

	detail, err := svc.CreateAnalysis(context.Background(), project.ID, CreateAnalysisInput{
		AnalysisType: "deployment",
		YAMLString: `
title: Deployment
description: rollout questionnaire
sections:
  - icon: cloud
    title: Infrastructure
    questions:
      - Which cloud provider do you use?
`,
	})
	if err != nil {
		t.Fatalf("CreateAnalysis: %v", err)
	}
	if detail.Session.YAMLConfig["title"] != "Deployment" {
		t.Errorf("parsed yaml title = %v", detail.Session.YAMLConfig["title"])
	}
}

func TestCreateAnalysisInitialState(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)

	session := detail.Session
	if session.Iteration != 1 {
		t.Errorf("iteration = %d, want 1", session.Iteration)
	}
	if session.Status != store.SessionPendingAnswers {
		t.Errorf("status = %q", session.Status)
	}
	if !session.NeedsMoreInfo {
		t.Error("needs_more_info should start true")
	}
	if session.ShareToken == "" {
		t.Error("share token not allocated")
	}
	if len(session.Answers) != 0 {
		t.Errorf("answers should start empty, got %v", session.Answers)
	}
	if len(session.IterationHistory) != 0 {
		t.Errorf("history should start empty, got %d entries", len(session.IterationHistory))
	}
	if detail.ProjectName != "Payments" {
		t.Errorf("project name = %q", detail.ProjectName)
	}
}

func TestSubmitAnswersMerges(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)
	token := detail.Session.ShareToken

	if _, err := svc.SubmitAnswers(context.Background(), token, map[string]any{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	view, err := svc.SubmitAnswers(context.Background(), token, map[string]any{"b": "3", "c": "4"})
	if err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}

	want := map[string]any{"a": "1", "b": "3", "c": "4"}
	if len(view.Answers) != len(want) {
		t.Fatalf("answers = %v, want %v", view.Answers, want)
	}
	for key, value := range want {
		if view.Answers[key] != value {
			t.Errorf("answers[%s] = %v, want %v", key, view.Answers[key], value)
		}
	}
}

func TestSubmitAnswersUnknownToken(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.SubmitAnswers(context.Background(), "nosuchtoken12345", map[string]any{"a": "1"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 domain error, got %v", err)
	}
}

func TestAddIterationAdvancesAndPreservesHistory(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)
	firstToken := detail.Session.ShareToken

	if _, err := svc.SubmitAnswers(context.Background(), firstToken, map[string]any{"cloudProvider": "aws"}); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}

	updated, err := svc.AddIteration(context.Background(), detail.Session.ID, IterationInput{
		YAMLConfig:    validYAML("Deployment round two"),
		NeedsMoreInfo: true,
	})
	if err != nil {
		t.Fatalf("AddIteration: %v", err)
	}
	session := updated.Session

	if session.Iteration != 2 {
		t.Errorf("iteration = %d, want 2", session.Iteration)
	}
	if len(session.Answers) != 0 {
		t.Errorf("answers not cleared: %v", session.Answers)
	}
	if session.ShareToken == firstToken {
		t.Error("share token was not rotated")
	}
	if len(session.IterationHistory) != 1 {
		t.Fatalf("history length = %d, want 1", len(session.IterationHistory))
	}
	snapshot := session.IterationHistory[0]
	if snapshot.Iteration != 1 {
		t.Errorf("snapshot iteration = %d, want 1", snapshot.Iteration)
	}
	if snapshot.YAMLConfig["title"] != "Deployment" {
		t.Errorf("snapshot yaml title = %v", snapshot.YAMLConfig["title"])
	}
	if snapshot.Answers["cloudProvider"] != "aws" {
		t.Errorf("snapshot answers = %v", snapshot.Answers)
	}

	// The superseded public link must stop resolving.
	_, err = svc.GetAnalysisByToken(context.Background(), firstToken)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Fatalf("old token should 404, got %v", err)
	}
}

func TestAddIterationHistoryLengthInvariant(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)

	const rounds = 4
	for i := 0; i < rounds; i++ {
		updated, err := svc.AddIteration(context.Background(), detail.Session.ID, IterationInput{
			YAMLConfig:    validYAML(fmt.Sprintf("Round %d", i+2)),
			NeedsMoreInfo: true,
		})
		if err != nil {
			t.Fatalf("AddIteration %d: %v", i, err)
		}
		if updated.Session.Iteration != i+2 {
			t.Fatalf("iteration = %d, want %d", updated.Session.Iteration, i+2)
		}
		if len(updated.Session.IterationHistory) != updated.Session.Iteration-1 {
			t.Fatalf("history length = %d, want %d", len(updated.Session.IterationHistory), updated.Session.Iteration-1)
		}
	}
}

func TestCompleteAnalysisIdempotent(t *testing.T) {
	svc := newTestService(newFakeStore())
	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)

	first, err := svc.CompleteAnalysis(context.Background(), detail.Session.ID)
	if err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
	if first.Session.Status != store.SessionCompleted {
		t.Errorf("status = %q", first.Session.Status)
	}
	if first.Session.NeedsMoreInfo {
		t.Error("needs_more_info should be false after completion")
	}

	second, err := svc.CompleteAnalysis(context.Background(), detail.Session.ID)
	if err != nil {
		t.Fatalf("second CompleteAnalysis: %v", err)
	}
	if second.Session.Status != store.SessionCompleted {
		t.Errorf("second status = %q", second.Session.Status)
	}
	if !second.Session.UpdatedAt.Equal(first.Session.UpdatedAt) {
		t.Error("repeat completion should not rewrite the session")
	}
}

func TestSearchAnalysesContainment(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)

	if _, err := svc.SubmitAnswers(context.Background(), detail.Session.ShareToken, map[string]any{"cloudProvider": []any{"AWS"}}); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}

	results, err := svc.SearchAnalyses(context.Background(), search.Query{Text: "aws"})
	if err != nil {
		t.Fatalf("SearchAnalyses: %v", err)
	}
	if len(results) != 1 || results[0].ID != detail.Session.ID {
		t.Fatalf("results = %v", results)
	}

	none, err := svc.SearchAnalyses(context.Background(), search.Query{Text: "kubernetes"})
	if err != nil {
		t.Fatalf("SearchAnalyses: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no results, got %d", len(none))
	}
}

func TestGenerateDocsStampsMissingTimestamps(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)

	stamped := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	doc, err := svc.GenerateDocs(context.Background(), project.ID, detail.Session.ID, []store.GeneratedFile{
		{Path: "README.md", Content: "# Payments"},
		{Path: "docs/deploy.md", Content: "## Rollout", GeneratedAt: stamped},
	}, "claude")
	if err != nil {
		t.Fatalf("GenerateDocs: %v", err)
	}
	if doc.Files[0].GeneratedAt.IsZero() {
		t.Error("missing timestamp was not stamped")
	}
	if !doc.Files[1].GeneratedAt.Equal(stamped) {
		t.Errorf("existing timestamp was rewritten: %v", doc.Files[1].GeneratedAt)
	}
}

func TestGenerateDocsSessionMustBelongToProject(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	projectA := mustCreateProject(t, svc, "Payments")
	projectB := mustCreateProject(t, svc, "Billing")
	detail := mustCreateAnalysis(t, svc, projectA.ID)

	_, err := svc.GenerateDocs(context.Background(), projectB.ID, detail.Session.ID, []store.GeneratedFile{
		{Path: "README.md", Content: "# Billing"},
	}, "claude")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 domain error, got %v", err)
	}
}

func TestWorkflowEndToEnd(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	project := mustCreateProject(t, svc, "Payments")
	detail := mustCreateAnalysis(t, svc, project.ID)
	if detail.Session.Iteration != 1 || !detail.Session.NeedsMoreInfo {
		t.Fatalf("unexpected initial state: %+v", detail.Session)
	}

	updated, err := svc.AddIteration(ctx, detail.Session.ID, IterationInput{
		YAMLConfig:    validYAML("Deployment follow-up"),
		NeedsMoreInfo: true,
	})
	if err != nil {
		t.Fatalf("AddIteration: %v", err)
	}
	if updated.Session.Iteration != 2 || len(updated.Session.Answers) != 0 {
		t.Fatalf("unexpected state after iteration: %+v", updated.Session)
	}
	if updated.Session.ShareToken == detail.Session.ShareToken {
		t.Fatal("token not reissued")
	}

	if _, err := svc.SubmitAnswers(ctx, updated.Session.ShareToken, map[string]any{"cloudProvider": []any{"aws"}}); err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}

	done, err := svc.CompleteAnalysis(ctx, detail.Session.ID)
	if err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
	if done.Session.Status != store.SessionCompleted {
		t.Fatalf("status = %q", done.Session.Status)
	}
	if done.Session.Answers["cloudProvider"] == nil {
		t.Fatal("answers lost on completion")
	}
}
