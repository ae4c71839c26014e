package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docuflow/api/internal/export"
	"docuflow/api/internal/search"
	"docuflow/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/" {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":     "docuflow-api",
			"version":     "1.0.0",
			"environment": s.service.Environment(),
		})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		if configured, err := s.service.LinkCachePing(ctx); configured {
			if err != nil {
				checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
			} else {
				checks["redis"] = map[string]any{"status": "ok"}
			}
		}
		if s.service.SearchIndexHealthy() {
			checks["search_index"] = map[string]any{"status": "ok"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/analysis-types" {
		writeJSON(w, http.StatusOK, map[string]any{"analysis_types": AnalysisTypes})
		return
	}

	if r.URL.Path == "/api/projects" || r.URL.Path == "/api/projects/" {
		switch r.Method {
		case http.MethodPost:
			s.handleCreateProject(w, r)
		case http.MethodGet:
			s.handleListProjects(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search/analyses" {
		s.handleSearchAnalyses(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search/suggest" {
		s.handleSearchSuggest(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "projects" {
		projectID := parts[2]
		switch r.Method {
		case http.MethodGet:
			project, err := s.service.GetProject(r.Context(), projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, projectResponse(project))
		case http.MethodPut:
			s.handleUpdateProject(w, r, projectID)
		case http.MethodDelete:
			if err := s.service.DeleteProject(r.Context(), projectID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "projects" {
		projectID := parts[2]
		switch parts[3] {
		case "analysis":
			if r.Method == http.MethodPost {
				s.handleCreateAnalysis(w, r, projectID)
				return
			}
		case "analyses":
			if r.Method == http.MethodGet {
				s.handleListAnalyses(w, r, projectID)
				return
			}
		case "generate-docs":
			if r.Method == http.MethodPost {
				s.handleGenerateDocs(w, r, projectID)
				return
			}
		case "docs":
			if r.Method == http.MethodGet {
				s.handleListProjectDocs(w, r, projectID)
				return
			}
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 5 && parts[0] == "api" && parts[1] == "projects" && parts[3] == "docs" && parts[4] == "history" {
		if r.Method == http.MethodGet {
			s.handleDocsHistory(w, r, parts[2])
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "analysis" {
		if r.Method == http.MethodGet {
			detail, err := s.service.GetAnalysis(r.Context(), parts[2])
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, s.analysisResponse(detail))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "analysis" {
		sessionID := parts[2]
		switch parts[3] {
		case "iteration":
			if r.Method == http.MethodPut {
				s.handleAddIteration(w, r, sessionID)
				return
			}
		case "complete":
			if r.Method == http.MethodPut {
				detail, err := s.service.CompleteAnalysis(r.Context(), sessionID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, s.analysisResponse(detail))
				return
			}
		case "docs":
			if r.Method == http.MethodGet {
				doc, err := s.service.GetSessionDoc(r.Context(), sessionID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, docResponse(doc))
				return
			}
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	// Public share links, no authentication
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "answer" {
		token := parts[2]
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetAnalysisByToken(r.Context(), token)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodPost:
			s.handleSubmitAnswers(w, r, token)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "docs" {
		if r.Method == http.MethodGet {
			doc, err := s.service.GetDoc(r.Context(), parts[2])
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, docResponse(doc))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "docs" && parts[3] == "export" {
		if r.Method == http.MethodGet {
			s.handleExportDoc(w, r, parts[2])
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		CreatedBy   string         `json:"created_by"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateProject(r.Context(), body.Name, body.Description, body.CreatedBy, body.Metadata)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse(project))
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	filter := store.ProjectFilter{
		Status:    strings.TrimSpace(r.URL.Query().Get("status")),
		CreatedBy: strings.TrimSpace(r.URL.Query().Get("created_by")),
	}
	var err error
	filter.Limit, err = queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	filter.Skip, err = queryInt(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "skip must be an integer", nil)
		return
	}

	projects, err := s.service.ListProjects(r.Context(), filter)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectResponse(project))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": items, "total": len(items)})
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request, projectID string) {
	var body struct {
		Name        *string        `json:"name"`
		Description *string        `json:"description"`
		Status      *string        `json:"status"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.UpdateProject(r.Context(), projectID, UpdateProjectInput{
		Name:        body.Name,
		Description: body.Description,
		Status:      body.Status,
		Metadata:    body.Metadata,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse(project))
}

func (s *HTTPServer) handleCreateAnalysis(w http.ResponseWriter, r *http.Request, projectID string) {
	var body struct {
		AnalysisType string         `json:"analysis_type"`
		YAMLConfig   map[string]any `json:"yaml_config"`
		YAMLString   string         `json:"yaml_string"`
		CreatedBy    string         `json:"created_by"`
		AssignedTo   string         `json:"assigned_to"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	detail, err := s.service.CreateAnalysis(r.Context(), projectID, CreateAnalysisInput{
		AnalysisType: body.AnalysisType,
		YAMLConfig:   body.YAMLConfig,
		YAMLString:   body.YAMLString,
		CreatedBy:    body.CreatedBy,
		AssignedTo:   body.AssignedTo,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, s.analysisResponse(detail))
}

func (s *HTTPServer) handleListAnalyses(w http.ResponseWriter, r *http.Request, projectID string) {
	analysisType := strings.TrimSpace(r.URL.Query().Get("analysis_type"))
	sessions, err := s.service.ListProjectAnalyses(r.Context(), projectID, analysisType)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, s.sessionSummary(session))
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": items, "total": len(items)})
}

func (s *HTTPServer) handleAddIteration(w http.ResponseWriter, r *http.Request, sessionID string) {
	var body struct {
		YAMLConfig    map[string]any `json:"yaml_config"`
		YAMLString    string         `json:"yaml_string"`
		NeedsMoreInfo *bool          `json:"needs_more_info"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	needsMoreInfo := true
	if body.NeedsMoreInfo != nil {
		needsMoreInfo = *body.NeedsMoreInfo
	}
	detail, err := s.service.AddIteration(r.Context(), sessionID, IterationInput{
		YAMLConfig:    body.YAMLConfig,
		YAMLString:    body.YAMLString,
		NeedsMoreInfo: needsMoreInfo,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, s.analysisResponse(detail))
}

func (s *HTTPServer) handleSubmitAnswers(w http.ResponseWriter, r *http.Request, token string) {
	var body struct {
		Answers map[string]any `json:"answers"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.SubmitAnswers(r.Context(), token, body.Answers)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSearchAnalyses(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	sessions, err := s.service.SearchAnalyses(r.Context(), search.Query{
		Text:         strings.TrimSpace(r.URL.Query().Get("q")),
		ProjectID:    strings.TrimSpace(r.URL.Query().Get("project_id")),
		AnalysisType: strings.TrimSpace(r.URL.Query().Get("analysis_type")),
		Limit:        limit,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, s.sessionSummary(session))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items, "total": len(items)})
}

func (s *HTTPServer) handleSearchSuggest(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	suggestions := s.service.Suggest(strings.TrimSpace(r.URL.Query().Get("q")), limit)
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *HTTPServer) handleGenerateDocs(w http.ResponseWriter, r *http.Request, projectID string) {
	var body struct {
		SessionID   string                `json:"session_id"`
		Files       []store.GeneratedFile `json:"files"`
		GeneratedBy string                `json:"generated_by"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.GenerateDocs(r.Context(), projectID, body.SessionID, body.Files, body.GeneratedBy)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, docResponse(doc))
}

func (s *HTTPServer) handleListProjectDocs(w http.ResponseWriter, r *http.Request, projectID string) {
	docs, err := s.service.ListProjectDocs(r.Context(), projectID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, docResponse(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"docs": items, "total": len(items)})
}

func (s *HTTPServer) handleDocsHistory(w http.ResponseWriter, r *http.Request, projectID string) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
		return
	}
	commits, err := s.service.DocsHistory(r.Context(), projectID, limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits, "total": len(commits)})
}

func (s *HTTPServer) handleExportDoc(w http.ResponseWriter, r *http.Request, docID string) {
	format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatHTML
	}
	result, err := s.service.ExportDoc(r.Context(), docID, format)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// Response shapes

func projectResponse(project store.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"created_by":  project.CreatedBy,
		"status":      project.Status,
		"metadata":    project.Metadata,
		"created_at":  project.CreatedAt.Format(time.RFC3339),
		"updated_at":  project.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *HTTPServer) analysisResponse(detail AnalysisDetail) map[string]any {
	response := s.sessionSummary(detail.Session)
	response["project_name"] = detail.ProjectName
	response["iteration_history"] = detail.Session.IterationHistory
	return response
}

func (s *HTTPServer) sessionSummary(session store.AnalysisSession) map[string]any {
	return map[string]any{
		"id":              session.ID,
		"project_id":      session.ProjectID,
		"analysis_type":   session.AnalysisType,
		"status":          session.Status,
		"yaml_config":     session.YAMLConfig,
		"answers":         session.Answers,
		"iteration":       session.Iteration,
		"needs_more_info": session.NeedsMoreInfo,
		"share_token":     session.ShareToken,
		"share_url":       s.service.ShareURL(session.ShareToken),
		"created_by":      session.CreatedBy,
		"assigned_to":     session.AssignedTo,
		"created_at":      session.CreatedAt.Format(time.RFC3339),
		"updated_at":      session.UpdatedAt.Format(time.RFC3339),
	}
}

func docResponse(doc store.GeneratedDoc) map[string]any {
	return map[string]any{
		"id":           doc.ID,
		"project_id":   doc.ProjectID,
		"session_id":   doc.SessionID,
		"files":        doc.Files,
		"generated_by": doc.GeneratedBy,
		"generated_at": doc.GeneratedAt.Format(time.RFC3339),
	}
}

// Plumbing

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported export format", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is unavailable on this host", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
