// Package api provides the REST surface over the orchestration core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sprintdeck/orc/internal/agent"
	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/review"
	"github.com/sprintdeck/orc/internal/sessions"
	"github.com/sprintdeck/orc/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store      store.Store
	sessions   *sessions.Manager
	classifier review.Classifier
	logger     *slog.Logger
}

// NewServer creates a new API server. The classifier may be nil, in which
// case the phrase matcher is used for verdict requests.
func NewServer(s store.Store, mgr *sessions.Manager, classifier review.Classifier, logger *slog.Logger) *Server {
	if classifier == nil {
		classifier = review.NewPhraseClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, sessions: mgr, classifier: classifier, logger: logger}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/projects", s.createProject)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", s.deleteProject)

	mux.HandleFunc("GET /api/v1/agents", s.listNamedAgents)
	mux.HandleFunc("POST /api/v1/agents", s.createNamedAgent)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.getNamedAgent)
	mux.HandleFunc("PUT /api/v1/agents/{id}", s.updateNamedAgent)
	mux.HandleFunc("DELETE /api/v1/agents/{id}", s.deleteNamedAgent)
	mux.HandleFunc("GET /api/v1/agents/resolve", s.resolveAgent)

	mux.HandleFunc("GET /api/v1/defaults", s.listRoleDefaults)
	mux.HandleFunc("PUT /api/v1/defaults", s.upsertRoleDefault)
	mux.HandleFunc("DELETE /api/v1/defaults", s.deleteRoleDefault)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("POST /api/v1/sessions", s.startSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.cancelSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/chunks", s.listSessionChunks)
	mux.HandleFunc("GET /api/v1/sessions/{id}/output", s.sessionOutput)
	mux.HandleFunc("GET /api/v1/sessions/{id}/verdict", s.sessionVerdict)

	mux.HandleFunc("GET /api/v1/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store/domain errors onto HTTP statuses. Conflicts
// carry structured detail so clients can tell "already finished" from
// "target busy".
func writeStoreError(w http.ResponseWriter, err error) {
	var busy *models.TargetBusyError
	if errors.As(err, &busy) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       busy.Error(),
			"conflicting": busy.Conflicting,
		})
		return
	}
	var invalid *models.InvalidTransitionError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      invalid.Error(),
			"session_id": invalid.SessionID,
			"status":     invalid.Status,
			"attempted":  invalid.Attempted,
		})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.store.CreateProject(r.Context(), &p); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.store.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Named agents ---

func (s *Server) listNamedAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListNamedAgents(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) createNamedAgent(w http.ResponseWriter, r *http.Request) {
	var a models.NamedAgentConfig
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if a.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !models.ValidProvider(a.Provider) {
		writeError(w, http.StatusBadRequest, "unknown provider: "+a.Provider)
		return
	}
	if err := s.store.CreateNamedAgent(r.Context(), &a); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) getNamedAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetNamedAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) updateNamedAgent(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetNamedAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var patch models.NamedAgentConfig
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.Name != "" {
		existing.Name = patch.Name
	}
	if patch.Provider != "" {
		if !models.ValidProvider(patch.Provider) {
			writeError(w, http.StatusBadRequest, "unknown provider: "+patch.Provider)
			return
		}
		existing.Provider = patch.Provider
	}
	if patch.Model != "" {
		existing.Model = patch.Model
	}

	if err := s.store.UpdateNamedAgent(r.Context(), existing); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteNamedAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteNamedAgent(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveAgent(w http.ResponseWriter, r *http.Request) {
	role := models.AgentRole(r.URL.Query().Get("role"))
	if role == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}
	resolution, err := agent.Resolve(r.Context(), s.store, role,
		r.URL.Query().Get("project_id"), r.URL.Query().Get("named_agent_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

// --- Role defaults ---

func (s *Server) listRoleDefaults(w http.ResponseWriter, r *http.Request) {
	defaults, err := s.store.ListRoleDefaults(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defaults)
}

func (s *Server) upsertRoleDefault(w http.ResponseWriter, r *http.Request) {
	var d models.AgentRoleDefault
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if d.Role == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}
	if d.Scope == "" {
		d.Scope = models.ScopeGlobal
	}
	if d.NamedAgentID == "" && !models.ValidProvider(d.Provider) {
		writeError(w, http.StatusBadRequest, "unknown provider: "+d.Provider)
		return
	}
	if err := s.store.UpsertRoleDefault(r.Context(), &d); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) deleteRoleDefault(w http.ResponseWriter, r *http.Request) {
	role := models.AgentRole(r.URL.Query().Get("role"))
	scope := r.URL.Query().Get("scope")
	if role == "" || scope == "" {
		writeError(w, http.StatusBadRequest, "role and scope are required")
		return
	}
	if err := s.store.DeleteRoleDefault(r.Context(), role, scope); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sessions ---

type startSessionRequest struct {
	ProjectID    string             `json:"project_id"`
	EpicID       string             `json:"epic_id"`
	StoryID      string             `json:"story_id"`
	EpicTitle    string             `json:"epic_title"`
	Role         models.AgentRole   `json:"role"`
	Mode         models.SessionMode `json:"mode"`
	Prompt       string             `json:"prompt"`
	NamedAgentID string             `json:"named_agent_id"`
	ResumeFrom   string             `json:"resume_from"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Mode != "" && req.Mode != models.SessionModePlan && req.Mode != models.SessionModeCode {
		writeError(w, http.StatusBadRequest, "unknown mode: "+string(req.Mode))
		return
	}

	session, err := s.sessions.Start(r.Context(), sessions.StartInput{
		ProjectID:    req.ProjectID,
		EpicID:       req.EpicID,
		StoryID:      req.StoryID,
		EpicTitle:    req.EpicTitle,
		Role:         req.Role,
		Mode:         req.Mode,
		Prompt:       req.Prompt,
		NamedAgentID: req.NamedAgentID,
		ResumeFrom:   req.ResumeFrom,
	})
	if err != nil {
		var busy *models.TargetBusyError
		if !errors.As(err, &busy) && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("start session failed", "error", err)
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{ProjectID: r.URL.Query().Get("project_id")}
	for _, raw := range r.URL.Query()["status"] {
		status := models.SessionStatus(raw)
		if !models.ValidSessionStatus(status) {
			writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	list, err := s.store.ListAgentSessions(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetAgentSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// cancelSession stops a running (or queued) session. Cancelling a finished
// session is a 409 with the structured transition detail, not a no-op.
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) listSessionChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetAgentSession(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	stream := models.StreamType(r.URL.Query().Get("stream"))
	if stream == "" {
		stream = models.StreamOutput
	}
	if !models.ValidStreamType(stream) {
		writeError(w, http.StatusBadRequest, "unknown stream: "+string(stream))
		return
	}

	chunks, err := s.store.ListChunks(r.Context(), id, stream)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (s *Server) sessionOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := s.store.GetAgentSession(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	text, err := s.sessions.FinalText(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"status":     session.Status,
		"content":    text,
	})
}

func (s *Server) sessionVerdict(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetAgentSession(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	text, err := s.sessions.FinalText(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	verdict, err := s.classifier.Classify(ctx, text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"verdict":    verdict,
	})
}
