// Package mcp exposes the orchestrator as MCP tools, so agents (including
// the ones we launch) can inspect and control sessions over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sprintdeck/orc/internal/agent"
	"github.com/sprintdeck/orc/internal/models"
	"github.com/sprintdeck/orc/internal/sessions"
	"github.com/sprintdeck/orc/internal/store"
)

// Server wraps the orchestration core and exposes it as MCP tools.
type Server struct {
	store    store.Store
	sessions *sessions.Manager
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, mgr *sessions.Manager) *Server {
	return &Server{store: s, sessions: mgr}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("orc", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.startSessionTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.sessionOutputTool())
	srv.AddTool(s.cancelSessionTool())
	srv.AddTool(s.resolveAgentTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// orc_start_session
func (s *Server) startSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("orc_start_session",
		mcp.WithDescription("Start an agent session against an epic or story. Refuses with the conflicting session when the target is already busy. Returns the running session as JSON."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or id")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt the agent runs with")),
		mcp.WithString("epic_id", mcp.Description("Target epic id")),
		mcp.WithString("story_id", mcp.Description("Target story id")),
		mcp.WithString("epic_title", mcp.Description("Epic title, used for branch naming")),
		mcp.WithString("role", mcp.Description("Agent role: ticket_build (default), ticket_review, security_review, epic_plan")),
		mcp.WithString("mode", mcp.Description("Session mode: code (default) or plan")),
		mcp.WithString("named_agent_id", mcp.Description("Explicit named agent config id, bypassing role defaults")),
	)
	return tool, s.handleStartSession
}

func (s *Server) handleStartSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: prompt"), nil
	}

	p, err := s.resolveProject(ctx, projectName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
	}

	role := models.AgentRole(request.GetString("role", string(models.RoleTicketBuild)))
	mode := models.SessionMode(request.GetString("mode", string(models.SessionModeCode)))

	session, err := s.sessions.Start(ctx, sessions.StartInput{
		ProjectID:    p.ID,
		EpicID:       request.GetString("epic_id", ""),
		StoryID:      request.GetString("story_id", ""),
		EpicTitle:    request.GetString("epic_title", ""),
		Role:         role,
		Mode:         mode,
		Prompt:       prompt,
		NamedAgentID: request.GetString("named_agent_id", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start session: %v", err)), nil
	}

	return marshalResult(sessionOut(session))
}

// orc_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("orc_list_sessions",
		mcp.WithDescription("List agent sessions, optionally filtered by project and status. Returns a JSON array ordered newest first."),
		mcp.WithString("project", mcp.Description("Project name or id to filter by")),
		mcp.WithString("status", mcp.Description("Status filter: queued, running, completed, failed, cancelled")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionFilter{}

	if projectName := request.GetString("project", ""); projectName != "" {
		p, err := s.resolveProject(ctx, projectName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
		}
		filter.ProjectID = p.ID
	}
	if raw := request.GetString("status", ""); raw != "" {
		status := models.SessionStatus(raw)
		if !models.ValidSessionStatus(status) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", raw)), nil
		}
		filter.Statuses = []models.SessionStatus{status}
	}

	list, err := s.store.ListAgentSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	out := make([]map[string]any, len(list))
	for i, session := range list {
		out[i] = sessionOut(session)
	}
	return marshalResult(out)
}

// orc_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("orc_get_session",
		mcp.WithDescription("Get one agent session by id, including its status, target, provider, and error."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleGetSession
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	session, err := s.store.GetAgentSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}
	return marshalResult(sessionOut(session))
}

// orc_session_output
func (s *Server) sessionOutputTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("orc_session_output",
		mcp.WithDescription("Get a session's final normalized output text, plus its status."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleSessionOutput
}

func (s *Server) handleSessionOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	session, err := s.store.GetAgentSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}
	text, err := s.sessions.FinalText(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read output: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"session_id": session.ID,
		"status":     string(session.Status),
		"content":    text,
	})
}

// orc_cancel_session
func (s *Server) cancelSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("orc_cancel_session",
		mcp.WithDescription("Cancel a queued or running session. Signals the provider process (best-effort) and transitions the session to cancelled. Fails when the session already finished."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleCancelSession
}

func (s *Server) handleCancelSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	session, err := s.sessions.Cancel(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	return marshalResult(sessionOut(session))
}

// orc_resolve_agent
func (s *Server) resolveAgentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("orc_resolve_agent",
		mcp.WithDescription("Preview which provider and model a role would resolve to, without starting anything."),
		mcp.WithString("role", mcp.Required(), mcp.Description("Agent role: ticket_build, ticket_review, security_review, epic_plan")),
		mcp.WithString("project", mcp.Description("Project name or id for project-scoped defaults")),
		mcp.WithString("named_agent_id", mcp.Description("Explicit named agent config id")),
	)
	return tool, s.handleResolveAgent
}

func (s *Server) handleResolveAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role, err := request.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: role"), nil
	}

	projectID := ""
	if projectName := request.GetString("project", ""); projectName != "" {
		p, err := s.resolveProject(ctx, projectName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
		}
		projectID = p.ID
	}

	resolution, err := agent.Resolve(ctx, s.store, models.AgentRole(role), projectID,
		request.GetString("named_agent_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve failed: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"provider":       resolution.Provider,
		"model":          resolution.Model,
		"named_agent_id": resolution.NamedAgentID,
		"name":           resolution.Name,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveProject tries to find a project by name first, then by id.
func (s *Server) resolveProject(ctx context.Context, name string) (*models.Project, error) {
	if p, err := s.store.GetProjectByName(ctx, name); err == nil {
		return p, nil
	}
	if p, err := s.store.GetProject(ctx, name); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", name)
}

func sessionOut(session *models.AgentSession) map[string]any {
	out := map[string]any{
		"session_id":    session.ID,
		"project_id":    session.ProjectID,
		"epic_id":       session.EpicID,
		"story_id":      session.StoryID,
		"status":        string(session.Status),
		"mode":          string(session.Mode),
		"provider":      session.Provider,
		"model":         session.Model,
		"branch":        session.Branch,
		"worktree_path": session.WorktreePath,
		"created_at":    session.CreatedAt.Format(time.RFC3339),
	}
	if session.StartedAt != nil {
		out["started_at"] = session.StartedAt.Format(time.RFC3339)
	}
	if session.EndedAt != nil {
		out["ended_at"] = session.EndedAt.Format(time.RFC3339)
	}
	if session.Error != "" {
		out["error"] = session.Error
	}
	return out
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
