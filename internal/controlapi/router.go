// Package controlapi exposes the supervisor's domain operations over a
// gin-based HTTP surface: session and workflow CRUD plus a per-session
// Server-Sent-Events stream.
package controlapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kdlbs/agentsupervisor/internal/common/apperr"
	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/domain"
)

// SessionService is the narrow Session Manager slice the API needs.
type SessionService interface {
	StartAgent(ctx context.Context, agentName, model, prompt string) (string, error)
	ResumeAgent(ctx context.Context, sessionID, prompt string) (string, error)
	StopAgent(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
}

// WorkflowService is the narrow Workflow Engine slice the API needs.
type WorkflowService interface {
	Validate(ctx context.Context, workflowID string) error
	Start(ctx context.Context, workflowID string) error
	Stop(ctx context.Context, workflowID string) error
}

// WorkflowReader serves read-through accessors the engine itself doesn't
// own directly (it only mutates through domain.WorkflowRepository).
type WorkflowReader interface {
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, bool, error)
	ListWorkflows(ctx context.Context) ([]domain.Workflow, error)
	GetSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error)
	GetEdges(ctx context.Context, workflowID string) ([]domain.WorkflowEdge, error)
}

// WorkflowWriter is the persistence slice the import endpoint needs to
// land a freshly-parsed workflow document.
type WorkflowWriter interface {
	SaveWorkflow(ctx context.Context, wf domain.Workflow) error
	SaveStep(ctx context.Context, step domain.WorkflowStep) error
	SaveEdge(ctx context.Context, edge domain.WorkflowEdge) error
}

// Handlers wires the domain services into gin handler functions.
type Handlers struct {
	sessions  SessionService
	workflows WorkflowService
	wfReader  WorkflowReader
	wfWriter  WorkflowWriter
	events    SessionEventSource
	log       *logger.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(sessions SessionService, workflows WorkflowService, wfReader WorkflowReader, wfWriter WorkflowWriter, events SessionEventSource, log *logger.Logger) *Handlers {
	return &Handlers{sessions: sessions, workflows: workflows, wfReader: wfReader, wfWriter: wfWriter, events: events, log: log.WithFields()}
}

// RegisterRoutes mounts every route named in SPEC_FULL.md §4.7.
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	router.POST("/sessions", h.startSession)
	router.POST("/sessions/:id/resume", h.resumeSession)
	router.POST("/sessions/:id/stop", h.stopSession)
	router.GET("/sessions", h.listSessions)
	router.GET("/sessions/:id", h.getSession)
	router.GET("/sessions/:id/events", h.streamSessionEvents)

	router.POST("/workflows/:id/start", h.startWorkflow)
	router.POST("/workflows/:id/stop", h.stopWorkflow)
	router.POST("/workflows/:id/validate", h.validateWorkflow)
	router.GET("/workflows", h.listWorkflows)
	router.GET("/workflows/:id", h.getWorkflow)
	router.GET("/workflows/:id/export", h.exportWorkflow)
	router.POST("/workflows/import", h.importWorkflow)
}

func respondErr(c *gin.Context, err error) {
	var kind string
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		kind = string(appErr.Kind)
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"kind": kind, "message": err.Error()})
}

type startSessionBody struct {
	AgentName string `json:"agent_name" binding:"required"`
	Model     string `json:"model" binding:"required"`
	Prompt    string `json:"prompt" binding:"required"`
}

func (h *Handlers) startSession(c *gin.Context) {
	var body startSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid payload: " + err.Error()})
		return
	}
	sessionID, err := h.sessions.StartAgent(c.Request.Context(), body.AgentName, body.Model, body.Prompt)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

type resumeSessionBody struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (h *Handlers) resumeSession(c *gin.Context) {
	id := c.Param("id")
	var body resumeSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid payload: " + err.Error()})
		return
	}
	sessionID, err := h.sessions.ResumeAgent(c.Request.Context(), id, body.Prompt)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID})
}

func (h *Handlers) stopSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.StopAgent(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) listSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handlers) getSession(c *gin.Context) {
	sess, err := h.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handlers) startWorkflow(c *gin.Context) {
	if err := h.workflows.Start(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) stopWorkflow(c *gin.Context) {
	if err := h.workflows.Stop(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) validateWorkflow(c *gin.Context) {
	if err := h.workflows.Validate(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *Handlers) listWorkflows(c *gin.Context) {
	workflows, err := h.wfReader.ListWorkflows(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, workflows)
}

func (h *Handlers) getWorkflow(c *gin.Context) {
	wf, ok, err := h.wfReader.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "workflow not found"})
		return
	}
	c.JSON(http.StatusOK, wf)
}
