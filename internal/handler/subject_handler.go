package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/phd-adp-api/internal/dto"
	"github.com/noah-isme/phd-adp-api/internal/models"
	"github.com/noah-isme/phd-adp-api/internal/service"
	appErrors "github.com/noah-isme/phd-adp-api/pkg/errors"
	"github.com/noah-isme/phd-adp-api/pkg/response"
)

type workflowService interface {
	CreateSubject(ctx context.Context, req dto.CreateSubjectRequest, actor *models.JWTClaims) (*models.Subject, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Subject, error)
	List(ctx context.Context, query dto.SubjectQuery, actor *models.JWTClaims) ([]models.Subject, error)
	AssignDirector(ctx context.Context, id string, req dto.AssignDirectorRequest, actor *models.JWTClaims) (*models.Subject, error)
	Attempt(ctx context.Context, subjectID string, req dto.TransitionRequest, actor *models.JWTClaims) (*dto.TransitionResponse, error)
	LegalActions(ctx context.Context, subjectID string, actor *models.JWTClaims) ([]dto.ActionOption, error)
	History(ctx context.Context, subjectID string, actor *models.JWTClaims) ([]models.TransitionRecord, error)
}

type historyExporter interface {
	HistoryDocument(ctx context.Context, subjectID string, format service.ExportFormat, actor *models.JWTClaims) ([]byte, string, error)
}

// SubjectHandler wires the workflow engine to HTTP endpoints.
type SubjectHandler struct {
	workflow workflowService
	exporter historyExporter
}

// NewSubjectHandler constructs the handler. Exporter may be nil when
// document downloads are disabled.
func NewSubjectHandler(workflow workflowService, exporter historyExporter) *SubjectHandler {
	return &SubjectHandler{workflow: workflow, exporter: exporter}
}

// Create godoc
// @Summary Open a new dossier
// @Description Create a candidacy, inscription, soutenance or derogation record in its initial status
// @Tags Subjects
// @Accept json
// @Produce json
// @Param payload body dto.CreateSubjectRequest true "Subject payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /subjects [post]
func (h *SubjectHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid subject payload"))
		return
	}

	subject, err := h.workflow.CreateSubject(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, subject)
}

// Get godoc
// @Summary Fetch one dossier
// @Tags Subjects
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id} [get]
func (h *SubjectHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	subject, err := h.workflow.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, subject, nil)
}

// List godoc
// @Summary List dossiers visible to the caller
// @Description Admins see everything, directors their assignments, students their own records
// @Tags Subjects
// @Produce json
// @Param type query string false "Subject type"
// @Param status query string false "Comma separated statuses"
// @Param limit query int false "Page size (max 200)"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /subjects [get]
func (h *SubjectHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	query := dto.SubjectQuery{
		Type: models.SubjectType(strings.TrimSpace(c.Query("type"))),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				query.Status = append(query.Status, models.Status(s))
			}
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			query.Limit = v
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			query.Offset = v
		}
	}

	subjects, err := h.workflow.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, subjects, nil)
}

// AssignDirector godoc
// @Summary Assign a thesis director
// @Description Attach a director to a dossier; required before any director decision
// @Tags Subjects
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param payload body dto.AssignDirectorRequest true "Director payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /subjects/{id}/director [post]
func (h *SubjectHandler) AssignDirector(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.AssignDirectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid director payload"))
		return
	}

	subject, err := h.workflow.AssignDirector(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, subject, nil)
}

// Transition godoc
// @Summary Apply a workflow action
// @Description Validate and apply one action against the dossier's current status
// @Tags Subjects
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param payload body dto.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /subjects/{id}/transitions [post]
func (h *SubjectHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transition payload"))
		return
	}

	result, err := h.workflow.Attempt(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// Actions godoc
// @Summary List legal actions for the caller
// @Description Returns the moves the calling actor may take from the current status
// @Tags Subjects
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id}/actions [get]
func (h *SubjectHandler) Actions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	actions, err := h.workflow.LegalActions(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, actions, nil)
}

// History godoc
// @Summary Transition history of a dossier
// @Description Chronological append-only log of every applied transition
// @Tags Subjects
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id}/history [get]
func (h *SubjectHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	records, err := h.workflow.History(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, records, nil)
}

// HistoryExport godoc
// @Summary Download the transition history
// @Description Renders the history as a CSV or PDF attestation document
// @Tags Subjects
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Subject ID"
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id}/history/export [get]
func (h *SubjectHandler) HistoryExport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export is not configured"))
		return
	}

	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	payload, contentType, err := h.exporter.HistoryDocument(c.Request.Context(), c.Param("id"), format, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("history-%s.%s", c.Param("id"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
