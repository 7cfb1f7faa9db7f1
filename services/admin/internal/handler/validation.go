package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"digitaltwin/common/audit"
	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/services/admin/internal/auth"
	"digitaltwin/services/admin/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Reviewer interface {
	ListPending(ctx context.Context, page, limit int) (workflow.Page, error)
	Approve(ctx context.Context, id uuid.UUID, actor string) (*models.CastingCall, error)
	Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.CastingCall, error)
	Edit(ctx context.Context, id uuid.UUID, actor string, patch models.CastingCallPatch) (*models.CastingCall, error)
}

type ValidationHandler struct {
	reviewer Reviewer
	audit    audit.Log
	logger   *zap.Logger
}

func NewValidationHandler(reviewer Reviewer, log audit.Log, logger *zap.Logger) *ValidationHandler {
	return &ValidationHandler{reviewer: reviewer, audit: log, logger: logger}
}

func (h *ValidationHandler) Queue(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	limit, err := queryInt(c, "limit", workflow.DefaultPageSize)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	result, err := h.reviewer.ListPending(c.Request.Context(), page, limit)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ValidationHandler) Approve(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	call, err := h.reviewer.Approve(c.Request.Context(), id, auth.ActorID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *ValidationHandler) Reject(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		fail(c, h.logger, apperrors.Validation("Invalid request data", err))
		return
	}
	call, err := h.reviewer.Reject(c.Request.Context(), id, auth.ActorID(c), body.Reason)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// Edit binds only the admin-editable fields; id, status, createdAt,
// isAggregated and contentHash in the body are ignored.
func (h *ValidationHandler) Edit(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	var patch models.CastingCallPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, h.logger, apperrors.Validation("Invalid request data", err))
		return
	}
	if patch.Empty() {
		fail(c, h.logger, apperrors.Validation("patch has no editable fields", nil))
		return
	}
	call, err := h.reviewer.Edit(c.Request.Context(), id, auth.ActorID(c), patch)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *ValidationHandler) History(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	events, err := h.audit.ListForCastingCall(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
