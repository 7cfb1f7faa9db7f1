package handler

import (
	"fmt"
	"net/http"
	"time"

	"digitaltwin/common/dlq"
	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DLQHandler struct {
	store  dlq.Store
	logger *zap.Logger
}

func NewDLQHandler(store dlq.Store, logger *zap.Logger) *DLQHandler {
	return &DLQHandler{store: store, logger: logger}
}

func kindParam(c *gin.Context) (models.DeadLetterKind, error) {
	kind := models.DeadLetterKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		return "", apperrors.Validation(fmt.Sprintf("unknown dead letter kind %q", kind), nil)
	}
	return kind, nil
}

func (h *DLQHandler) List(c *gin.Context) {
	kind, err := kindParam(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	filter := models.DeadLetterFilter{Kind: kind, Limit: limit}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, h.logger, apperrors.Validation("since must be an RFC 3339 timestamp", err))
			return
		}
		filter.Since = since
	}

	entries, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	total, err := h.store.Count(c.Request.Context(), kind)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if entries == nil {
		entries = []models.DeadLetter{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// Clear is the operator action that empties the dead letter store, for one
// kind or for all of them.
func (h *DLQHandler) Clear(c *gin.Context) {
	kind, err := kindParam(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	n, err := h.store.Clear(c.Request.Context(), kind)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.logger.Info("dead letters cleared", zap.String("kind", string(kind)), zap.Int("count", n))
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
