package handler

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SourcesHandler struct {
	registry *registry.Service
	logger   *zap.Logger
}

func NewSourcesHandler(registry *registry.Service, logger *zap.Logger) *SourcesHandler {
	return &SourcesHandler{registry: registry, logger: logger}
}

func (h *SourcesHandler) List(c *gin.Context) {
	filter := models.SourceFilter{
		SourceType: models.SourceType(strings.ToUpper(c.Query("type"))),
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, h.logger, apperrors.Validation("active must be a boolean", err))
			return
		}
		filter.ActiveOnly = active
	}

	sources, err := h.registry.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

func (h *SourcesHandler) Create(c *gin.Context) {
	var req registry.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, h.logger, apperrors.Validation("Invalid request data", err))
		return
	}
	source, err := h.registry.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, source)
}

func (h *SourcesHandler) Update(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	var patch models.SourcePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, h.logger, apperrors.Validation("Invalid request data", err))
		return
	}
	source, err := h.registry.Update(c.Request.Context(), id, patch)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, source)
}

// Delete deactivates the source; sources are never removed.
func (h *SourcesHandler) Delete(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	source, err := h.registry.Delete(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, source)
}
