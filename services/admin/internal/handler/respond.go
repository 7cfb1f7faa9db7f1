package handler

import (
	"net/http"
	"strconv"

	apperrors "digitaltwin/common/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError renders err as {"error": {"code", "message"}} with the status of
// its DomainError type.
func WriteError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{
		"error": errorBody{
			Code:    string(apperrors.TypeOf(err)),
			Message: apperrors.Message(err),
		},
	})
}

func fail(c *gin.Context, logger *zap.Logger, err error) {
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	WriteError(c, err)
}

func pathID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("id must be a UUID", err)
	}
	return id, nil
}

// queryInt returns def when the parameter is absent.
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation(name+" must be an integer", err)
	}
	return n, nil
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
