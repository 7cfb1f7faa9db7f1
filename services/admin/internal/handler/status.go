package handler

import (
	"context"
	"net/http"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrchestratorClient interface {
	Status(ctx context.Context) (models.OrchestratorStatus, error)
	Trigger(ctx context.Context) error
}

type SourceCounter interface {
	Counts(ctx context.Context) (models.SourceCounts, error)
}

type CallCounter interface {
	Counts(ctx context.Context) (models.CallCounts, error)
}

type QueueDepth interface {
	Depth(ctx context.Context, q queue.Queue) (int, error)
}

type DeadLetterCounter interface {
	Count(ctx context.Context, kind models.DeadLetterKind) (int, error)
}

type StatusHandler struct {
	orchestrator OrchestratorClient
	sources      SourceCounter
	calls        CallCounter
	queues       QueueDepth
	deadLetters  DeadLetterCounter
	logger       *zap.Logger
}

func NewStatusHandler(orchestrator OrchestratorClient, sources SourceCounter, calls CallCounter, queues QueueDepth, deadLetters DeadLetterCounter, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{orchestrator: orchestrator, sources: sources, calls: calls, queues: queues, deadLetters: deadLetters, logger: logger}
}

type queueCounts struct {
	ScrapedRoles int `json:"scrapedRoles"`
	Validation   int `json:"validation"`
	DLQ          int `json:"dlq"`
}

type statusResponse struct {
	IsRunning    bool                       `json:"isRunning"`
	Orchestrator *models.OrchestratorStatus `json:"orchestrator,omitempty"`
	Sources      models.SourceCounts        `json:"sources"`
	Calls        models.CallCounts          `json:"calls"`
	Queues       queueCounts                `json:"queues"`
}

// Status reports pipeline health. An unreachable orchestrator is reported as
// not running rather than failing the request.
func (h *StatusHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	var resp statusResponse

	if st, err := h.orchestrator.Status(ctx); err != nil {
		h.logger.Warn("orchestrator status unavailable", zap.Error(err))
	} else {
		resp.IsRunning = st.IsRunning
		resp.Orchestrator = &st
	}

	var err error
	if resp.Sources, err = h.sources.Counts(ctx); err != nil {
		fail(c, h.logger, err)
		return
	}
	if resp.Calls, err = h.calls.Counts(ctx); err != nil {
		fail(c, h.logger, err)
		return
	}

	resp.Queues = queueCounts{
		ScrapedRoles: h.depth(ctx, queue.Extraction),
		Validation:   h.depth(ctx, queue.Validation),
		DLQ:          h.deadLetterCount(ctx),
	}
	c.JSON(http.StatusOK, resp)
}

// deadLetterCount reports stored dead letters. The TWIN_DLQ stream itself is
// only a transit queue and is drained as soon as entries are recorded.
func (h *StatusHandler) deadLetterCount(ctx context.Context) int {
	n, err := h.deadLetters.Count(ctx, "")
	if err != nil {
		h.logger.Warn("dead letter count unavailable", zap.Error(err))
		return 0
	}
	return n
}

func (h *StatusHandler) depth(ctx context.Context, q queue.Queue) int {
	n, err := h.queues.Depth(ctx, q)
	if err != nil {
		h.logger.Warn("queue depth unavailable", zap.String("stream", q.Stream), zap.Error(err))
		return 0
	}
	return n
}

// Trigger asks the orchestrator for a manual run and returns 202 without
// waiting for it.
func (h *StatusHandler) Trigger(c *gin.Context) {
	if err := h.orchestrator.Trigger(c.Request.Context()); err != nil {
		fail(c, h.logger, apperrors.Upstream("orchestrator did not accept the manual run", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
