package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/common/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const WebhookSecretHeader = "X-Webhook-Secret"

type SourceFinder interface {
	FindActive(ctx context.Context, identifier string) (*models.IngestionSource, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// WebhookHandler accepts messages pushed by the WhatsApp bridge and queues
// them for extraction like polled messages.
type WebhookHandler struct {
	secret   string
	sources  SourceFinder
	producer queue.Producer
	logger   *zap.Logger
}

func NewWebhookHandler(secret string, sources SourceFinder, producer queue.Producer, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, sources: sources, producer: producer, logger: logger}
}

type webhookBody struct {
	Messages []whatsapp.Message `json:"messages"`
}

func (h *WebhookHandler) WhatsApp(c *gin.Context) {
	if h.secret == "" {
		WriteError(c, apperrors.Forbidden("webhook is disabled", nil))
		return
	}
	got := c.GetHeader(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		WriteError(c, apperrors.Unauthorized("invalid webhook secret", nil))
		return
	}

	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, h.logger, apperrors.Validation("Invalid request data", err))
		return
	}

	ctx := c.Request.Context()
	accepted, ignored := 0, 0
	touched := map[uuid.UUID]struct{}{}
	for _, msg := range body.Messages {
		source, err := h.sources.FindActive(ctx, msg.ChatID)
		if err != nil {
			fail(c, h.logger, err)
			return
		}
		if source == nil || source.SourceType != models.SourceTypeWhatsApp {
			ignored++
			continue
		}
		capture, ok := whatsapp.Capture(*source, msg)
		if !ok {
			ignored++
			continue
		}
		job, err := queue.NewJob(queue.JobExtractCapture, capture)
		if err == nil {
			err = h.producer.Enqueue(ctx, queue.Extraction, job)
		}
		if err != nil {
			fail(c, h.logger, apperrors.Internal("failed to queue message", err))
			return
		}
		accepted++
		touched[source.ID] = struct{}{}
	}

	now := time.Now().UTC()
	for id := range touched {
		if err := h.sources.MarkProcessed(ctx, id, now); err != nil {
			h.logger.Warn("failed to mark source processed", zap.String("source_id", id.String()), zap.Error(err))
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "ignored": ignored})
}
