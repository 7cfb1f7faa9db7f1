package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"
	"digitaltwin/common/whatsapp"

	"go.uber.org/zap"
)

type WhatsAppOptions struct {
	BaseURL string
	Token   string
	// Lookback bounds the first poll of a source that was never processed.
	Lookback time.Duration
	// Overlap rewinds every later poll to absorb clock skew with the bridge.
	// Repeats are dropped by the ingestor's capture cache.
	Overlap time.Duration
}

// WhatsAppScraper polls a WhatsApp bridge for new messages in a monitored
// group. Each non-empty text message becomes one capture.
type WhatsAppScraper struct {
	client *http.Client
	opts   WhatsAppOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewWhatsAppScraper(client *http.Client, opts WhatsAppOptions, logger *zap.Logger) *WhatsAppScraper {
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &WhatsAppScraper{
		client: client,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *WhatsAppScraper) Type() models.SourceType { return models.SourceTypeWhatsApp }

type messagesResponse struct {
	Messages []whatsapp.Message `json:"messages"`
}

func (s *WhatsAppScraper) since(source models.IngestionSource) time.Time {
	if source.LastProcessedAt != nil {
		return source.LastProcessedAt.Add(-s.opts.Overlap)
	}
	return s.now().Add(-s.opts.Lookback)
}

func (s *WhatsAppScraper) Fetch(ctx context.Context, source models.IngestionSource) ([]models.RawCapture, error) {
	ctx, span := tracer.Start(ctx, "WhatsAppScraper.Fetch")
	defer span.End()

	since := s.since(source)
	endpoint := fmt.Sprintf("%s/groups/%s/messages?since=%d",
		s.opts.BaseURL, url.PathEscape(source.SourceIdentifier), since.Unix())
	span.SetAttributes(
		telemetry.String("source.id", source.ID.String()),
		telemetry.String("http.url", endpoint),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Validation("creating request", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Upstream("executing request", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Warn("failed to close response body", zap.Error(cerr))
		}
	}()

	span.SetAttributes(telemetry.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Upstream(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	var body messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		span.RecordError(err)
		return nil, apperrors.Upstream("decoding response", err)
	}

	captures := make([]models.RawCapture, 0, len(body.Messages))
	for _, msg := range body.Messages {
		if capture, ok := whatsapp.Capture(source, msg); ok {
			captures = append(captures, capture)
		}
	}

	span.SetAttributes(telemetry.Int("messages.count", len(body.Messages)))
	s.logger.Debug("polled whatsapp group",
		zap.String("source_id", source.ID.String()),
		zap.Time("since", since),
		zap.Int("messages", len(body.Messages)),
		zap.Int("captures", len(captures)))

	return captures, nil
}
