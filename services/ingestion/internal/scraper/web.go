package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

type WebOptions struct {
	UserAgent    string
	MaxPageBytes int64
}

// WebScraper fetches a page and renders it to markdown text. Each fetch
// yields a single capture.
type WebScraper struct {
	client  *http.Client
	limiter *HostLimiter
	opts    WebOptions
	logger  *zap.Logger
	now     func() time.Time
}

func NewWebScraper(client *http.Client, limiter *HostLimiter, opts WebOptions, logger *zap.Logger) *WebScraper {
	if opts.MaxPageBytes <= 0 {
		opts.MaxPageBytes = 4 << 20
	}
	return &WebScraper{
		client:  client,
		limiter: limiter,
		opts:    opts,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *WebScraper) Type() models.SourceType { return models.SourceTypeWeb }

func (s *WebScraper) Fetch(ctx context.Context, source models.IngestionSource) ([]models.RawCapture, error) {
	ctx, span := tracer.Start(ctx, "WebScraper.Fetch")
	defer span.End()

	target := source.SourceIdentifier
	span.SetAttributes(
		telemetry.String("source.id", source.ID.String()),
		telemetry.String("http.url", target),
	)

	if s.limiter != nil {
		if err := s.limiter.WaitURL(ctx, target); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Validation("creating request", err)
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

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

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, s.opts.MaxPageBytes))
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Upstream("parsing page html", err)
	}

	text := RenderMarkdown(doc)
	if text == "" {
		return nil, apperrors.Upstream("page rendered to empty text", nil)
	}
	span.SetAttributes(telemetry.Int("capture.length", len(text)))

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	s.logger.Debug("fetched web source",
		zap.String("source_id", source.ID.String()),
		zap.String("url", finalURL),
		zap.Int("length", len(text)))

	return []models.RawCapture{{
		SourceID:   source.ID,
		SourceURL:  finalURL,
		SourceName: source.SourceName,
		RawText:    text,
		CapturedAt: s.now(),
	}}, nil
}
