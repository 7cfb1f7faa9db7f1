package ingestor

import (
	"context"
	"fmt"
	"time"

	"digitaltwin/common/cache"
	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/common/telemetry"
	"digitaltwin/common/textnorm"
	"digitaltwin/services/ingestion/internal/scraper"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("digitaltwin/ingestion/ingestor")

type SourceMarker interface {
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Options struct {
	Retry queue.RetryPolicy
	// SeenTTL is how long a capture fingerprint suppresses re-enqueueing the
	// same text from the same source.
	SeenTTL time.Duration
}

// Ingestor runs one scrape of one source: fetch with retries, enqueue every
// capture for extraction and advance the source's lastProcessedAt. A fetch
// that exhausts its retries is dead-lettered as failed-scrape.
type Ingestor struct {
	scrapers    scraper.Registry
	producer    queue.Producer
	deadLetters queue.DeadLetterSink
	sources     SourceMarker
	seen        cache.Cache
	opts        Options
	logger      *zap.Logger
	now         func() time.Time
}

func New(scrapers scraper.Registry, producer queue.Producer, deadLetters queue.DeadLetterSink, sources SourceMarker, seen cache.Cache, opts Options, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		scrapers:    scrapers,
		producer:    producer,
		deadLetters: deadLetters,
		sources:     sources,
		seen:        seen,
		opts:        opts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type RunResult struct {
	Captures     int
	Enqueued     int
	Skipped      int
	Attempts     int
	DeadLettered bool
}

func retryableScrapeError(err error) bool {
	return !apperrors.Is(err, apperrors.ErrTypeValidation)
}

// Run scrapes source once. Scrape failures end in the dead letter queue and
// are not returned; Run only fails when the source cannot be scraped at all
// or the captures cannot be handed on.
func (i *Ingestor) Run(ctx context.Context, source models.IngestionSource) (RunResult, error) {
	ctx, span := tracer.Start(ctx, "Ingestor.Run")
	defer span.End()
	span.SetAttributes(
		telemetry.String("source.id", source.ID.String()),
		telemetry.String("source.type", string(source.SourceType)),
	)

	var result RunResult
	s, err := i.scrapers.Get(source.SourceType)
	if err != nil {
		span.RecordError(err)
		return result, err
	}

	policy := i.opts.Retry
	if policy.Retryable == nil {
		policy.Retryable = retryableScrapeError
	}

	// The cursor is the start of the successful fetch, so anything posted
	// while it was in flight is picked up by the next run.
	var (
		captures  []models.RawCapture
		fetchedAt time.Time
	)
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var fetchErr error
		fetchedAt = i.now()
		captures, fetchErr = s.Fetch(ctx, source)
		if fetchErr != nil {
			i.logger.Warn("scrape attempt failed",
				zap.String("source_id", source.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(fetchErr))
		}
		return fetchErr
	})
	result.Attempts = attempts

	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if dlErr := i.deadLetter(ctx, source, attempts, err); dlErr != nil {
			return result, dlErr
		}
		result.DeadLettered = true
		return result, nil
	}

	result.Captures = len(captures)
	for _, capture := range captures {
		enqueued, err := i.enqueue(ctx, source, capture)
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		if enqueued {
			result.Enqueued++
		} else {
			result.Skipped++
		}
	}

	if err := i.sources.MarkProcessed(ctx, source.ID, fetchedAt); err != nil {
		return result, fmt.Errorf("mark source processed: %w", err)
	}

	span.SetAttributes(
		telemetry.Int("captures", result.Captures),
		telemetry.Int("enqueued", result.Enqueued),
	)
	i.logger.Info("source scraped",
		zap.String("source_id", source.ID.String()),
		zap.String("source_type", string(source.SourceType)),
		zap.Int("captures", result.Captures),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("skipped", result.Skipped),
		zap.Int("attempts", attempts))
	return result, nil
}

func (i *Ingestor) seenKey(source models.IngestionSource, capture models.RawCapture) string {
	return "capture:" + source.ID.String() + ":" + textnorm.Fingerprint(capture.RawText)
}

// enqueue publishes capture unless the same text from the same source was
// enqueued within SeenTTL.
func (i *Ingestor) enqueue(ctx context.Context, source models.IngestionSource, capture models.RawCapture) (bool, error) {
	key := i.seenKey(source, capture)
	if i.seen != nil {
		fresh, err := i.seen.SetIfAbsent(ctx, key, capture.CapturedAt.Format(time.RFC3339), i.opts.SeenTTL)
		if err != nil {
			i.logger.Warn("capture cache unavailable", zap.Error(err))
		} else if !fresh {
			return false, nil
		}
	}

	job, err := queue.NewJob(queue.JobExtractCapture, capture)
	if err != nil {
		return false, err
	}
	if err := i.producer.Enqueue(ctx, queue.Extraction, job); err != nil {
		if i.seen != nil {
			_ = i.seen.Delete(ctx, key)
		}
		return false, fmt.Errorf("enqueue capture: %w", err)
	}
	return true, nil
}

func (i *Ingestor) deadLetter(ctx context.Context, source models.IngestionSource, attempts int, cause error) error {
	job, err := queue.NewJob(queue.JobScrapeSource, source)
	if err != nil {
		return err
	}
	job.Attempts = attempts
	job.FailedReason = cause.Error()

	if err := i.deadLetters.Push(ctx, models.KindFailedScrape, job, cause, i.now()); err != nil {
		i.logger.Error("failed to dead-letter scrape",
			zap.String("source_id", source.ID.String()),
			zap.Error(err))
		return fmt.Errorf("dead-letter scrape: %w", err)
	}
	return nil
}
