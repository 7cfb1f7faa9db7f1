// Package extraction turns raw captures into casting call candidates for the
// validation queue.
package extraction

import (
	"context"
	"fmt"
	"time"

	"digitaltwin/common/learning"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/common/telemetry"
	"digitaltwin/common/textnorm"
	"digitaltwin/services/processing/internal/classifier"
	"digitaltwin/services/processing/internal/dedup"

	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("digitaltwin/processing/extraction")

type Options struct {
	// MinConfidence is the classifier confidence below which a positive
	// verdict is treated as "not a casting call".
	MinConfidence float64
	// RejectedResubmitAfter matches the deduplication window: text an admin
	// rejected longer ago than this is classified again. Zero skips it for as
	// long as the learning store remembers the rejection.
	RejectedResubmitAfter time.Duration
	Now                   func() time.Time
}

type Extractor struct {
	classifier classifier.Classifier
	producer   queue.Producer
	learning   *learning.Store
	opts       Options
	logger     *zap.Logger
}

// New builds an Extractor. learn may be nil to disable the feedback loop.
func New(c classifier.Classifier, producer queue.Producer, learn *learning.Store, opts Options, logger *zap.Logger) *Extractor {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Extractor{classifier: c, producer: producer, learning: learn, opts: opts, logger: logger}
}

// Extract classifies rawText and normalizes the fields of a positive verdict.
// It returns nil fields when the text is not a casting call.
func (e *Extractor) Extract(ctx context.Context, rawText, sourceURL string) (*models.CastingCallFields, classifier.ClassificationResult, error) {
	ctx, span := tracer.Start(ctx, "Extractor.Extract")
	defer span.End()

	res, err := e.classifier.Classify(ctx, rawText, sourceURL)
	if err != nil {
		span.RecordError(err)
		return nil, res, err
	}
	if !res.IsCastingCall || res.Fields == nil || res.Confidence < e.opts.MinConfidence {
		return nil, res, nil
	}

	fields := Normalize(*res.Fields)
	if fields.Title == "" {
		return nil, res, nil
	}
	if fields.Description == "" {
		fields.Description = textnorm.CleanText(rawText)
	}
	return &fields, res, nil
}

// Handle is the extraction worker's queue handler. Classifier errors are
// returned so the worker retries and eventually dead-letters the capture.
func (e *Extractor) Handle(ctx context.Context, job *queue.Job) (queue.Result, error) {
	ctx, span := tracer.Start(ctx, "Extractor.Handle")
	defer span.End()

	var capture models.RawCapture
	if err := job.Decode(&capture); err != nil {
		e.logger.Error("undecodable capture", zap.String("job_id", job.ID), zap.Error(err))
		return queue.Discarded("undecodable capture"), nil
	}
	if textnorm.CleanText(capture.RawText) == "" {
		return queue.Discarded("empty capture"), nil
	}
	span.SetAttributes(telemetry.String("source.id", capture.SourceID.String()))

	fingerprint := textnorm.Fingerprint(capture.RawText)
	if verdict := e.lookup(ctx, fingerprint); e.stillRejected(verdict) {
		return queue.Discarded("previously rejected by an admin"), nil
	}

	fields, res, err := e.Extract(ctx, capture.RawText, capture.SourceURL)
	if err != nil {
		return queue.Result{}, err
	}
	span.SetAttributes(
		telemetry.Bool("is_casting_call", fields != nil),
		telemetry.Float64("confidence", res.Confidence),
	)

	if fields == nil {
		e.remember(ctx, fingerprint, "", false, res.Confidence)
		e.logger.Info("capture is not a casting call",
			zap.String("source_id", capture.SourceID.String()),
			zap.String("source_url", capture.SourceURL),
			zap.Float64("confidence", res.Confidence))
		return queue.Completed("not a casting call"), nil
	}

	contentHash := dedup.ComputeContentHash(*fields)
	e.remember(ctx, fingerprint, contentHash, true, res.Confidence)

	candidate := models.ExtractedCandidate{
		SourceID:   capture.SourceID,
		SourceURL:  capture.SourceURL,
		SourceName: capture.SourceName,
		Fields:     *fields,
		Confidence: res.Confidence,
		CapturedAt: capture.CapturedAt,
	}
	next, err := queue.NewJob(queue.JobValidateCandidate, candidate)
	if err != nil {
		return queue.Result{}, err
	}
	if err := e.producer.Enqueue(ctx, queue.Validation, next); err != nil {
		return queue.Result{}, fmt.Errorf("enqueue candidate: %w", err)
	}

	e.logger.Info("casting call extracted",
		zap.String("source_id", capture.SourceID.String()),
		zap.String("title", fields.Title),
		zap.String("content_hash", contentHash),
		zap.Float64("confidence", res.Confidence))
	return queue.Completed("candidate enqueued"), nil
}

func (e *Extractor) lookup(ctx context.Context, fingerprint string) *learning.Verdict {
	if e.learning == nil {
		return nil
	}
	v, err := e.learning.Lookup(ctx, fingerprint)
	if err != nil {
		e.logger.Warn("learning store lookup failed", zap.Error(err))
		return nil
	}
	return v
}

func (e *Extractor) remember(ctx context.Context, fingerprint, contentHash string, isCastingCall bool, confidence float64) {
	if e.learning == nil {
		return
	}
	if err := e.learning.RecordPrediction(ctx, fingerprint, contentHash, isCastingCall, confidence); err != nil {
		e.logger.Warn("failed to record classifier verdict", zap.Error(err))
	}
}

// stillRejected reports whether an admin rejection of the text still blocks
// it from re-entering the pipeline.
func (e *Extractor) stillRejected(v *learning.Verdict) bool {
	if v == nil || !v.Confirmed() || v.IsCastingCall {
		return false
	}
	if e.opts.RejectedResubmitAfter <= 0 {
		return true
	}
	return e.opts.Now().Sub(v.UpdatedAt) < e.opts.RejectedResubmitAfter
}
