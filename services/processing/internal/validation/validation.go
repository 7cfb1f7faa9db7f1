// Package validation persists extracted candidates as pending_review casting
// calls, once per content hash.
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/common/store"
	"digitaltwin/common/telemetry"
	"digitaltwin/services/processing/internal/dedup"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("digitaltwin/processing/validation")

type Handler struct {
	calls  store.CastingCallRepository
	policy dedup.Policy
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(calls store.CastingCallRepository, policy dedup.Policy, logger *zap.Logger) *Handler {
	return &Handler{
		calls:  calls,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Retryable keeps validation errors (bad candidates) out of the retry loop.
func Retryable(err error) bool {
	return !apperrors.Is(err, apperrors.ErrTypeValidation)
}

// Submit stores candidate unless a record with the same content hash already
// blocks it. It returns the stored record, or nil when the candidate was
// discarded as a duplicate.
func (h *Handler) Submit(ctx context.Context, candidate models.ExtractedCandidate) (*models.CastingCall, error) {
	ctx, span := tracer.Start(ctx, "ValidationHandler.Submit")
	defer span.End()

	if candidate.Fields.Title == "" {
		return nil, apperrors.Validation("candidate has no title", nil)
	}
	hash := dedup.ComputeContentHash(candidate.Fields)
	span.SetAttributes(telemetry.String("content_hash", hash))

	existing, err := dedup.CheckDuplicate(ctx, h.calls, hash)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if h.policy.Decide(existing) == dedup.DecisionDiscard {
		h.logger.Info("duplicate candidate discarded",
			zap.String("content_hash", hash),
			zap.String("existing_id", existing.ID.String()),
			zap.String("existing_status", string(existing.Status)))
		return nil, nil
	}
	if existing != nil {
		return h.resubmit(ctx, existing, candidate)
	}

	now := h.now()
	sourceURL := candidate.SourceURL
	call := &models.CastingCall{
		ID:           uuid.New(),
		Title:        candidate.Fields.Title,
		Description:  candidate.Fields.Description,
		Company:      candidate.Fields.Company,
		Location:     candidate.Fields.Location,
		Compensation: candidate.Fields.Compensation,
		Requirements: candidate.Fields.Requirements,
		Deadline:     candidate.Fields.Deadline,
		ContactInfo:  candidate.Fields.ContactInfo,
		SourceURL:    &sourceURL,
		SourceName:   candidate.SourceName,
		Status:       models.StatusPendingReview,
		ContentHash:  &hash,
		IsAggregated: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.calls.Insert(ctx, call); err != nil {
		if errors.Is(err, store.ErrDuplicateContentHash) {
			h.logger.Info("duplicate candidate lost insert race", zap.String("content_hash", hash))
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}

	h.logger.Info("casting call queued for review",
		zap.String("casting_call_id", call.ID.String()),
		zap.String("title", call.Title),
		zap.String("source_url", sourceURL))
	return call, nil
}

// resubmit reopens a rejected or cancelled record for review with the fields
// of the new sighting.
func (h *Handler) resubmit(ctx context.Context, existing *models.CastingCall, candidate models.ExtractedCandidate) (*models.CastingCall, error) {
	f := candidate.Fields
	patch := &models.CastingCallPatch{
		Title:        &f.Title,
		Description:  &f.Description,
		Company:      &f.Company,
		Location:     &f.Location,
		Compensation: &f.Compensation,
		Requirements: &f.Requirements,
		Deadline:     &f.Deadline,
		ContactInfo:  &f.ContactInfo,
	}
	call, err := h.calls.Transition(ctx, store.Transition{
		ID:    existing.ID,
		From:  existing.Status,
		To:    models.StatusPendingReview,
		Patch: patch,
	})
	if apperrors.Is(err, apperrors.ErrTypeConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h.logger.Info("closed casting call resubmitted for review",
		zap.String("casting_call_id", call.ID.String()),
		zap.String("previous_status", string(existing.Status)))
	return call, nil
}

// Handle is the validation worker's queue handler.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) (queue.Result, error) {
	var candidate models.ExtractedCandidate
	if err := job.Decode(&candidate); err != nil {
		h.logger.Error("undecodable candidate", zap.String("job_id", job.ID), zap.Error(err))
		return queue.Discarded("undecodable candidate"), nil
	}
	call, err := h.Submit(ctx, candidate)
	if err != nil {
		return queue.Result{}, err
	}
	if call == nil {
		return queue.Discarded("duplicate"), nil
	}
	return queue.Completed(call.ID.String()), nil
}
