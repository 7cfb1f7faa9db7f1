// Package workflow implements the admin review of pending casting calls.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"digitaltwin/common/audit"
	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/learning"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/common/store"
	"digitaltwin/common/telemetry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("digitaltwin/admin/workflow")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	noReason = "No reason provided"
)

type Options struct {
	// ApprovedStatus is the status an approved record moves to: active or
	// open.
	ApprovedStatus models.CastingCallStatus
}

type Service struct {
	calls    store.CastingCallRepository
	audit    audit.Log
	producer queue.Producer
	learning *learning.Store
	opts     Options
	logger   *zap.Logger
}

// NewService builds the workflow. learn may be nil.
func NewService(calls store.CastingCallRepository, log audit.Log, producer queue.Producer, learn *learning.Store, opts Options, logger *zap.Logger) *Service {
	if !opts.ApprovedStatus.Published() {
		opts.ApprovedStatus = models.StatusActive
	}
	return &Service{calls: calls, audit: log, producer: producer, learning: learn, opts: opts, logger: logger}
}

type Page struct {
	Items []models.CastingCall `json:"items"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
	Total int                  `json:"total"`
}

// ListPending returns one page of the review queue, oldest first. Pages
// start at 1.
func (s *Service) ListPending(ctx context.Context, page, limit int) (Page, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if page < 1 {
		return Page{}, apperrors.Validation("page must be at least 1", nil)
	}
	if limit < 1 || limit > MaxPageSize {
		return Page{}, apperrors.Validation(fmt.Sprintf("limit must be between 1 and %d", MaxPageSize), nil)
	}

	items, total, err := s.calls.ListByStatus(ctx, models.StatusPendingReview, limit, (page-1)*limit)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Page: page, Limit: limit, Total: total}, nil
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor string) (*models.CastingCall, error) {
	ctx, span := tracer.Start(ctx, "Workflow.Approve")
	defer span.End()
	span.SetAttributes(telemetry.String("casting_call.id", id.String()))

	return s.transition(ctx, models.EventCastingCallApproved, id, actor, s.opts.ApprovedStatus, nil, nil)
}

// Reject closes a pending casting call. Exactly one audit event is written
// for every reject that reaches an existing record.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*models.CastingCall, error) {
	ctx, span := tracer.Start(ctx, "Workflow.Reject")
	defer span.End()
	span.SetAttributes(telemetry.String("casting_call.id", id.String()))

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = noReason
	}
	return s.transition(ctx, models.EventCastingCallRejected, id, actor, models.StatusRejected, nil,
		map[string]string{"reason": reason})
}

// Edit applies the admin-editable fields of patch and approves the record in
// the same transaction.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, actor string, patch models.CastingCallPatch) (*models.CastingCall, error) {
	ctx, span := tracer.Start(ctx, "Workflow.Edit")
	defer span.End()
	span.SetAttributes(telemetry.String("casting_call.id", id.String()))

	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, apperrors.Validation("title cannot be empty", nil)
	}
	return s.transition(ctx, models.EventCastingCallEditedAndApproved, id, actor, s.opts.ApprovedStatus, &patch,
		map[string]string{"fields": strings.Join(patchedFields(patch), ",")})
}

func (s *Service) transition(ctx context.Context, event models.AuditEventType, id uuid.UUID, actor string, to models.CastingCallStatus, patch *models.CastingCallPatch, metadata map[string]string) (*models.CastingCall, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["to"] = string(to)

	call, err := s.calls.Transition(ctx, store.Transition{
		ID:    id,
		From:  models.StatusPendingReview,
		To:    to,
		Patch: patch,
	})
	switch {
	case err == nil:
		metadata["outcome"] = models.OutcomeApplied
	case apperrors.Is(err, apperrors.ErrTypeConflict):
		metadata["outcome"] = models.OutcomeConflict
		_ = s.record(ctx, event, id, actor, metadata)
		s.logger.Warn("review transition lost",
			zap.String("casting_call_id", id.String()),
			zap.String("event", string(event)),
			zap.String("actor", actor),
			zap.Error(err))
		return nil, err
	default:
		return nil, err
	}

	if err := s.record(ctx, event, id, actor, metadata); err != nil {
		return nil, err
	}

	if to.Published() {
		s.enqueueIndex(ctx, call.ID)
	}
	s.confirm(ctx, call, to.Published())

	s.logger.Info("casting call reviewed",
		zap.String("casting_call_id", call.ID.String()),
		zap.String("event", string(event)),
		zap.String("status", string(call.Status)),
		zap.String("actor", actor))
	return call, nil
}

func (s *Service) record(ctx context.Context, event models.AuditEventType, id uuid.UUID, actor string, metadata map[string]string) error {
	if err := s.audit.Record(ctx, audit.NewEvent(event, id, actor, metadata)); err != nil {
		s.logger.Error("failed to write audit event",
			zap.String("casting_call_id", id.String()),
			zap.String("event", string(event)),
			zap.Error(err))
		return apperrors.Internal("failed to write audit event", err)
	}
	return nil
}

// enqueueIndex hands the approved record to the search indexer. The approval
// already committed, so a failure here is logged and not returned.
func (s *Service) enqueueIndex(ctx context.Context, id uuid.UUID) {
	job, err := queue.NewJob(queue.JobIndexCastingCall, models.IndexRequest{CastingCallID: id})
	if err == nil {
		err = s.producer.Enqueue(ctx, queue.Index, job)
	}
	if err != nil {
		s.logger.Error("failed to enqueue index job",
			zap.String("casting_call_id", id.String()),
			zap.Error(err))
	}
}

func (s *Service) confirm(ctx context.Context, call *models.CastingCall, approved bool) {
	if s.learning == nil || call.ContentHash == nil {
		return
	}
	if _, err := s.learning.Confirm(ctx, *call.ContentHash, approved); err != nil {
		s.logger.Warn("failed to record review feedback", zap.Error(err))
	}
}

func patchedFields(p models.CastingCallPatch) []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.Description != nil, "description")
	add(p.Company != nil, "company")
	add(p.Location != nil, "location")
	add(p.Compensation != nil, "compensation")
	add(p.Requirements != nil, "requirements")
	add(p.Deadline != nil, "deadline")
	add(p.ContactInfo != nil, "contactInfo")
	return fields
}
