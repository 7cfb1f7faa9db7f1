package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/store"
	"digitaltwin/services/processing/internal/dedup"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

func candidate() models.ExtractedCandidate {
	return models.ExtractedCandidate{
		SourceID:   uuid.New(),
		SourceURL:  "https://example.com/casting",
		SourceName: "Example",
		Fields: models.CastingCallFields{
			Title:       "Lead Actor",
			Company:     "MBC",
			Location:    "Riyadh",
			Description: "Casting Call: Lead Actor, Riyadh, MBC",
		},
		Confidence: 0.9,
	}
}

func TestSubmit_InsertsPendingReview(t *testing.T) {
	repo := store.NewMemoryCastingCallRepository()
	h := NewHandler(repo, dedup.Policy{}, zaptest.NewLogger(t))

	call, err := h.Submit(context.Background(), candidate())
	if err != nil {
		t.Fatal(err)
	}
	if call == nil {
		t.Fatal("expected a stored casting call")
	}
	if call.Status != models.StatusPendingReview || !call.IsAggregated {
		t.Errorf("unexpected record %+v", call)
	}
	if call.ContentHash == nil || *call.ContentHash != dedup.ComputeContentHash(candidate().Fields) {
		t.Error("content hash not stored")
	}
	if call.SourceURL == nil || *call.SourceURL != "https://example.com/casting" {
		t.Error("source url not stored")
	}
}

func TestSubmit_DuplicateDiscarded(t *testing.T) {
	repo := store.NewMemoryCastingCallRepository()
	h := NewHandler(repo, dedup.Policy{}, zaptest.NewLogger(t))
	ctx := context.Background()

	if _, err := h.Submit(ctx, candidate()); err != nil {
		t.Fatal(err)
	}
	again := candidate()
	again.Fields.Title = "  lead ACTOR"
	call, err := h.Submit(ctx, again)
	if err != nil || call != nil {
		t.Fatalf("expected duplicate to be discarded, got %+v %v", call, err)
	}

	_, total, _ := repo.ListByStatus(ctx, models.StatusPendingReview, 10, 0)
	if total != 1 {
		t.Errorf("expected one row, got %d", total)
	}
}

type racingRepo struct {
	*store.MemoryCastingCallRepository
}

func (racingRepo) FindByContentHash(context.Context, string) (*models.CastingCall, error) {
	return nil, nil
}

func (racingRepo) Insert(context.Context, *models.CastingCall) error {
	return store.ErrDuplicateContentHash
}

func TestSubmit_InsertRaceIsDuplicate(t *testing.T) {
	h := NewHandler(racingRepo{store.NewMemoryCastingCallRepository()}, dedup.Policy{}, zaptest.NewLogger(t))
	call, err := h.Submit(context.Background(), candidate())
	if err != nil || call != nil {
		t.Fatalf("expected race loser to be discarded silently, got %+v %v", call, err)
	}
}

func TestSubmit_RejectedResubmission(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryCastingCallRepository()
	hash := dedup.ComputeContentHash(candidate().Fields)
	url := "https://example.com/casting"
	rejected := models.CastingCall{
		ID:           uuid.New(),
		Title:        "Lead Actor",
		Status:       models.StatusRejected,
		ContentHash:  &hash,
		SourceURL:    &url,
		IsAggregated: true,
		UpdatedAt:    time.Now().Add(-90 * 24 * time.Hour),
	}
	repo.Put(rejected)

	never := NewHandler(repo, dedup.Policy{}, zaptest.NewLogger(t))
	if call, err := never.Submit(ctx, candidate()); err != nil || call != nil {
		t.Fatalf("rejected duplicate must be discarded by default, got %+v %v", call, err)
	}

	window := NewHandler(repo, dedup.Policy{RejectedResubmitAfter: 30 * 24 * time.Hour}, zaptest.NewLogger(t))
	call, err := window.Submit(ctx, candidate())
	if err != nil {
		t.Fatal(err)
	}
	if call == nil || call.ID != rejected.ID || call.Status != models.StatusPendingReview {
		t.Errorf("expected the rejected record to be reopened, got %+v", call)
	}
}

func TestSubmit_StorageErrorIsRetryable(t *testing.T) {
	h := NewHandler(failingRepo{store.NewMemoryCastingCallRepository()}, dedup.Policy{}, zaptest.NewLogger(t))
	_, err := h.Submit(context.Background(), candidate())
	if err == nil || !Retryable(err) {
		t.Fatalf("expected retryable storage error, got %v", err)
	}

	bad := candidate()
	bad.Fields.Title = ""
	_, err = h.Submit(context.Background(), bad)
	if !apperrors.Is(err, apperrors.ErrTypeValidation) || Retryable(err) {
		t.Fatalf("expected permanent validation error, got %v", err)
	}
}

type failingRepo struct {
	*store.MemoryCastingCallRepository
}

func (failingRepo) FindByContentHash(context.Context, string) (*models.CastingCall, error) {
	return nil, errors.New("connection reset")
}
