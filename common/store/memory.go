package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"

	"github.com/google/uuid"
)

// MemorySourceRepository keeps sources in process. It enforces the same
// active-identifier uniqueness as the Postgres index.
type MemorySourceRepository struct {
	mu      sync.Mutex
	sources map[uuid.UUID]models.IngestionSource
}

func NewMemorySourceRepository() *MemorySourceRepository {
	return &MemorySourceRepository{sources: make(map[uuid.UUID]models.IngestionSource)}
}

func (r *MemorySourceRepository) identifierTaken(s *models.IngestionSource) bool {
	if !s.IsActive {
		return false
	}
	for id, other := range r.sources {
		if id != s.ID && other.IsActive && other.SourceIdentifier == s.SourceIdentifier {
			return true
		}
	}
	return false
}

func (r *MemorySourceRepository) Create(_ context.Context, s *models.IngestionSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identifierTaken(s) {
		return apperrors.Conflict("an active source already uses this identifier", nil)
	}
	r.sources[s.ID] = *s
	return nil
}

func (r *MemorySourceRepository) Get(_ context.Context, id uuid.UUID) (*models.IngestionSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, apperrors.NotFound("source not found", nil)
	}
	return &s, nil
}

func (r *MemorySourceRepository) Update(_ context.Context, s *models.IngestionSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[s.ID]; !ok {
		return apperrors.NotFound("source not found", nil)
	}
	if r.identifierTaken(s) {
		return apperrors.Conflict("an active source already uses this identifier", nil)
	}
	r.sources[s.ID] = *s
	return nil
}

func (r *MemorySourceRepository) List(_ context.Context, filter models.SourceFilter) ([]models.IngestionSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.IngestionSource
	for _, s := range r.sources {
		if filter.SourceType != "" && s.SourceType != filter.SourceType {
			continue
		}
		if filter.ActiveOnly && !s.IsActive {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySourceRepository) FindActiveByIdentifier(_ context.Context, identifier string) (*models.IngestionSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.IsActive && s.SourceIdentifier == identifier {
			return &s, nil
		}
	}
	return nil, nil
}

func (r *MemorySourceRepository) MarkProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return apperrors.NotFound("source not found", nil)
	}
	s.LastProcessedAt = &at
	s.UpdatedAt = at
	r.sources[id] = s
	return nil
}

func (r *MemorySourceRepository) Counts(_ context.Context) (models.SourceCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := models.SourceCounts{ByType: map[models.SourceType]int{}}
	for _, s := range r.sources {
		counts.Total++
		if s.IsActive {
			counts.Active++
		}
		counts.ByType[s.SourceType]++
	}
	return counts, nil
}

// MemoryCastingCallRepository keeps casting calls in process with a unique
// content hash.
type MemoryCastingCallRepository struct {
	mu    sync.Mutex
	calls map[uuid.UUID]models.CastingCall
}

func NewMemoryCastingCallRepository() *MemoryCastingCallRepository {
	return &MemoryCastingCallRepository{calls: make(map[uuid.UUID]models.CastingCall)}
}

func (r *MemoryCastingCallRepository) Insert(_ context.Context, c *models.CastingCall) error {
	if err := checkProvenance(c); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ContentHash != nil {
		for _, other := range r.calls {
			if other.ContentHash != nil && *other.ContentHash == *c.ContentHash {
				return ErrDuplicateContentHash
			}
		}
	}
	r.calls[c.ID] = *c
	return nil
}

func (r *MemoryCastingCallRepository) Get(_ context.Context, id uuid.UUID) (*models.CastingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, apperrors.NotFound("casting call not found", nil)
	}
	return &c, nil
}

func (r *MemoryCastingCallRepository) FindByContentHash(_ context.Context, hash string) (*models.CastingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ContentHash != nil && *c.ContentHash == hash {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryCastingCallRepository) ListByStatus(_ context.Context, status models.CastingCallStatus, limit, offset int) ([]models.CastingCall, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []models.CastingCall
	for _, c := range r.calls {
		if c.Status == status {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	out := []models.CastingCall{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		out = append(out, matched[offset:end]...)
	}
	return out, total, nil
}

func (r *MemoryCastingCallRepository) Transition(_ context.Context, t Transition) (*models.CastingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[t.ID]
	if !ok {
		return nil, apperrors.NotFound("casting call not found", nil)
	}
	if c.Status != t.From {
		return nil, apperrors.Conflict("casting call is "+string(c.Status)+", expected "+string(t.From), nil)
	}
	if t.Patch != nil {
		t.Patch.Apply(&c)
	}
	c.Status = t.To
	c.UpdatedAt = time.Now().UTC()
	r.calls[c.ID] = c
	return &c, nil
}

func (r *MemoryCastingCallRepository) Counts(_ context.Context) (models.CallCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts models.CallCounts
	for _, c := range r.calls {
		counts.Total++
		switch {
		case c.Status == models.StatusPendingReview:
			counts.Pending++
		case c.Status.Published():
			counts.Approved++
		case c.Status == models.StatusRejected:
			counts.Rejected++
		}
	}
	return counts, nil
}

// Put stores c as-is. Tests use it to seed records in any status.
func (r *MemoryCastingCallRepository) Put(c models.CastingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
}
