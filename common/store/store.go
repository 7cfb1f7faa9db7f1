package store

import (
	"context"
	"errors"
	"time"

	"digitaltwin/common/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateContentHash is returned by Insert when another casting call
// already holds the content hash.
var ErrDuplicateContentHash = errors.New("casting call with this content hash already exists")

type SourceRepository interface {
	Create(ctx context.Context, source *models.IngestionSource) error
	Get(ctx context.Context, id uuid.UUID) (*models.IngestionSource, error)
	Update(ctx context.Context, source *models.IngestionSource) error
	List(ctx context.Context, filter models.SourceFilter) ([]models.IngestionSource, error)
	// FindActiveByIdentifier returns nil when no active source uses identifier.
	FindActiveByIdentifier(ctx context.Context, identifier string) (*models.IngestionSource, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	Counts(ctx context.Context) (models.SourceCounts, error)
}

// Transition describes a guarded status change. The change only applies
// while the record is still in From.
type Transition struct {
	ID    uuid.UUID
	From  models.CastingCallStatus
	To    models.CastingCallStatus
	Patch *models.CastingCallPatch
}

type CastingCallRepository interface {
	Insert(ctx context.Context, call *models.CastingCall) error
	Get(ctx context.Context, id uuid.UUID) (*models.CastingCall, error)
	// FindByContentHash returns nil when no record holds hash.
	FindByContentHash(ctx context.Context, hash string) (*models.CastingCall, error)
	ListByStatus(ctx context.Context, status models.CastingCallStatus, limit, offset int) ([]models.CastingCall, int, error)
	Transition(ctx context.Context, t Transition) (*models.CastingCall, error)
	Counts(ctx context.Context) (models.CallCounts, error)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
