package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tracer = telemetry.GetTracer("digitaltwin/common/store")

type PgCastingCallRepository struct {
	pool *pgxpool.Pool
}

func NewPgCastingCallRepository(pool *pgxpool.Pool) *PgCastingCallRepository {
	return &PgCastingCallRepository{pool: pool}
}

const castingCallColumns = `id, title, description, company, location, compensation, requirements,
	deadline, contact_info, source_url, source_name, status, content_hash, is_aggregated,
	created_at, updated_at`

func scanCastingCall(row pgx.Row) (*models.CastingCall, error) {
	var c models.CastingCall
	var status string
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Company, &c.Location, &c.Compensation,
		&c.Requirements, &c.Deadline, &c.ContactInfo, &c.SourceURL, &c.SourceName, &status,
		&c.ContentHash, &c.IsAggregated, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.CastingCallStatus(status)
	return &c, nil
}

// checkProvenance enforces that aggregated calls carry their source URL and
// content hash.
func checkProvenance(c *models.CastingCall) error {
	if !c.IsAggregated {
		return nil
	}
	if c.SourceURL == nil || *c.SourceURL == "" || c.ContentHash == nil || *c.ContentHash == "" {
		return apperrors.Validation("aggregated casting call requires sourceUrl and contentHash", nil)
	}
	return nil
}

func (r *PgCastingCallRepository) Insert(ctx context.Context, c *models.CastingCall) error {
	ctx, span := tracer.Start(ctx, "PgCastingCallRepository.Insert")
	defer span.End()

	if err := checkProvenance(c); err != nil {
		return err
	}
	if c.Requirements == nil {
		c.Requirements = []string{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO casting_calls (`+castingCallColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.Title, c.Description, c.Company, c.Location, c.Compensation, c.Requirements,
		c.Deadline, c.ContactInfo, c.SourceURL, c.SourceName, string(c.Status), c.ContentHash,
		c.IsAggregated, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return ErrDuplicateContentHash
		}
		return fmt.Errorf("insert casting call: %w", err)
	}
	return nil
}

func (r *PgCastingCallRepository) Get(ctx context.Context, id uuid.UUID) (*models.CastingCall, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+castingCallColumns+` FROM casting_calls WHERE id = $1`, id)
	c, err := scanCastingCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("casting call not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get casting call: %w", err)
	}
	return c, nil
}

func (r *PgCastingCallRepository) FindByContentHash(ctx context.Context, hash string) (*models.CastingCall, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+castingCallColumns+` FROM casting_calls WHERE content_hash = $1`, hash)
	c, err := scanCastingCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find casting call by hash: %w", err)
	}
	return c, nil
}

func (r *PgCastingCallRepository) ListByStatus(ctx context.Context, status models.CastingCallStatus, limit, offset int) ([]models.CastingCall, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM casting_calls WHERE status = $1`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count casting calls: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+castingCallColumns+` FROM casting_calls
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list casting calls: %w", err)
	}
	defer rows.Close()

	out := []models.CastingCall{}
	for rows.Next() {
		c, err := scanCastingCall(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan casting call: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// Transition locks the row, checks the expected status and applies the patch
// and new status in one transaction. A record that is not in t.From yields a
// ConflictError.
func (r *PgCastingCallRepository) Transition(ctx context.Context, t Transition) (*models.CastingCall, error) {
	ctx, span := tracer.Start(ctx, "PgCastingCallRepository.Transition")
	defer span.End()
	span.SetAttributes(
		telemetry.String("casting_call.id", t.ID.String()),
		telemetry.String("status.to", string(t.To)),
	)

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := scanCastingCall(tx.QueryRow(ctx,
		`SELECT `+castingCallColumns+` FROM casting_calls WHERE id = $1 FOR UPDATE`, t.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("casting call not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("lock casting call: %w", err)
	}
	if c.Status != t.From {
		return nil, apperrors.Conflict(fmt.Sprintf("casting call is %s, expected %s", c.Status, t.From), nil)
	}

	if t.Patch != nil {
		t.Patch.Apply(c)
	}
	if c.Requirements == nil {
		c.Requirements = []string{}
	}
	c.Status = t.To
	c.UpdatedAt = time.Now().UTC()

	tag, err := tx.Exec(ctx, `
		UPDATE casting_calls
		SET title = $3, description = $4, company = $5, location = $6, compensation = $7,
			requirements = $8, deadline = $9, contact_info = $10, status = $11, updated_at = $12
		WHERE id = $1 AND status = $2`,
		c.ID, string(t.From), c.Title, c.Description, c.Company, c.Location, c.Compensation,
		c.Requirements, c.Deadline, c.ContactInfo, string(c.Status), c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update casting call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.Conflict("casting call was changed concurrently", nil)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return c, nil
}

func (r *PgCastingCallRepository) Counts(ctx context.Context) (models.CallCounts, error) {
	var counts models.CallCounts
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending_review'),
			count(*) FILTER (WHERE status IN ('active', 'open')),
			count(*) FILTER (WHERE status = 'rejected'),
			count(*)
		FROM casting_calls`).Scan(&counts.Pending, &counts.Approved, &counts.Rejected, &counts.Total)
	if err != nil {
		return counts, fmt.Errorf("count casting calls: %w", err)
	}
	return counts, nil
}
