package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgSourceRepository struct {
	pool *pgxpool.Pool
}

func NewPgSourceRepository(pool *pgxpool.Pool) *PgSourceRepository {
	return &PgSourceRepository{pool: pool}
}

const sourceColumns = `id, source_type, source_identifier, source_name, is_active, last_processed_at, created_at, updated_at`

func scanSource(row pgx.Row) (*models.IngestionSource, error) {
	var s models.IngestionSource
	var sourceType string
	if err := row.Scan(&s.ID, &sourceType, &s.SourceIdentifier, &s.SourceName, &s.IsActive,
		&s.LastProcessedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.SourceType = models.SourceType(sourceType)
	return &s, nil
}

func (r *PgSourceRepository) Create(ctx context.Context, s *models.IngestionSource) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ingestion_sources (`+sourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, string(s.SourceType), s.SourceIdentifier, s.SourceName, s.IsActive,
		s.LastProcessedAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("an active source already uses this identifier", err)
		}
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (r *PgSourceRepository) Get(ctx context.Context, id uuid.UUID) (*models.IngestionSource, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM ingestion_sources WHERE id = $1`, id)
	s, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("source not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return s, nil
}

func (r *PgSourceRepository) Update(ctx context.Context, s *models.IngestionSource) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ingestion_sources
		SET source_type = $2, source_identifier = $3, source_name = $4, is_active = $5, updated_at = $6
		WHERE id = $1`,
		s.ID, string(s.SourceType), s.SourceIdentifier, s.SourceName, s.IsActive, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("an active source already uses this identifier", err)
		}
		return fmt.Errorf("update source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("source not found", nil)
	}
	return nil
}

func (r *PgSourceRepository) List(ctx context.Context, filter models.SourceFilter) ([]models.IngestionSource, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.SourceType != "" {
		args = append(args, string(filter.SourceType))
		where = append(where, fmt.Sprintf("source_type = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}

	query := `SELECT ` + sourceColumns + ` FROM ingestion_sources`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []models.IngestionSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PgSourceRepository) FindActiveByIdentifier(ctx context.Context, identifier string) (*models.IngestionSource, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sourceColumns+` FROM ingestion_sources
		WHERE source_identifier = $1 AND is_active`, identifier)
	s, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find source by identifier: %w", err)
	}
	return s, nil
}

func (r *PgSourceRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ingestion_sources SET last_processed_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark source processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("source not found", nil)
	}
	return nil
}

func (r *PgSourceRepository) Counts(ctx context.Context) (models.SourceCounts, error) {
	counts := models.SourceCounts{ByType: map[models.SourceType]int{}}
	rows, err := r.pool.Query(ctx, `
		SELECT source_type, count(*), count(*) FILTER (WHERE is_active)
		FROM ingestion_sources GROUP BY source_type`)
	if err != nil {
		return counts, fmt.Errorf("count sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sourceType string
		var total, active int
		if err := rows.Scan(&sourceType, &total, &active); err != nil {
			return counts, fmt.Errorf("scan source counts: %w", err)
		}
		counts.Total += total
		counts.Active += active
		counts.ByType[models.SourceType(sourceType)] = total
	}
	return counts, rows.Err()
}
