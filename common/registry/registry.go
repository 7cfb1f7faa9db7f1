package registry

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Service manages ingestion sources.
type Service struct {
	repo   store.SourceRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo store.SourceRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

type CreateRequest struct {
	SourceType       models.SourceType `json:"sourceType"`
	SourceIdentifier string            `json:"sourceIdentifier"`
	SourceName       string            `json:"sourceName"`
	IsActive         *bool             `json:"isActive,omitempty"`
}

func validate(sourceType models.SourceType, identifier, name string) error {
	if !sourceType.Valid() {
		return apperrors.Validation(fmt.Sprintf("sourceType must be WEB or WHATSAPP, got %q", sourceType), nil)
	}
	if strings.TrimSpace(identifier) == "" {
		return apperrors.Validation("sourceIdentifier is required", nil)
	}
	if strings.TrimSpace(name) == "" {
		return apperrors.Validation("sourceName is required", nil)
	}
	if sourceType == models.SourceTypeWeb {
		u, err := url.Parse(identifier)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperrors.Validation("sourceIdentifier must be an absolute http(s) URL for WEB sources", err)
		}
	}
	return nil
}

func (s *Service) ensureIdentifierFree(ctx context.Context, identifier string, self uuid.UUID) error {
	existing, err := s.repo.FindActiveByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return apperrors.Conflict("an active source already uses this identifier", nil)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.IngestionSource, error) {
	identifier := strings.TrimSpace(req.SourceIdentifier)
	name := strings.TrimSpace(req.SourceName)
	if err := validate(req.SourceType, identifier, name); err != nil {
		return nil, err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	if active {
		if err := s.ensureIdentifierFree(ctx, identifier, uuid.Nil); err != nil {
			return nil, err
		}
	}

	now := s.now()
	source := &models.IngestionSource{
		ID:               uuid.New(),
		SourceType:       req.SourceType,
		SourceIdentifier: identifier,
		SourceName:       name,
		IsActive:         active,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, source); err != nil {
		return nil, err
	}

	s.logger.Info("source created",
		zap.String("source_id", source.ID.String()),
		zap.String("source_type", string(source.SourceType)),
		zap.String("identifier", source.SourceIdentifier))
	return source, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.IngestionSource, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, patch models.SourcePatch) (*models.IngestionSource, error) {
	source, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.SourceType != nil {
		source.SourceType = *patch.SourceType
	}
	if patch.SourceIdentifier != nil {
		source.SourceIdentifier = strings.TrimSpace(*patch.SourceIdentifier)
	}
	if patch.SourceName != nil {
		source.SourceName = strings.TrimSpace(*patch.SourceName)
	}
	if patch.IsActive != nil {
		source.IsActive = *patch.IsActive
	}

	if err := validate(source.SourceType, source.SourceIdentifier, source.SourceName); err != nil {
		return nil, err
	}
	if source.IsActive {
		if err := s.ensureIdentifierFree(ctx, source.SourceIdentifier, source.ID); err != nil {
			return nil, err
		}
	}

	source.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

// Delete deactivates the source. Sources are never removed.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (*models.IngestionSource, error) {
	source, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !source.IsActive {
		return source, nil
	}
	source.IsActive = false
	source.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, source); err != nil {
		return nil, err
	}
	s.logger.Info("source deactivated", zap.String("source_id", id.String()))
	return source, nil
}

func (s *Service) List(ctx context.Context, filter models.SourceFilter) ([]models.IngestionSource, error) {
	if filter.SourceType != "" && !filter.SourceType.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown sourceType %q", filter.SourceType), nil)
	}
	sources, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []models.IngestionSource{}
	}
	return sources, nil
}

func (s *Service) ListActive(ctx context.Context, sourceType models.SourceType) ([]models.IngestionSource, error) {
	return s.List(ctx, models.SourceFilter{SourceType: sourceType, ActiveOnly: true})
}

// FindActive returns the active source using identifier, or nil.
func (s *Service) FindActive(ctx context.Context, identifier string) (*models.IngestionSource, error) {
	return s.repo.FindActiveByIdentifier(ctx, strings.TrimSpace(identifier))
}

func (s *Service) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.repo.MarkProcessed(ctx, id, at)
}

func (s *Service) Counts(ctx context.Context) (models.SourceCounts, error) {
	return s.repo.Counts(ctx)
}

type seedEntry struct {
	Type       string `yaml:"type"`
	Identifier string `yaml:"identifier"`
	Name       string `yaml:"name"`
	Active     *bool  `yaml:"active"`
}

type seedFile struct {
	Sources []seedEntry `yaml:"sources"`
}

// Seed creates the sources listed in a YAML file. Entries whose identifier is
// already used by an active source are skipped. It returns how many sources
// were created.
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	created := 0
	for _, entry := range file.Sources {
		_, err := s.Create(ctx, CreateRequest{
			SourceType:       models.SourceType(strings.ToUpper(strings.TrimSpace(entry.Type))),
			SourceIdentifier: entry.Identifier,
			SourceName:       entry.Name,
			IsActive:         entry.Active,
		})
		switch {
		case err == nil:
			created++
		case apperrors.Is(err, apperrors.ErrTypeConflict):
			s.logger.Debug("seed source already registered", zap.String("identifier", entry.Identifier))
		default:
			return created, fmt.Errorf("seed source %q: %w", entry.Identifier, err)
		}
	}
	return created, nil
}
