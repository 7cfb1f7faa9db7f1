package scraper

import (
	"context"
	"fmt"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"
)

var tracer = telemetry.GetTracer("digitaltwin/ingestion/scraper")

// Scraper pulls raw content for one source type. A failed fetch returns an
// error; the caller owns retries.
type Scraper interface {
	Type() models.SourceType
	Fetch(ctx context.Context, source models.IngestionSource) ([]models.RawCapture, error)
}

type Registry map[models.SourceType]Scraper

func NewRegistry(scrapers ...Scraper) Registry {
	r := make(Registry, len(scrapers))
	for _, s := range scrapers {
		r[s.Type()] = s
	}
	return r
}

func (r Registry) Get(t models.SourceType) (Scraper, error) {
	s, ok := r[t]
	if !ok {
		return nil, apperrors.Validation(fmt.Sprintf("no scraper registered for source type %q", t), nil)
	}
	return s, nil
}
