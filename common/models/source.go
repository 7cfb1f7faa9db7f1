package models

import (
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourceTypeWeb      SourceType = "WEB"
	SourceTypeWhatsApp SourceType = "WHATSAPP"
)

func (t SourceType) Valid() bool {
	return t == SourceTypeWeb || t == SourceTypeWhatsApp
}

// IngestionSource is an external origin the orchestrator scrapes. Sources are
// deactivated rather than deleted.
type IngestionSource struct {
	ID               uuid.UUID  `json:"id"`
	SourceType       SourceType `json:"sourceType"`
	SourceIdentifier string     `json:"sourceIdentifier"`
	SourceName       string     `json:"sourceName"`
	IsActive         bool       `json:"isActive"`
	LastProcessedAt  *time.Time `json:"lastProcessedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// SourcePatch carries the optional fields of a source update.
type SourcePatch struct {
	SourceType       *SourceType `json:"sourceType,omitempty"`
	SourceIdentifier *string     `json:"sourceIdentifier,omitempty"`
	SourceName       *string     `json:"sourceName,omitempty"`
	IsActive         *bool       `json:"isActive,omitempty"`
}

type SourceFilter struct {
	SourceType SourceType
	ActiveOnly bool
}

type SourceCounts struct {
	Total  int                `json:"total"`
	Active int                `json:"active"`
	ByType map[SourceType]int `json:"byType"`
}
