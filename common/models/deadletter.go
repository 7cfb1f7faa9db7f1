package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeadLetterKind string

const (
	KindFailedScrape     DeadLetterKind = "failed-scrape"
	KindFailedExtraction DeadLetterKind = "failed-extraction"
	KindFailedValidation DeadLetterKind = "failed-validation"
)

func (k DeadLetterKind) Valid() bool {
	switch k {
	case KindFailedScrape, KindFailedExtraction, KindFailedValidation:
		return true
	}
	return false
}

// DeadLetter is a job that exhausted its retries, kept for operator
// inspection. Entries are never replayed automatically.
type DeadLetter struct {
	ID          uuid.UUID       `json:"id"`
	Kind        DeadLetterKind  `json:"kind"`
	JobID       string          `json:"jobId"`
	JobName     string          `json:"jobName"`
	OriginalJob json.RawMessage `json:"originalJob"`
	Error       string          `json:"error"`
	FailedAt    time.Time       `json:"failedAt"`
}

type DeadLetterFilter struct {
	Kind  DeadLetterKind
	Since time.Time
	Limit int
}
