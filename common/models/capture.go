package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawCapture is the payload of an extraction job. It is never persisted on
// its own.
type RawCapture struct {
	SourceID   uuid.UUID `json:"sourceId"`
	SourceURL  string    `json:"sourceUrl"`
	SourceName string    `json:"sourceName"`
	RawText    string    `json:"rawText"`
	CapturedAt time.Time `json:"capturedAt"`
}

// ExtractedCandidate is the payload of a validation job.
type ExtractedCandidate struct {
	SourceID   uuid.UUID         `json:"sourceId"`
	SourceURL  string            `json:"sourceUrl"`
	SourceName string            `json:"sourceName"`
	Fields     CastingCallFields `json:"fields"`
	Confidence float64           `json:"confidence"`
	CapturedAt time.Time         `json:"capturedAt"`
}

// IndexRequest is the payload handed to the external search indexer.
type IndexRequest struct {
	CastingCallID uuid.UUID `json:"castingCallId"`
}

func (c RawCapture) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

func (c *RawCapture) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}
