package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job names carried in the envelope.
const (
	JobScrapeSource      = "scrape-source"
	JobExtractCapture    = "extract-capture"
	JobValidateCandidate = "validate-candidate"
	JobDeadLetter        = "dead-letter"
	JobIndexCastingCall  = "index-casting-call"
)

// Job is the queue envelope. It is owned by the queue and discarded once
// processed or dead-lettered.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	Attempts     int             `json:"attempts"`
	FailedReason string          `json:"failedReason,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
}

func NewJob(name string, payload interface{}) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return &Job{
		ID:         uuid.NewString(),
		Name:       name,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("decode %s job %s: %w", j.Name, j.ID, err)
	}
	return nil
}

func (j *Job) clone() *Job {
	cp := *j
	cp.Data = append(json.RawMessage(nil), j.Data...)
	return &cp
}
