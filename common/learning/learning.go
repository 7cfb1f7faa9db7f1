// Package learning records classifier verdicts and admin confirmations keyed
// by a fingerprint of the normalized capture text. It is best-effort: callers
// log its errors and carry on.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"digitaltwin/common/cache"
)

const (
	verdictPrefix = "learning:fp:"
	hashPrefix    = "learning:hash:"
)

const (
	LabelPredicted = "predicted"
	LabelApproved  = "approved"
	LabelRejected  = "rejected"
)

type Verdict struct {
	IsCastingCall bool      `json:"isCastingCall"`
	Confidence    float64   `json:"confidence"`
	Label         string    `json:"label"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Confirmed reports whether an admin decided on the capture.
func (v Verdict) Confirmed() bool {
	return v.Label == LabelApproved || v.Label == LabelRejected
}

func (v Verdict) MarshalBinary() ([]byte, error) {
	return json.Marshal(v)
}

func (v *Verdict) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, v)
}

type Store struct {
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewStore(c cache.Cache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Lookup returns the verdict stored for fingerprint, if any.
func (s *Store) Lookup(ctx context.Context, fingerprint string) (*Verdict, error) {
	var v Verdict
	err := s.cache.Get(ctx, verdictPrefix+fingerprint, &v)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup verdict: %w", err)
	}
	return &v, nil
}

// RecordPrediction stores the classifier's verdict unless an admin already
// confirmed one. A non-empty contentHash links the casting call back to the
// fingerprint so later admin decisions can be recorded.
func (s *Store) RecordPrediction(ctx context.Context, fingerprint, contentHash string, isCastingCall bool, confidence float64) error {
	existing, err := s.Lookup(ctx, fingerprint)
	if err != nil {
		return err
	}
	if existing == nil || !existing.Confirmed() {
		v := Verdict{IsCastingCall: isCastingCall, Confidence: confidence, Label: LabelPredicted, UpdatedAt: s.now()}
		if err := s.cache.Set(ctx, verdictPrefix+fingerprint, v, s.ttl); err != nil {
			return fmt.Errorf("store verdict: %w", err)
		}
	}
	if contentHash != "" {
		if err := s.cache.Set(ctx, hashPrefix+contentHash, fingerprint, s.ttl); err != nil {
			return fmt.Errorf("link content hash: %w", err)
		}
	}
	return nil
}

// Confirm records an admin decision for the capture behind contentHash. It
// returns false when the hash is unknown, for example for manually created
// casting calls.
func (s *Store) Confirm(ctx context.Context, contentHash string, approved bool) (bool, error) {
	var fingerprint string
	err := s.cache.Get(ctx, hashPrefix+contentHash, &fingerprint)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve content hash: %w", err)
	}

	label := LabelRejected
	if approved {
		label = LabelApproved
	}
	v := Verdict{IsCastingCall: approved, Confidence: 1, Label: label, UpdatedAt: s.now()}
	if err := s.cache.Set(ctx, verdictPrefix+fingerprint, v, s.ttl); err != nil {
		return false, fmt.Errorf("store confirmed verdict: %w", err)
	}
	return true, nil
}
