// Package dedup fingerprints extracted casting calls so the same call seen on
// several sources, or in several scrape runs, is stored once.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"digitaltwin/common/models"
	"digitaltwin/common/textnorm"
)

const fieldSeparator = "\x1f"

// ComputeContentHash is the hex SHA-256 of the folded title, company,
// location and description. Case, whitespace and spacing around punctuation
// do not change it.
func ComputeContentHash(f models.CastingCallFields) string {
	joined := strings.Join([]string{
		textnorm.Fold(f.Title),
		textnorm.Fold(f.Company),
		textnorm.Fold(f.Location),
		textnorm.Fold(f.Description),
	}, fieldSeparator)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

type HashLookup interface {
	FindByContentHash(ctx context.Context, hash string) (*models.CastingCall, error)
}

// CheckDuplicate returns the casting call already holding hash, or nil.
func CheckDuplicate(ctx context.Context, repo HashLookup, hash string) (*models.CastingCall, error) {
	return repo.FindByContentHash(ctx, hash)
}

type Decision string

const (
	DecisionInsert  Decision = "insert"
	DecisionDiscard Decision = "discard"
)

type Policy struct {
	// RejectedResubmitAfter allows a candidate matching a rejected or
	// cancelled record once that record has been closed for longer than the
	// window. Zero keeps them discarded forever.
	RejectedResubmitAfter time.Duration
	Now                   func() time.Time
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Decide tells the validation worker what to do with a candidate whose hash
// matched existing.
func (p Policy) Decide(existing *models.CastingCall) Decision {
	if existing == nil {
		return DecisionInsert
	}
	switch existing.Status {
	case models.StatusRejected, models.StatusCancelled:
		if p.RejectedResubmitAfter > 0 && p.now().Sub(existing.UpdatedAt) > p.RejectedResubmitAfter {
			return DecisionInsert
		}
	}
	return DecisionDiscard
}
