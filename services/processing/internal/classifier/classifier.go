// Package classifier decides whether raw captured text is a casting call and
// pulls structured fields out of it.
package classifier

import (
	"context"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"

	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("digitaltwin/processing/classifier")

type ClassificationResult struct {
	IsCastingCall bool                      `json:"isCastingCall"`
	Confidence    float64                   `json:"confidence"`
	Fields        *models.CastingCallFields `json:"fields,omitempty"`
}

type Classifier interface {
	Classify(ctx context.Context, text, sourceURL string) (ClassificationResult, error)
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Retryable reports whether a classifier error is transient. Only upstream
// failures (timeouts, 5xx, 429, malformed replies) are worth another attempt.
func Retryable(err error) bool {
	return apperrors.Is(err, apperrors.ErrTypeUpstream)
}

type fallback struct {
	primary   Classifier
	secondary Classifier
	logger    *zap.Logger
}

// WithFallback answers with secondary when primary fails permanently.
// Transient primary failures are returned so the caller can retry them.
func WithFallback(primary, secondary Classifier, logger *zap.Logger) Classifier {
	return &fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *fallback) Classify(ctx context.Context, text, sourceURL string) (ClassificationResult, error) {
	res, err := f.primary.Classify(ctx, text, sourceURL)
	if err == nil || Retryable(err) || ctx.Err() != nil {
		return res, err
	}
	f.logger.Warn("primary classifier failed, using fallback",
		zap.String("source_url", sourceURL),
		zap.Error(err))
	return f.secondary.Classify(ctx, text, sourceURL)
}
