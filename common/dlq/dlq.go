// Package dlq captures jobs that failed every retry. Producers push entries
// onto the dead letter queue; the processing service drains that queue into a
// Store where operators list and clear them.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "digitaltwin/common/errors"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher forwards failed jobs to the dead letter queue. It satisfies
// queue.DeadLetterSink.
type Publisher struct {
	producer queue.Producer
	logger   *zap.Logger
}

func NewPublisher(producer queue.Producer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

// NewEntry builds the dead letter for job.
func NewEntry(kind models.DeadLetterKind, job *queue.Job, cause error, failedAt time.Time) (*models.DeadLetter, error) {
	original, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal original job: %w", err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &models.DeadLetter{
		ID:          uuid.New(),
		Kind:        kind,
		JobID:       job.ID,
		JobName:     job.Name,
		OriginalJob: original,
		Error:       msg,
		FailedAt:    failedAt.UTC(),
	}, nil
}

func (p *Publisher) Push(ctx context.Context, kind models.DeadLetterKind, job *queue.Job, cause error, failedAt time.Time) error {
	if !kind.Valid() {
		return apperrors.Validation(fmt.Sprintf("unknown dead letter kind %q", kind), nil)
	}
	entry, err := NewEntry(kind, job, cause, failedAt)
	if err != nil {
		return err
	}
	envelope, err := queue.NewJob(queue.JobDeadLetter, entry)
	if err != nil {
		return err
	}
	if err := p.producer.Enqueue(ctx, queue.DeadLetter, envelope); err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}

	p.logger.Warn("job sent to dead letter queue",
		zap.String("kind", string(kind)),
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.Int("attempts", job.Attempts),
		zap.String("error", entry.Error))
	return nil
}

// Recorder returns the handler of the dead letter worker: it persists each
// entry into store.
func Recorder(store Store, logger *zap.Logger) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (queue.Result, error) {
		var entry models.DeadLetter
		if err := job.Decode(&entry); err != nil {
			logger.Error("undecodable dead letter", zap.String("job_id", job.ID), zap.Error(err))
			return queue.Discarded("undecodable"), nil
		}
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if err := store.Save(ctx, &entry); err != nil {
			return queue.Result{}, err
		}
		return queue.Completed(string(entry.Kind)), nil
	}
}
