package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"digitaltwin/common/models"
	"digitaltwin/common/telemetry"

	"go.uber.org/zap"
)

var tracer = telemetry.GetTracer("digitaltwin/common/queue")

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeDiscarded marks a job that finished without producing anything,
	// such as a duplicate or a capture that is not a casting call.
	OutcomeDiscarded Outcome = "discarded"
	OutcomeFailed    Outcome = "failed"
)

type Result struct {
	Outcome Outcome
	Detail  string
}

func Completed(detail string) Result { return Result{Outcome: OutcomeCompleted, Detail: detail} }
func Discarded(detail string) Result { return Result{Outcome: OutcomeDiscarded, Detail: detail} }

// Handler processes one job attempt.
type Handler func(ctx context.Context, job *Job) (Result, error)

type DeadLetterSink interface {
	Push(ctx context.Context, kind models.DeadLetterKind, job *Job, cause error, failedAt time.Time) error
}

type WorkerOptions struct {
	Name        string
	Concurrency int
	JobTimeout  time.Duration
	Retry       RetryPolicy
	// DeadLetterKind and DeadLetters receive jobs that exhausted their retries.
	// Without a sink the delivery is negatively acknowledged instead.
	DeadLetterKind models.DeadLetterKind
	DeadLetters    DeadLetterSink
	NakDelay       time.Duration
	// MaxDeliver caps redeliveries of a job whose worker died mid-attempt.
	MaxDeliver int
}

// ackGrace covers dead-lettering and acking after the last attempt.
const ackGrace = 30 * time.Second

// ConsumerOptions sizes the consumer's ack wait to the worst case of one
// delivery so a job is never redelivered while its worker is still retrying.
func (o WorkerOptions) ConsumerOptions() ConsumerOptions {
	opts := ConsumerOptions{MaxDeliver: o.MaxDeliver}
	if o.JobTimeout > 0 {
		opts.AckWait = o.Retry.Budget(o.JobTimeout) + ackGrace
	}
	return opts
}

type WorkerStats struct {
	Completed    int64 `json:"completed"`
	Discarded    int64 `json:"discarded"`
	DeadLettered int64 `json:"deadLettered"`
	Requeued     int64 `json:"requeued"`
}

type Worker struct {
	consumer Consumer
	handler  Handler
	opts     WorkerOptions
	logger   *zap.Logger

	completed    int64
	discarded    int64
	deadLettered int64
	requeued     int64
}

func NewWorker(consumer Consumer, handler Handler, opts WorkerOptions, logger *zap.Logger) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.NakDelay == 0 {
		opts.NakDelay = 30 * time.Second
	}
	return &Worker{
		consumer: consumer,
		handler:  handler,
		opts:     opts,
		logger:   logger.With(zap.String("worker", opts.Name)),
	}
}

// Run pulls jobs with the configured concurrency until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	w.logger.Info("worker stopped", zap.Any("stats", w.Stats()))
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		// One job per fetch: a fetched job's ack timer is already running, so
		// nothing waits unacked behind the job being worked on.
		deliveries, err := w.consumer.Fetch(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("fetch failed", zap.Int("goroutine", id), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, d := range deliveries {
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d Delivery) {
	job := d.Job()
	heartbeat := func() {
		if err := d.InProgress(); err != nil {
			w.logger.Warn("failed to extend ack deadline", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if err := w.process(ctx, job, heartbeat); err != nil {
		atomic.AddInt64(&w.requeued, 1)
		if nakErr := d.Nak(w.opts.NakDelay); nakErr != nil {
			w.logger.Error("failed to nak job", zap.String("job_id", job.ID), zap.Error(nakErr))
		}
		return
	}
	if err := d.Ack(); err != nil {
		w.logger.Error("failed to ack job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Process runs the handler under the retry policy. A job that exhausts its
// attempts is forwarded to the dead letter sink; Process only returns an
// error when that forwarding is not possible and the job must stay queued.
func (w *Worker) Process(ctx context.Context, job *Job) error {
	return w.process(ctx, job, func() {})
}

// process calls beforeAttempt ahead of every attempt.
func (w *Worker) process(ctx context.Context, job *Job, beforeAttempt func()) error {
	ctx, span := tracer.Start(ctx, "Worker.Process")
	defer span.End()
	span.SetAttributes(
		telemetry.String("job.id", job.ID),
		telemetry.String("job.name", job.Name),
		telemetry.String("worker", w.opts.Name),
	)

	var result Result
	attempts, err := w.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		beforeAttempt()
		job.Attempts++
		attemptCtx := ctx
		cancel := func() {}
		if w.opts.JobTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		}
		defer cancel()

		r, err := w.handler(attemptCtx, job)
		if err != nil {
			job.FailedReason = err.Error()
			w.logger.Warn("job attempt failed",
				zap.String("job_id", job.ID),
				zap.String("job_name", job.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		result = r
		return nil
	})

	if err == nil {
		switch result.Outcome {
		case OutcomeDiscarded:
			atomic.AddInt64(&w.discarded, 1)
		default:
			atomic.AddInt64(&w.completed, 1)
		}
		w.logger.Debug("job finished",
			zap.String("job_id", job.ID),
			zap.String("outcome", string(result.Outcome)),
			zap.String("detail", result.Detail),
			zap.Int("attempts", attempts))
		return nil
	}

	span.RecordError(err)
	if ctx.Err() != nil {
		return fmt.Errorf("job %s interrupted: %w", job.ID, ctx.Err())
	}
	if w.opts.DeadLetters == nil {
		return fmt.Errorf("job %s failed after %d attempts: %w", job.ID, attempts, err)
	}

	if pushErr := w.opts.DeadLetters.Push(ctx, w.opts.DeadLetterKind, job, err, time.Now().UTC()); pushErr != nil {
		w.logger.Error("failed to dead-letter job",
			zap.String("job_id", job.ID),
			zap.Error(pushErr))
		return fmt.Errorf("dead-letter job %s: %w", job.ID, pushErr)
	}

	atomic.AddInt64(&w.deadLettered, 1)
	w.logger.Error("job dead-lettered",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.String("kind", string(w.opts.DeadLetterKind)),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return nil
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Completed:    atomic.LoadInt64(&w.completed),
		Discarded:    atomic.LoadInt64(&w.discarded),
		DeadLettered: atomic.LoadInt64(&w.deadLettered),
		Requeued:     atomic.LoadInt64(&w.requeued),
	}
}
