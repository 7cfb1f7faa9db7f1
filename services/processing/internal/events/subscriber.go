package events

import (
	"context"
	"fmt"
	"sync"

	"digitaltwin/common/dlq"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/services/processing/internal/classifier"
	"digitaltwin/services/processing/internal/config"
	"digitaltwin/services/processing/internal/extraction"
	"digitaltwin/services/processing/internal/validation"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler owns the extraction, validation and dead letter workers of the
// processing service.
type Handler struct {
	logger    *zap.Logger
	workers   []*queue.Worker
	consumers []queue.Consumer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func retryPolicy(cfg *config.Config, attempts int, retryable func(error) bool) queue.RetryPolicy {
	p := queue.DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.InitialInterval = cfg.InitialBackoff
	p.MaxInterval = cfg.MaxBackoff
	p.Retryable = retryable
	return p
}

func NewHandler(cfg *config.Config, broker queue.Broker, extractor *extraction.Extractor, validator *validation.Handler, deadLetters dlq.Store, logger *zap.Logger) (*Handler, error) {
	h := &Handler{logger: logger}
	sink := dlq.NewPublisher(broker, logger)

	specs := []struct {
		q       queue.Queue
		handler queue.Handler
		opts    queue.WorkerOptions
	}{
		{queue.Extraction, extractor.Handle, queue.WorkerOptions{
			Name:           "extraction",
			Concurrency:    cfg.ExtractionConcurrency,
			Retry:          retryPolicy(cfg, cfg.ExtractionMaxAttempts, classifier.Retryable),
			DeadLetterKind: models.KindFailedExtraction,
			DeadLetters:    sink,
		}},
		{queue.Validation, validator.Handle, queue.WorkerOptions{
			Name:           "validation",
			Concurrency:    cfg.ValidationConcurrency,
			Retry:          retryPolicy(cfg, cfg.ValidationMaxAttempts, validation.Retryable),
			DeadLetterKind: models.KindFailedValidation,
			DeadLetters:    sink,
		}},
		{queue.DeadLetter, dlq.Recorder(deadLetters, logger), queue.WorkerOptions{
			Name:        "dead-letter",
			Concurrency: cfg.DeadLetterConcurrency,
			Retry:       retryPolicy(cfg, 3, nil),
		}},
	}

	for _, s := range specs {
		s.opts.JobTimeout = cfg.JobTimeout
		s.opts.NakDelay = cfg.NakDelay
		s.opts.MaxDeliver = cfg.MaxDeliver
		consumer, err := broker.Consumer(s.q, s.opts.ConsumerOptions())
		if err != nil {
			h.closeConsumers()
			return nil, fmt.Errorf("consumer for %s: %w", s.q.Stream, err)
		}
		h.consumers = append(h.consumers, consumer)
		h.workers = append(h.workers, queue.NewWorker(consumer, s.handler, s.opts, logger))
	}
	return h, nil
}

func (h *Handler) RegisterSubscriptions(lc fx.Lifecycle) error {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			h.cancel = cancel
			for _, w := range h.workers {
				w := w
				h.wg.Add(1)
				go func() {
					defer h.wg.Done()
					w.Run(ctx)
				}()
			}
			h.logger.Info("started queue workers", zap.Int("workers", len(h.workers)))
			return nil
		},
		OnStop: func(context.Context) error {
			if h.cancel != nil {
				h.cancel()
			}
			h.wg.Wait()
			return h.closeConsumers()
		},
	})
	return nil
}

func (h *Handler) closeConsumers() error {
	var first error
	for _, c := range h.consumers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
