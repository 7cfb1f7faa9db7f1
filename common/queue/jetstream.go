package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"digitaltwin/common/telemetry"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// JetStream is a Broker backed by NATS JetStream work-queue streams.
type JetStream struct {
	js        nats.JetStreamContext
	logger    *zap.Logger
	fetchWait time.Duration
}

func NewJetStream(nc *nats.Conn, logger *zap.Logger) (*JetStream, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return &JetStream{js: js, logger: logger, fetchWait: 5 * time.Second}, nil
}

// EnsureStreams declares the work-queue stream behind each queue.
func (b *JetStream) EnsureStreams(ctx context.Context, queues ...Queue) error {
	for _, q := range queues {
		_, err := b.js.StreamInfo(q.Stream, nats.Context(ctx))
		if err == nil {
			continue
		}
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("stream info %s: %w", q.Stream, err)
		}
		if _, err := b.js.AddStream(&nats.StreamConfig{
			Name:      q.Stream,
			Subjects:  []string{q.Subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		}, nats.Context(ctx)); err != nil {
			return fmt.Errorf("add stream %s: %w", q.Stream, err)
		}
		b.logger.Info("created stream", zap.String("stream", q.Stream), zap.String("subject", q.Subject))
	}
	return nil
}

func (b *JetStream) Enqueue(ctx context.Context, q Queue, job *Job) error {
	_, span := tracer.Start(ctx, "JetStream.Enqueue")
	defer span.End()

	data, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal job: %w", err)
	}

	span.SetAttributes(
		telemetry.String("nats.subject", q.Subject),
		telemetry.Int("message.size", len(data)),
	)

	if _, err := b.js.Publish(q.Subject, data, nats.Context(ctx), nats.MsgId(job.ID)); err != nil {
		span.RecordError(err)
		b.logger.Error("failed to publish job",
			zap.String("job_id", job.ID),
			zap.String("subject", q.Subject),
			zap.Error(err))
		return fmt.Errorf("publish to %s: %w", q.Subject, err)
	}

	b.logger.Debug("published job",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.String("subject", q.Subject))
	return nil
}

func (b *JetStream) Consumer(q Queue, opts ConsumerOptions) (Consumer, error) {
	subOpts := []nats.SubOpt{nats.BindStream(q.Stream), nats.AckExplicit()}
	if opts.AckWait > 0 {
		subOpts = append(subOpts, nats.AckWait(opts.AckWait))
	}
	if opts.MaxDeliver > 0 {
		subOpts = append(subOpts, nats.MaxDeliver(opts.MaxDeliver))
	}
	sub, err := b.js.PullSubscribe(q.Subject, q.Durable, subOpts...)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", q.Subject, err)
	}
	return &jsConsumer{sub: sub, wait: b.fetchWait, logger: b.logger}, nil
}

func (b *JetStream) Depth(ctx context.Context, q Queue) (int, error) {
	info, err := b.js.StreamInfo(q.Stream, nats.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("stream info %s: %w", q.Stream, err)
	}
	return int(info.State.Msgs), nil
}

type jsConsumer struct {
	sub    *nats.Subscription
	wait   time.Duration
	logger *zap.Logger
}

func (c *jsConsumer) Fetch(ctx context.Context, batch int) ([]Delivery, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()

	msgs, err := c.sub.Fetch(batch, nats.Context(fetchCtx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			c.logger.Error("dropping undecodable message",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			_ = msg.Term()
			continue
		}
		out = append(out, &jsDelivery{msg: msg, job: &job})
	}
	return out, nil
}

func (c *jsConsumer) Close() error {
	return c.sub.Unsubscribe()
}

type jsDelivery struct {
	msg *nats.Msg
	job *Job
}

func (d *jsDelivery) Job() *Job  { return d.job }
func (d *jsDelivery) Ack() error { return d.msg.Ack() }

func (d *jsDelivery) Nak(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}

func (d *jsDelivery) InProgress() error { return d.msg.InProgress() }
