package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Broker. It backs single-binary runs and tests.
type Memory struct {
	mu      sync.Mutex
	pending map[string][]*Job
	history map[string][]*Job
	signal  chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		pending: make(map[string][]*Job),
		history: make(map[string][]*Job),
		signal:  make(chan struct{}, 1),
	}
}

func (m *Memory) Enqueue(ctx context.Context, q Queue, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.pending[q.Stream] = append(m.pending[q.Stream], job.clone())
	m.history[q.Stream] = append(m.history[q.Stream], job.clone())
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) Consumer(q Queue, _ ConsumerOptions) (Consumer, error) {
	return &memConsumer{broker: m, stream: q.Stream}, nil
}

func (m *Memory) Depth(_ context.Context, q Queue) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[q.Stream]), nil
}

// Enqueued returns every job ever published to q, in order.
func (m *Memory) Enqueued(q Queue) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.history[q.Stream]))
	for _, j := range m.history[q.Stream] {
		out = append(out, j.clone())
	}
	return out
}

func (m *Memory) take(stream string, n int) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.pending[stream]
	if len(jobs) < n {
		n = len(jobs)
	}
	out := jobs[:n]
	m.pending[stream] = jobs[n:]
	return out
}

func (m *Memory) requeue(stream string, job *Job) {
	m.mu.Lock()
	m.pending[stream] = append(m.pending[stream], job)
	m.mu.Unlock()
}

type memConsumer struct {
	broker *Memory
	stream string
}

func (c *memConsumer) Fetch(ctx context.Context, batch int) ([]Delivery, error) {
	for {
		if jobs := c.broker.take(c.stream, batch); len(jobs) > 0 {
			out := make([]Delivery, 0, len(jobs))
			for _, j := range jobs {
				out = append(out, &memDelivery{consumer: c, job: j})
			}
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-c.broker.signal:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (c *memConsumer) Close() error { return nil }

type memDelivery struct {
	consumer *memConsumer
	job      *Job
}

func (d *memDelivery) Job() *Job  { return d.job }
func (d *memDelivery) Ack() error { return nil }

// InProgress is a no-op: memory deliveries are never redelivered on a timer.
func (d *memDelivery) InProgress() error { return nil }

func (d *memDelivery) Nak(_ time.Duration) error {
	d.consumer.broker.requeue(d.consumer.stream, d.job)
	return nil
}
