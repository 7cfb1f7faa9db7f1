package queue

import (
	"context"
	"time"
)

type Producer interface {
	Enqueue(ctx context.Context, q Queue, job *Job) error
}

// Delivery is one fetched job awaiting acknowledgement.
type Delivery interface {
	Job() *Job
	Ack() error
	Nak(delay time.Duration) error
	// InProgress resets the redelivery timer while the job is still being
	// worked on.
	InProgress() error
}

// ConsumerOptions tune redelivery of unacknowledged jobs. AckWait must exceed
// the longest time a worker holds one delivery.
type ConsumerOptions struct {
	AckWait    time.Duration
	MaxDeliver int
}

type Consumer interface {
	Fetch(ctx context.Context, batch int) ([]Delivery, error)
	Close() error
}

type Broker interface {
	Producer
	Consumer(q Queue, opts ConsumerOptions) (Consumer, error)
	Depth(ctx context.Context, q Queue) (int, error)
}
