package engine

import (
	"context"
	"time"
)

// MemoryQueue moves decision jobs over a buffered channel. Unlike the SQS
// path there is no wire codec: jobs travel typed, and channel receive is
// the acknowledgement.
type MemoryQueue struct {
	ch chan jobDelivery
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch: make(chan jobDelivery, buffer),
	}
}

// SendJob enqueues a decision job or blocks until ctx is done.
func (q *MemoryQueue) SendJob(ctx context.Context, job decisionJob) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.ch <- jobDelivery{Job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveJobs blocks until a job is available, ctx is done, or waitSeconds
// elapses.
func (q *MemoryQueue) ReceiveJobs(ctx context.Context, maxJobs int, waitSeconds int) ([]jobDelivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxJobs <= 0 {
		maxJobs = 1
	}

	var timer *time.Timer
	if waitSeconds > 0 {
		timer = time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
	}

	for {
		if timer == nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case delivery := <-q.ch:
				return q.collect(ctx, delivery, maxJobs), nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case delivery := <-q.ch:
			return q.collect(ctx, delivery, maxJobs), nil
		}
	}
}

// Delete is a no-op: receiving from the channel already consumed the job.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}

func (q *MemoryQueue) collect(ctx context.Context, first jobDelivery, max int) []jobDelivery {
	if ctx == nil {
		ctx = context.Background()
	}
	deliveries := make([]jobDelivery, 0, max)
	deliveries = append(deliveries, first)

	for len(deliveries) < max {
		select {
		case <-ctx.Done():
			return deliveries
		case delivery := <-q.ch:
			deliveries = append(deliveries, delivery)
		default:
			return deliveries
		}
	}
	return deliveries
}
