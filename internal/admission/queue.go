package admission

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/models"
)

var errShuttingDown = errors.New("admission shutting down")

// queueFor must be called with c.mu held for reading.
func (c *Controller) queueFor(key string) *zoneQueue {
	q, _ := c.queues.LoadOrCompute(key, func() *zoneQueue {
		q := &zoneQueue{key: key, jobs: make(chan job, c.opts.QueueCapacity)}
		c.wg.Add(1)
		go c.drain(q)
		return q
	})
	return q
}

// enqueue hands the request to the zone's worker and returns at once with
// a processing outcome. A full queue is a retryable rejection.
func (c *Controller) enqueue(ctx context.Context, key string, j job) (models.AdmissionOutcome, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return models.AdmissionOutcome{}, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, errShuttingDown)
	}

	c.track(ctx, j.id, models.AdmissionProcessing, "")
	select {
	case c.queueFor(key).jobs <- j:
		c.Logger.Debug("ADMISSION", fmt.Sprintf("Queued %s on %s", j.id, key))
		return models.Queued(j.id), nil
	default:
		c.track(ctx, j.id, models.AdmissionRejected, models.ErrQueueFull.Error())
		c.Logger.Warn("ADMISSION", fmt.Sprintf("Queue %s full, rejecting %s", key, j.id))
		return models.Rejected(j.id, models.ErrQueueFull), nil
	}
}

// drain is the single consumer of one zone queue, so jobs are admitted in
// arrival order.
func (c *Controller) drain(q *zoneQueue) {
	defer c.wg.Done()
	c.Logger.Info("ADMISSION", fmt.Sprintf("🔄 Queue worker started for %s", q.key))

	for {
		select {
		case <-c.stop:
			c.rejectRemaining(q)
			return
		case j := <-q.jobs:
			c.process(j)
		}
	}
}

func (c *Controller) process(j job) {
	ctx := context.Background()
	outcome, err := c.admit(ctx, j.id, j.req, j.zone, j.labels)
	if err != nil {
		c.Logger.Error("ADMISSION", fmt.Sprintf("Queued request %s failed: %v", j.id, err))
		c.track(ctx, j.id, models.AdmissionRejected, err.Error())
		return
	}
	if outcome.State != models.AdmissionRejected {
		c.track(ctx, j.id, outcome.State, outcome.Reason)
	}
}

func (c *Controller) rejectRemaining(q *zoneQueue) {
	for {
		select {
		case j := <-q.jobs:
			c.track(context.Background(), j.id, models.AdmissionRejected, errShuttingDown.Error())
		default:
			return
		}
	}
}

// QueueDepth reports how many requests wait on a zone.
func (c *Controller) QueueDepth(key string) int {
	if q, ok := c.queues.Load(key); ok {
		return len(q.jobs)
	}
	return 0
}
