package worker

import (
	"context"
	"encoding/json"
	"time"

	"taskmill/internal/domain"
	"taskmill/internal/queue"
	"taskmill/internal/schedule"
)

// Client enqueues tasks for registered capabilities. Producers use it; the
// worker side never does.
type Client struct {
	store queue.Store
}

func NewClient(store queue.Store) *Client {
	return &Client{store: store}
}

// Enqueue inserts one task for rn. When rn carries a schedule, the first
// run is resolved from it; otherwise the task is ready immediately. A uniq
// key on rn dedupes against pending tasks of the same key.
func (c *Client) Enqueue(ctx context.Context, rn Runnable, payload json.RawMessage) (string, error) {
	t, err := buildTask(rn, payload)
	if err != nil {
		return "", err
	}
	return c.store.Insert(ctx, t)
}

// EnqueueStrict behaves like Enqueue but surfaces queue.ErrDuplicateTask
// instead of returning the existing task's id.
func (c *Client) EnqueueStrict(ctx context.Context, rn Runnable, payload json.RawMessage) (string, error) {
	t, err := buildTask(rn, payload)
	if err != nil {
		return "", err
	}
	return c.store.InsertStrict(ctx, t)
}

// EnqueueAt inserts a task that becomes ready at the given instant,
// ignoring any schedule on rn.
func (c *Client) EnqueueAt(ctx context.Context, rn Runnable, payload json.RawMessage, at time.Time) (string, error) {
	return c.store.Insert(ctx, domain.Task{
		Kind:        rn.Kind(),
		Payload:     payload,
		MaxRetries:  rn.MaxRetries(),
		UniqKey:     rn.UniqKey(),
		ScheduledAt: at,
	})
}

func buildTask(rn Runnable, payload json.RawMessage) (domain.Task, error) {
	t := domain.Task{
		Kind:       rn.Kind(),
		Payload:    payload,
		MaxRetries: rn.MaxRetries(),
		UniqKey:    rn.UniqKey(),
	}
	if s := rn.Cron(); s != nil {
		at, err := schedule.Resolve(s, time.Now().UTC())
		if err != nil {
			return domain.Task{}, err
		}
		t.ScheduledAt = at
	}
	return t, nil
}
