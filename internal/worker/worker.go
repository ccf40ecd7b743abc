package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskmill/internal/domain"
	"taskmill/internal/queue"
)

// Option configures a Worker (and every worker in a Pool).
type Option func(*Worker)

func WithSleepParams(p SleepParams) Option {
	return func(w *Worker) { w.sleep = p }
}

func WithRetention(m RetentionMode) Option {
	return func(w *Worker) { w.retention = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithRetryDelay overrides the delay applied before a retried task becomes
// claimable again. fn receives the number of attempts made so far.
func WithRetryDelay(fn func(retries int) time.Duration) Option {
	return func(w *Worker) { w.retryDelay = fn }
}

// Worker is one polling agent. It competes with any number of other workers
// (in this process or others) over the shared store; the claim operation is
// the only synchronization point between them.
type Worker struct {
	store      queue.Store
	registry   *Registry
	sleep      SleepParams
	retention  RetentionMode
	retryDelay func(retries int) time.Duration
	id         string
	log        zerolog.Logger
}

func New(store queue.Store, registry *Registry, opts ...Option) *Worker {
	w := &Worker{
		store:      store,
		registry:   registry,
		sleep:      DefaultSleepParams(),
		retention:  RetentionRemoveAll,
		retryDelay: RetryDelay,
		id:         "wrk_" + uuid.NewString(),
		log:        log.Logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With().Str("worker_id", w.id).Logger()
	return w
}

// Run drives the poll cycle until ctx is canceled. Cancellation takes
// effect between iterations only: a claimed task always reaches a terminal
// or retry transition before the loop exits.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().
		Str("retention", w.retention.String()).
		Dur("min_sleep", w.sleep.Min).
		Dur("max_sleep", w.sleep.Max).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return
		default:
		}

		task, err := w.store.ClaimNextReady(ctx, time.Now().UTC())
		switch {
		case errors.Is(err, queue.ErrEmpty):
			w.sleep.MaybeIncrease()
			if !w.idle(ctx) {
				w.log.Info().Msg("worker stopped")
				return
			}
		case err != nil:
			// Transient store error; the next poll retries.
			w.log.Warn().Err(err).Msg("claim failed")
			if !w.idle(ctx) {
				w.log.Info().Msg("worker stopped")
				return
			}
		default:
			w.sleep.MaybeReset()
			w.process(task)
		}
	}
}

// idle waits out the current sleep period. Returns false when the shutdown
// signal arrived during the wait.
func (w *Worker) idle(ctx context.Context) bool {
	timer := time.NewTimer(w.sleep.Current)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// process executes one claimed task and writes back its transition. It runs
// against the background context so shutdown never interrupts it mid-flight.
func (w *Worker) process(t domain.Task) {
	ctx := context.Background()
	start := time.Now()

	rn, ok := w.registry.Lookup(t.Kind)
	if !ok {
		// Retrying won't conjure up a capability; fail terminally.
		w.log.Error().Str("task_id", t.ID).Str("kind", t.Kind).Msg("no capability registered")
		w.finalize(ctx, t, domain.StateFailed, "no capability registered for kind "+t.Kind)
		return
	}

	err := runGuarded(ctx, rn, t)
	if err == nil {
		w.log.Info().
			Str("task_id", t.ID).
			Str("kind", t.Kind).
			Dur("duration", time.Since(start)).
			Msg("task finished")
		w.finalize(ctx, t, domain.StateFinished, "")
		return
	}

	if t.Retries < t.MaxRetries {
		delay := w.retryDelay(t.Retries)
		if rerr := w.store.Retry(ctx, t.ID, err.Error(), delay); rerr != nil {
			w.log.Error().Err(rerr).Str("task_id", t.ID).Msg("retry transition failed")
			return
		}
		w.log.Warn().
			Str("task_id", t.ID).
			Str("kind", t.Kind).
			Int("retries", t.Retries+1).
			Int("max_retries", t.MaxRetries).
			Dur("delay", delay).
			Err(err).
			Msg("task retried")
		return
	}

	w.log.Error().
		Str("task_id", t.ID).
		Str("kind", t.Kind).
		Int("retries", t.Retries).
		Err(err).
		Msg("task failed")
	w.finalize(ctx, t, domain.StateFailed, err.Error())
}

func (w *Worker) finalize(ctx context.Context, t domain.Task, outcome domain.State, msg string) {
	if err := w.store.UpdateState(ctx, t.ID, outcome, msg); err != nil {
		w.log.Error().Err(err).Str("task_id", t.ID).Msg("state update failed")
		return
	}
	if err := sweep(ctx, w.store, w.retention, t.ID, outcome); err != nil {
		w.log.Error().Err(err).Str("task_id", t.ID).Msg("retention sweep failed")
	}
}

// runGuarded converts a panicking capability into an ExecutionError so a
// single task can never take the loop down.
func runGuarded(ctx context.Context, rn Runnable, t domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ExecutionError{Description: fmt.Sprintf("panic in capability %s: %v", t.Kind, r)}
		}
	}()
	return rn.Run(ctx, t.Payload)
}

// RetryDelay is the default re-eligibility delay for a retried task:
// capped exponential 1s,2s,4s,... up to 60s, keyed by attempts so far.
func RetryDelay(retries int) time.Duration {
	if retries <= 0 {
		return time.Second
	}
	d := 1 << retries // 2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}
