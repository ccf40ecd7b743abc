package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"taskmill/internal/queue"
)

// Pool runs size independent workers against one shared store. Each worker
// carries its own backoff state; the store's claim operation is the only
// thing they contend on.
type Pool struct {
	workers []*Worker
}

func NewPool(store queue.Store, registry *Registry, size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{workers: make([]*Worker, 0, size)}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, New(store, registry, opts...))
	}
	return p
}

// Run blocks until every worker has observed the shutdown signal and
// drained its in-flight task.
func (p *Pool) Run(ctx context.Context) {
	log.Info().Int("workers", len(p.workers)).Msg("worker pool starting")

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()

	log.Info().Msg("worker pool stopped")
}
