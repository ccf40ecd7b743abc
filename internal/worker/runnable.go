package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"taskmill/internal/schedule"
)

// DefaultMaxRetries is used when a capability doesn't override MaxRetries.
const DefaultMaxRetries = 5

// ExecutionError is a typed failure of an executable capability. Handlers
// may return it directly; any other error (or a panic) is wrapped into one
// before it drives the retry/fail transition.
type ExecutionError struct {
	Description string
}

func (e ExecutionError) Error() string { return e.Description }

// Runnable is the executable capability behind a task kind. The embedding
// application implements one per kind and registers it at startup.
type Runnable interface {
	// Kind tags tasks handled by this capability.
	Kind() string

	// Run performs the work. The payload is whatever was enqueued; the
	// engine never interprets it.
	Run(ctx context.Context, payload json.RawMessage) error

	// Cron returns the schedule for periodic tasks, nil for on-demand ones.
	Cron() *schedule.Schedule

	// MaxRetries is the per-kind retry ceiling.
	MaxRetries() int

	// UniqKey, when non-nil, dedupes pending tasks of this capability.
	UniqKey() *string
}

// Base provides the Runnable defaults: no schedule, no uniq key,
// DefaultMaxRetries. Embed it and override what you need.
type Base struct{}

func (Base) Cron() *schedule.Schedule { return nil }
func (Base) MaxRetries() int          { return DefaultMaxRetries }
func (Base) UniqKey() *string         { return nil }

// Registry maps kind tags to capabilities. It is resolved once at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	capabilities map[string]Runnable
}

func NewRegistry(runnables ...Runnable) (*Registry, error) {
	r := &Registry{capabilities: make(map[string]Runnable, len(runnables))}
	for _, rn := range runnables {
		if err := r.register(rn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(rn Runnable) error {
	kind := rn.Kind()
	if kind == "" {
		return fmt.Errorf("capability has empty kind")
	}
	if _, dup := r.capabilities[kind]; dup {
		return fmt.Errorf("capability %q registered twice", kind)
	}
	r.capabilities[kind] = rn
	return nil
}

func (r *Registry) Lookup(kind string) (Runnable, bool) {
	rn, ok := r.capabilities[kind]
	return rn, ok
}

// Kinds returns the registered kind tags, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.capabilities))
	for k := range r.capabilities {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
