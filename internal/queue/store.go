package queue

import (
	"context"
	"errors"
	"time"

	"taskmill/internal/domain"
)

var (
	// ErrEmpty is returned by ClaimNextReady when no task is ready.
	ErrEmpty = errors.New("no tasks ready")

	// ErrNotFound is returned for operations on unknown task ids.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned by InsertStrict when a non-terminal task
	// with the same uniq key already exists.
	ErrDuplicateTask = errors.New("duplicate task: uniq key already pending")
)

// Filter narrows List and DeleteMatching. Zero values mean "any".
type Filter struct {
	States []domain.State
	Kind   string
	Limit  int
}

// Store is the durable storage contract the engine runs against. Claim must
// be atomic under arbitrary concurrent callers: two workers never receive
// the same task. Everything else a worker does with a claimed task is
// exclusively owned until a terminal or retry transition is written back.
type Store interface {
	// Insert adds a task. When the task carries a uniq key and a
	// non-terminal task with the same key exists, the existing id is
	// returned instead of inserting a duplicate.
	Insert(ctx context.Context, t domain.Task) (string, error)

	// InsertStrict behaves like Insert but reports ErrDuplicateTask
	// instead of deduplicating.
	InsertStrict(ctx context.Context, t domain.Task) (string, error)

	// ClaimNextReady atomically selects one claimable task with
	// scheduled_at <= now, moves it to in_progress and returns it.
	// ErrEmpty when nothing is ready.
	ClaimNextReady(ctx context.Context, now time.Time) (domain.Task, error)

	// UpdateState moves an in-progress task to finished or failed.
	// errMsg is stored on failure and cleared on success. Transitions
	// outside the state machine return ErrIllegalTransition.
	UpdateState(ctx context.Context, id string, to domain.State, errMsg string) error

	// Retry moves an in-progress task back to the ready set: state
	// retried, retries incremented, scheduled_at pushed out by delay.
	Retry(ctx context.Context, id, errMsg string, delay time.Duration) error

	Get(ctx context.Context, id string) (domain.Task, error)
	Delete(ctx context.Context, id string) error
	DeleteMatching(ctx context.Context, f Filter) (int, error)
	List(ctx context.Context, f Filter) ([]domain.Task, error)

	// RecoverStale returns tasks stuck in_progress longer than the
	// visibility window to the ready set. Covers worker crashes.
	RecoverStale(ctx context.Context, now time.Time, visibility time.Duration) (int, error)

	// Definition operations back the periodic scheduler; not in the
	// claim hot path.
	CreateDefinition(ctx context.Context, d domain.Definition) (string, error)
	GetDefinition(ctx context.Context, id string) (domain.Definition, error)
	ListDefinitions(ctx context.Context) ([]domain.Definition, error)
	UpdateDefinition(ctx context.Context, d domain.Definition) error
	DeleteDefinition(ctx context.Context, id string) error
	DueDefinitions(ctx context.Context, now time.Time) ([]domain.Definition, error)
	MarkDefinitionRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}
