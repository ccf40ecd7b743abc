package worker

import (
	"context"

	"taskmill/internal/domain"
	"taskmill/internal/queue"
)

// RetentionMode decides what happens to a task row once it reaches a
// terminal state. The zero value is RetentionRemoveAll, the default.
type RetentionMode int

const (
	// RetentionRemoveAll deletes the row regardless of outcome.
	RetentionRemoveAll RetentionMode = iota
	// RetentionKeepAll never deletes.
	RetentionKeepAll
	// RetentionRemoveFinished deletes finished rows; failed rows are kept
	// for inspection.
	RetentionRemoveFinished
)

func (m RetentionMode) String() string {
	switch m {
	case RetentionRemoveAll:
		return "remove_all"
	case RetentionKeepAll:
		return "keep_all"
	case RetentionRemoveFinished:
		return "remove_finished"
	default:
		return "unknown"
	}
}

// sweep applies the retention mode to a task that just reached outcome.
// Only terminal rows are ever swept.
func sweep(ctx context.Context, store queue.Store, mode RetentionMode, id string, outcome domain.State) error {
	if !outcome.Terminal() {
		return nil
	}
	switch mode {
	case RetentionKeepAll:
		return nil
	case RetentionRemoveFinished:
		if outcome != domain.StateFinished {
			return nil
		}
	}
	return store.Delete(ctx, id)
}
