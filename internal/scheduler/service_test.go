package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"taskmill/internal/domain"
	"taskmill/internal/queue"
	"taskmill/internal/schedule"
)

func newTestStore(t *testing.T) queue.Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, queue.EnsureSchema(db))
	return queue.NewSQLiteStore(db)
}

func TestProcessDueInsertsFreshTask(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	defID, err := store.CreateDefinition(ctx, domain.Definition{
		Name:       "hourly-report",
		CronExpr:   "0 0 * * * *",
		Kind:       "shell",
		Payload:    []byte(`{"command":"true"}`),
		MaxRetries: 3,
		Enabled:    true,
		NextRun:    now.Add(-time.Minute),
	})
	require.NoError(t, err)

	svc.processDue(ctx, now)

	tasks, err := store.List(ctx, queue.Filter{Kind: "shell"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.StateNew, tasks[0].State)
	assert.Equal(t, 3, tasks[0].MaxRetries)
	assert.JSONEq(t, `{"command":"true"}`, string(tasks[0].Payload))

	def, err := store.GetDefinition(ctx, defID)
	require.NoError(t, err)
	require.NotNil(t, def.LastRun)
	assert.WithinDuration(t, now, *def.LastRun, time.Second)
	assert.True(t, def.NextRun.After(now), "next run advanced past now")

	// Not due again until next_run arrives; no duplicate task rows.
	svc.processDue(ctx, now)
	tasks, err = store.List(ctx, queue.Filter{Kind: "shell"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestProcessDueSkipsDisabled(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.CreateDefinition(ctx, domain.Definition{
		Name:     "paused",
		CronExpr: "0 0 * * * *",
		Kind:     "shell",
		Enabled:  false,
		NextRun:  now.Add(-time.Minute),
	})
	require.NoError(t, err)

	svc.processDue(ctx, now)

	tasks, err := store.List(ctx, queue.Filter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestProcessDefinitionBadExpression(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	def := domain.Definition{
		ID:       "def_bad",
		Name:     "broken",
		CronExpr: "not a cron",
		Kind:     "shell",
		Enabled:  true,
		NextRun:  now.Add(-time.Minute),
	}
	err := svc.processDefinition(ctx, def, now)
	require.Error(t, err)

	var libErr *schedule.LibraryError
	assert.ErrorAs(t, err, &libErr)

	tasks, lerr := store.List(ctx, queue.Filter{})
	require.NoError(t, lerr)
	assert.Empty(t, tasks, "no task inserted for an unresolvable definition")
}

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	next, err := NextRun("0 30 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), next)

	_, err = NextRun("nope", from)
	assert.Error(t, err)
}
