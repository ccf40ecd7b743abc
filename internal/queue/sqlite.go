package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskmill/internal/domain"
)

// EnsureSchema creates tables if they don't exist. Timestamps are stored as
// unix nanoseconds so ordering comparisons never depend on string formats.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  payload BLOB NOT NULL,
  state TEXT NOT NULL CHECK(state IN ('new','in_progress','finished','failed','retried')) DEFAULT 'new',
  retries INTEGER NOT NULL DEFAULT 0,
  max_retries INTEGER NOT NULL DEFAULT 5,
  scheduled_at INTEGER NOT NULL,
  error_message TEXT NOT NULL DEFAULT '',
  uniq_key TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_ready ON tasks(state, scheduled_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_uniq ON tasks(uniq_key)
  WHERE uniq_key IS NOT NULL AND state NOT IN ('finished','failed');
CREATE TABLE IF NOT EXISTS definitions (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  kind TEXT NOT NULL,
  payload BLOB NOT NULL,
  max_retries INTEGER NOT NULL DEFAULT 5,
  enabled INTEGER NOT NULL DEFAULT 1,
  last_run INTEGER,
  next_run INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_definitions_due ON definitions(enabled, next_run);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteStore struct{ db *sql.DB }

// NewSQLiteStore wraps db with the Store contract. The caller owns db and
// should keep a single writer connection (SQLite).
func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

const taskColumns = `id,kind,payload,state,retries,max_retries,scheduled_at,error_message,uniq_key,created_at,updated_at`

func (s *sqliteStore) Insert(ctx context.Context, t domain.Task) (string, error) {
	if t.UniqKey != nil {
		row := s.db.QueryRowContext(ctx, `
SELECT id FROM tasks WHERE uniq_key = ? AND state NOT IN ('finished','failed')`, *t.UniqKey)
		var existing string
		if err := row.Scan(&existing); err == nil {
			return existing, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
	}
	id, err := s.insert(ctx, t)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		// Lost a race with a concurrent insert of the same key.
		return s.Insert(ctx, t)
	}
	return id, err
}

func (s *sqliteStore) InsertStrict(ctx context.Context, t domain.Task) (string, error) {
	id, err := s.insert(ctx, t)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return "", ErrDuplicateTask
	}
	return id, err
}

func (s *sqliteStore) insert(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 5
	}
	now := time.Now().UTC()
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = now
	}
	if t.Payload == nil {
		t.Payload = []byte(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id,kind,payload,state,retries,max_retries,scheduled_at,error_message,uniq_key,created_at,updated_at)
VALUES (?,?,?,'new',0,?,?,'',?,?,?)`,
		id, t.Kind, []byte(t.Payload), t.MaxRetries, t.ScheduledAt.UnixNano(), t.UniqKey, now.UnixNano(), now.UnixNano())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *sqliteStore) ClaimNextReady(ctx context.Context, now time.Time) (domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Task{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE state IN ('new','retried') AND scheduled_at <= ?
ORDER BY scheduled_at ASC, created_at ASC
LIMIT 1`, now.UnixNano())

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		if rbErr := tx.Rollback(); rbErr != nil {
			return domain.Task{}, rbErr
		}
		return domain.Task{}, ErrEmpty
	}
	if err != nil {
		return domain.Task{}, err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE tasks SET state='in_progress', updated_at=? WHERE id=?`, now.UnixNano(), t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.State = domain.StateInProgress
	return t, nil
}

func (s *sqliteStore) UpdateState(ctx context.Context, id string, to domain.State, errMsg string) error {
	if to == domain.StateRetried || !domain.CanTransition(domain.StateInProgress, to) {
		return domain.ErrIllegalTransition{From: domain.StateInProgress, To: to}
	}
	if to == domain.StateFinished {
		errMsg = ""
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET state=?, error_message=?, updated_at=?
WHERE id=? AND state='in_progress'`, string(to), errMsg, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id, to)
}

func (s *sqliteStore) Retry(ctx context.Context, id, errMsg string, delay time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET state='retried', retries=retries+1, error_message=?, scheduled_at=?, updated_at=?
WHERE id=? AND state='in_progress'`, errMsg, now.Add(delay).UnixNano(), now.UnixNano(), id)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id, domain.StateRetried)
}

// checkTransition distinguishes "no such task" from "task not in_progress"
// when a guarded update matched no rows.
func (s *sqliteStore) checkTransition(ctx context.Context, res sql.Result, id string, to domain.State) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return domain.ErrIllegalTransition{From: cur.State, To: to}
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return err
}

func (s *sqliteStore) DeleteMatching(ctx context.Context, f Filter) (int, error) {
	where, args := buildFilter(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks`+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) List(ctx context.Context, f Filter) ([]domain.Task, error) {
	where, args := buildFilter(f)
	q := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *sqliteStore) RecoverStale(ctx context.Context, now time.Time, visibility time.Duration) (int, error) {
	cutoff := now.Add(-visibility)
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET state='retried', scheduled_at=?, updated_at=?
WHERE state='in_progress' AND updated_at <= ?`,
		now.UnixNano(), now.UnixNano(), cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func buildFilter(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, st := range f.States {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "state IN ("+strings.Join(ph, ",")+")")
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                             domain.Task
		state                         string
		payload                       []byte
		schedNs, createdNs, updatedNs int64
		uniq                          sql.NullString
	)
	err := row.Scan(&t.ID, &t.Kind, &payload, &state, &t.Retries, &t.MaxRetries,
		&schedNs, &t.ErrorMessage, &uniq, &createdNs, &updatedNs)
	if err != nil {
		return domain.Task{}, err
	}
	t.Payload = payload
	t.State = domain.State(state)
	t.ScheduledAt = time.Unix(0, schedNs).UTC()
	t.CreatedAt = time.Unix(0, createdNs).UTC()
	t.UpdatedAt = time.Unix(0, updatedNs).UTC()
	if uniq.Valid {
		k := uniq.String
		t.UniqKey = &k
	}
	return t, nil
}

const defColumns = `id,name,cron_expr,kind,payload,max_retries,enabled,last_run,next_run,created_at,updated_at`

func (s *sqliteStore) CreateDefinition(ctx context.Context, d domain.Definition) (string, error) {
	id := d.ID
	if id == "" {
		id = "def_" + uuid.NewString()
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = 5
	}
	if d.Payload == nil {
		d.Payload = []byte(`{}`)
	}
	now := time.Now().UTC().UnixNano()
	var lastRun any
	if d.LastRun != nil {
		lastRun = d.LastRun.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO definitions (id,name,cron_expr,kind,payload,max_retries,enabled,last_run,next_run,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		id, d.Name, d.CronExpr, d.Kind, []byte(d.Payload), d.MaxRetries, d.Enabled,
		lastRun, d.NextRun.UnixNano(), now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *sqliteStore) GetDefinition(ctx context.Context, id string) (domain.Definition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+defColumns+` FROM definitions WHERE id=?`, id)
	d, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Definition{}, ErrNotFound
	}
	return d, err
}

func (s *sqliteStore) ListDefinitions(ctx context.Context) ([]domain.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+defColumns+` FROM definitions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s *sqliteStore) UpdateDefinition(ctx context.Context, d domain.Definition) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE definitions SET name=?,cron_expr=?,kind=?,payload=?,max_retries=?,enabled=?,next_run=?,updated_at=?
WHERE id=?`, d.Name, d.CronExpr, d.Kind, []byte(d.Payload), d.MaxRetries, d.Enabled,
		d.NextRun.UnixNano(), time.Now().UTC().UnixNano(), d.ID)
	return err
}

func (s *sqliteStore) DeleteDefinition(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id=?`, id)
	return err
}

func (s *sqliteStore) DueDefinitions(ctx context.Context, now time.Time) ([]domain.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+defColumns+` FROM definitions
WHERE enabled=1 AND next_run <= ? ORDER BY next_run`, now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s *sqliteStore) MarkDefinitionRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE definitions SET last_run=?, next_run=?, updated_at=? WHERE id=?`,
		lastRun.UnixNano(), nextRun.UnixNano(), time.Now().UTC().UnixNano(), id)
	return err
}

func scanDefinition(row rowScanner) (domain.Definition, error) {
	var (
		d                            domain.Definition
		payload                      []byte
		lastRun                      sql.NullInt64
		nextNs, createdNs, updatedNs int64
	)
	err := row.Scan(&d.ID, &d.Name, &d.CronExpr, &d.Kind, &payload, &d.MaxRetries,
		&d.Enabled, &lastRun, &nextNs, &createdNs, &updatedNs)
	if err != nil {
		return domain.Definition{}, err
	}
	d.Payload = payload
	d.NextRun = time.Unix(0, nextNs).UTC()
	d.CreatedAt = time.Unix(0, createdNs).UTC()
	d.UpdatedAt = time.Unix(0, updatedNs).UTC()
	if lastRun.Valid {
		lr := time.Unix(0, lastRun.Int64).UTC()
		d.LastRun = &lr
	}
	return d, nil
}
