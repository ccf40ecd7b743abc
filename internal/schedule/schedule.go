package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrNotSchedulable means a schedule was required but none was provided.
	// This is a bug in the task definition, not a transient condition.
	ErrNotSchedulable = errors.New("task is not schedulable: no schedule provided")

	// ErrNoTimestamps means the schedule yields no future occurrence: a
	// one-shot instant already in the past, or a cron pattern that can
	// never match again.
	ErrNoTimestamps = errors.New("no timestamps match this schedule")
)

// LibraryError wraps a cron parser failure for a malformed expression.
type LibraryError struct {
	Err error
}

func (e *LibraryError) Error() string { return "cron parse: " + e.Err.Error() }
func (e *LibraryError) Unwrap() error { return e.Err }

// parser accepts standard 5-field expressions plus an optional leading
// seconds field.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type kind int

const (
	kindCron kind = iota + 1
	kindOnce
)

// Schedule specifies when a task should next run: either a cron pattern
// resolving to an unbounded sequence of instants, or a single fixed instant.
type Schedule struct {
	kind kind
	expr string
	at   time.Time
}

// CronPattern builds a periodic schedule from a cron expression, e.g.
// "0/20 * * * * *" for every twenty seconds.
func CronPattern(expr string) Schedule {
	return Schedule{kind: kindCron, expr: expr}
}

// Once builds a schedule that fires a single time at the given instant.
func Once(at time.Time) Schedule {
	return Schedule{kind: kindOnce, at: at}
}

func (s Schedule) String() string {
	switch s.kind {
	case kindCron:
		return "cron(" + s.expr + ")"
	case kindOnce:
		return "once(" + s.at.Format(time.RFC3339) + ")"
	default:
		return "none"
	}
}

// Resolve computes the earliest instant strictly after now at which the
// schedule fires. It is pure: the same (schedule, now) always yields the
// same result. A nil schedule fails with ErrNotSchedulable.
func Resolve(s *Schedule, now time.Time) (time.Time, error) {
	if s == nil || s.kind == 0 {
		return time.Time{}, ErrNotSchedulable
	}
	switch s.kind {
	case kindOnce:
		if s.at.After(now) {
			return s.at, nil
		}
		return time.Time{}, ErrNoTimestamps
	case kindCron:
		spec, err := parse(s.expr)
		if err != nil {
			return time.Time{}, &LibraryError{Err: err}
		}
		next := spec.Next(now)
		if next.IsZero() {
			return time.Time{}, ErrNoTimestamps
		}
		return next, nil
	default:
		return time.Time{}, ErrNotSchedulable
	}
}

// Validate checks a cron expression without resolving it.
func Validate(expr string) error {
	if _, err := parse(expr); err != nil {
		return &LibraryError{Err: err}
	}
	return nil
}

// parse tolerates a trailing wildcard year field (seven-field expressions
// show up in configs ported from other schedulers); a constrained year is
// rejected since nothing here can honor it.
func parse(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) == 7 {
		year := fields[6]
		if year != "*" && year != "?" {
			return nil, fmt.Errorf("unsupported year field %q", year)
		}
		expr = strings.Join(fields[:6], " ")
	}
	return parser.Parse(expr)
}
