package batch

import (
	"errors"
	"fmt"
	"time"

	"github.com/tutu-network/streakd/internal/app/engagement"
	"github.com/tutu-network/streakd/internal/domain"
)

// ErrUserFailures is returned in strict mode when the run finished but at
// least one user failed.
var ErrUserFailures = errors.New("one or more users failed")

// FatalError aborts a whole run: the store is unreachable, the run lock is
// held elsewhere, or the lock was lost mid-run.
type FatalError struct {
	Stage string // lock, users, process, backfill, retention
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error during %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborted the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// UserResult is the outcome of processing one user.
type UserResult struct {
	UserID      domain.UserID
	State       domain.StreakState
	Active      bool
	Advanced    bool // false when the day was already processed
	Awarded     []domain.BadgeCode
	BadgeErrors []engagement.BadgeError
	Notified    int64 // outbox id, 0 if nothing queued
	Err         error
}

// Outcome labels the result for metrics.
func (r UserResult) Outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case !r.Advanced:
		return "skipped"
	case r.Active:
		return "advanced"
	default:
		return "unchanged"
	}
}

// RunSummary aggregates one RunDaily invocation.
type RunSummary struct {
	RunID        string
	ReferenceDay domain.Date
	StartedAt    time.Time
	FinishedAt   time.Time

	Processed   int
	Errored     int
	Advanced    int
	Awarded     int
	BadgeErrors int
	Backfilled  int
	Pruned      int64
	Archive     string // where pruned awards went, if archived

	Users []UserResult
}

// Status derives the run status from the counts and the run error.
func (s RunSummary) Status(err error) domain.RunStatus {
	switch {
	case IsFatal(err):
		return domain.RunFailed
	case s.Errored > 0 || s.BadgeErrors > 0:
		return domain.RunPartial
	default:
		return domain.RunOK
	}
}

// Failed returns the users that errored.
func (s RunSummary) Failed() []UserResult {
	var out []UserResult
	for _, u := range s.Users {
		if u.Err != nil {
			out = append(out, u)
		}
	}
	return out
}

// Record converts the summary to its persisted form.
func (s RunSummary) Record(err error) domain.RunRecord {
	rec := domain.RunRecord{
		ID:           s.RunID,
		ReferenceDay: s.ReferenceDay,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Processed:    s.Processed,
		Errored:      s.Errored,
		Advanced:     s.Advanced,
		Awarded:      s.Awarded,
		Backfilled:   s.Backfilled,
		Pruned:       s.Pruned,
		Status:       s.Status(err),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func (s *RunSummary) add(r UserResult) {
	s.Processed++
	if r.Err != nil {
		s.Errored++
	}
	if r.Advanced && r.Active {
		s.Advanced++
	}
	s.Awarded += len(r.Awarded)
	s.BadgeErrors += len(r.BadgeErrors)
}
