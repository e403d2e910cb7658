package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tutu-network/streakd/internal/domain"
)

// MilestonePolicy decides whether a streak value reaches a milestone.
type MilestonePolicy interface {
	Name() string
	Reached(current, milestone int) bool
}

// ExactMilestonePolicy fires a streak badge only on the exact milestone day.
// A streak that jumps past a milestone does not earn the skipped badge.
type ExactMilestonePolicy struct{}

// Name implements MilestonePolicy.
func (ExactMilestonePolicy) Name() string { return "exact" }

// Reached implements MilestonePolicy.
func (ExactMilestonePolicy) Reached(current, milestone int) bool {
	return current == milestone
}

// BadgeInput is everything the badge rules look at for one user.
type BadgeInput struct {
	UserID    domain.UserID
	Streak    domain.StreakState
	Yesterday domain.DailyActivitySummary
	Lifetime  domain.LifetimeCounters
}

// BadgeDef defines one badge. Streak badges set Milestone and are judged by
// the evaluator's MilestonePolicy; the rest use Predicate.
type BadgeDef struct {
	Code      domain.BadgeCode      `json:"code"`
	Name      string                `json:"name"`
	Milestone int                   `json:"milestone,omitempty"`
	Predicate func(BadgeInput) bool `json:"-"`
}

// BadgeError records a single badge that could not be evaluated or committed.
type BadgeError struct {
	Code domain.BadgeCode
	Err  error
}

func (e BadgeError) Error() string {
	return fmt.Sprintf("badge %s: %v", e.Code, e.Err)
}

func (e BadgeError) Unwrap() error { return e.Err }

// EvaluationResult is the outcome of evaluating all badges for one user.
type EvaluationResult struct {
	Qualified []domain.BadgeCode // rules that matched
	Awarded   []domain.BadgeCode // newly inserted into the ledger
	Errors    []BadgeError
}

// Err joins the per-badge errors, or nil.
func (r EvaluationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// BadgeEvaluator decides which badges newly qualify and commits them.
// Badges are independent: one failing badge never blocks the others.
type BadgeEvaluator struct {
	ledger      domain.BadgeLedger
	policy      MilestonePolicy
	definitions []BadgeDef
	now         func() time.Time
}

// NewBadgeEvaluator creates an evaluator over the full catalog with the
// exact milestone policy.
func NewBadgeEvaluator(ledger domain.BadgeLedger) *BadgeEvaluator {
	return &BadgeEvaluator{
		ledger:      ledger,
		policy:      ExactMilestonePolicy{},
		definitions: Catalog(),
		now:         time.Now,
	}
}

// WithClock overrides the award timestamp source.
func (e *BadgeEvaluator) WithClock(now func() time.Time) *BadgeEvaluator {
	e.now = now
	return e
}

// Policy returns the milestone policy in use.
func (e *BadgeEvaluator) Policy() MilestonePolicy { return e.policy }

// Evaluate checks every badge and awards the qualifying ones.
// Nothing qualifies unless the user completed a task yesterday.
func (e *BadgeEvaluator) Evaluate(ctx context.Context, in BadgeInput) EvaluationResult {
	var res EvaluationResult
	if !in.Yesterday.Active() {
		return res
	}

	at := e.now()
	for _, def := range e.definitions {
		ok, err := e.qualifies(def, in)
		if err != nil {
			res.Errors = append(res.Errors, BadgeError{Code: def.Code, Err: err})
			continue
		}
		if !ok {
			continue
		}
		res.Qualified = append(res.Qualified, def.Code)

		isNew, err := e.ledger.Award(ctx, in.UserID, def.Code, at)
		if err != nil {
			res.Errors = append(res.Errors, BadgeError{Code: def.Code, Err: err})
			continue
		}
		if isNew {
			res.Awarded = append(res.Awarded, def.Code)
		}
	}
	return res
}

func (e *BadgeEvaluator) qualifies(def BadgeDef, in BadgeInput) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	if def.Milestone > 0 {
		return e.policy.Reached(in.Streak.CurrentStreak, def.Milestone), nil
	}
	if def.Predicate == nil {
		return false, fmt.Errorf("%w: %s has no predicate", domain.ErrUnknownBadge, def.Code)
	}
	return def.Predicate(in), nil
}

// Definition looks up a badge by code.
func Definition(code domain.BadgeCode) (BadgeDef, error) {
	for _, def := range Catalog() {
		if def.Code == code {
			return def, nil
		}
	}
	return BadgeDef{}, fmt.Errorf("%w: %s", domain.ErrUnknownBadge, code)
}

// ─── Badge Catalog ──────────────────────────────────────────────────────────

// DeepFocusMinutes is the daily focus threshold for DEEP_FOCUS_120.
const DeepFocusMinutes = 120

// Catalog returns every badge definition in evaluation order.
func Catalog() []BadgeDef {
	return []BadgeDef{
		{
			Code: domain.BadgeFirstTask, Name: "First Task",
			Predicate: func(in BadgeInput) bool { return in.Lifetime.CompletedTasks == 1 },
		},

		// ── Streaks ────────────────────────────────────────────────────
		{Code: domain.BadgeThreeDayStreak, Name: "Three-Day Streak", Milestone: 3},
		{Code: domain.BadgeSevenDayStreak, Name: "Seven-Day Streak", Milestone: 7},
		{Code: domain.BadgeFourteenDayStreak, Name: "Fourteen-Day Streak", Milestone: 14},
		{Code: domain.BadgeTwentyOneDayStreak, Name: "Twenty-One-Day Streak", Milestone: 21},
		{Code: domain.BadgeThirtyDayStreak, Name: "Thirty-Day Streak", Milestone: 30},

		{
			Code: domain.BadgeDeepFocus120, Name: "Deep Focus",
			Predicate: func(in BadgeInput) bool { return in.Yesterday.TotalMinutes >= DeepFocusMinutes },
		},
		{
			Code: domain.BadgeOnTimeSubmit, Name: "On Time",
			Predicate: func(in BadgeInput) bool { return in.Lifetime.OnTimeCompletions == 1 },
		},
	}
}
