package engagement

import (
	"context"
	"fmt"
	"strings"

	"github.com/tutu-network/streakd/internal/domain"
)

// NotificationService hands qualifying events to the dispatcher through the
// outbox. Delivery is the dispatcher's job; this side only enforces policy:
//   - at most MaxPerDay events per user per reference day
//   - only badge awards and come-back reminders are ever queued
type NotificationService struct {
	outbox domain.NotificationOutbox
	policy domain.NotificationPolicy
}

// NewNotificationService creates a notification service with default policy.
func NewNotificationService(outbox domain.NotificationOutbox) *NotificationService {
	return &NotificationService{
		outbox: outbox,
		policy: domain.DefaultNotificationPolicy(),
	}
}

// NewNotificationServiceWithPolicy creates a notification service with custom policy.
func NewNotificationServiceWithPolicy(outbox domain.NotificationOutbox, policy domain.NotificationPolicy) *NotificationService {
	return &NotificationService{outbox: outbox, policy: policy}
}

// Policy returns the current notification policy.
func (n *NotificationService) Policy() domain.NotificationPolicy {
	return n.policy
}

// Create queues a notification if policy allows it.
// Returns the outbox id, or domain.ErrNotificationSuppressed.
func (n *NotificationService) Create(ctx context.Context, notif domain.Notification) (int64, error) {
	if !n.policy.Enabled {
		return 0, domain.ErrNotificationSuppressed
	}

	count, err := n.outbox.NotificationCount(ctx, notif.UserID, notif.Day)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	if count >= n.policy.MaxPerDay {
		return 0, domain.ErrNotificationSuppressed
	}

	id, err := n.outbox.EnqueueNotification(ctx, notif)
	if err != nil {
		return 0, fmt.Errorf("enqueue notification: %w", err)
	}
	return id, nil
}

// BadgesAwarded queues one message listing every badge earned in this run.
func (n *NotificationService) BadgesAwarded(ctx context.Context, user domain.UserID, day domain.Date, codes []domain.BadgeCode) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(codes))
	for _, code := range codes {
		if def, err := Definition(code); err == nil {
			names = append(names, def.Name)
		} else {
			names = append(names, string(code))
		}
	}

	title := "New badge unlocked"
	if len(codes) > 1 {
		title = fmt.Sprintf("%d new badges unlocked", len(codes))
	}
	return n.Create(ctx, domain.Notification{
		UserID: user,
		Type:   domain.NotifyBadgeAwarded,
		Title:  title,
		Body:   "You earned: " + strings.Join(names, ", "),
		Day:    day,
	})
}

// StreakReminder queues a come-back reminder when a streak lapsed yesterday:
// the user was active the day before and did nothing on the evaluated day.
// Older lapses are not reminded again. Returns 0 when no reminder applies.
func (n *NotificationService) StreakReminder(ctx context.Context, state domain.StreakState, reference domain.Date, yesterdayActive bool) (int64, error) {
	if yesterdayActive || state.CurrentStreak == 0 || state.LastActiveDate == nil {
		return 0, nil
	}
	if reference.DaysSince(*state.LastActiveDate) != 2 {
		return 0, nil
	}
	return n.Create(ctx, domain.Notification{
		UserID: state.UserID,
		Type:   domain.NotifyStreakReminder,
		Title:  "Keep your streak going",
		Body: fmt.Sprintf("You were on a %d-day streak (best %d). Finish a task today to start a new one.",
			state.CurrentStreak, state.LongestStreak),
		Day: reference,
	})
}
