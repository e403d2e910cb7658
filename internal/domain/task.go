package domain

import "time"

// TaskCompletion is a completed task as recorded by the Task Activity Store.
// The engine only reads these; the surrounding application writes them.
type TaskCompletion struct {
	ID               string     `json:"id"`
	UserID           UserID     `json:"user_id"`
	Title            string     `json:"title"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	DueAt            *time.Time `json:"due_at,omitempty"`
	CompletedAt      time.Time  `json:"completed_at"`
}

// OnTime reports whether the task was completed no later than its due time.
// Tasks without a due time never count as on time.
func (t TaskCompletion) OnTime() bool {
	return t.DueAt != nil && !t.CompletedAt.After(*t.DueAt)
}
