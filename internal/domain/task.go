package domain

import "time"

// Task statuses used by the frontend. Status is stored as free text, so other values pass through.
const (
	StatusPending    = "Pending"
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

// DateLayout is the calendar-date format used for due dates on the wire and in the database.
const DateLayout = "2006-01-02"

// Task is a task row joined with its category name, owner username and assignee usernames.
type Task struct {
	ID         int64
	Title      string
	Status     string
	DueDate    *time.Time
	CategoryID *int64
	Category   *string
	OwnerID    int64
	OwnerName  string
	Assignees  []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DueDateString renders the due date as YYYY-MM-DD, or nil when unset.
func (t Task) DueDateString() *string {
	if t.DueDate == nil {
		return nil
	}
	s := t.DueDate.Format(DateLayout)
	return &s
}

// TaskInput carries the writable fields of a task for create and update.
//
// Assignees nil means "leave assignments as they are"; a non-nil empty slice clears them.
type TaskInput struct {
	Title     string
	Status    string
	DueDate   *time.Time
	Category  string
	Assignees []string
}

// TaskFilter narrows a task listing. Zero value lists everything the caller owns.
type TaskFilter struct {
	Status   string
	Category string
	Query    string
}

// IsZero reports whether no filter is set.
func (f TaskFilter) IsZero() bool {
	return f.Status == "" && f.Category == "" && f.Query == ""
}
