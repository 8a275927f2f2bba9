package dto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dom "taskboard/internal/domain"
)

// DueDate parses dueDate from JSON as either date-only ("2006-01-02") or RFC3339.
// Only the calendar date is kept; empty string and null mean "no due date".
type DueDate struct{ t *time.Time }

func (d *DueDate) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("dueDate: must be a string")
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		d.t = nil
		return nil
	}
	s := strings.TrimSpace(*raw)
	layouts := []string{
		dom.DateLayout,
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
			d.t = &day
			return nil
		}
	}
	return fmt.Errorf("dueDate: use date (YYYY-MM-DD) or RFC3339 datetime")
}

// Ptr returns *time.Time for use in service/domain.
func (d DueDate) Ptr() *time.Time { return d.t }

// Assignees accepts either a JSON array of usernames or a comma-separated string.
//
// A missing field, null and "" all leave Set false so existing assignments are kept.
// Anything else, including [] and ",", is an explicit replacement.
type Assignees struct {
	names []string
	set   bool
}

func (a *Assignees) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*a = Assignees{}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("assignees: must be an array of usernames or a comma-separated string")
		}
		*a = Assignees{names: normalizeNames(list), set: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("assignees: must be an array of usernames or a comma-separated string")
	}
	if s == "" {
		*a = Assignees{}
		return nil
	}
	*a = Assignees{names: normalizeNames(strings.Split(s, ",")), set: true}
	return nil
}

// Set reports whether the request asked to replace assignments.
func (a Assignees) Set() bool { return a.set }

// Names returns nil when not set, otherwise a non-nil list (possibly empty).
func (a Assignees) Names() []string {
	if !a.set {
		return nil
	}
	if a.names == nil {
		return []string{}
	}
	return a.names
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// TaskRequest is the JSON body for POST /api/tasks and PUT /api/tasks/:id.
type TaskRequest struct {
	Title     string    `json:"title" binding:"max=255"`
	Category  *string   `json:"category" binding:"omitempty,max=255"`
	Status    string    `json:"status" binding:"max=50"`
	DueDate   DueDate   `json:"dueDate"`
	Assignees Assignees `json:"assignees" swaggertype:"array,string"`
}

// Input converts the request into the domain write model.
func (r TaskRequest) Input() dom.TaskInput {
	in := dom.TaskInput{
		Title:     r.Title,
		Status:    r.Status,
		DueDate:   r.DueDate.Ptr(),
		Assignees: r.Assignees.Names(),
	}
	if r.Category != nil {
		in.Category = *r.Category
	}
	return in
}

// TaskResponse is one element of GET /api/tasks.
type TaskResponse struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	DueDate    *string  `json:"dueDate"`
	CategoryID *int64   `json:"categoryId"`
	Category   *string  `json:"category"`
	OwnerID    int64    `json:"ownerId"`
	OwnerName  string   `json:"ownerName"`
	Assignees  []string `json:"assignees"`
}

// CreateTaskResponse acknowledges POST /api/tasks.
type CreateTaskResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

// CategoryResponse is one element of GET /api/categories.
type CategoryResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TaskFromDomain maps a domain task to its wire form. Assignees is never null.
func TaskFromDomain(t dom.Task) TaskResponse {
	assignees := t.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return TaskResponse{
		ID:         t.ID,
		Title:      t.Title,
		Status:     t.Status,
		DueDate:    t.DueDateString(),
		CategoryID: t.CategoryID,
		Category:   t.Category,
		OwnerID:    t.OwnerID,
		OwnerName:  t.OwnerName,
		Assignees:  assignees,
	}
}

// TasksFromDomain maps a list, returning [] rather than null for no tasks.
func TasksFromDomain(list []dom.Task) []TaskResponse {
	out := make([]TaskResponse, len(list))
	for i := range list {
		out[i] = TaskFromDomain(list[i])
	}
	return out
}

// ClearCompletedResponse acknowledges DELETE /api/tasks/completed.
type ClearCompletedResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}
