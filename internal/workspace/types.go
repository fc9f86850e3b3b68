package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskflow.dev/internal/auth"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectOnHold, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskInReview   TaskStatus = "IN_REVIEW"
	TaskDone       TaskStatus = "DONE"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskInReview, TaskDone:
		return true
	}
	return false
}

// TaskPriority orders tasks by urgency.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParseTaskStatus accepts any letter case.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown task status %q", auth.ErrInvalidInput, raw)
	}
	return s, nil
}

// ParseTaskPriority accepts any letter case.
func ParseTaskPriority(raw string) (TaskPriority, error) {
	p := TaskPriority(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown task priority %q", auth.ErrInvalidInput, raw)
	}
	return p, nil
}

// Date is a calendar day in UTC, encoded as 2006-01-02.
type Date struct{ time.Time }

const dateLayout = "2006-01-02"

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a 2006-01-02 string.
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("%w: date must look like 2006-01-02", auth.ErrInvalidInput)
	}
	return DateOf(t), nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Project groups tasks under a single owner. OwnerID never changes after creation.
type Project struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Description        string        `json:"description"`
	Status             ProjectStatus `json:"status"`
	OwnerID            string        `json:"ownerId"`
	OwnerName          string        `json:"ownerName,omitempty"`
	TaskCount          int           `json:"taskCount"`
	CompletedTaskCount int           `json:"completedTaskCount"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// Ref is the ownership view consumed by the guard.
func (p Project) Ref() auth.ProjectRef {
	return auth.ProjectRef{ID: p.ID, OwnerID: p.OwnerID}
}

// Task belongs to exactly one project. The assignee is informational.
type Task struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	DueDate        *Date        `json:"dueDate"`
	ProjectID      string       `json:"projectId"`
	ProjectName    string       `json:"projectName,omitempty"`
	AssigneeID     string       `json:"assigneeId,omitempty"`
	AssigneeName   string       `json:"assigneeName,omitempty"`
	EstimatedHours *int         `json:"estimatedHours"`
	ActualHours    *int         `json:"actualHours"`
	Overdue        bool         `json:"overdue"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Ref is the ownership view consumed by the guard.
func (t Task) Ref() auth.TaskRef {
	return auth.TaskRef{ID: t.ID, ProjectID: t.ProjectID, AssigneeID: t.AssigneeID}
}

// IsOverdue reports whether the due day has passed on today and the task is not done.
func (t Task) IsOverdue(today Date) bool {
	return t.DueDate != nil && today.After(t.DueDate.Time) && t.Status != TaskDone
}
