package workspace

import "context"

// TaskFilter scopes a task listing. Empty fields do not filter.
type TaskFilter struct {
	ProjectID  string
	OwnerID    string // owner of the parent project
	AssigneeID string
	Status     TaskStatus
	Priority   TaskPriority
	Query      string // case-insensitive match on title or description
}

// ProjectFilter scopes a project listing to one owner.
type ProjectFilter struct {
	OwnerID string
	Query   string // case-insensitive match on name or description
}

// Store persists projects and tasks. Lookups return auth.ErrNotFound when nothing
// matches. Deleting a project deletes its tasks. FindProject fills the task counters.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	FindProject(ctx context.Context, id string) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context, filter ProjectFilter, page PageRequest) ([]Project, int64, error)

	CreateTask(ctx context.Context, t *Task) error
	FindTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskFilter, page PageRequest) ([]Task, int64, error)
	// OverdueTasks lists tasks assigned to assigneeID, due before today and not done.
	OverdueTasks(ctx context.Context, assigneeID string, today Date) ([]Task, error)
}
