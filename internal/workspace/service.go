package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/obs"
	"taskflow.dev/internal/stream"
)

const (
	maxProjectName        = 100
	maxProjectDescription = 500
	maxTaskTitle          = 200
	maxTaskDescription    = 2000
)

// Directory resolves principals for assignee checks and display names.
// auth.CredentialStore satisfies it.
type Directory interface {
	FindPrincipal(ctx context.Context, id string) (*auth.Principal, error)
}

// Service runs project and task operations. Every single-resource operation passes
// the ownership guard before touching the store; listings are scoped by query.
type Service struct {
	store     Store
	directory Directory
	guard     *auth.Guard
	notifier  Notifier
	now       func() time.Time
}

// Notifier receives changes after they are stored. *stream.Stream satisfies it.
type Notifier interface {
	Publish(evt stream.Event)
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source used for overdue checks.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithNotifier publishes every stored change to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// NewService wires the store and principal directory.
func NewService(store Store, directory Directory, opts ...Option) *Service {
	s := &Service{store: store, directory: directory, now: time.Now}
	s.guard = auth.NewGuard(auth.ProjectResolverFunc(s.resolveProject))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) resolveProject(ctx context.Context, id string) (auth.ProjectRef, error) {
	p, err := s.findProject(ctx, id)
	if err != nil {
		return auth.ProjectRef{}, err
	}
	return p.Ref(), nil
}

// ProjectInput is the create form.
type ProjectInput struct {
	Name        string
	Description string
	Status      ProjectStatus
}

// ProjectUpdate changes only the non-nil fields.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *ProjectStatus
}

// CreateProject creates a project owned by requesterID.
func (s *Service) CreateProject(ctx context.Context, requesterID string, in ProjectInput) (Project, error) {
	p := Project{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Status:      in.Status,
		OwnerID:     requesterID,
	}
	if p.Status == "" {
		p.Status = ProjectActive
	}
	if err := validateProject(p); err != nil {
		return Project{}, err
	}
	if err := s.store.CreateProject(ctx, &p); err != nil {
		return Project{}, storeError("create project", err)
	}
	obs.Logger().InfoContext(ctx, "project created", "project_id", p.ID, "owner_id", requesterID)
	s.notify(stream.Event{Type: stream.ProjectCreated, ProjectID: p.ID, Status: string(p.Status), OwnerID: p.OwnerID})
	return s.decorateProject(ctx, p), nil
}

// Project returns a project the requester owns.
func (s *Service) Project(ctx context.Context, requesterID, id string) (Project, error) {
	p, err := s.ownedProject(ctx, requesterID, id)
	if err != nil {
		return Project{}, err
	}
	return s.decorateProject(ctx, *p), nil
}

// ListProjects lists the requester's projects.
func (s *Service) ListProjects(ctx context.Context, requesterID string, page PageRequest) (Page[Project], error) {
	return s.listProjects(ctx, ProjectFilter{OwnerID: requesterID}, page)
}

// SearchProjects matches the requester's projects by name or description.
func (s *Service) SearchProjects(ctx context.Context, requesterID, query string, page PageRequest) (Page[Project], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Page[Project]{}, fmt.Errorf("%w: search query is required", auth.ErrInvalidInput)
	}
	return s.listProjects(ctx, ProjectFilter{OwnerID: requesterID, Query: query}, page)
}

func (s *Service) listProjects(ctx context.Context, filter ProjectFilter, page PageRequest) (Page[Project], error) {
	page = page.normalized()
	items, total, err := s.store.ListProjects(ctx, filter, page)
	if err != nil {
		return Page[Project]{}, storeError("list projects", err)
	}
	for i := range items {
		items[i] = s.decorateProject(ctx, items[i])
	}
	return NewPage(items, page, total), nil
}

// UpdateProject applies in to a project the requester owns.
func (s *Service) UpdateProject(ctx context.Context, requesterID, id string, in ProjectUpdate) (Project, error) {
	p, err := s.ownedProject(ctx, requesterID, id)
	if err != nil {
		return Project{}, err
	}
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Status != nil {
		p.Status = *in.Status
	}
	if err := validateProject(*p); err != nil {
		return Project{}, err
	}
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return Project{}, storeError("update project", err)
	}
	obs.Logger().InfoContext(ctx, "project updated", "project_id", p.ID)
	s.notify(stream.Event{Type: stream.ProjectUpdated, ProjectID: p.ID, Status: string(p.Status), OwnerID: p.OwnerID})
	return s.decorateProject(ctx, *p), nil
}

// DeleteProject removes a project the requester owns, together with its tasks.
func (s *Service) DeleteProject(ctx context.Context, requesterID, id string) error {
	p, err := s.ownedProject(ctx, requesterID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, p.ID); err != nil {
		return storeError("delete project", err)
	}
	obs.Logger().InfoContext(ctx, "project deleted", "project_id", p.ID)
	s.notify(stream.Event{Type: stream.ProjectDeleted, ProjectID: p.ID, OwnerID: p.OwnerID})
	return nil
}

func (s *Service) ownedProject(ctx context.Context, requesterID, id string) (*Project, error) {
	p, err := s.findProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CheckProjectOwnership(p.Ref(), requesterID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) findProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.store.FindProject(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, storeError("find project", err)
	}
	return p, nil
}

// TaskInput is the create form. Status defaults to TODO and priority to MEDIUM.
type TaskInput struct {
	ProjectID      string
	Title          string
	Description    string
	Status         TaskStatus
	Priority       TaskPriority
	DueDate        *Date
	AssigneeID     string
	EstimatedHours *int
}

// TaskUpdate changes only the non-nil fields.
type TaskUpdate struct {
	Title          *string
	Description    *string
	Status         *TaskStatus
	Priority       *TaskPriority
	DueDate        *Date
	AssigneeID     *string
	EstimatedHours *int
	ActualHours    *int
}

// AssignedFilter narrows the assigned-task listing.
type AssignedFilter struct {
	Status   TaskStatus
	Priority TaskPriority
}

// CreateTask adds a task to a project the requester owns.
func (s *Service) CreateTask(ctx context.Context, requesterID string, in TaskInput) (Task, error) {
	if strings.TrimSpace(in.ProjectID) == "" {
		return Task{}, fmt.Errorf("%w: project id is required", auth.ErrInvalidInput)
	}
	project, err := s.ownedProject(ctx, requesterID, in.ProjectID)
	if err != nil {
		return Task{}, err
	}
	t := Task{
		ProjectID:      project.ID,
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Status:         in.Status,
		Priority:       in.Priority,
		DueDate:        in.DueDate,
		AssigneeID:     strings.TrimSpace(in.AssigneeID),
		EstimatedHours: in.EstimatedHours,
	}
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := validateTask(t); err != nil {
		return Task{}, err
	}
	if err := s.checkAssignee(ctx, t.AssigneeID); err != nil {
		return Task{}, err
	}
	if err := s.store.CreateTask(ctx, &t); err != nil {
		return Task{}, storeError("create task", err)
	}
	obs.Logger().InfoContext(ctx, "task created", "task_id", t.ID, "project_id", t.ProjectID)
	s.notifyTask(stream.TaskCreated, t, project.OwnerID)
	return s.decorateTask(ctx, t, project), nil
}

// Task returns a task whose project the requester owns.
func (s *Service) Task(ctx context.Context, requesterID, id string) (Task, error) {
	t, err := s.accessibleTask(ctx, requesterID, id)
	if err != nil {
		return Task{}, err
	}
	return s.decorateTask(ctx, *t, nil), nil
}

// ListTasks lists tasks across every project the requester owns.
func (s *Service) ListTasks(ctx context.Context, requesterID string, page PageRequest) (Page[Task], error) {
	return s.listTasks(ctx, TaskFilter{OwnerID: requesterID}, page)
}

// ProjectTasks lists the tasks of a project the requester owns.
func (s *Service) ProjectTasks(ctx context.Context, requesterID, projectID string, page PageRequest) (Page[Task], error) {
	project, err := s.ownedProject(ctx, requesterID, projectID)
	if err != nil {
		return Page[Task]{}, err
	}
	return s.listTasks(ctx, TaskFilter{ProjectID: project.ID}, page)
}

// SearchTasks matches tasks of a project the requester owns by title or description.
func (s *Service) SearchTasks(ctx context.Context, requesterID, projectID, query string, page PageRequest) (Page[Task], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Page[Task]{}, fmt.Errorf("%w: search query is required", auth.ErrInvalidInput)
	}
	project, err := s.ownedProject(ctx, requesterID, projectID)
	if err != nil {
		return Page[Task]{}, err
	}
	return s.listTasks(ctx, TaskFilter{ProjectID: project.ID, Query: query}, page)
}

// AssignedTasks lists tasks assigned to the requester. The listing is scoped by
// assignee; reading one of them individually still requires project ownership.
func (s *Service) AssignedTasks(ctx context.Context, requesterID string, filter AssignedFilter, page PageRequest) (Page[Task], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return Page[Task]{}, fmt.Errorf("%w: unknown task status %q", auth.ErrInvalidInput, filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return Page[Task]{}, fmt.Errorf("%w: unknown task priority %q", auth.ErrInvalidInput, filter.Priority)
	}
	return s.listTasks(ctx, TaskFilter{AssigneeID: requesterID, Status: filter.Status, Priority: filter.Priority}, page)
}

// OverdueTasks lists the requester's assigned tasks that are past due and not done.
func (s *Service) OverdueTasks(ctx context.Context, requesterID string) ([]Task, error) {
	items, err := s.store.OverdueTasks(ctx, requesterID, s.today())
	if err != nil {
		return nil, storeError("list overdue tasks", err)
	}
	projects := map[string]*Project{}
	for i := range items {
		items[i] = s.decorateTask(ctx, items[i], s.cachedProject(ctx, projects, items[i].ProjectID))
	}
	if items == nil {
		items = []Task{}
	}
	return items, nil
}

func (s *Service) listTasks(ctx context.Context, filter TaskFilter, page PageRequest) (Page[Task], error) {
	page = page.normalized()
	items, total, err := s.store.ListTasks(ctx, filter, page)
	if err != nil {
		return Page[Task]{}, storeError("list tasks", err)
	}
	projects := map[string]*Project{}
	for i := range items {
		items[i] = s.decorateTask(ctx, items[i], s.cachedProject(ctx, projects, items[i].ProjectID))
	}
	return NewPage(items, page, total), nil
}

// UpdateTask applies in to a task whose project the requester owns.
func (s *Service) UpdateTask(ctx context.Context, requesterID, id string, in TaskUpdate) (Task, error) {
	t, err := s.accessibleTask(ctx, requesterID, id)
	if err != nil {
		return Task{}, err
	}
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.DueDate != nil {
		due := *in.DueDate
		t.DueDate = &due
	}
	if in.EstimatedHours != nil {
		t.EstimatedHours = in.EstimatedHours
	}
	if in.ActualHours != nil {
		t.ActualHours = in.ActualHours
	}
	if in.AssigneeID != nil {
		assignee := strings.TrimSpace(*in.AssigneeID)
		if err := s.checkAssignee(ctx, assignee); err != nil {
			return Task{}, err
		}
		t.AssigneeID = assignee
	}
	if err := validateTask(*t); err != nil {
		return Task{}, err
	}
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return Task{}, storeError("update task", err)
	}
	obs.Logger().InfoContext(ctx, "task updated", "task_id", t.ID)
	s.notifyTask(stream.TaskUpdated, *t, requesterID)
	return s.decorateTask(ctx, *t, nil), nil
}

// UpdateTaskStatus moves a task to status.
func (s *Service) UpdateTaskStatus(ctx context.Context, requesterID, id string, status TaskStatus) (Task, error) {
	if !status.Valid() {
		return Task{}, fmt.Errorf("%w: unknown task status %q", auth.ErrInvalidInput, status)
	}
	return s.UpdateTask(ctx, requesterID, id, TaskUpdate{Status: &status})
}

// DeleteTask removes a task whose project the requester owns.
func (s *Service) DeleteTask(ctx context.Context, requesterID, id string) error {
	t, err := s.accessibleTask(ctx, requesterID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, t.ID); err != nil {
		return storeError("delete task", err)
	}
	obs.Logger().InfoContext(ctx, "task deleted", "task_id", t.ID)
	s.notifyTask(stream.TaskDeleted, *t, requesterID)
	return nil
}

func (s *Service) accessibleTask(ctx context.Context, requesterID, id string) (*Task, error) {
	t, err := s.store.FindTask(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, storeError("find task", err)
	}
	if err := s.guard.CheckTaskAccess(ctx, t.Ref(), requesterID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) checkAssignee(ctx context.Context, assigneeID string) error {
	if assigneeID == "" || s.directory == nil {
		return nil
	}
	if _, err := s.directory.FindPrincipal(ctx, assigneeID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return fmt.Errorf("%w: assignee does not exist", auth.ErrInvalidInput)
		}
		return storeError("find assignee", err)
	}
	return nil
}

func (s *Service) notify(evt stream.Event) {
	if s.notifier != nil {
		s.notifier.Publish(evt)
	}
}

// notifyTask runs after the guard, so ownerID is the requester.
func (s *Service) notifyTask(typ string, t Task, ownerID string) {
	s.notify(stream.Event{
		Type:       typ,
		ProjectID:  t.ProjectID,
		TaskID:     t.ID,
		Status:     string(t.Status),
		OwnerID:    ownerID,
		AssigneeID: t.AssigneeID,
	})
}

func (s *Service) today() Date { return DateOf(s.now()) }

func (s *Service) cachedProject(ctx context.Context, cache map[string]*Project, id string) *Project {
	if p, ok := cache[id]; ok {
		return p
	}
	p, err := s.store.FindProject(ctx, id)
	if err != nil {
		p = nil
	}
	cache[id] = p
	return p
}

func (s *Service) decorateProject(ctx context.Context, p Project) Project {
	p.OwnerName = s.displayName(ctx, p.OwnerID)
	return p
}

func (s *Service) decorateTask(ctx context.Context, t Task, project *Project) Task {
	if project == nil {
		project, _ = s.store.FindProject(ctx, t.ProjectID)
	}
	if project != nil {
		t.ProjectName = project.Name
	}
	t.AssigneeName = s.displayName(ctx, t.AssigneeID)
	t.Overdue = t.IsOverdue(s.today())
	return t
}

func (s *Service) displayName(ctx context.Context, principalID string) string {
	if principalID == "" || s.directory == nil {
		return ""
	}
	p, err := s.directory.FindPrincipal(ctx, principalID)
	if err != nil {
		return ""
	}
	return p.FullName()
}

func validateProject(p Project) error {
	if p.Name == "" || utf8.RuneCountInString(p.Name) > maxProjectName {
		return fmt.Errorf("%w: project name must be between 1 and %d characters", auth.ErrInvalidInput, maxProjectName)
	}
	if utf8.RuneCountInString(p.Description) > maxProjectDescription {
		return fmt.Errorf("%w: description cannot exceed %d characters", auth.ErrInvalidInput, maxProjectDescription)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown project status %q", auth.ErrInvalidInput, p.Status)
	}
	return nil
}

func validateTask(t Task) error {
	if t.Title == "" || utf8.RuneCountInString(t.Title) > maxTaskTitle {
		return fmt.Errorf("%w: task title must be between 1 and %d characters", auth.ErrInvalidInput, maxTaskTitle)
	}
	if utf8.RuneCountInString(t.Description) > maxTaskDescription {
		return fmt.Errorf("%w: description cannot exceed %d characters", auth.ErrInvalidInput, maxTaskDescription)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown task status %q", auth.ErrInvalidInput, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown task priority %q", auth.ErrInvalidInput, t.Priority)
	}
	if t.EstimatedHours != nil && *t.EstimatedHours <= 0 {
		return fmt.Errorf("%w: estimated hours must be positive", auth.ErrInvalidInput)
	}
	if t.ActualHours != nil && *t.ActualHours <= 0 {
		return fmt.Errorf("%w: actual hours must be positive", auth.ErrInvalidInput)
	}
	return nil
}

// storeError passes the domain sentinels through and codes everything else.
func storeError(op string, err error) error {
	if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrInvalidInput) {
		return err
	}
	return oops.In("workspace").Code("WORKSPACE_STORE_FAILED").With("operation", op).Wrap(err)
}
