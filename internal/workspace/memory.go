package workspace

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps projects and tasks in process.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]Project
	tasks    map[string]Task
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]Project),
		tasks:    make(map[string]Task),
	}
}

func (s *MemoryStore) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.TaskCount, p.CompletedTaskCount = 0, 0
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) FindProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	s.countTasks(&p)
	return &p, nil
}

func (s *MemoryStore) countTasks(p *Project) {
	p.TaskCount, p.CompletedTaskCount = 0, 0
	for _, t := range s.tasks {
		if t.ProjectID != p.ID {
			continue
		}
		p.TaskCount++
		if t.Status == TaskDone {
			p.CompletedTaskCount++
		}
	}
}

func (s *MemoryStore) UpdateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.projects[p.ID]
	if !ok {
		return auth.ErrNotFound
	}
	cur.Name = p.Name
	cur.Description = p.Description
	cur.Status = p.Status
	cur.UpdatedAt = time.Now().UTC()
	s.projects[p.ID] = cur
	s.countTasks(&cur)
	*p = cur
	return nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.projects, id)
	for tid, t := range s.tasks {
		if t.ProjectID == id {
			delete(s.tasks, tid)
		}
	}
	return nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, filter ProjectFilter, page PageRequest) ([]Project, int64, error) {
	page = page.normalized()
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Project
	for _, p := range s.projects {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if query != "" && !containsFold(query, p.Name, p.Description) {
			continue
		}
		s.countTasks(&p)
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		return newerFirst(matched[i].CreatedAt, matched[i].ID, matched[j].CreatedAt, matched[j].ID)
	})
	return paginate(matched, page), int64(len(matched)), nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[t.ProjectID]; !ok {
		return auth.ErrNotFound
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tasks[t.ID] = *t
	return nil
}

func (s *MemoryStore) FindTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &t, nil
}

// UpdateTask keeps ID, project and CreatedAt.
func (s *MemoryStore) UpdateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return auth.ErrNotFound
	}
	cur.Title = t.Title
	cur.Description = t.Description
	cur.Status = t.Status
	cur.Priority = t.Priority
	cur.DueDate = t.DueDate
	cur.AssigneeID = t.AssigneeID
	cur.EstimatedHours = t.EstimatedHours
	cur.ActualHours = t.ActualHours
	cur.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = cur
	*t = cur
	return nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter, page PageRequest) ([]Task, int64, error) {
	page = page.normalized()
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Task
	for _, t := range s.tasks {
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		if filter.OwnerID != "" && s.projects[t.ProjectID].OwnerID != filter.OwnerID {
			continue
		}
		if filter.AssigneeID != "" && t.AssigneeID != filter.AssigneeID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		if query != "" && !containsFold(query, t.Title, t.Description) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		return newerFirst(matched[i].CreatedAt, matched[i].ID, matched[j].CreatedAt, matched[j].ID)
	})
	return paginate(matched, page), int64(len(matched)), nil
}

func (s *MemoryStore) OverdueTasks(ctx context.Context, assigneeID string, today Date) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Task
	for _, t := range s.tasks {
		if t.AssigneeID == assigneeID && t.IsOverdue(today) {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].DueDate.Equal(res[j].DueDate.Time) {
			return res[i].DueDate.Before(res[j].DueDate.Time)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func containsFold(lowerQuery string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), lowerQuery) {
			return true
		}
	}
	return false
}

func newerFirst(at time.Time, id string, bt time.Time, bid string) bool {
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return id > bid
}

func paginate[T any](items []T, page PageRequest) []T {
	start := page.Offset()
	if start < 0 || start >= len(items) {
		return []T{}
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
