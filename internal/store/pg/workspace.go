package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/ids"
	"taskflow.dev/internal/workspace"
)

var _ workspace.Store = (*Store)(nil)

const projectSelect = `
	select p.id, p.name, p.description, p.status, p.owner_id, p.created_at, p.updated_at,
		(select count(*) from tasks t where t.project_id = p.id),
		(select count(*) from tasks t where t.project_id = p.id and t.status = 'DONE')
	from projects p`

const taskColumns = `t.id, t.title, t.description, t.status, t.priority, t.due_date, t.project_id,
	t.assignee_id, t.estimated_hours, t.actual_hours, t.created_at, t.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateProject(ctx context.Context, p *workspace.Project) error {
	if s.db == nil {
		return errUnavailable
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into projects (id, name, description, status, owner_id)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, p.ID, p.Name, p.Description, string(p.Status), p.OwnerID).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	p.TaskCount, p.CompletedTaskCount = 0, 0
	return nil
}

func (s *Store) FindProject(ctx context.Context, id string) (*workspace.Project, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	p, err := scanProject(s.db.QueryRowContext(ctx, projectSelect+` where p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProject writes name, description and status. The owner is never changed.
func (s *Store) UpdateProject(ctx context.Context, p *workspace.Project) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `
		update projects set name = $2, description = $3, status = $4, updated_at = now()
		where id = $1
	`, p.ID, p.Name, p.Description, string(p.Status))
	if err != nil {
		return err
	}
	if err := affectedOne(res, auth.ErrNotFound); err != nil {
		return err
	}
	fresh, err := s.FindProject(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *fresh
	return nil
}

// DeleteProject removes the project; tasks cascade in the schema.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from projects where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, auth.ErrNotFound)
}

func (s *Store) ListProjects(ctx context.Context, filter workspace.ProjectFilter, page workspace.PageRequest) ([]workspace.Project, int64, error) {
	if s.db == nil {
		return nil, 0, errUnavailable
	}
	var w where
	if filter.OwnerID != "" {
		w.add("p.owner_id = ?", filter.OwnerID)
	}
	if strings.TrimSpace(filter.Query) != "" {
		pattern := likePattern(filter.Query)
		w.add(`(lower(p.name) like ? escape '\' or lower(p.description) like ? escape '\')`, pattern, pattern)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from projects p`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query, args := w.page(projectSelect, `p.created_at desc, p.id desc`, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	res := []workspace.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

func (s *Store) CreateTask(ctx context.Context, t *workspace.Task) error {
	if s.db == nil {
		return errUnavailable
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into tasks (id, title, description, status, priority, due_date, project_id, assignee_id, estimated_hours, actual_hours)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning created_at, updated_at
	`, t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), dateArg(t.DueDate), t.ProjectID,
		nullIfEmpty(t.AssigneeID), hoursArg(t.EstimatedHours), hoursArg(t.ActualHours),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) FindTask(ctx context.Context, id string) (*workspace.Task, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, `select `+taskColumns+` from tasks t where t.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask writes every mutable field. Project and creation time are kept.
func (s *Store) UpdateTask(ctx context.Context, t *workspace.Task) error {
	if s.db == nil {
		return errUnavailable
	}
	updated, err := scanTask(s.db.QueryRowContext(ctx, `
		update tasks t
		set title = $2, description = $3, status = $4, priority = $5, due_date = $6,
			assignee_id = $7, estimated_hours = $8, actual_hours = $9, updated_at = now()
		where t.id = $1
		returning `+taskColumns,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), dateArg(t.DueDate),
		nullIfEmpty(t.AssigneeID), hoursArg(t.EstimatedHours), hoursArg(t.ActualHours),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	*t = updated
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from tasks where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, auth.ErrNotFound)
}

func (s *Store) ListTasks(ctx context.Context, filter workspace.TaskFilter, page workspace.PageRequest) ([]workspace.Task, int64, error) {
	if s.db == nil {
		return nil, 0, errUnavailable
	}
	var w where
	if filter.ProjectID != "" {
		w.add("t.project_id = ?", filter.ProjectID)
	}
	if filter.OwnerID != "" {
		w.add("t.project_id in (select id from projects where owner_id = ?)", filter.OwnerID)
	}
	if filter.AssigneeID != "" {
		w.add("t.assignee_id = ?", filter.AssigneeID)
	}
	if filter.Status != "" {
		w.add("t.status = ?", string(filter.Status))
	}
	if filter.Priority != "" {
		w.add("t.priority = ?", string(filter.Priority))
	}
	if strings.TrimSpace(filter.Query) != "" {
		pattern := likePattern(filter.Query)
		w.add(`(lower(t.title) like ? escape '\' or lower(t.description) like ? escape '\')`, pattern, pattern)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from tasks t`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query, args := w.page(`select `+taskColumns+` from tasks t`, `t.created_at desc, t.id desc`, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	res, err := collectTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

func (s *Store) OverdueTasks(ctx context.Context, assigneeID string, today workspace.Date) ([]workspace.Task, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+taskColumns+`
		from tasks t
		where t.assignee_id = $1 and t.due_date < $2 and t.status <> 'DONE'
		order by t.due_date asc, t.id asc
	`, assigneeID, today.Time)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]workspace.Task, error) {
	res := []workspace.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func scanProject(row rowScanner) (workspace.Project, error) {
	var (
		p      workspace.Project
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &status, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
		&p.TaskCount, &p.CompletedTaskCount); err != nil {
		return workspace.Project{}, err
	}
	p.Status = workspace.ProjectStatus(status)
	return p, nil
}

func scanTask(row rowScanner) (workspace.Task, error) {
	var (
		t                workspace.Task
		status, priority string
		due              sql.NullTime
		assignee         sql.NullString
		estimated        sql.NullInt32
		actual           sql.NullInt32
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &due, &t.ProjectID,
		&assignee, &estimated, &actual, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return workspace.Task{}, err
	}
	t.Status = workspace.TaskStatus(status)
	t.Priority = workspace.TaskPriority(priority)
	if due.Valid {
		d := workspace.DateOf(due.Time)
		t.DueDate = &d
	}
	t.AssigneeID = assignee.String
	if estimated.Valid {
		n := int(estimated.Int32)
		t.EstimatedHours = &n
	}
	if actual.Valid {
		n := int(actual.Int32)
		t.ActualHours = &n
	}
	return t, nil
}

func dateArg(d *workspace.Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}

func hoursArg(h *int) any {
	if h == nil {
		return nil
	}
	return int32(*h)
}

// where accumulates `?`-style conditions and renumbers them as $n placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " where " + strings.Join(w.conds, " and ")
}

func (w *where) page(base, order string, page workspace.PageRequest) (string, []any) {
	args := append(append([]any(nil), w.args...), page.Size, page.Offset())
	query := fmt.Sprintf("%s%s order by %s limit $%d offset $%d", base, w.sql(), order, len(args)-1, len(args))
	return query, args
}
