package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/workspace"
)

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type projectUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

type taskRequest struct {
	ProjectID      string          `json:"projectId"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Priority       string          `json:"priority"`
	DueDate        *workspace.Date `json:"dueDate"`
	AssigneeID     string          `json:"assigneeId"`
	EstimatedHours *int            `json:"estimatedHours"`
}

type taskUpdateRequest struct {
	Title          *string         `json:"title"`
	Description    *string         `json:"description"`
	Status         *string         `json:"status"`
	Priority       *string         `json:"priority"`
	DueDate        *workspace.Date `json:"dueDate"`
	AssigneeID     *string         `json:"assigneeId"`
	EstimatedHours *int            `json:"estimatedHours"`
	ActualHours    *int            `json:"actualHours"`
}

type taskStatusRequest struct {
	Status string `json:"status"`
}

// --- projects ---

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.workspace.CreateProject(r.Context(), requesterID(r), workspace.ProjectInput{
		Name:        req.Name,
		Description: req.Description,
		Status:      projectStatus(req.Status),
	})
	if err != nil {
		a.handleWorkspaceError(w, r, "create project", err)
		return
	}
	a.audit(r.Context(), "project.create", "project", p.ID, map[string]any{"name": p.Name})
	w.Header().Set("Location", "/api/v1/projects/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.workspace.Project(r.Context(), requesterID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleWorkspaceError(w, r, "get project", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleListProjects(w http.ResponseWriter, r *http.Request) {
	page, ok := a.pageRequest(w, r)
	if !ok {
		return
	}
	res, err := a.workspace.ListProjects(r.Context(), requesterID(r), page)
	if err != nil {
		a.handleWorkspaceError(w, r, "list projects", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSearchProjects(w http.ResponseWriter, r *http.Request) {
	page, ok := a.pageRequest(w, r)
	if !ok {
		return
	}
	res, err := a.workspace.SearchProjects(r.Context(), requesterID(r), r.URL.Query().Get("q"), page)
	if err != nil {
		a.handleWorkspaceError(w, r, "search projects", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req projectUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := workspace.ProjectUpdate{Name: req.Name, Description: req.Description}
	if req.Status != nil {
		s := projectStatus(*req.Status)
		in.Status = &s
	}
	p, err := a.workspace.UpdateProject(r.Context(), requesterID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		a.handleWorkspaceError(w, r, "update project", err)
		return
	}
	a.audit(r.Context(), "project.update", "project", p.ID, nil)
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.workspace.DeleteProject(r.Context(), requesterID(r), id); err != nil {
		a.handleWorkspaceError(w, r, "delete project", err)
		return
	}
	a.audit(r.Context(), "project.delete", "project", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// --- tasks ---

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := workspace.TaskInput{
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Description:    req.Description,
		DueDate:        req.DueDate,
		AssigneeID:     req.AssigneeID,
		EstimatedHours: req.EstimatedHours,
	}
	var err error
	if req.Status != "" {
		if in.Status, err = workspace.ParseTaskStatus(req.Status); err != nil {
			writeError(w, r, http.StatusBadRequest, inputMessage(err))
			return
		}
	}
	if req.Priority != "" {
		if in.Priority, err = workspace.ParseTaskPriority(req.Priority); err != nil {
			writeError(w, r, http.StatusBadRequest, inputMessage(err))
			return
		}
	}
	t, err := a.workspace.CreateTask(r.Context(), requesterID(r), in)
	if err != nil {
		a.handleWorkspaceError(w, r, "create task", err)
		return
	}
	a.audit(r.Context(), "task.create", "task", t.ID, map[string]any{"project_id": t.ProjectID})
	w.Header().Set("Location", "/api/v1/tasks/"+t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.workspace.Task(r.Context(), requesterID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.handleWorkspaceError(w, r, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	page, ok := a.pageRequest(w, r)
	if !ok {
		return
	}
	res, err := a.workspace.ListTasks(r.Context(), requesterID(r), page)
	if err != nil {
		a.handleWorkspaceError(w, r, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleProjectTasks(w http.ResponseWriter, r *http.Request) {
	page, ok := a.pageRequest(w, r)
	if !ok {
		return
	}
	res, err := a.workspace.ProjectTasks(r.Context(), requesterID(r), chi.URLParam(r, "projectId"), page)
	if err != nil {
		a.handleWorkspaceError(w, r, "project tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSearchTasks(w http.ResponseWriter, r *http.Request) {
	page, ok := a.pageRequest(w, r)
	if !ok {
		return
	}
	res, err := a.workspace.SearchTasks(r.Context(), requesterID(r), chi.URLParam(r, "projectId"), r.URL.Query().Get("q"), page)
	if err != nil {
		a.handleWorkspaceError(w, r, "search tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAssignedTasks(w http.ResponseWriter, r *http.Request) {
	page, ok := a.pageRequest(w, r)
	if !ok {
		return
	}
	var (
		filter workspace.AssignedFilter
		err    error
		q      = r.URL.Query()
	)
	if raw := q.Get("status"); raw != "" {
		if filter.Status, err = workspace.ParseTaskStatus(raw); err != nil {
			writeError(w, r, http.StatusBadRequest, inputMessage(err))
			return
		}
	}
	if raw := q.Get("priority"); raw != "" {
		if filter.Priority, err = workspace.ParseTaskPriority(raw); err != nil {
			writeError(w, r, http.StatusBadRequest, inputMessage(err))
			return
		}
	}
	res, err := a.workspace.AssignedTasks(r.Context(), requesterID(r), filter, page)
	if err != nil {
		a.handleWorkspaceError(w, r, "assigned tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleOverdueTasks(w http.ResponseWriter, r *http.Request) {
	res, err := a.workspace.OverdueTasks(r.Context(), requesterID(r))
	if err != nil {
		a.handleWorkspaceError(w, r, "overdue tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := workspace.TaskUpdate{
		Title:          req.Title,
		Description:    req.Description,
		DueDate:        req.DueDate,
		AssigneeID:     req.AssigneeID,
		EstimatedHours: req.EstimatedHours,
		ActualHours:    req.ActualHours,
	}
	if req.Status != nil {
		s, err := workspace.ParseTaskStatus(*req.Status)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, inputMessage(err))
			return
		}
		in.Status = &s
	}
	if req.Priority != nil {
		p, err := workspace.ParseTaskPriority(*req.Priority)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, inputMessage(err))
			return
		}
		in.Priority = &p
	}
	t, err := a.workspace.UpdateTask(r.Context(), requesterID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		a.handleWorkspaceError(w, r, "update task", err)
		return
	}
	a.audit(r.Context(), "task.update", "task", t.ID, nil)
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTaskStatus takes the status from ?status= or a {"status": ...} body.
func (a *API) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		var req taskStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		raw = req.Status
	}
	status, err := workspace.ParseTaskStatus(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
		return
	}
	t, err := a.workspace.UpdateTaskStatus(r.Context(), requesterID(r), chi.URLParam(r, "id"), status)
	if err != nil {
		a.handleWorkspaceError(w, r, "update task status", err)
		return
	}
	a.audit(r.Context(), "task.status", "task", t.ID, map[string]any{"status": t.Status})
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.workspace.DeleteTask(r.Context(), requesterID(r), id); err != nil {
		a.handleWorkspaceError(w, r, "delete task", err)
		return
	}
	a.audit(r.Context(), "task.delete", "task", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func (a *API) pageRequest(w http.ResponseWriter, r *http.Request) (workspace.PageRequest, bool) {
	q := r.URL.Query()
	page, err := workspace.ParsePageRequest(q.Get("page"), q.Get("size"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
		return workspace.PageRequest{}, false
	}
	return page, true
}

func projectStatus(raw string) workspace.ProjectStatus {
	return workspace.ProjectStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// handleWorkspaceError answers not-found and not-owned identically so existence
// cannot be probed.
func (a *API) handleWorkspaceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
	default:
		a.internalError(w, r, op, err)
	}
}
