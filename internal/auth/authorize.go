package auth

import (
	"context"
	"errors"
	"strings"
)

// ProjectRef is the ownership view of a project.
type ProjectRef struct {
	ID      string
	OwnerID string
}

// TaskRef is the ownership view of a task. AssigneeID is carried for display only.
type TaskRef struct {
	ID         string
	ProjectID  string
	AssigneeID string
}

// ProjectResolver loads the ownership view of a project, returning ErrNotFound when
// it does not exist.
type ProjectResolver interface {
	ResolveProject(ctx context.Context, id string) (ProjectRef, error)
}

// ProjectResolverFunc adapts a function to ProjectResolver.
type ProjectResolverFunc func(ctx context.Context, id string) (ProjectRef, error)

func (f ProjectResolverFunc) ResolveProject(ctx context.Context, id string) (ProjectRef, error) {
	return f(ctx, id)
}

// Guard decides ownership. A task is governed by the owner of its project; neither
// task nor project carries an ACL of its own.
type Guard struct {
	projects ProjectResolver
}

// NewGuard constructs a guard resolving task parents through projects.
func NewGuard(projects ProjectResolver) *Guard {
	return &Guard{projects: projects}
}

// CheckProjectOwnership returns nil iff requesterID owns the project.
func (g *Guard) CheckProjectOwnership(project ProjectRef, requesterID string) error {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" || project.OwnerID == "" || project.OwnerID != requesterID {
		return ErrUnauthorized
	}
	return nil
}

// CheckTaskAccess resolves the task's project and checks ownership on it.
func (g *Guard) CheckTaskAccess(ctx context.Context, task TaskRef, requesterID string) error {
	if g.projects == nil {
		return errors.New("auth: guard has no project resolver")
	}
	if strings.TrimSpace(task.ProjectID) == "" {
		return ErrNotFound
	}
	project, err := g.projects.ResolveProject(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	return g.CheckProjectOwnership(project, requesterID)
}
