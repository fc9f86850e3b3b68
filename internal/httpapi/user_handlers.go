package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"taskflow.dev/internal/auth"
)

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	FullName  string    `json:"fullName"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func userView(p *auth.Principal) userResponse {
	return userResponse{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		FullName:  p.FullName(),
		Role:      p.Role,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := a.auth.Principal(r.Context(), requesterID(r))
	if err != nil {
		a.handleAuthError(w, r, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, userView(p))
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	p, err := a.auth.Principal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleAuthError(w, r, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, userView(p))
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.auth.UpdateProfile(r.Context(), requesterID(r), auth.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		a.handleAuthError(w, r, "update profile", err)
		return
	}
	a.audit(r.Context(), "user.profile.update", "user", p.ID, nil)
	writeJSON(w, http.StatusOK, userView(p))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := requesterID(r)
	if err := a.auth.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleAuthError(w, r, "change-password", err)
		return
	}
	a.audit(r.Context(), "user.password.change", "user", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	id := requesterID(r)
	if err := a.auth.DeleteAccount(r.Context(), id); err != nil {
		a.handleAuthError(w, r, "delete account", err)
		return
	}
	a.audit(r.Context(), "user.delete", "user", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
