package httpapi

import (
	"errors"
	"net/http"

	"taskflow.dev/internal/auth"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		a.handleAuthError(w, r, "register", err)
		return
	}
	a.audit(r.Context(), "auth.register", "user", sess.User.ID, map[string]any{
		"email": sess.User.Email,
	})
	w.Header().Set("Location", "/api/v1/users/"+sess.User.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleAuthError(w, r, "login", err)
		return
	}
	a.audit(r.Context(), "auth.login", "user", sess.User.ID, nil)
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		a.handleAuthError(w, r, "refresh", err)
		return
	}
	a.audit(r.Context(), "auth.refresh", "user", sess.User.ID, nil)
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, auth.ErrDuplicateIdentifier):
		writeError(w, r, http.StatusConflict, "email is already registered")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
	case errors.Is(err, auth.ErrInvalidCredentials):
		if op == "change-password" {
			writeError(w, r, http.StatusBadRequest, "current password is incorrect")
			return
		}
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, r, http.StatusTooManyRequests, "too many failed login attempts")
	case errors.Is(err, auth.ErrExpiredToken):
		writeError(w, r, http.StatusBadRequest, "refresh token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusBadRequest, "invalid refresh token")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		a.internalError(w, r, op, err)
	}
}
