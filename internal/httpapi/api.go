package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"taskflow.dev/internal/audit"
	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/obs"
	"taskflow.dev/internal/stream"
	"taskflow.dev/internal/workspace"
)

const (
	serviceName      = "taskflow"
	defaultMaxBody   = 1 << 20
	defaultRate      = 20
	defaultRateBurst = 40
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options tunes the HTTP surface.
type Options struct {
	Version        string
	AllowedOrigins []string
	RatePerSecond  float64
	RateBurst      int
	MaxBodyBytes   int64
	// TrustedProxies lists the peers whose X-Forwarded-For header is honoured.
	TrustedProxies []netip.Prefix
	// Events enables GET /api/v1/events when set.
	Events *stream.Stream
}

// API is the HTTP layer.
type API struct {
	auth       *auth.Service
	workspace  *workspace.Service
	readyProbe readinessChecker
	version    string
	origins    []string
	ratePerSec float64
	rateBurst  int
	maxBody    int64
	trusted    []netip.Prefix
	events     *stream.Stream
}

func New(authSvc *auth.Service, ws *workspace.Service, rp readinessChecker, opts Options) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		auth:       authSvc,
		workspace:  ws,
		readyProbe: rp,
		version:    opts.Version,
		origins:    opts.AllowedOrigins,
		ratePerSec: opts.RatePerSecond,
		rateBurst:  opts.RateBurst,
		maxBody:    opts.MaxBodyBytes,
		trusted:    opts.TrustedProxies,
		events:     opts.Events,
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = defaultRate
	}
	if a.rateBurst <= 0 {
		a.rateBurst = defaultRateBurst
	}
	if a.maxBody <= 0 {
		a.maxBody = defaultMaxBody
	}
	return a
}

// Handler assembles the router and the middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(ClientIP(a.trusted), RequestID, LoggingJSON, SecurityHeaders, CORS(a.origins))
	r.Use(func(next http.Handler) http.Handler { return obs.Instrument(next, routePattern) })
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/events", a.Stream)

			r.Route("/users", func(r chi.Router) {
				r.Get("/me", a.handleMe)
				r.Put("/me", a.handleUpdateMe)
				r.Delete("/me", a.handleDeleteMe)
				r.Post("/me/change-password", a.handleChangePassword)
				r.Get("/{id}", a.handleUser)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Post("/", a.handleCreateProject)
				r.Get("/", a.handleListProjects)
				r.Get("/search", a.handleSearchProjects)
				r.Get("/{id}", a.handleProject)
				r.Put("/{id}", a.handleUpdateProject)
				r.Delete("/{id}", a.handleDeleteProject)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", a.handleCreateTask)
				r.Get("/", a.handleListTasks)
				r.Get("/assigned", a.handleAssignedTasks)
				r.Get("/overdue", a.handleOverdueTasks)
				r.Get("/project/{projectId}", a.handleProjectTasks)
				r.Get("/project/{projectId}/search", a.handleSearchTasks)
				r.Get("/{id}", a.handleTask)
				r.Put("/{id}", a.handleUpdateTask)
				r.Patch("/{id}/status", a.handleUpdateTaskStatus)
				r.Delete("/{id}", a.handleDeleteTask)
			})
		})
	})
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// --- ops ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, resourceType, resourceID, fields); err != nil {
		obs.Logger().WarnContext(ctx, "audit log failed", "event", event, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// inputMessage strips the sentinel prefix from validation errors.
func inputMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, auth.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(auth.ErrInvalidInput.Error())+2:]
	}
	return "invalid input"
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	obs.Logger().ErrorContext(r.Context(), "request failed",
		"operation", op,
		"request_id", RequestIDFromContext(r),
		"error", err,
	)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
