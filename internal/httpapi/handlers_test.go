package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/stream"
	"taskflow.dev/internal/workspace"
)

type lockedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *lockedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *lockedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	clock   *lockedClock
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	clock := &lockedClock{now: time.Now().UTC()}
	principals := auth.NewMemoryStore()
	codec, err := auth.NewTokenCodec([]byte("test-secret"), auth.WithTokenClock(clock.Now))
	require.NoError(t, err)
	authSvc, err := auth.NewService(principals, codec,
		auth.WithPasswordHasher(auth.NewBcryptHasher(auth.WithBcryptCost(bcrypt.MinCost))),
		auth.WithAccessTTL(15*time.Minute),
	)
	require.NoError(t, err)
	events := stream.New()
	ws := workspace.NewService(workspace.NewMemoryStore(), principals, workspace.WithNotifier(events))

	api := New(authSvc, ws, ReadyProbe{}, Options{Version: "test", RatePerSecond: 1000, RateBurst: 1000, Events: events})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), clock: clock, t: t}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) register(email string) auth.Session {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": email, "password": "correct horse", "firstName": "Test", "lastName": "User",
	}, "")
	require.Equal(c.t, http.StatusCreated, resp.StatusCode)
	return decode[auth.Session](c.t, resp)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
	return v
}

func errorBody(t *testing.T, r *http.Response) string {
	t.Helper()
	body := decode[map[string]any](t, r)
	msg, _ := body["error"].(string)
	return msg
}

func TestAuthFlow(t *testing.T) {
	c := newTestAPI(t)

	sess := c.register("ada@example.com")
	assert.Equal(t, "Bearer", sess.TokenType)
	assert.EqualValues(t, 900, sess.ExpiresIn)
	assert.Equal(t, "ada@example.com", sess.User.Email)

	resp := c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "ADA@example.com", "password": "correct horse", "firstName": "A", "lastName": "B",
	}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "not-an-email", "password": "correct horse", "firstName": "A", "lastName": "B",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ada@example.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid email or password", errorBody(t, resp))

	resp = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "Ada@Example.com", "password": "correct horse"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[auth.Session](t, resp)

	resp = c.get("/api/v1/users/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[userResponse](t, resp)
	assert.Equal(t, sess.User.ID, me.ID)
	assert.Equal(t, "Test User", me.FullName)

	resp = c.do(http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decode[auth.Session](t, resp)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	// access tokens are not refresh tokens
	resp = c.do(http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": login.AccessToken}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid refresh token", errorBody(t, resp))
}

func TestProtectedEndpointsRequireBearer(t *testing.T) {
	c := newTestAPI(t)
	sess := c.register("ada@example.com")

	resp := c.get("/api/v1/projects", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)

	resp = c.get("/api/v1/projects", nil, "not.a.token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid token", errorBody(t, resp))

	resp = c.get("/api/v1/projects", nil, sess.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid token", errorBody(t, resp))

	c.clock.Advance(16 * time.Minute)
	resp = c.get("/api/v1/projects", nil, sess.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token expired", errorBody(t, resp))
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
}

func TestProjectOwnershipOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	owner := c.register("owner@example.com")
	stranger := c.register("stranger@example.com")
	assignee := c.register("assignee@example.com")

	resp := c.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": "Apollo", "description": "moon"}, owner.AccessToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	project := decode[workspace.Project](t, resp)
	assert.Equal(t, workspace.ProjectActive, project.Status)
	assert.Equal(t, owner.User.ID, project.OwnerID)

	resp = c.do(http.MethodPost, "/api/v1/tasks", map[string]any{
		"projectId": project.ID, "title": "Launch", "assigneeId": assignee.User.ID, "priority": "high",
	}, owner.AccessToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decode[workspace.Task](t, resp)
	assert.Equal(t, workspace.TaskTodo, task.Status)
	assert.Equal(t, workspace.PriorityHigh, task.Priority)

	// the stranger and the assignee see the same 404 as for a missing id
	for _, tok := range []string{stranger.AccessToken, assignee.AccessToken} {
		resp = c.get("/api/v1/projects/"+project.ID, nil, tok)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "resource not found", errorBody(t, resp))

		resp = c.get("/api/v1/tasks/"+task.ID, nil, tok)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp = c.do(http.MethodDelete, "/api/v1/projects/"+project.ID, nil, tok)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	resp = c.get("/api/v1/projects/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil, stranger.AccessToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "resource not found", errorBody(t, resp))

	// the assignee still lists the task through the assigned scope
	resp = c.get("/api/v1/tasks/assigned", url.Values{"status": {"todo"}}, assignee.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assigned := decode[workspace.Page[workspace.Task]](t, resp)
	require.Len(t, assigned.Content, 1)
	assert.Equal(t, task.ID, assigned.Content[0].ID)

	resp = c.get("/api/v1/projects/"+project.ID, nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[workspace.Project](t, resp)
	assert.Equal(t, 1, got.TaskCount)

	resp = c.do(http.MethodPatch, "/api/v1/tasks/"+task.ID+"/status?status=DONE", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, workspace.TaskDone, decode[workspace.Task](t, resp).Status)

	resp = c.do(http.MethodPatch, "/api/v1/tasks/"+task.ID+"/status", map[string]string{"status": "bogus"}, owner.AccessToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodDelete, "/api/v1/projects/"+project.ID, nil, owner.AccessToken)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = c.get("/api/v1/tasks/"+task.ID, nil, owner.AccessToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectListingAndSearch(t *testing.T) {
	c := newTestAPI(t)
	owner := c.register("owner@example.com")
	for _, name := range []string{"Alpha", "Beta", "Gamma rocket"} {
		resp := c.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": name}, owner.AccessToken)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := c.get("/api/v1/projects", url.Values{"size": {"2"}}, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[workspace.Page[workspace.Project]](t, resp)
	assert.EqualValues(t, 3, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.First)
	assert.False(t, page.Last)
	require.Len(t, page.Content, 2)
	assert.Equal(t, "Gamma rocket", page.Content[0].Name)

	resp = c.get("/api/v1/projects/search", url.Values{"q": {"ROCKET"}}, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[workspace.Page[workspace.Project]](t, resp)
	require.Len(t, found.Content, 1)

	resp = c.get("/api/v1/projects/search", nil, owner.AccessToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.get("/api/v1/projects", url.Values{"size": {"101"}}, owner.AccessToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorBody(t, resp), "size")

	for _, path := range []string{"/api/v1/projects", "/api/v1/tasks"} {
		resp = c.get(path, url.Values{"page": {"461168601842738791"}, "size": {"20"}}, owner.AccessToken)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Contains(t, errorBody(t, resp), "page", path)
	}

	resp = c.get("/api/v1/projects", url.Values{"page": {"1000"}}, owner.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[workspace.Page[workspace.Project]](t, resp).Content)

	resp = c.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": strings.Repeat("x", 101)}, owner.AccessToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUserEndpoints(t *testing.T) {
	c := newTestAPI(t)
	ada := c.register("ada@example.com")
	bob := c.register("bob@example.com")

	resp := c.get("/api/v1/users/"+bob.User.ID, nil, ada.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob@example.com", decode[userResponse](t, resp).Email)

	resp = c.do(http.MethodPut, "/api/v1/users/me", map[string]string{"firstName": "Augusta"}, ada.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Augusta", decode[userResponse](t, resp).FirstName)

	resp = c.do(http.MethodPost, "/api/v1/users/me/change-password",
		map[string]string{"currentPassword": "nope", "newPassword": "new password"}, ada.AccessToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "current password is incorrect", errorBody(t, resp))

	resp = c.do(http.MethodPost, "/api/v1/users/me/change-password",
		map[string]string{"currentPassword": "correct horse", "newPassword": "new password"}, ada.AccessToken)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ada@example.com", "password": "new password"}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.do(http.MethodDelete, "/api/v1/users/me", nil, bob.AccessToken)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = c.get("/api/v1/users/me", nil, bob.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = c.get("/api/v1/users/"+bob.User.ID, nil, ada.AccessToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMalformedBodies(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/api/v1/auth/login", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "request body is required", errorBody(t, resp))

	resp = c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@b.c", "password": "x", "extra": "y"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOpsEndpoints(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])

	resp = c.get("/readyz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.get("/v1/info", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", decode[map[string]any](t, resp)["version"])

	resp = c.get("/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.get("/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

type failingProbe struct{}

func (failingProbe) Check(_ context.Context) error { return errors.New("db down") }

func TestReadyReportsProbeFailure(t *testing.T) {
	api := New(nil, nil, failingProbe{}, Options{})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestEventStream(t *testing.T) {
	c := newTestAPI(t)
	owner := c.register("owner@example.com")
	other := c.register("other@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+owner.AccessToken)
	resp, err := c.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()
	next := func() string {
		select {
		case line := <-lines:
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream")
			return ""
		}
	}
	require.Equal(t, ": stream started", next())

	// another principal's project does not reach this stream
	resp2 := c.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": "Hidden"}, other.AccessToken)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	resp2 = c.do(http.MethodPost, "/api/v1/projects", map[string]string{"name": "Apollo"}, owner.AccessToken)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	project := decode[workspace.Project](t, resp2)

	line := next()
	for line == "" {
		line = next()
	}
	require.Equal(t, "event: "+stream.ProjectCreated, line)
	data := next()
	require.True(t, strings.HasPrefix(data, "data: "), data)
	var evt stream.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &evt))
	assert.Equal(t, stream.ProjectCreated, evt.Type)
	assert.Equal(t, project.ID, evt.ProjectID)
}

func TestEventStreamRequiresAuth(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/api/v1/events", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
