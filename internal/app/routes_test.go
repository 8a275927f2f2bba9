package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"taskboard/internal/auth"
	"taskboard/internal/config"
	"taskboard/internal/dto"
	"taskboard/internal/service"
	"taskboard/internal/testkit/repofakes"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type server struct {
	r      *gin.Engine
	auth   *service.AuthService
	mailer *repofakes.Mailer
	store  *repofakes.Store
}

func newServer(t *testing.T, checks map[string]func(context.Context) error) server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := repofakes.NewStore()
	mailer := &repofakes.Mailer{}
	tokens := auth.NewTokens(testSecret, time.Hour, 15*time.Minute)
	cfg := config.Config{
		App:  config.AppConfig{Env: "test", Version: "v-test", FrontendURL: "http://front"},
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}, AllowedOriginSuffixes: []string{".vercel.app"}},
	}
	authSvc := service.NewAuthService(service.AuthDeps{
		Users:       store.Users(),
		Tokens:      tokens,
		Ledger:      repofakes.NewLedger(),
		Mailer:      mailer,
		LoginLimit:  &repofakes.Limiter{Limit: 3},
		ResetLimit:  &repofakes.Limiter{},
		FrontendURL: cfg.App.FrontendURL,
		BcryptCost:  bcrypt.MinCost,
		Log:         log,
	})
	d := Deps{
		Log:     log,
		Tokens:  tokens,
		AuthSvc: authSvc,
		TaskSvc: service.NewTaskService(store.Tasks(), store.Categories(), nil, log),
		Checks:  checks,
	}
	return server{r: newRouter(cfg, d), auth: authSvc, mailer: mailer, store: store}
}

func (s server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (s server) login(t *testing.T, username, email, password string) (string, dto.UserResponse) {
	t.Helper()
	if w := s.do(t, http.MethodPost, "/api/register", "", dto.RegisterRequest{Username: username, Email: email, Password: password}); w.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", username, w.Code, w.Body.String())
	}
	w := s.do(t, http.MethodPost, "/api/login", "", dto.LoginRequest{Username: username, Password: password})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, w.Code, w.Body.String())
	}
	res := decode[dto.LoginResponse](t, w)
	return res.Token, res.User
}

func TestAliceScenario(t *testing.T) {
	s := newServer(t, nil)
	token, user := s.login(t, "alice", "alice@x.com", "pw123456")
	if user.Username != "alice" || user.ID == 0 || token == "" {
		t.Fatalf("login = %+v %q", user, token)
	}

	w := s.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "Write spec"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/tasks", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"assignees":[]`) {
		t.Fatalf("assignees not rendered as []: %s", w.Body.String())
	}
	list := decode[[]dto.TaskResponse](t, w)
	if len(list) != 1 {
		t.Fatalf("got %d tasks", len(list))
	}
	got := list[0]
	if got.Title != "Write spec" || got.Status != "Pending" || got.OwnerName != "alice" || got.OwnerID != user.ID {
		t.Fatalf("task = %+v", got)
	}
}

func TestRegister_Errors(t *testing.T) {
	s := newServer(t, nil)
	s.login(t, "alice", "alice@x.com", "pw123456")

	cases := []struct {
		name   string
		body   any
		status int
		field  string
	}{
		{"missing fields", dto.RegisterRequest{Username: "bob"}, http.StatusBadRequest, ""},
		{"bad email", dto.RegisterRequest{Username: "bob", Email: "bob", Password: "pw123456"}, http.StatusBadRequest, "email"},
		{"short password", dto.RegisterRequest{Username: "bob", Email: "bob@x.com", Password: "pw"}, http.StatusBadRequest, "password"},
		{"password over 72 bytes", dto.RegisterRequest{Username: "bob", Email: "bob@x.com", Password: strings.Repeat("é", 40)}, http.StatusBadRequest, "password"},
		{"taken username", dto.RegisterRequest{Username: "alice", Email: "other@x.com", Password: "pw123456"}, http.StatusConflict, "username"},
		{"taken email", dto.RegisterRequest{Username: "bob", Email: "alice@x.com", Password: "pw123456"}, http.StatusConflict, "email"},
		{"malformed json", "{", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/register", "", tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if got := decode[dto.ErrorResponse](t, w); got.Field != tc.field || got.Error == "" {
				t.Fatalf("body = %+v", got)
			}
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	s := newServer(t, nil)
	s.login(t, "alice", "alice@x.com", "pw123456")

	if w := s.do(t, http.MethodPost, "/api/login", "", dto.LoginRequest{Username: "nobody", Password: "x"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/login", "", dto.LoginRequest{Username: "alice@x.com", Password: "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: %d", w.Code)
	}
	// Three failures per identifier are allowed; successful logins never count.
	for i := 0; i < 3; i++ {
		if w := s.do(t, http.MethodPost, "/api/login", "", dto.LoginRequest{Username: "alice", Password: "pw123456"}); w.Code != http.StatusOK {
			t.Fatalf("correct login #%d: %d", i+1, w.Code)
		}
	}
	for i := 0; i < 3; i++ {
		s.do(t, http.MethodPost, "/api/login", "", dto.LoginRequest{Username: "alice", Password: "wrong"})
	}
	if w := s.do(t, http.MethodPost, "/api/login", "", dto.LoginRequest{Username: "alice", Password: "pw123456"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled: %d", w.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	s := newServer(t, nil)
	s.login(t, "alice", "alice@x.com", "pw123456")

	known := s.do(t, http.MethodPost, "/api/forgot-password", "", dto.ForgotPasswordRequest{Email: "alice@x.com"})
	unknown := s.do(t, http.MethodPost, "/api/forgot-password", "", dto.ForgotPasswordRequest{Email: "ghost@x.com"})
	s.auth.Wait()
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK || known.Body.String() != unknown.Body.String() {
		t.Fatalf("forgot-password leaks: %d %s / %d %s", known.Code, known.Body, unknown.Code, unknown.Body)
	}
	sent := s.mailer.Messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d mails", len(sent))
	}
	token := resetTokenFrom(t, sent[0].Text)

	if w := s.do(t, http.MethodPut, "/api/reset-password", "", dto.ResetPasswordRequest{Email: "alice@x.com", NewPassword: "newpass1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("email-only reset: %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/api/reset-password", "", dto.ResetPasswordRequest{Token: "garbage", NewPassword: "newpass1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("garbage token: %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/api/reset-password", "", dto.ResetPasswordRequest{Token: token, NewPassword: "newpass1"}); w.Code != http.StatusOK {
		t.Fatalf("reset: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPut, "/api/reset-password", "", dto.ResetPasswordRequest{Token: token, NewPassword: "another1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("reused token: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/login", "", dto.LoginRequest{Username: "alice", Password: "newpass1"}); w.Code != http.StatusOK {
		t.Fatalf("login with new password: %d", w.Code)
	}
}

func resetTokenFrom(t *testing.T, text string) string {
	t.Helper()
	i := strings.Index(text, "http://front/reset-password?")
	if i < 0 {
		t.Fatalf("no link in %q", text)
	}
	link := strings.Fields(text[i:])[0]
	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	return u.Query().Get("token")
}

func TestTasks_RequireToken(t *testing.T) {
	s := newServer(t, nil)
	if w := s.do(t, http.MethodGet, "/api/tasks", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/tasks", "not-a-jwt", nil); w.Code != http.StatusForbidden {
		t.Fatalf("bad token: %d", w.Code)
	}
}

func TestTasks_Lifecycle(t *testing.T) {
	s := newServer(t, nil)
	alice, _ := s.login(t, "alice", "alice@x.com", "pw123456")
	bob, _ := s.login(t, "bob", "bob@x.com", "pw123456")

	w := s.do(t, http.MethodPost, "/api/tasks", alice, map[string]any{
		"title": "Ship", "category": "Work", "status": "In Progress", "dueDate": "2026-03-01", "assignees": "bob, ghost",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id := decode[dto.CreateTaskResponse](t, w).ID
	path := "/api/tasks/" + strconv.FormatInt(id, 10)

	list := decode[[]dto.TaskResponse](t, s.do(t, http.MethodGet, "/api/tasks", alice, nil))
	got := list[0]
	if got.DueDate == nil || *got.DueDate != "2026-03-01" || got.Category == nil || *got.Category != "Work" ||
		len(got.Assignees) != 1 || got.Assignees[0] != "bob" {
		t.Fatalf("task = %+v", got)
	}
	if bobs := decode[[]dto.TaskResponse](t, s.do(t, http.MethodGet, "/api/tasks", bob, nil)); len(bobs) != 0 {
		t.Fatalf("bob sees %d tasks", len(bobs))
	}

	if w := s.do(t, http.MethodPut, path, bob, map[string]any{"title": "pwned"}); w.Code != http.StatusOK {
		t.Fatalf("non-owner update: %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, path, alice, map[string]any{"title": ""}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty title update: %d", w.Code)
	}
	if w := s.do(t, http.MethodPut, path, alice, map[string]any{"title": "Shipped", "status": "Completed", "assignees": []string{}}); w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	got = decode[[]dto.TaskResponse](t, s.do(t, http.MethodGet, "/api/tasks?status=Completed", alice, nil))[0]
	if got.Title != "Shipped" || got.Category != nil || got.DueDate != nil || len(got.Assignees) != 0 {
		t.Fatalf("after full replace: %+v", got)
	}

	cats := decode[[]dto.CategoryResponse](t, s.do(t, http.MethodGet, "/api/categories", alice, nil))
	if len(cats) != 1 || cats[0].Name != "Work" {
		t.Fatalf("categories = %+v", cats)
	}

	if w := s.do(t, http.MethodDelete, "/api/tasks/completed", bob, nil); w.Code != http.StatusOK || decode[dto.ClearCompletedResponse](t, w).Deleted != 0 {
		t.Fatalf("bob clear: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodDelete, path, bob, nil); w.Code != http.StatusOK {
		t.Fatalf("non-owner delete: %d", w.Code)
	}
	if s.store.TaskCount() != 1 {
		t.Fatal("non-owner removed the task")
	}
	w = s.do(t, http.MethodDelete, "/api/tasks/completed", alice, nil)
	if w.Code != http.StatusOK || decode[dto.ClearCompletedResponse](t, w).Deleted != 1 {
		t.Fatalf("clear: %d %s", w.Code, w.Body.String())
	}
}

func TestTasks_BadInput(t *testing.T) {
	s := newServer(t, nil)
	token, _ := s.login(t, "alice", "alice@x.com", "pw123456")

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/tasks", map[string]any{"title": "  "}},
		{http.MethodPost, "/api/tasks", map[string]any{"title": "x", "dueDate": "tomorrow"}},
		{http.MethodPost, "/api/tasks", map[string]any{"title": "x", "assignees": 5}},
		{http.MethodPut, "/api/tasks/abc", map[string]any{"title": "x"}},
		{http.MethodDelete, "/api/tasks/0", nil},
	}
	for _, tc := range cases {
		if w := s.do(t, tc.method, tc.path, token, tc.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s %s %v: %d %s", tc.method, tc.path, tc.body, w.Code, w.Body.String())
		}
	}
	if s.store.TaskCount() != 0 {
		t.Fatal("a rejected task was stored")
	}
}

func TestTasks_StorageFailureIs500(t *testing.T) {
	s := newServer(t, nil)
	token, _ := s.login(t, "alice", "alice@x.com", "pw123456")
	s.store.Fail = errors.New("connection reset")

	w := s.do(t, http.MethodPost, "/api/tasks", token, map[string]any{"title": "x"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection reset") {
		t.Fatalf("driver error leaked: %s", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("refused") }

	s := newServer(t, map[string]func(context.Context) error{"postgres": ok, "redis": ok})
	if w := s.do(t, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthy: %d", w.Code)
	}
	s = newServer(t, map[string]func(context.Context) error{"postgres": ok, "redis": down})
	w := s.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "refused") {
		t.Fatalf("unhealthy: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodGet, "/version", "", nil); !strings.Contains(w.Body.String(), "v-test") {
		t.Fatalf("version: %s", w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	s := newServer(t, nil)
	cases := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5173", true},
		{"https://preview-1.vercel.app", true},
		{"https://evil.example", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
		req.Header.Set("Origin", tc.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		s.r.ServeHTTP(w, req)
		got := w.Header().Get("Access-Control-Allow-Origin") == tc.origin
		if got != tc.allowed {
			t.Errorf("origin %s: allowed=%v, want %v (status %d)", tc.origin, got, tc.allowed, w.Code)
		}
	}
}
