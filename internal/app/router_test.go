package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/credential"
	"github.com/odyssey-erp/odyssey-iam/internal/health"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

type principals map[string]users.User

func (p principals) CreateUser(context.Context, string, string) (users.User, error) {
	return users.User{}, shared.ErrInternal
}

func (p principals) Authenticate(context.Context, string, string) (users.User, error) {
	return users.User{}, shared.ErrInvalidCredentials
}

func (p principals) LookupPrincipal(_ context.Context, username string) (users.User, error) {
	user, ok := p[username]
	if !ok {
		return users.User{}, fmt.Errorf("user %q: %w", username, shared.ErrNotFound)
	}
	return user, nil
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type recordingQueue struct{ calls int }

func (q *recordingQueue) EnqueueRematerialize(context.Context, jobs.RematerializePayload) (*asynq.TaskInfo, error) {
	q.calls++
	return &asynq.TaskInfo{ID: "t1", Queue: jobs.QueueDefault}, nil
}

type routerFixture struct {
	handler http.Handler
	tokens  *credential.TokenManager
	queue   *recordingQueue
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()

	priv, pub, err := credential.GenerateKeyPair()
	require.NoError(t, err)
	tokens := credential.NewTokenManager(priv, pub, credential.TokenConfig{Issuer: "iam", Audience: "odyssey"})

	known := principals{
		"alice": {
			UserInfo: users.UserInfo{ID: 1, Username: "alice"},
			Roles:    []rbac.Role{{ID: int64(rbac.RoleAdmin), Name: rbac.RoleAdmin.String()}},
		},
		"charlie": {
			UserInfo: users.UserInfo{ID: 3, Username: "charlie"},
			Roles:    []rbac.Role{{ID: int64(rbac.RoleUser), Name: rbac.RoleUser.String()}},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authService := auth.NewService(known, tokens)
	queue := &recordingQueue{}

	handler := NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "test"},
		AuthService:    authService,
		AuthHandler:    auth.NewHandler(logger, authService),
		HealthHandler:  health.NewHandler(logger, okPinger{}, "test"),
		JobHandler:     jobs.NewHandler(nil, queue, logger),
		RBACMiddleware: rbac.Middleware{Logger: logger},
		Metrics:        observability.NewMetrics(),
	})
	return routerFixture{handler: handler, tokens: tokens, queue: queue}
}

func (f routerFixture) do(t *testing.T, method, path, username string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if username != "" {
		token, _, err := f.tokens.Sign(credential.Subject{Username: username})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestRouterPublicEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/jobs/health", "").Code)

	metrics := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "iam_http_requests_total")
}

func TestRouterSecurityHeaders(t *testing.T) {
	rr := newRouterFixture(t).do(t, http.MethodGet, "/live", "")
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestRouterRequiresBearer(t *testing.T) {
	f := newRouterFixture(t)
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/roles", "").Code)
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/admin/rbac/rematerialize", "").Code)
}

func TestRouterRemovedUserIsForbidden(t *testing.T) {
	f := newRouterFixture(t)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/admin/rbac/rematerialize", "mallory").Code)
}

func TestRouterAdminRoutesRequireAdmin(t *testing.T) {
	f := newRouterFixture(t)

	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/admin/rbac/rematerialize", "charlie").Code)
	require.Zero(t, f.queue.calls)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/admin/rbac/rematerialize", "alice").Code)
	require.Equal(t, 1, f.queue.calls)
}

func TestRouterUnknownRouteIsProblem(t *testing.T) {
	rr := newRouterFixture(t).do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "application/json")
}
