package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/credential"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

type stubUsers struct {
	nextID    int64
	users     map[string]users.User
	passwords map[string]string
}

func newStubUsers() *stubUsers {
	return &stubUsers{users: map[string]users.User{}, passwords: map[string]string{}}
}

func (s *stubUsers) CreateUser(_ context.Context, username, password string) (users.User, error) {
	if _, ok := s.users[username]; ok {
		return users.User{}, fmt.Errorf("username %q: %w", username, shared.ErrUserExisted)
	}
	s.nextID++
	user := users.User{
		UserInfo:    users.UserInfo{ID: s.nextID, Username: username},
		Roles:       []rbac.Role{{ID: 3, Name: "User"}},
		Permissions: []rbac.Permission{{ID: 1, Name: "READ"}},
	}
	s.users[username] = user
	s.passwords[username] = password
	return user, nil
}

func (s *stubUsers) Authenticate(_ context.Context, username, password string) (users.User, error) {
	user, ok := s.users[username]
	if !ok || s.passwords[username] != password {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

func (s *stubUsers) LookupPrincipal(_ context.Context, username string) (users.User, error) {
	user, ok := s.users[username]
	if !ok {
		return users.User{}, fmt.Errorf("user %q: %w", username, shared.ErrNotFound)
	}
	return user, nil
}

type fixture struct {
	router http.Handler
	users  *stubUsers
	tokens *credential.TokenManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	priv, pub, err := credential.GenerateKeyPair()
	require.NoError(t, err)
	tokens := credential.NewTokenManager(priv, pub, credential.TokenConfig{Issuer: "iam", Audience: "iam", Duration: time.Hour})
	stub := newStubUsers()
	svc := auth.NewService(stub, tokens)

	r := chi.NewRouter()
	auth.NewHandler(nil, svc).MountRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.Bearer(svc, nil))
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			identity, _ := rbac.IdentityFromContext(r.Context())
			_ = json.NewEncoder(w).Encode(identity)
		})
	})
	return &fixture{router: r, users: stub, tokens: tokens}
}

func (f *fixture) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) me(header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signIn(t *testing.T, username, password string) auth.TokenResponse {
	t.Helper()
	rec := f.post("/auth/signin", fmt.Sprintf(`{"username":%q,"password":%q}`, username, password))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var token auth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	return token
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/auth/signup", `{"username":"alice","password":"secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"alice"`)

	assert.Equal(t, http.StatusConflict, f.post("/auth/signup", `{"username":"alice","password":"secret"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.post("/auth/signup", `{"username":"al","password":"secret"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.post("/auth/signup", `{"username":"alice2","password":"123"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/auth/signup", `{"username":`).Code)
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.post("/auth/signup", `{"username":"alice","password":"secret"}`).Code)

	token := f.signIn(t, "alice", "secret")
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.Token)

	claims, err := f.tokens.Verify(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"User"}, claims.Roles)

	rec := f.post("/auth/signin", `{"username":"alice","password":"wrong1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_id"`)
}

func TestBearerMiddleware(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.post("/auth/signup", `{"username":"alice","password":"secret"}`).Code)
	token := f.signIn(t, "alice", "secret")

	assert.Equal(t, http.StatusUnauthorized, f.me("").Code)
	assert.Equal(t, http.StatusUnauthorized, f.me("Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, f.me("Bearer ").Code)
	assert.Equal(t, http.StatusUnauthorized, f.me("Bearer not-a-token").Code)

	rec := f.me("Bearer " + token.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var identity rbac.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "alice", identity.Username)

	user := f.users.users["alice"]
	user.Roles = []rbac.Role{{ID: 1, Name: "Admin"}}
	f.users.users["alice"] = user
	rec = f.me("Bearer " + token.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, []string{"Admin"}, identity.Roles)

	delete(f.users.users, "alice")
	assert.Equal(t, http.StatusForbidden, f.me("Bearer "+token.Token).Code)
}

func TestBearerRejectsTokenForReissuedUsername(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.post("/auth/signup", `{"username":"alice","password":"secret"}`).Code)
	stale := f.signIn(t, "alice", "secret")

	delete(f.users.users, "alice")
	require.Equal(t, http.StatusCreated, f.post("/auth/signup", `{"username":"alice","password":"other1"}`).Code)
	require.Equal(t, int64(2), f.users.users["alice"].ID)

	assert.Equal(t, http.StatusForbidden, f.me("Bearer "+stale.Token).Code)

	fresh := f.signIn(t, "alice", "other1")
	rec := f.me("Bearer " + fresh.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var identity rbac.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, int64(2), identity.ID)
}
