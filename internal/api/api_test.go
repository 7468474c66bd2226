package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/ratelimit"
	"github.com/saidutt46/switchboard-relay/internal/repository"
	"github.com/saidutt46/switchboard-relay/internal/store"
)

const testAdminToken = "test-admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	engine *gin.Engine
	repos  *repository.Repositories
}

func newAPIFixture(t *testing.T, legacy bool) *apiFixture {
	t.Helper()
	repos := repository.New(store.NewMemoryStore(), repository.Options{LogRetention: repository.DefaultLogRetention})
	guard := auth.NewGuard(repos, auth.Config{
		AdminToken: testAdminToken,
		Argon2:     auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32},
	})

	r := gin.New()
	NewHandler(repos, guard, Options{LegacyRoutes: legacy}).RegisterRoutes(r)
	return &apiFixture{engine: r, repos: repos}
}

type envelope struct {
	OK    bool            `json:"ok"`
	Item  json.RawMessage `json:"item"`
	Items json.RawMessage `json:"items"`
	Error string          `json:"error"`
}

func (f *apiFixture) call(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (f *apiFixture) admin(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	return f.call(t, method, path, body, map[string]string{HeaderAdminToken: testAdminToken})
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// signup registers, approves and logs in a user, returning the session token.
func (f *apiFixture) signup(t *testing.T, username string) string {
	t.Helper()
	w, _ := f.call(t, http.MethodPost, "/api/auth/register", CredentialsRequest{Username: username, Password: "secret123"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = f.admin(t, http.MethodPatch, "/api/admin/users/"+username, StatusRequest{Status: "APPROVED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := f.call(t, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: username, Password: "secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session repository.Session
	require.NoError(t, json.Unmarshal(env.Item, &session))
	return session.Token
}

func (f *apiFixture) createService(t *testing.T, body map[string]any) *repository.Service {
	t.Helper()
	w, env := f.admin(t, http.MethodPost, "/api/admin/services", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var svc repository.Service
	require.NoError(t, json.Unmarshal(env.Item, &svc))
	return &svc
}

func TestRegister(t *testing.T) {
	f := newAPIFixture(t, false)

	w, env := f.call(t, http.MethodPost, "/api/auth/register", CredentialsRequest{Username: "alice", Password: "secret123"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.OK)
	assert.NotContains(t, string(env.Item), "passwordHash")
	assert.NotContains(t, string(env.Item), "salt")

	var user repository.PublicUser
	require.NoError(t, json.Unmarshal(env.Item, &user))
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, repository.StatusPending, user.Status)

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"duplicate", CredentialsRequest{Username: "alice", Password: "another1"}, msgUsernameTaken},
		{"short password", CredentialsRequest{Username: "bob", Password: "12345"}, msgPasswordTooShort},
		{"invalid username", CredentialsRequest{Username: "a b", Password: "secret123"}, msgInvalidUsername},
		{"separator in username", CredentialsRequest{Username: "a___b", Password: "secret123"}, msgInvalidUsername},
		{"malformed body", "{not json", msgInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := f.call(t, http.MethodPost, "/api/auth/register", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, env.Error)
		})
	}

	// the first registration is retained
	stored, err := f.repos.Users.Get(context.Background(), "alice")
	require.NoError(t, err)
	ok, err := auth.VerifyPassword("secret123", stored.Salt, stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t, false)

	w, _ := f.call(t, http.MethodPost, "/api/auth/register", CredentialsRequest{Username: "alice", Password: "secret123"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := f.call(t, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: "alice", Password: "secret123"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, msgNotApproved, env.Error)

	w, _ = f.admin(t, http.MethodPatch, "/api/admin/users/alice", StatusRequest{Status: "approved"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = f.call(t, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: "alice", Password: "wrong-pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, msgBadCredentials, env.Error)

	w, env = f.call(t, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: "nobody", Password: "secret123"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, msgBadCredentials, env.Error)

	start := time.Now()
	w, env = f.call(t, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: "alice", Password: "secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var session repository.Session
	require.NoError(t, json.Unmarshal(env.Item, &session))
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "alice", session.Username)
	assert.GreaterOrEqual(t, session.ExpiresAt, start.Add(auth.DefaultSessionTTL).UnixMilli())
}

func TestUserEndpoints_RequireSession(t *testing.T) {
	f := newAPIFixture(t, false)

	for _, headers := range []map[string]string{nil, bearer("bogus"), {"Authorization": "Basic abc"}} {
		w, env := f.call(t, http.MethodGet, "/api/user/me", nil, headers)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, msgInvalidSession, env.Error)
	}
}

func TestUserKeys(t *testing.T) {
	f := newAPIFixture(t, false)
	token := f.signup(t, "alice")

	svc := f.createService(t, map[string]any{"name": "Weather", "targetUrl": "https://weather.example.com/v1", "limit": 3})
	inactive := f.createService(t, map[string]any{"name": "Old", "targetUrl": "https://old.example.com", "active": false})

	w, env := f.call(t, http.MethodGet, "/api/user/me", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Item), `"username":"alice"`)

	w, env = f.call(t, http.MethodPost, "/api/user/keys", CreateKeyRequest{ServiceID: "svc_missing"}, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, msgServiceNotFound, env.Error)

	w, env = f.call(t, http.MethodPost, "/api/user/keys", CreateKeyRequest{ServiceID: inactive.ID}, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = f.call(t, http.MethodPost, "/api/user/keys", CreateKeyRequest{}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgServiceIDRequired, env.Error)

	w, env = f.call(t, http.MethodPost, "/api/user/keys", CreateKeyRequest{ServiceID: svc.ID}, bearer(token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var key repository.ApiKey
	require.NoError(t, json.Unmarshal(env.Item, &key))
	assert.True(t, strings.HasPrefix(key.Key, "rk_"))
	assert.Equal(t, "Weather", key.Name, "name defaults to the service name")
	assert.Equal(t, svc.ID, key.ServiceID)
	assert.Equal(t, "alice", key.Username)

	_, err := f.repos.Usage.Increment(context.Background(), repository.UsageKey{ServiceID: svc.ID, Username: "alice"}, time.Now())
	require.NoError(t, err)

	w, env = f.call(t, http.MethodGet, "/api/user/services", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	var services []UserService
	require.NoError(t, json.Unmarshal(env.Items, &services))
	require.Len(t, services, 1, "inactive services are hidden")
	assert.Equal(t, svc.ID, services[0].ID)
	assert.EqualValues(t, 1, services[0].Usage)
	assert.EqualValues(t, 3, services[0].Limit)

	w, env = f.call(t, http.MethodGet, "/api/user/keys", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	var keys []repository.ApiKey
	require.NoError(t, json.Unmarshal(env.Items, &keys))
	require.Len(t, keys, 1)

	// another user cannot revoke alice's key
	other := f.signup(t, "mallory")
	w, _ = f.call(t, http.MethodDelete, "/api/user/keys/"+key.Key, nil, bearer(other))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.call(t, http.MethodDelete, "/api/user/keys/"+key.Key, nil, bearer(token))
	assert.Equal(t, http.StatusOK, w.Code)
	_, err = f.repos.Keys.Get(context.Background(), key.Key)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAdmin_RequiresToken(t *testing.T) {
	f := newAPIFixture(t, false)

	for _, token := range []string{"", "wrong"} {
		w, env := f.call(t, http.MethodGet, "/api/admin/services", nil, map[string]string{HeaderAdminToken: token})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, msgUnauthorizedAdmin, env.Error)
	}
}

func TestAdmin_ServiceValidation(t *testing.T) {
	f := newAPIFixture(t, false)

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing name", map[string]any{"targetUrl": "https://x.example.com"}, msgNameRequired},
		{"blank name", map[string]any{"name": "  ", "targetUrl": "https://x.example.com"}, msgNameRequired},
		{"missing target", map[string]any{"name": "x"}, "targetUrl tidak valid"},
		{"relative target", map[string]any{"name": "x", "targetUrl": "/path"}, "targetUrl tidak valid"},
		{"ftp target", map[string]any{"name": "x", "targetUrl": "ftp://x.example.com"}, "Protocol target wajib http/https"},
		{"bad method", map[string]any{"name": "x", "targetUrl": "https://x.example.com", "method": "TRACE"}, msgInvalidMethod},
		{"negative limit", map[string]any{"name": "x", "targetUrl": "https://x.example.com", "limit": -1}, msgInvalidLimit},
		{"malformed body", "[", msgInvalidBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := f.admin(t, http.MethodPost, "/api/admin/services", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, env.Error)
		})
	}
}

func TestAdmin_ServiceLifecycle(t *testing.T) {
	f := newAPIFixture(t, false)

	svc := f.createService(t, map[string]any{"name": "Echo", "targetUrl": "HTTPS://Echo.Example.COM"})
	assert.True(t, strings.HasPrefix(svc.ID, "svc_"))
	assert.Len(t, svc.ID, len("svc_")+16)
	assert.Equal(t, "https://echo.example.com/", svc.TargetURL)
	assert.Equal(t, repository.MethodAny, svc.Method)
	assert.EqualValues(t, 0, svc.Limit)
	assert.True(t, svc.Active)

	w, env := f.admin(t, http.MethodPatch, "/api/admin/services/"+svc.ID, map[string]any{"limit": 10, "method": "post", "docs": "POST only"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated repository.Service
	require.NoError(t, json.Unmarshal(env.Item, &updated))
	assert.EqualValues(t, 10, updated.Limit)
	assert.Equal(t, "POST", updated.Method)
	assert.Equal(t, "POST only", updated.Docs)
	assert.Equal(t, "Echo", updated.Name, "absent fields are kept")

	w, _ = f.admin(t, http.MethodGet, "/api/admin/services/"+svc.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = f.admin(t, http.MethodGet, "/api/admin/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []repository.Service
	require.NoError(t, json.Unmarshal(env.Items, &list))
	assert.Len(t, list, 1)

	w, _ = f.admin(t, http.MethodDelete, "/api/admin/services/"+svc.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = f.admin(t, http.MethodPatch, "/api/admin/services/"+svc.ID, map[string]any{"limit": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, msgServiceNotFound, env.Error)

	w, env = f.admin(t, http.MethodGet, "/api/admin/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Items))
}

func TestAdmin_Users(t *testing.T) {
	f := newAPIFixture(t, false)
	token := f.signup(t, "alice")

	w, env := f.admin(t, http.MethodGet, "/api/admin/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, string(env.Items), "passwordHash")

	w, env = f.admin(t, http.MethodPatch, "/api/admin/users/alice", StatusRequest{Status: "BANNED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidStatus, env.Error)

	w, env = f.admin(t, http.MethodPatch, "/api/admin/users/ghost", StatusRequest{Status: "APPROVED"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, msgUserNotFound, env.Error)

	// a rejected user keeps the session but cannot mint keys
	w, _ = f.admin(t, http.MethodPatch, "/api/admin/users/alice", StatusRequest{Status: "REJECTED"})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = f.call(t, http.MethodGet, "/api/user/me", nil, bearer(token))
	assert.Equal(t, http.StatusOK, w.Code)
	svc := f.createService(t, map[string]any{"name": "Echo", "targetUrl": "https://echo.test"})
	w, _ = f.call(t, http.MethodPost, "/api/user/keys", CreateKeyRequest{ServiceID: svc.ID}, bearer(token))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.admin(t, http.MethodPatch, "/api/admin/users/alice", StatusRequest{Status: "APPROVED"})
	require.Equal(t, http.StatusOK, w.Code)
	w, env = f.call(t, http.MethodPost, "/api/auth/login", CredentialsRequest{Username: "alice", Password: "secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var session repository.Session
	require.NoError(t, json.Unmarshal(env.Item, &session))

	w, env = f.admin(t, http.MethodPost, "/api/admin/users/alice/revoke-sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"revoked":2}`, string(env.Item))
	for _, tok := range []string{token, session.Token} {
		w, _ = f.call(t, http.MethodGet, "/api/user/me", nil, bearer(tok))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w, _ = f.admin(t, http.MethodDelete, "/api/admin/users/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = f.admin(t, http.MethodDelete, "/api/admin/users/alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Logs(t *testing.T) {
	f := newAPIFixture(t, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.repos.Logs.Add(ctx, repository.LogEntry{RouteID: "svc_1", Status: 502, Message: "boom"})
		require.NoError(t, err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?limit=2", 2},
		{"?limit=0", 3},
		{"?limit=-5", 1},
		{"?limit=abc", 3},
		{"?limit=1000", 3},
	}
	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			w, env := f.admin(t, http.MethodGet, "/api/admin/logs"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)
			var entries []repository.LogEntry
			require.NoError(t, json.Unmarshal(env.Items, &entries))
			assert.Len(t, entries, tt.want)
		})
	}

	w, env := f.admin(t, http.MethodDelete, "/api/admin/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":3}`, string(env.Item))

	w, env = f.admin(t, http.MethodGet, "/api/admin/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Items))
}

func TestAdmin_Usage(t *testing.T) {
	f := newAPIFixture(t, false)
	ctx := context.Background()
	key := repository.UsageKey{ServiceID: "svc_1", Username: "alice"}

	for i := 0; i < 2; i++ {
		_, err := f.repos.Usage.Increment(ctx, key, time.Now())
		require.NoError(t, err)
	}

	w, env := f.admin(t, http.MethodGet, "/api/admin/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var counters []repository.UsageCounter
	require.NoError(t, json.Unmarshal(env.Items, &counters))
	require.Len(t, counters, 1)
	assert.EqualValues(t, 2, counters[0].Count)

	w, _ = f.admin(t, http.MethodDelete, "/api/admin/usage/svc_1/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	counter, err := f.repos.Usage.Get(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counter.Count)

	w, _ = f.admin(t, http.MethodDelete, "/api/admin/usage/svc___x/alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_LegacyRoutes(t *testing.T) {
	f := newAPIFixture(t, true)

	w, env := f.admin(t, http.MethodPost, "/api/admin/routes", RouteRequest{Name: "", TargetURL: "https://x.example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgNameRequired, env.Error)

	w, env = f.admin(t, http.MethodPost, "/api/admin/routes", RouteRequest{Name: "legacy", TargetURL: "https://x.example.com/hook", Method: "post"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created RouteWithToken
	require.NoError(t, json.Unmarshal(env.Item, &created))
	assert.True(t, strings.HasPrefix(created.ID, "api_"))
	assert.Equal(t, "POST", created.Method)
	assert.NotEmpty(t, created.UserToken)

	w, env = f.admin(t, http.MethodGet, "/api/admin/routes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var routes []RouteWithToken
	require.NoError(t, json.Unmarshal(env.Items, &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, created.UserToken, routes[0].UserToken)

	w, _ = f.admin(t, http.MethodDelete, "/api/admin/routes/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = f.admin(t, http.MethodDelete, "/api/admin/routes/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_LegacyRoutesDisabled(t *testing.T) {
	f := newAPIFixture(t, false)

	w, _ := f.admin(t, http.MethodGet, "/api/admin/routes", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuth_RateLimited(t *testing.T) {
	repos := repository.New(store.NewMemoryStore(), repository.Options{})
	guard := auth.NewGuard(repos, auth.Config{
		AdminToken: testAdminToken,
		Argon2:     auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32},
	})
	limiter, err := ratelimit.NewMemoryBucket(ratelimit.Config{Capacity: 2, RefillRate: 0.001}, nil)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(repos, guard, Options{AuthLimiter: limiter}).RegisterRoutes(r)
	f := &apiFixture{engine: r, repos: repos}

	creds := CredentialsRequest{Username: "alice", Password: "wrong-password"}
	for i := 0; i < 2; i++ {
		w, _ := f.call(t, http.MethodPost, "/api/auth/login", creds, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w, env := f.call(t, http.MethodPost, "/api/auth/login", creds, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, msgTooManyAttempts, env.Error)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// the admin API is not throttled
	w, _ = f.admin(t, http.MethodGet, "/api/admin/services", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
