// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/univexplorer/authd/internal/auth"
	"github.com/univexplorer/authd/internal/httpapi"
	"github.com/univexplorer/authd/internal/observability"
)

// memRepo is an in-memory auth.UserRepository. Duplicate checks are
// case-insensitive, matching the unique indexes of the real store.
type memRepo struct {
	mu    sync.Mutex
	users map[string]*auth.User
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]*auth.User)}
}

func (r *memRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, taken := r.users[key]; taken {
		return fmt.Errorf("insert users: %w", auth.ErrDuplicateUser)
	}
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("insert users: %w", auth.ErrDuplicateUser)
		}
	}
	r.users[key] = user
	return nil
}

func (r *memRepo) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, found := r.users[strings.ToLower(username)]
	if !found {
		return nil, fmt.Errorf("get user: %w", auth.ErrNotFound)
	}
	return user, nil
}

func (r *memRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.users[strings.ToLower(username)]; taken {
		return true, nil
	}
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// downRepo fails every operation, standing in for an unreachable
// database.
type downRepo struct{}

func (downRepo) Create(context.Context, *auth.User) error {
	return errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func (downRepo) GetByUsername(context.Context, string) (*auth.User, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func (downRepo) ExistsByUsernameOrEmail(context.Context, string, string) (bool, error) {
	return false, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func newTestServer(t *testing.T, metrics *observability.Metrics) *httpapi.Server {
	t.Helper()

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer("api-test-secret", time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service, err := auth.NewServiceWithLogger(newMemRepo(), hasher, issuer, logger)
	require.NoError(t, err)

	server, err := httpapi.NewServer("127.0.0.1:0", service, metrics, logger)
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error object, got: %s", rec.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

func TestNewServer_Validation(t *testing.T) {
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer("api-test-secret", time.Hour)
	require.NoError(t, err)
	service, err := auth.NewService(newMemRepo(), hasher, issuer)
	require.NoError(t, err)

	_, err = httpapi.NewServer("", service, nil, nil)
	require.Error(t, err)

	_, err = httpapi.NewServer("127.0.0.1:0", nil, nil, nil)
	require.Error(t, err)
}

func TestRegisterEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	t.Run("creates user", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"nova","email":"n@x.com","password":"secret123"}`, nil)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "nova", body["username"])

		// The password hash must never appear in the response.
		assert.NotContains(t, rec.Body.String(), "$2a$")
	})

	t.Run("duplicate username conflicts", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"nova","email":"other@x.com","password":"secret123"}`, nil)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "AUTH_DUPLICATE_USER", errorCode(t, rec))
	})

	t.Run("duplicate email conflicts with the same body", func(t *testing.T) {
		recUsername := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"nova","email":"other@x.com","password":"secret123"}`, nil)
		recEmail := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"vega","email":"n@x.com","password":"secret123"}`, nil)

		require.Equal(t, http.StatusConflict, recEmail.Code)

		// Neither response reveals which field collided.
		assert.Equal(t, recUsername.Body.String(), recEmail.Body.String())
	})

	t.Run("invalid email rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"vega","email":"not-an-email","password":"secret123"}`, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "AUTH_INVALID_EMAIL", errorCode(t, rec))
	})

	t.Run("invalid username rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"1nova","email":"v@x.com","password":"secret123"}`, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "AUTH_INVALID_USERNAME", errorCode(t, rec))
	})

	t.Run("empty password rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"vega","email":"v@x.com","password":""}`, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "AUTH_EMPTY_PASSWORD", errorCode(t, rec))
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/register", `{"username":`, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "AUTH_VALIDATION_FAILED", errorCode(t, rec))
	})

	t.Run("wrong method not routed", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/auth/register", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestLoginEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/auth/register",
		`{"username":"nova","email":"n@x.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	t.Run("returns token", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/login",
			`{"username":"nova","password":"secret123"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		token, _ := body["token"].(string)
		assert.NotEmpty(t, token)
	})

	t.Run("username is case-insensitive", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/login",
			`{"username":"NOVA","password":"secret123"}`, nil)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("wrong password unauthorized", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/login",
			`{"username":"nova","password":"wrong"}`, nil)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH_INVALID_CREDENTIALS", errorCode(t, rec))
	})

	t.Run("unknown user gets identical response", func(t *testing.T) {
		wrongPassword := doJSON(t, handler, http.MethodPost, "/auth/login",
			`{"username":"nova","password":"wrong"}`, nil)
		unknownUser := doJSON(t, handler, http.MethodPost, "/auth/login",
			`{"username":"ghost","password":"secret123"}`, nil)

		require.Equal(t, http.StatusUnauthorized, unknownUser.Code)
		assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/login",
			`{"username":"nova"}`, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "AUTH_VALIDATION_FAILED", errorCode(t, rec))
	})
}

func TestVerifyEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/auth/register",
		`{"username":"nova","email":"n@x.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	login := doJSON(t, handler, http.MethodPost, "/auth/login",
		`{"username":"nova","password":"secret123"}`, nil)
	require.Equal(t, http.StatusOK, login.Code)
	token, _ := decodeBody(t, login)["token"].(string)
	require.NotEmpty(t, token)

	t.Run("bearer token accepted", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/auth/verify", "",
			map[string]string{"Authorization": "Bearer " + token})

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "nova", body["username"])
		assert.Equal(t, "n@x.com", body["email"])
	})

	t.Run("bare token accepted", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/auth/verify", "",
			map[string]string{"Authorization": token})
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("missing token unauthorized", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/auth/verify", "", nil)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH_INVALID_TOKEN", errorCode(t, rec))
	})

	t.Run("garbage token unauthorized with generic message", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/auth/verify", "",
			map[string]string{"Authorization": "Bearer not-a-token"})

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH_INVALID_TOKEN", errorCode(t, rec))

		// The body never says whether the token was malformed, forged,
		// or expired.
		assert.NotContains(t, rec.Body.String(), "expired")
		assert.NotContains(t, rec.Body.String(), "signature")
	})

	t.Run("tampered token unauthorized", func(t *testing.T) {
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("x", len(parts[2]))

		rec := doJSON(t, handler, http.MethodGet, "/auth/verify", "",
			map[string]string{"Authorization": "Bearer " + tampered})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestStoreOutageKeepsErrorCode(t *testing.T) {
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer("api-test-secret", time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service, err := auth.NewServiceWithLogger(downRepo{}, hasher, issuer, logger)
	require.NoError(t, err)

	server, err := httpapi.NewServer("127.0.0.1:0", service, nil, logger)
	require.NoError(t, err)
	handler := server.Handler()

	t.Run("register reports store unavailable", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/register",
			`{"username":"nova","email":"n@x.com","password":"secret123"}`, nil)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "AUTH_STORE_UNAVAILABLE", errorCode(t, rec))

		// The connection error stays in the server log.
		assert.NotContains(t, rec.Body.String(), "dial tcp")
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})

	t.Run("login reports store unavailable", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/login",
			`{"username":"nova","password":"secret123"}`, nil)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "AUTH_STORE_UNAVAILABLE", errorCode(t, rec))
		assert.NotContains(t, rec.Body.String(), "dial tcp")
	})
}

func TestRequestMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handler := newTestServer(t, metrics).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/auth/register",
		`{"username":"nova","email":"n@x.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/auth/login",
		`{"username":"nova","password":"wrong"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("register", "201")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("login", "401")))
}

func TestServerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := newTestServer(t, nil)

	errCh, err := server.Start()
	require.NoError(t, err)

	addr := server.Addr()
	require.NotEmpty(t, addr)

	// Drive a real request through the listening socket.
	resp, err := http.Post("http://"+addr+"/auth/register", "application/json",
		strings.NewReader(`{"username":"nova","email":"n@x.com","password":"secret123"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Second start fails while running.
	_, err = server.Start()
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error on shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error channel to close")
	}

	// Stop is idempotent.
	require.NoError(t, server.Stop(ctx))

	http.DefaultClient.CloseIdleConnections()
}
