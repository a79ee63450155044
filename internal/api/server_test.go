package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/auth"
	"github.com/heybooks/heybooks-sync/internal/docstore/memdoc"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

const testPublicURL = "http://catalog.test"

// testServer wraps the API server for handler tests.
type testServer struct {
	*Server
	api    humatest.TestAPI
	docs   *memdoc.Store
	outbox *auth.Outbox
}

type testEnvelope[T any] struct {
	Data    T      `json:"data"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Success bool   `json:"success"`
}

func decodeEnvelope[T any](t *testing.T, body []byte) testEnvelope[T] {
	t.Helper()
	var env testEnvelope[T]
	require.NoError(t, json.Unmarshal(body, &env), string(body))
	return env
}

// setupTestServer creates a test server with all dependencies.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	log := logger.Discard()

	accounts, err := auth.OpenAccountStore(filepath.Join(dir, "accounts.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = accounts.Close() })

	key, err := auth.LoadOrGenerateKey(dir)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, time.Hour)
	require.NoError(t, err)

	outbox := auth.NewOutbox(log)
	hasher := auth.NewHasher(auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	authService := auth.NewService(accounts, tokens, hasher, outbox, log)

	files, err := assets.NewFileStore(filepath.Join(dir, "assets"), testPublicURL)
	require.NoError(t, err)

	docs := memdoc.New(log)
	t.Cleanup(func() { _ = docs.Close() })

	s := NewServer(Deps{
		Docs:     docs,
		Auth:     authService,
		Accounts: accounts,
		Files:    files,
		AuthRate: 1000,
	}, log)
	t.Cleanup(s.Close)

	return &testServer{
		Server: s,
		api:    humatest.Wrap(t, s.api),
		docs:   docs,
		outbox: outbox,
	}
}

// register creates an account and returns its grant.
func (ts *testServer) register(t *testing.T, name, email string) GrantResponse {
	t.Helper()
	resp := ts.api.Post("/v1/auth/accounts", map[string]any{
		"name":     name,
		"email":    email,
		"password": "secret1",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	return decodeEnvelope[GrantResponse](t, resp.Body.Bytes()).Data
}

// registerVerified creates an account and confirms its email.
func (ts *testServer) registerVerified(t *testing.T, name, email string) GrantResponse {
	t.Helper()
	g := ts.register(t, name, email)
	mail, ok := ts.outbox.Last(email, auth.PurposeVerifyEmail)
	require.True(t, ok)
	_, err := ts.auth.Verify(context.Background(), mail.Token)
	require.NoError(t, err)
	g.Identity.EmailVerified = true
	return g
}

func bearer(token string) string {
	return "Authorization: Bearer " + token
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/health")

	assert.Equal(t, http.StatusOK, resp.Code)
	env := decodeEnvelope[HealthResponse](t, resp.Body.Bytes())
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", env.Data.Status)
	assert.Equal(t, "healthy", env.Data.Components["accounts"].Status)
	assert.Equal(t, "healthy", env.Data.Components["documents"].Status)
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	ts := setupTestServer(t)
	require.NoError(t, ts.accounts.Close())

	resp := ts.api.Get("/health")

	env := decodeEnvelope[HealthResponse](t, resp.Body.Bytes())
	assert.Equal(t, "unhealthy", env.Data.Status)
	assert.NotEmpty(t, env.Data.Components["accounts"].Message)
}

func TestCORS_Preflight(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Do(http.MethodOptions, "/v1/docs/data/books",
		"Origin: http://localhost:3000",
		"Access-Control-Request-Method: PATCH",
	)

	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestEnvelopeTransformer(t *testing.T) {
	ok, err := EnvelopeTransformer(nil, "200", map[string]string{"k": "v"})
	require.NoError(t, err)
	raw, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"k":"v"}}`, string(raw))

	failed, err := EnvelopeTransformer(nil, "409", &APIError{Code: "ALREADY_EXISTS", Message: "taken"})
	require.NoError(t, err)
	raw, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"taken","code":"ALREADY_EXISTS"}`, string(raw))
}
