package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outwareai/boss-workflow/internal/profile"
	"github.com/outwareai/boss-workflow/plugin/session"
)

type stubHealthChecker struct {
	err error
}

func (s *stubHealthChecker) Ping(context.Context) error {
	return s.err
}

func newTestServer(t *testing.T, storeErr error) (*Server, session.Service) {
	t.Helper()

	sessions := session.NewServiceWithBackend(session.NewMockBackend(), "memory", time.Second)
	t.Cleanup(func() { _ = sessions.Close() })

	srv := NewServer(&profile.Profile{Addr: "127.0.0.1", Port: 0}, sessions, &stubHealthChecker{err: storeErr})
	return srv, sessions
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)

		rec := doRequest(srv, http.MethodGet, "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "memory", resp.SessionBackend)
	})

	t.Run("DegradedStore", func(t *testing.T) {
		srv, _ := newTestServer(t, errors.New("connection refused"))

		rec := doRequest(srv, http.MethodGet, "/healthz")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Contains(t, resp.DurableStore, "connection refused")
	})
}

func TestServer_Stats(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	ctx := context.Background()

	require.NoError(t, sessions.Set(ctx, session.KindValidation, "v1", session.Payload{"n": 1}))
	require.NoError(t, sessions.Set(ctx, session.KindBatch, "b1", session.Payload{"n": 2}))

	rec := doRequest(srv, http.MethodGet, "/api/v1/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats session.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Kinds[session.KindValidation])
	assert.Equal(t, 1, stats.Kinds[session.KindBatch])
}

func TestServer_ListSessions(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	ctx := context.Background()

	require.NoError(t, sessions.Set(ctx, session.KindSpec, "alpha", session.Payload{}))
	require.NoError(t, sessions.Set(ctx, session.KindSpec, "beta", session.Payload{}))

	t.Run("KnownKind", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, "/api/v1/admin/sessions/spec")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp sessionListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, session.KindSpec, resp.Kind)
		assert.Equal(t, 2, resp.Count)
		assert.ElementsMatch(t, []string{"alpha", "beta"}, resp.Identifiers)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		rec := doRequest(srv, http.MethodGet, "/api/v1/admin/sessions/bogus")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_ClearSessions(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	ctx := context.Background()

	require.NoError(t, sessions.Set(ctx, session.KindSpec, "alpha", session.Payload{}))
	require.NoError(t, sessions.Set(ctx, session.KindBatch, "b1", session.Payload{}))

	t.Run("ClearKind", func(t *testing.T) {
		rec := doRequest(srv, http.MethodDelete, "/api/v1/admin/sessions/spec")
		require.Equal(t, http.StatusNoContent, rec.Code)

		keys, err := sessions.ListKeys(ctx, session.KindSpec)
		require.NoError(t, err)
		assert.Empty(t, keys)

		// Other kinds are untouched.
		keys, err = sessions.ListKeys(ctx, session.KindBatch)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})

	t.Run("ClearAll", func(t *testing.T) {
		rec := doRequest(srv, http.MethodDelete, "/api/v1/admin/sessions")
		require.Equal(t, http.StatusNoContent, rec.Code)

		stats, err := sessions.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Total)
	})
}
