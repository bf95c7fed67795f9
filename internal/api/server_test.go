package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"masterok/internal/config"
	"masterok/internal/database"
	"masterok/internal/models"
	"masterok/internal/syncer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSync struct {
	online   bool
	syncing  bool
	pending  int
	lastErr  string
	lastSync time.Time
	results  []models.SyncResult
	err      error
	forced   int
}

func (f *fakeSync) ForceSync(ctx context.Context) ([]models.SyncResult, error) {
	f.forced++
	return f.results, f.err
}
func (f *fakeSync) PendingCount(ctx context.Context) (int, error) { return f.pending, nil }
func (f *fakeSync) IsSyncing() bool                               { return f.syncing }
func (f *fakeSync) IsOnline() bool                                { return f.online }
func (f *fakeSync) LastSyncAt() time.Time                         { return f.lastSync }
func (f *fakeSync) SyncError() string                             { return f.lastErr }

type fakeConn struct {
	signals []bool
}

func (f *fakeConn) Signal(online bool) { f.signals = append(f.signals, online) }

type fakeOffline struct {
	enqueued  []string
	localID   string
	enqErr    error
	bookings  []models.CacheEntry
	letters   []database.DeadLetter
	cleared   bool
	swept     int64
	lastSweep time.Duration
}

func (f *fakeOffline) EnqueueMutation(ctx context.Context, kind string, payload []byte) (string, error) {
	if f.enqErr != nil {
		return "", f.enqErr
	}
	f.enqueued = append(f.enqueued, kind)
	return f.localID, nil
}
func (f *fakeOffline) Bookings(ctx context.Context) ([]models.CacheEntry, error) {
	return f.bookings, nil
}
func (f *fakeOffline) DeadLetters(ctx context.Context) ([]database.DeadLetter, error) {
	return f.letters, nil
}
func (f *fakeOffline) ClearOfflineData(ctx context.Context) error { f.cleared = true; return nil }
func (f *fakeOffline) CleanupCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	f.lastSweep = maxAge
	return f.swept, nil
}

type fakeCatalog struct {
	providers []models.Provider
	services  []models.Service
	refreshed int
	err       error
}

func (f *fakeCatalog) Providers(ctx context.Context) ([]models.Provider, error) {
	return f.providers, f.err
}
func (f *fakeCatalog) Services(ctx context.Context) ([]models.Service, error) {
	return f.services, f.err
}
func (f *fakeCatalog) Refresh(ctx context.Context) error { f.refreshed++; return f.err }

type fakeCreds struct {
	tokens []string
}

func (f *fakeCreds) SetToken(token string) { f.tokens = append(f.tokens, token) }

func newTestServer(t *testing.T, sync *fakeSync, conn *fakeConn, offline *fakeOffline, catalog *fakeCatalog) *Server {
	t.Helper()
	logger := zerolog.Nop()
	cfg := config.Config{
		API:        config.APIConfig{Port: 8090},
		Monitoring: config.MonitoringConfig{PrometheusEnabled: false},
	}
	return NewServer(cfg, sync, conn, offline, catalog, &fakeCreds{}, &logger)
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	lastSync := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	sync := &fakeSync{online: true, pending: 3, lastErr: "boom", lastSync: lastSync}
	srv := newTestServer(t, sync, &fakeConn{}, &fakeOffline{}, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["online"])
	assert.Equal(t, float64(3), resp["pending_count"])
	assert.Equal(t, "boom", resp["last_error"])
	assert.Equal(t, "2026-08-20T10:30:00Z", resp["last_sync_at"])
}

func TestSyncEndpoint(t *testing.T) {
	sync := &fakeSync{results: []models.SyncResult{
		{LocalID: "local-1", ServerID: "bk-1", Status: models.SyncStatusSynced},
	}}
	srv := newTestServer(t, sync, &fakeConn{}, &fakeOffline{}, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sync.forced)
	assert.Contains(t, rec.Body.String(), "bk-1")
}

func TestSyncEndpoint_OfflineConflict(t *testing.T) {
	sync := &fakeSync{err: syncer.ErrOffline}
	srv := newTestServer(t, sync, &fakeConn{}, &fakeOffline{}, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConnectivityEndpoint(t *testing.T) {
	conn := &fakeConn{}
	srv := newTestServer(t, &fakeSync{}, conn, &fakeOffline{}, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, conn.signals, 1)
	assert.True(t, conn.signals[0])

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, conn.signals, 1)
}

func TestMutationsEndpoint(t *testing.T) {
	offline := &fakeOffline{localID: "local-42"}
	srv := newTestServer(t, &fakeSync{}, &fakeConn{}, offline, &fakeCatalog{})

	body := `{"kind":"create_booking","payload":{"service_id":"svc-1"}}`
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mutations", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "local-42")
	assert.Equal(t, []string{"create_booking"}, offline.enqueued)
}

func TestMutationsEndpoint_MissingKind(t *testing.T) {
	srv := newTestServer(t, &fakeSync{}, &fakeConn{}, &fakeOffline{}, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mutations", `{"payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingsEndpoint(t *testing.T) {
	offline := &fakeOffline{bookings: []models.CacheEntry{
		{ID: "local-1", Data: []byte(`{"id":"local-1"}`), Synced: false},
	}}
	srv := newTestServer(t, &fakeSync{}, &fakeConn{}, offline, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bookings []struct {
			ID     string `json:"id"`
			Synced bool   `json:"synced"`
		} `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Bookings, 1)
	assert.False(t, resp.Bookings[0].Synced)
}

func TestCatalogEndpoints(t *testing.T) {
	catalog := &fakeCatalog{
		providers: []models.Provider{{ID: "prov-1", Name: "Ivan"}},
		services:  []models.Service{{ID: "svc-1", Name: "Plumbing"}},
	}
	srv := newTestServer(t, &fakeSync{}, &fakeConn{}, &fakeOffline{}, catalog)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ivan")

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/services", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Plumbing")

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/catalog/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, catalog.refreshed)
}

func TestLogoutEndpoint(t *testing.T) {
	logger := zerolog.Nop()
	offline := &fakeOffline{}
	creds := &fakeCreds{}
	cfg := config.Config{API: config.APIConfig{Port: 8090}}
	srv := NewServer(cfg, &fakeSync{}, &fakeConn{}, offline, &fakeCatalog{}, creds, &logger)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, offline.cleared)
	assert.Equal(t, []string{""}, creds.tokens, "logout must drop the bearer credential")
}

func TestAuthTokenEndpoint(t *testing.T) {
	logger := zerolog.Nop()
	creds := &fakeCreds{}
	cfg := config.Config{API: config.APIConfig{Port: 8090}}
	srv := NewServer(cfg, &fakeSync{}, &fakeConn{}, &fakeOffline{}, &fakeCatalog{}, creds, &logger)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/auth/token", `{"token":"bearer-abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"bearer-abc"}, creds.tokens)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/auth/token", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, creds.tokens, 1)
}

func TestCacheCleanupEndpoint(t *testing.T) {
	offline := &fakeOffline{swept: 7}
	srv := newTestServer(t, &fakeSync{}, &fakeConn{}, offline, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/cache/cleanup", `{"max_age":"1h"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Hour, offline.lastSweep)
	assert.Contains(t, rec.Body.String(), "7")

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/cache/cleanup", `{"max_age":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeSync{}, &fakeConn{}, &fakeOffline{}, &fakeCatalog{})

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/bookings", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthBypassesAuth(t *testing.T) {
	logger := zerolog.Nop()
	cfg := config.Config{API: config.APIConfig{
		Port: 8090,
		Auth: config.APIAuthConfig{Enabled: true, APIKeys: []string{"secret"}},
	}}
	srv := NewServer(cfg, &fakeSync{}, &fakeConn{}, &fakeOffline{}, &fakeCatalog{}, &fakeCreds{}, &logger)

	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
