package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"masterok/internal/config"
	"masterok/internal/database"
	"masterok/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SyncController is the sync surface the control API exposes.
type SyncController interface {
	ForceSync(ctx context.Context) ([]models.SyncResult, error)
	PendingCount(ctx context.Context) (int, error)
	IsSyncing() bool
	IsOnline() bool
	LastSyncAt() time.Time
	SyncError() string
}

// ConnectivitySink receives raw reachability signals from the UI layer.
type ConnectivitySink interface {
	Signal(online bool)
}

// OfflineStore is the slice of the offline service the handlers need.
type OfflineStore interface {
	EnqueueMutation(ctx context.Context, kind string, payload []byte) (string, error)
	Bookings(ctx context.Context) ([]models.CacheEntry, error)
	DeadLetters(ctx context.Context) ([]database.DeadLetter, error)
	ClearOfflineData(ctx context.Context) error
	CleanupCache(ctx context.Context, maxAge time.Duration) (int64, error)
}

// CredentialStore receives the bearer credential once the UI completes the
// auth flow; the agent never runs the OTP exchange itself.
type CredentialStore interface {
	SetToken(token string)
}

// Catalog serves cached reference data and on-demand refreshes.
type Catalog interface {
	Providers(ctx context.Context) ([]models.Provider, error)
	Services(ctx context.Context) ([]models.Service, error)
	Refresh(ctx context.Context) error
}

// Server is the localhost control API the UI talks to. All state lives in
// the agent; the UI is a thin client over these endpoints.
type Server struct {
	cfg     config.APIConfig
	sync    SyncController
	conn    ConnectivitySink
	offline OfflineStore
	catalog Catalog
	creds   CredentialStore
	logger  *zerolog.Logger
	server  *http.Server
	auth    *Auth
}

func NewServer(
	cfg config.Config,
	sync SyncController,
	conn ConnectivitySink,
	offline OfflineStore,
	catalog Catalog,
	creds CredentialStore,
	logger *zerolog.Logger,
) *Server {
	srv := &Server{
		cfg:     cfg.API,
		sync:    sync,
		conn:    conn,
		offline: offline,
		catalog: catalog,
		creds:   creds,
		logger:  logger,
	}
	srv.auth = NewAuth(cfg.API)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/connectivity", srv.handleConnectivity)
	mux.HandleFunc("/api/v1/mutations", srv.handleMutations)
	mux.HandleFunc("/api/v1/bookings", srv.handleBookings)
	mux.HandleFunc("/api/v1/providers", srv.handleProviders)
	mux.HandleFunc("/api/v1/services", srv.handleServices)
	mux.HandleFunc("/api/v1/deadletters", srv.handleDeadLetters)
	mux.HandleFunc("/api/v1/catalog/refresh", srv.handleCatalogRefresh)
	mux.HandleFunc("/api/v1/cache/cleanup", srv.handleCacheCleanup)
	mux.HandleFunc("/api/v1/logout", srv.handleLogout)
	mux.HandleFunc("/api/v1/auth/token", srv.handleAuthToken)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	root := http.NewServeMux()
	root.Handle("/api/", handler)
	root.HandleFunc("/health", srv.handleHealth)
	if cfg.Monitoring.PrometheusEnabled {
		root.Handle("/metrics", promhttp.Handler())
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.API.Port),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("control server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("Control API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
