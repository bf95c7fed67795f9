package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"masterok/internal/syncer"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports the agent state the UI renders in its sync badge.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pending, err := s.sync.PendingCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lastSync := ""
	if at := s.sync.LastSyncAt(); !at.IsZero() {
		lastSync = at.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online":        s.sync.IsOnline(),
		"is_syncing":    s.sync.IsSyncing(),
		"pending_count": pending,
		"last_sync_at":  lastSync,
		"last_error":    s.sync.SyncError(),
	})
}

// handleSync forces a drain pass and returns the per-mutation outcomes.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	results, err := s.sync.ForceSync(r.Context())
	if err != nil {
		if errors.Is(err, syncer.ErrOffline) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleConnectivity forwards a raw reachability signal. Debouncing happens
// in the monitor, so the UI may report as often as it likes.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	s.conn.Signal(*body.Online)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleMutations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	localID, err := s.offline.EnqueueMutation(r.Context(), body.Kind, body.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"local_id": localID})
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries, err := s.offline.Bookings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	bookings := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		bookings = append(bookings, map[string]any{
			"id":     entry.ID,
			"data":   json.RawMessage(entry.Data),
			"synced": entry.Synced,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	providers, err := s.catalog.Providers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	services, err := s.catalog.Services(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	letters, err := s.offline.DeadLetters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

func (s *Server) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.catalog.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": true})
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		MaxAge string `json:"max_age"`
	}
	// Body is optional; an empty max_age means the configured default.
	_ = json.NewDecoder(r.Body).Decode(&body)

	var maxAge time.Duration
	if body.MaxAge != "" {
		parsed, err := time.ParseDuration(body.MaxAge)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_age duration")
			return
		}
		maxAge = parsed
	}

	deleted, err := s.offline.CleanupCache(r.Context(), maxAge)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// handleAuthToken stores the bearer credential the UI obtained from the
// auth flow; subsequent remote requests carry it.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	s.creds.SetToken(body.Token)
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// handleLogout wipes every local collection, queue included. Pending
// mutations are dropped on purpose: they belong to the signed-out account.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.offline.ClearOfflineData(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The credential belongs to the signed-out account.
	s.creds.SetToken("")
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
