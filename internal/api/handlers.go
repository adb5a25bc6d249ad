package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/auth"
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/recon"
	"github.com/momo-shadow/shadow-engine/internal/storage"
	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

const sourceStore = "store"

// ========== Auth handlers ==========

// HandleLogin exchanges the operator token for JWTs
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.config.Auth.Enabled {
		s.respondError(w, http.StatusNotFound, "authentication disabled")
		return
	}

	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	pair, err := s.auth.Login(req.Token, s.config.Device.Name)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Warn().Str("remote", r.RemoteAddr).Msg("Login rejected")
			s.respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondTokens(w, pair)
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.config.Auth.Enabled {
		s.respondError(w, http.StatusNotFound, "authentication disabled")
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	pair, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondTokens(w, pair)
}

func (s *RESTServer) respondTokens(w http.ResponseWriter, pair *auth.TokenPair) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    int(s.config.Auth.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Status handlers ==========

// StatusResponse summarizes the engine
type StatusResponse struct {
	Device         string                 `json:"device"`
	State          models.State           `json:"state"`
	Mode           models.Mode            `json:"mode"`
	Drop           bool                   `json:"drop"`
	Uptime         float64                `json:"uptime_seconds"`
	APCount        int                    `json:"ap_count"`
	ClientCount    int                    `json:"client_count"`
	ProbeCount     int                    `json:"probe_count"`
	HandshakeCount int                    `json:"handshake_count"`
	SessionCount   int                    `json:"session_count"`
	Target         *models.Target         `json:"target,omitempty"`
	TargetSSID     string                 `json:"target_ssid,omitempty"`
	Channel        int                    `json:"channel"`
	Pinned         bool                   `json:"pinned"`
	HopCount       int                    `json:"hop_count"`
	Capture        *models.CaptureAttempt `json:"capture,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
	Stats          models.Stats           `json:"stats"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func newStatus(device string, snap *models.Snapshot, now time.Time) StatusResponse {
	st := StatusResponse{
		Device:         device,
		State:          snap.State,
		Mode:           snap.Mode,
		Drop:           snap.Drop,
		Uptime:         snap.Uptime(now).Seconds(),
		APCount:        len(snap.AccessPoints),
		ClientCount:    len(snap.Clients),
		ProbeCount:     snap.ProbeCount,
		HandshakeCount: len(snap.Captures),
		SessionCount:   len(snap.Sessions),
		Target:         snap.Target,
		Channel:        snap.Channel,
		Pinned:         snap.Pinned,
		HopCount:       snap.HopCount,
		Capture:        snap.Capture,
		LastError:      snap.LastError,
		Stats:          snap.Stats,
		UpdatedAt:      snap.UpdatedAt,
	}
	if snap.Target != nil {
		st.TargetSSID = snap.Target.SSID
	}
	return st
}

// HandleStatus returns the engine status
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, newStatus(s.config.Device.Name, s.engine.Snapshot(), time.Now()))
}

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	status := "healthy"
	code := http.StatusOK
	if snap.State == models.StateError {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	s.respondJSON(w, code, map[string]interface{}{
		"status": status,
		"state":  snap.State,
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "shadow capture engine",
		"device":  s.config.Device.Name,
		"version": s.config.Device.Version,
		"health":  "/api/v1/health",
	})
}

// ========== Listing handlers ==========

// HandleListAccessPoints lists access points.
// Live listings accept sort, ssid, security, min_signal and limit; source=store pages the database.
func (s *RESTServer) HandleListAccessPoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("source") == sourceStore {
		if !s.requireStore(w) {
			return
		}
		limit, offset := pagination(r, 50)
		aps, total, err := s.store.ListAccessPoints(r.Context(), limit, offset)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"access_points": aps,
			"total":         total,
		})
		return
	}

	sortKey, ok := recon.ParseSortKey(q.Get("sort"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, "invalid sort key")
		return
	}
	query := recon.APQuery{
		SortBy:   sortKey,
		SSID:     q.Get("ssid"),
		Security: dot11.Security(q.Get("security")),
	}
	if v := q.Get("min_signal"); v != "" {
		minSignal, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid min_signal")
			return
		}
		query.MinSignal = &minSignal
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = limit
	}

	snap := s.engine.Snapshot()
	// the snapshot is shared, filter a copy
	aps := query.Apply(append([]models.AccessPoint(nil), snap.AccessPoints...))

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_points": aps,
		"total":         len(aps),
	})
}

// HandleGetAccessPoint gets one access point, live first then stored
func (s *RESTServer) HandleGetAccessPoint(w http.ResponseWriter, r *http.Request) {
	bssid, err := dot11.ParseMAC(chi.URLParam(r, "bssid"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid bssid")
		return
	}

	if ap, ok := s.engine.Snapshot().AccessPoint(bssid); ok {
		s.respondJSON(w, http.StatusOK, ap)
		return
	}

	if s.store != nil {
		ap, err := s.store.GetAccessPoint(r.Context(), bssid)
		if err == nil {
			s.respondJSON(w, http.StatusOK, ap)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.respondError(w, http.StatusNotFound, "access point not found")
}

// HandleListClients lists clients, optionally only those of one bssid
func (s *RESTServer) HandleListClients(w http.ResponseWriter, r *http.Request) {
	bssid, ok := s.macParam(w, r, "bssid")
	if !ok {
		return
	}

	if r.URL.Query().Get("source") == sourceStore {
		if !s.requireStore(w) {
			return
		}
		limit, offset := pagination(r, 50)
		clients, total, err := s.store.ListClients(r.Context(), bssid, limit, offset)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"clients": clients,
			"total":   total,
		})
		return
	}

	clients := make([]models.Client, 0)
	for _, c := range s.engine.Snapshot().Clients {
		if bssid != nil && (c.AssociatedBSSID == nil || *c.AssociatedBSSID != *bssid) {
			continue
		}
		clients = append(clients, c)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
		"total":   len(clients),
	})
}

// HandleListProbes lists the newest probe sightings, newest first
func (s *RESTServer) HandleListProbes(w http.ResponseWriter, r *http.Request) {
	client, ok := s.macParam(w, r, "client")
	if !ok {
		return
	}
	limit, _ := pagination(r, 100)

	if r.URL.Query().Get("source") == sourceStore {
		if !s.requireStore(w) {
			return
		}
		probes, err := s.store.ListProbes(r.Context(), client, limit)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"probes": probes,
			"total":  len(probes),
		})
		return
	}

	snap := s.engine.Snapshot()
	probes := make([]models.ProbeSighting, 0, limit)
	for i := len(snap.Probes) - 1; i >= 0 && len(probes) < limit; i-- {
		p := snap.Probes[i]
		if client != nil && p.ClientMAC != *client {
			continue
		}
		probes = append(probes, p)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"probes": probes,
		"total":  snap.ProbeCount,
	})
}

// HandleListHandshakes lists completed captures and, live, the sessions in progress
func (s *RESTServer) HandleListHandshakes(w http.ResponseWriter, r *http.Request) {
	bssid, ok := s.macParam(w, r, "bssid")
	if !ok {
		return
	}

	if r.URL.Query().Get("source") == sourceStore {
		if !s.requireStore(w) {
			return
		}
		limit, offset := pagination(r, 50)
		handshakes, total, err := s.store.ListHandshakes(r.Context(), bssid, limit, offset)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"handshakes": handshakes,
			"total":      total,
		})
		return
	}

	snap := s.engine.Snapshot()
	filter := func(in []models.HandshakeSession) []models.HandshakeSession {
		out := make([]models.HandshakeSession, 0, len(in))
		for _, h := range in {
			if bssid == nil || h.BSSID == *bssid {
				out = append(out, h)
			}
		}
		return out
	}
	handshakes := filter(snap.Captures)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"handshakes": handshakes,
		"sessions":   filter(snap.Sessions),
		"total":      len(handshakes),
	})
}

// HandleBestTarget recommends the next network to capture
func (s *RESTServer) HandleBestTarget(w http.ResponseWriter, r *http.Request) {
	ap, ok := recon.BestTarget(s.engine.Snapshot(), &s.config.Targets)
	if !ok {
		s.respondError(w, http.StatusNotFound, "no eligible target")
		return
	}
	s.respondJSON(w, http.StatusOK, ap)
}

// HandleListEvents lists persisted events
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	limit, offset := pagination(r, 20)
	filters := storage.EventLogFilters{}

	// Parse filters
	bssid, ok := s.macParam(w, r, "bssid")
	if !ok {
		return
	}
	filters.BSSID = bssid

	client, ok := s.macParam(w, r, "client")
	if !ok {
		return
	}
	filters.ClientMAC = client

	if eventType := r.URL.Query().Get("type"); eventType != "" {
		modelEventType := models.EventType(eventType)
		filters.Type = &modelEventType
	}

	if level := r.URL.Query().Get("level"); level != "" {
		modelEventLevel := models.EventLevel(level)
		filters.Level = &modelEventLevel
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid since, want RFC3339")
			return
		}
		filters.StartTime = &t
	}

	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// ========== Helper functions ==========

func (s *RESTServer) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "persistence not configured")
		return false
	}
	return true
}

// macParam parses an optional MAC query parameter; it responds 400 and returns false when malformed
func (s *RESTServer) macParam(w http.ResponseWriter, r *http.Request, name string) (*dot11.MAC, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	m, err := dot11.ParseMAC(v)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid "+name)
		return nil, false
	}
	return &m, true
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// decode decodes and validates a JSON body; it responds 400 and returns false on failure
func (s *RESTServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validator.Validate(v); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
