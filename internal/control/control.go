package control

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"statusd/internal/config"
	appLog "statusd/internal/log"
	"statusd/internal/model"
	"statusd/internal/override"
)

// Clamp bounds for override duration in minutes.
const (
	minOverrideMinutes     = 1
	maxOverrideMinutes     = 24 * 60
	defaultOverrideMinutes = 30
)

// Server is the override control surface. It writes and clears the
// per-entity override files that the resolution core reads; it never
// touches status output.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	// now is swappable for tests.
	now func() time.Time
}

// NewServer constructs the control server for the given configuration.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
		now: time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/override", s.handleOverride)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns the mux wrapped with token authentication. /api/health
// stays open for liveness probes.
func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.mux)
}

// authMiddleware rejects requests whose X-Auth-Token header does not match
// the configured token. An empty configured token locks the API entirely.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if s.cfg.AuthToken == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// overrideRequest is the POST /api/override body. Name selects the group;
// it may be omitted when exactly one group is configured.
type overrideRequest struct {
	Name    string `json:"name,omitempty"`
	State   string `json:"state"`
	Label   string `json:"label"`
	Detail  string `json:"detail"`
	Minutes int    `json:"minutes"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	g, ok := s.findGroup(req.Name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown group"})
		return
	}

	if req.State == "" {
		req.State = "busy"
	}
	if req.Label == "" {
		req.Label = "BUSY"
	}
	minutes := req.Minutes
	if minutes == 0 {
		minutes = defaultOverrideMinutes
	}
	if minutes < minOverrideMinutes {
		minutes = minOverrideMinutes
	}
	if minutes > maxOverrideMinutes {
		minutes = maxOverrideMinutes
	}

	rec := override.Record{
		State:  req.State,
		Label:  req.Label,
		Detail: req.Detail,
		Until:  model.FormatUTC(s.now().Add(time.Duration(minutes) * time.Minute)),
	}

	if err := override.Save(g.OverridePath, rec); err != nil {
		appLog.Error("override write failed", err, "group", g.Name)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "override write failed"})
		return
	}

	appLog.Info("override set", "group", g.Name, "state", rec.State, "until", rec.Until)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name,omitempty"`
	}
	// An empty body is fine for single-group setups.
	_ = json.NewDecoder(r.Body).Decode(&req)

	g, ok := s.findGroup(req.Name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown group"})
		return
	}

	if err := override.Clear(g.OverridePath); err != nil {
		appLog.Error("override clear failed", err, "group", g.Name)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "override clear failed"})
		return
	}

	appLog.Info("override cleared", "group", g.Name)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// findGroup resolves the target group by name. An empty name selects the
// only configured group, if there is exactly one.
func (s *Server) findGroup(name string) (config.GroupConfig, bool) {
	if name == "" {
		if len(s.cfg.Groups) == 1 {
			return s.cfg.Groups[0], true
		}
		return config.GroupConfig{}, false
	}
	for _, g := range s.cfg.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return config.GroupConfig{}, false
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		appLog.Error("response encode failed", err)
	}
}
