// monitor/rest.go
package monitor

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskfortress/config"
	"riskfortress/coordinator"
	"riskfortress/emergency"
	"riskfortress/logs"
)

// Server exposes the engine over HTTP: read-only status and health, the
// Prometheus endpoint, and token-protected emergency operations.
type Server struct {
	coord      *coordinator.Coordinator
	adminToken string
	httpServer *http.Server
}

// NewServer builds the ops HTTP server. The admin token guards mutating
// endpoints; with an empty token they are disabled entirely.
func NewServer(cfg *config.MonitorConfig, env *config.EnvConfig, coord *coordinator.Coordinator) *Server {
	s := &Server{coord: coord, adminToken: env.AdminToken}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/emergency/trigger", s.requireAdmin(s.handleTrigger))
	mux.HandleFunc("/emergency/recover", s.requireAdmin(s.handleRecover))
	mux.HandleFunc("/emergency/resolve", s.requireAdmin(s.handleResolve))

	s.httpServer = &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return s
}

// Start serves in a goroutine until Close.
func (s *Server) Start() {
	go func() {
		logs.Infof("[Monitor] HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("[Monitor] HTTP server stopped: %v", err)
		}
	}()
}

// Close shuts the HTTP listener down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.adminToken == "" {
			http.Error(w, "admin operations disabled: no admin token configured", http.StatusForbidden)
			return
		}
		got := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			logs.Warnf("[Monitor] Rejected %s with bad admin token from %s", r.URL.Path, r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.GetStatus())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.coord.GetStatus()
	code := http.StatusOK
	if st.State != emergency.StateNormal {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"state": string(st.State)})
}

type triggerRequest struct {
	Detail string `json:"detail"`
}

type triggerResponse struct {
	Started       bool   `json:"started"`
	RecoveryToken string `json:"recovery_token,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Detail == "" {
		req.Detail = "manual trigger via ops endpoint"
	}

	token := s.coord.TriggerShutdown(emergency.CauseManual, req.Detail)
	writeJSON(w, http.StatusOK, triggerResponse{Started: token != "", RecoveryToken: token})
}

type recoverRequest struct {
	Token              string `json:"token"`
	ResetHighWaterMark bool   `json:"reset_high_water_mark"`
	ResetDailyCounters bool   `json:"reset_daily_counters"`
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	rej := s.coord.InitiateRecovery(req.Token, emergency.RecoveryOptions{
		ResetHighWaterMark: req.ResetHighWaterMark,
		ResetDailyCounters: req.ResetDailyCounters,
	})
	if rej != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"reason": string(rej.Reason),
			"detail": rej.Detail,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.coord.Controller().State())})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.coord.ResolvePositions()
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Warnf("[Monitor] Writing response failed: %v", err)
	}
}
