// Package api exposes the operator HTTP surface: health, live station
// status, session stop, billing lookups and fleet state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/logger"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/session"
	"github.com/omerlv/chargelink/core/store"
)

// Version is stamped at build time.
var Version = "dev"

// SessionStopper is the slice of the engine the API needs.
type SessionStopper interface {
	StopSession(ctx context.Context, sessionID string) error
}

// Server handles the operator HTTP API.
type Server struct {
	cfg     Config
	store   store.Store
	gateway cloudwise.CommandGateway
	stopper SessionStopper
	log     logger.Logger
}

// NewServer builds the API server.
func NewServer(cfg Config, st store.Store, gw cloudwise.CommandGateway, stopper SessionStopper, log logger.Logger) (*Server, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, store: st, gateway: gw, stopper: stopper, log: log}, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /v", s.handleVersion)
	mux.HandleFunc("GET /api/locations/status/{id}", s.requireAuth(s.handleLocationStatus))
	mux.HandleFunc("POST /api/sessions/stop", s.requireAuth(s.handleStopSession))
	mux.HandleFunc("POST /api/cdrs", s.requireAuth(s.handleCDRs))
	mux.HandleFunc("GET /api/vehicles/status", s.requireAuth(s.handleVehicleStatus))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleSession))
	return mux
}

// Run serves the API until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("api listening on %s", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// handleLocationStatus returns the live evse states for one location. The
// vendor is asked first; on failure the catalog snapshot answers.
func (s *Server) handleLocationStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	partyID := r.URL.Query().Get("party_id")

	snapshot, snapErr := store.GetAs[model.Location](r.Context(), s.store, store.Locations, id)
	if partyID == "" && snapErr == nil {
		partyID = snapshot.PartyID
	}

	loc, err := s.gateway.LocationDetails(r.Context(), id, partyID)
	if err != nil {
		if snapErr != nil {
			if errors.Is(err, cloudwise.ErrNotFound) || errors.Is(snapErr, store.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "unknown location")
				return
			}
			s.log.Errorf("location %s: %v", id, err)
			s.writeError(w, http.StatusBadGateway, "location status unavailable")
			return
		}
		s.log.Warnf("location %s: live details failed, serving snapshot: %v", id, err)
		loc = snapshot
	}
	s.writeJSON(w, http.StatusOK, loc)
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := s.stopper.StopSession(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		s.log.Errorf("stop session %s: %v", req.SessionID, err)
		s.writeError(w, http.StatusBadGateway, "stop command failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": req.SessionID, "status": "stopped"})
}

type cdrsRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// handleCDRs lists the account's billing records from the vendor.
func (s *Server) handleCDRs(w http.ResponseWriter, r *http.Request) {
	var req cdrsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	cdrs, err := s.gateway.UserCDRs(r.Context(), cloudwise.CDRQuery{Limit: req.Limit, Offset: req.Offset})
	if err != nil {
		s.log.Errorf("list cdrs: %v", err)
		s.writeError(w, http.StatusBadGateway, "cdr listing unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": cdrs, "count": len(cdrs)})
}

func (s *Server) handleVehicleStatus(w http.ResponseWriter, r *http.Request) {
	states, err := store.ListAs[model.VehicleChargingState](r.Context(), s.store, store.ChargingStates)
	if err != nil {
		s.log.Errorf("list vehicle states: %v", err)
		s.writeError(w, http.StatusInternalServerError, "vehicle status unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": states, "count": len(states)})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := store.GetAs[model.ChargingSession](r.Context(), s.store, store.Sessions, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		s.log.Errorf("load session %s: %v", id, err)
		s.writeError(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
