package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"warden/core"
	"warden/storage"
)

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// writeError logs the full error server-side and sends only the message to
// the client.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		s.logger.Errorw(message, "error", err, "status_code", statusCode)
	} else {
		s.logger.Errorw(message, "status_code", statusCode)
	}
	http.Error(w, message, statusCode)
}

// handleThreat ingests one threat event and returns the engine's response.
// The body is checked against the embedded schema and the struct tags before
// the engine sees it, so a 400 here means the document never entered the
// pipeline.
func (s *Server) handleThreat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if err := validateThreatDocument(body); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	var event core.ThreatEvent
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid threat event body", err)
		return
	}
	if err := validate.Struct(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid threat event: %v", err), nil)
		return
	}

	resp := s.engine.HandleThreat(r.Context(), &event)

	status := http.StatusOK
	if !resp.Success {
		if resp.Action == core.ActionValidationFailed {
			status = http.StatusBadRequest
		} else {
			status = http.StatusInternalServerError
		}
	}
	s.respondJSON(w, resp, status)
}

type containmentStatusResponse struct {
	Source      string `json:"source"`
	Blocked     bool   `json:"blocked"`
	Quarantined bool   `json:"quarantined"`
	Score       int    `json:"score"`
}

func (s *Server) handleContainmentStatus(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	s.respondJSON(w, containmentStatusResponse{
		Source:      source,
		Blocked:     s.engine.IsBlocked(source),
		Quarantined: s.engine.IsQuarantined(source),
		Score:       s.engine.GetThreatScore(source),
	}, http.StatusOK)
}

func (s *Server) handleManualBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source" validate:"required,min=1,max=255"`
		Reason string `json:"reason" validate:"max=500"`
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid block request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid block request: %v", err), nil)
		return
	}

	entry := s.engine.ManualBlock(req.Source, req.Reason, actorFromContext(r.Context()))
	s.respondJSON(w, entry, http.StatusOK)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	removed := s.engine.Unblock(source, actorFromContext(r.Context()))
	s.respondJSON(w, map[string]bool{"removed": removed}, http.StatusOK)
}

func (s *Server) handleUnquarantine(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	removed := s.engine.Unquarantine(source, actorFromContext(r.Context()))
	s.respondJSON(w, map[string]bool{"removed": removed}, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.engine.GetStats(), http.StatusOK)
}

type listIncidentsResponse struct {
	Incidents []*core.Incident `json:"incidents"`
	Total     int64            `json:"total"`
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := storage.IncidentFilters{
		Source: q.Get("source"),
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Limit:  intQuery(q, "limit", 100),
		Offset: intQuery(q, "offset", 0),
	}

	incidents, total, err := s.recorder.ListIncidents(r.Context(), filters)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list incidents", err)
		return
	}
	if incidents == nil {
		incidents = []*core.Incident{}
	}
	s.respondJSON(w, listIncidentsResponse{Incidents: incidents, Total: total}, http.StatusOK)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	incident, err := s.recorder.GetIncident(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrIncidentNotFound) {
			s.writeError(w, http.StatusNotFound, "incident not found", nil)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load incident", err)
		return
	}
	s.respondJSON(w, incident, http.StatusOK)
}

type healthResponse struct {
	Status      string      `json:"status"`
	Time        string      `json:"time"`
	Store       storeHealth `json:"store"`
	Subscribers int         `json:"subscribers"`
}

type storeHealth struct {
	PrimaryConfigured bool   `json:"primary_configured"`
	Breaker           string `json:"breaker"`
}

// handleHealth reports liveness. The server answers 200 whenever the engine
// is serving; a tripped store breaker only degrades the report.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	primaryConfigured, breakerState := s.recorder.PrimaryState()
	status := "healthy"
	if primaryConfigured && breakerState != core.BreakerClosed {
		status = "degraded"
	}
	s.respondJSON(w, healthResponse{
		Status: status,
		Time:   time.Now().UTC().Format(time.RFC3339),
		Store: storeHealth{
			PrimaryConfigured: primaryConfigured,
			Breaker:           string(breakerState),
		},
		Subscribers: s.hub.SubscriberCount(),
	}, http.StatusOK)
}

func intQuery(q url.Values, key string, fallback int) int {
	raw := q.Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
