package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
)

// CommandRequest is the body of POST /actuators/{name}/command.
type CommandRequest struct {
	Command string `json:"command"`
}

// handleHealth reports ok while at least one connection is up and the
// state store answers, degraded otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conns := s.runtime.Connections()
	connected := 0
	for _, c := range conns {
		if c.State == connection.Connected {
			connected++
		}
	}

	body := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"connections": len(conns),
		"connected":   connected,
	}
	if len(conns) > 0 && connected == 0 {
		body["status"] = "degraded"
	}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("state store health check failed", "error", err)
			body["status"] = "degraded"
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns := s.runtime.Connections()
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns, "count": len(conns)})
}

func (s *Server) handleListSensors(w http.ResponseWriter, _ *http.Request) {
	sensors := s.runtime.Sensors()
	writeJSON(w, http.StatusOK, map[string]any{"sensors": sensors, "count": len(sensors)})
}

func (s *Server) handleListActuators(w http.ResponseWriter, _ *http.Request) {
	acts := s.runtime.Actuators()
	writeJSON(w, http.StatusOK, map[string]any{"actuators": acts, "count": len(acts)})
}

// handleSensorHistory returns stored readings, newest first. ?limit= caps
// the number of entries.
func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "reading history requires the database")
		return
	}
	name := chi.URLParam(r, "name")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("reading history query failed", "sensor", name, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensor": name, "history": entries, "count": len(entries)})
}

// handleActuatorCommand injects a command as if it arrived on a command
// source.
func (s *Server) handleActuatorCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if err := s.runtime.Command(name, req.Command); err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("actuator command failed", "actuator", name, "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"actuator": name,
		"command":  req.Command,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	n := s.runtime.Refresh()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "refreshed": n})
}

// handleReload rebuilds the reporter from its configuration file. The
// request blocks until the new devices are running.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.Reload(r.Context()); err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error("reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}
