package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsgrid/alarmd/internal/domain/alarm"
	"github.com/opsgrid/alarmd/internal/domain/suppression"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleIngestAlarm(w http.ResponseWriter, r *http.Request) {
	var e alarm.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		s.respondError(w, apperrors.BadRequest("invalid alarm payload"))
		return
	}

	id, created, err := s.alarms.Ingest(r.Context(), &e)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.pipeline.Process(id); err != nil {
		// The alarm is stored; a full queue only delays processing.
		s.logger.With("alarm_id", id).WithError(err).Warn("Failed to enqueue alarm")
	}

	status := http.StatusAccepted
	if created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, map[string]interface{}{
		"id":      id,
		"created": created,
	})
}

func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	filter := alarm.Filter{
		Status:   r.URL.Query().Get("status"),
		Severity: r.URL.Query().Get("severity"),
		Host:     r.URL.Query().Get("host"),
		Service:  r.URL.Query().Get("service"),
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	alarms, err := s.alarms.List(r.Context(), filter, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"alarms": alarms})
}

func (s *Server) handleGetAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	e, err := s.alarms.GetByID(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, e)
}

func (s *Server) handleReprocessAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.alarms.GetByID(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.pipeline.Process(id); err != nil {
		s.respondError(w, apperrors.QueueFull("pipeline"))
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"id": id})
}

func (s *Server) handleAcknowledgeAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.alarms.Acknowledge(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": alarm.StatusAcknowledged})
}

func (s *Server) handleResolveAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.alarms.Resolve(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": alarm.StatusResolved})
}

func (s *Server) handleCreateSuppressionRule(w http.ResponseWriter, r *http.Request) {
	var rule suppression.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.respondError(w, apperrors.BadRequest("invalid rule payload"))
		return
	}
	id, err := s.suppression.CreateRule(r.Context(), &rule)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) handleGetSuppressionRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rule, err := s.suppression.GetByID(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateSuppressionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, apperrors.BadRequest("invalid status payload"))
		return
	}
	if err := s.suppression.UpdateStatus(r.Context(), id, body.Status); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": body.Status})
}

func (s *Server) handleCreateMaintenanceWindow(w http.ResponseWriter, r *http.Request) {
	var window suppression.MaintenanceWindow
	if err := json.NewDecoder(r.Body).Decode(&window); err != nil {
		s.respondError(w, apperrors.BadRequest("invalid maintenance window payload"))
		return
	}
	id, err := s.maintenance.CreateWindow(r.Context(), &window)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"rule_id": window.RuleID,
	})
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"groups": s.analyzer.Snapshot(),
	})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, apperrors.BadRequest("invalid id")
	}
	return id, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.ErrorWithErr(err, "Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal("internal server error", err)
	}
	s.respondJSON(w, appErr.StatusCode, map[string]interface{}{
		"error":   appErr.Code,
		"message": appErr.Message,
	})
}
