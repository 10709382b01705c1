package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/grott-scheduler/internal/audit"
	"github.com/nerrad567/grott-scheduler/internal/automation"
)

// handleListSchedules returns every schedule with its execution counts.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.schedules.ListSchedules(r.Context())
	if err != nil {
		s.logger.Error("listing schedules", "error", err)
		writeInternalError(w, "failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []automation.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// handleGetSchedule returns one schedule.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIDParam(w, r)
	if !ok {
		return
	}
	sched, err := s.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		s.writeScheduleError(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleCreateSchedule validates and stores a schedule, then arms its trigger.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched automation.Schedule
	if err := decodeJSON(r, &sched); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	created, err := s.schedules.CreateSchedule(r.Context(), &sched)
	if err != nil {
		s.writeScheduleError(w, err, "create")
		return
	}
	s.logger.Info("schedule created", "id", created.ID, "name", created.Name)
	s.audit.Record(r.Context(), audit.ActionCreate, audit.EntitySchedule, strconv.FormatInt(created.ID, 10), audit.SourceAPI,
		map[string]any{"name": created.Name})
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateSchedule merges the body onto the stored schedule, so a
// partial body such as {"enabled": false} toggles one field.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIDParam(w, r)
	if !ok {
		return
	}

	existing, err := s.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		s.writeScheduleError(w, err, "update")
		return
	}

	merged := existing.DeepCopy()
	if err := decodeJSON(r, merged); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	merged.ID = id

	updated, err := s.schedules.UpdateSchedule(r.Context(), merged)
	if err != nil {
		s.writeScheduleError(w, err, "update")
		return
	}
	s.logger.Info("schedule updated", "id", id, "enabled", updated.Enabled)
	s.audit.Record(r.Context(), audit.ActionUpdate, audit.EntitySchedule, strconv.FormatInt(id, 10), audit.SourceAPI,
		map[string]any{"enabled": updated.Enabled})
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteSchedule removes a schedule, its chain children and their triggers.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIDParam(w, r)
	if !ok {
		return
	}
	if err := s.schedules.DeleteSchedule(r.Context(), id); err != nil {
		s.writeScheduleError(w, err, "delete")
		return
	}
	s.logger.Info("schedule deleted", "id", id)
	s.audit.Record(r.Context(), audit.ActionDelete, audit.EntitySchedule, strconv.FormatInt(id, 10), audit.SourceAPI, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteSchedule runs a schedule chain now and returns its log entries.
// The run is detached from request cancellation so a disconnecting client
// cannot cut a dispatch short.
func (s *Server) handleExecuteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIDParam(w, r)
	if !ok {
		return
	}

	summary, err := s.executor.ExecuteNow(context.WithoutCancel(r.Context()), id)
	if err != nil {
		s.writeScheduleError(w, err, "execute")
		return
	}

	success := len(summary.Entries) > 0 && summary.Entries[0].Success
	s.audit.Record(r.Context(), audit.ActionExecute, audit.EntitySchedule, strconv.FormatInt(id, 10), audit.SourceAPI,
		map[string]any{"success": success})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": success,
		"run":     summary,
	})
}

// handleListLogs returns execution log entries, newest first.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	filter := automation.LogFilter{Limit: defaultLogLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLogLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxLogLimit))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("schedule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "schedule_id must be an integer")
			return
		}
		filter.ScheduleID = &id
	}

	logs, err := s.logs.ListLogs(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing execution logs", "error", err)
		writeInternalError(w, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []automation.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// handleStats returns the dashboard summary.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.logs.Stats(r.Context())
	if err != nil {
		s.logger.Error("computing stats", "error", err)
		writeInternalError(w, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

func scheduleIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeBadRequest(w, "schedule id must be a positive integer")
		return 0, false
	}
	return id, true
}

// writeScheduleError maps automation errors onto HTTP responses.
func (s *Server) writeScheduleError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, automation.ErrScheduleNotFound):
		writeNotFound(w, "schedule not found")
	case errors.Is(err, automation.ErrScheduleDisabled):
		writeConflict(w, "schedule is disabled")
	case errors.Is(err, automation.ErrInvalidSchedule), errors.Is(err, automation.ErrInvalidChain):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error("schedule operation failed", "op", op, "error", err)
		writeInternalError(w, "failed to "+op+" schedule")
	}
}
