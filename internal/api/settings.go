package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nerrad567/grott-scheduler/internal/audit"
	"github.com/nerrad567/grott-scheduler/internal/settings"
)

// handleGetConfig returns the effective runtime settings.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	values, err := s.settings.Effective(r.Context())
	if err != nil {
		s.logger.Error("reading settings", "error", err)
		writeInternalError(w, "failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// handleUpdateConfig stores settings. Values may be sent as strings or numbers.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if len(body) == 0 {
		writeBadRequest(w, "no settings given")
		return
	}

	values := make(map[string]string, len(body))
	for k, v := range body {
		str, ok := settingString(v)
		if !ok {
			writeValidationError(w, fmt.Sprintf("%s must be a string or number", k))
			return
		}
		values[k] = str
	}

	if err := s.settings.Update(r.Context(), values); err != nil {
		if errors.Is(err, settings.ErrUnknownKey) || errors.Is(err, settings.ErrInvalidValue) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("storing settings", "error", err)
		writeInternalError(w, "failed to store settings")
		return
	}

	changed := make(map[string]any, len(values))
	for k, v := range values {
		changed[k] = v
	}
	s.audit.Record(r.Context(), audit.ActionUpdate, audit.EntityConfig, "", audit.SourceAPI, changed)

	effective, err := s.settings.Effective(r.Context())
	if err != nil {
		s.logger.Error("reading settings", "error", err)
		writeInternalError(w, "failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, effective)
}

func settingString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case nil:
		return "", true
	default:
		return "", false
	}
}
