package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/grott-scheduler/internal/audit"
	"github.com/nerrad567/grott-scheduler/internal/command"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.templates.ListTemplates(r.Context())
	if err != nil {
		s.logger.Error("listing templates", "error", err)
		writeInternalError(w, "failed to list templates")
		return
	}
	if templates == nil {
		templates = []command.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates, "count": len(templates)})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.templates.GetTemplate(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeTemplateError(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleCreateTemplate stores a named command payload. The payload is
// parsed before it is stored, so a broken template fails here rather
// than at run time.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t command.Template
	if err := decodeJSON(r, &t); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(t.Name) == "" {
		writeValidationError(w, "name is required")
		return
	}
	if len(t.CommandData) == 0 {
		writeValidationError(w, "command_data is required")
		return
	}

	if err := s.templates.CreateTemplate(r.Context(), &t); err != nil {
		s.writeTemplateError(w, err, "create")
		return
	}
	s.logger.Info("template created", "name", t.Name)
	s.audit.Record(r.Context(), audit.ActionCreate, audit.EntityTemplate, t.Name, audit.SourceAPI, nil)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.templates.DeleteTemplate(r.Context(), name); err != nil {
		s.writeTemplateError(w, err, "delete")
		return
	}
	s.logger.Info("template deleted", "name", name)
	s.audit.Record(r.Context(), audit.ActionDelete, audit.EntityTemplate, name, audit.SourceAPI, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeTemplateError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, command.ErrTemplateNotFound):
		writeNotFound(w, "template not found")
	case errors.Is(err, command.ErrTemplateExists):
		writeConflict(w, "template already exists")
	case errors.Is(err, command.ErrMalformedPayload),
		errors.Is(err, command.ErrUnknownCommandType),
		errors.Is(err, command.ErrTemplateDepth):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error("template operation failed", "op", op, "error", err)
		writeInternalError(w, "failed to "+op+" template")
	}
}
