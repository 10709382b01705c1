package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each component check behind /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSchedule)
				r.Put("/", s.handleUpdateSchedule)
				r.Delete("/", s.handleDeleteSchedule)
				r.Post("/execute", s.handleExecuteSchedule)
			})
		})
		r.Get("/triggers", s.handleListTriggers)

		r.Get("/logs", s.handleListLogs)
		r.Get("/stats", s.handleStats)
		r.Get("/audit", s.handleListAudit)

		r.Route("/registers", func(r chi.Router) {
			r.Get("/", s.handleListRegisters)
			r.Post("/", s.handleCreateRegister)

			r.Route("/{number}", func(r chi.Router) {
				r.Get("/", s.handleGetRegister)
				r.Put("/", s.handleUpdateRegister)
				r.Delete("/", s.handleDeleteRegister)
			})
		})
		r.Get("/registers-full", s.handleListRegistersFull)
		r.Get("/register-groups", s.handleListRegisterGroups)

		r.Route("/register-values", func(r chi.Router) {
			r.Get("/", s.handleGetRegisterValues)
			r.Put("/", s.handleSetRegisterValues)
			r.Post("/sync", s.handleSyncRegisterValues)
		})
		r.Get("/read-register/{number}", s.handleReadRegister)
		r.Post("/read-registers", s.handleReadRegisters)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{name}", s.handleGetTemplate)
			r.Delete("/{name}", s.handleDeleteTemplate)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and every registered component.
// Any failing component turns the answer into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.health))

	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	resp := map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.ClientCount()
	}
	if s.triggers != nil {
		resp["triggers"] = len(s.triggers.Entries())
	}
	writeJSON(w, code, resp)
}

// handleListTriggers lists armed schedules and their next fire times.
func (s *Server) handleListTriggers(w http.ResponseWriter, _ *http.Request) {
	if s.triggers == nil {
		writeJSON(w, http.StatusOK, map[string]any{"triggers": []any{}, "count": 0})
		return
	}
	entries := s.triggers.Entries()
	writeJSON(w, http.StatusOK, map[string]any{"triggers": entries, "count": len(entries)})
}
