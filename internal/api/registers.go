package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/grott-scheduler/internal/audit"
	"github.com/nerrad567/grott-scheduler/internal/register"
)

// maxLiveReads bounds one POST /read-registers request.
const maxLiveReads = 64

// registerValueBody is one entry of PUT /register-values.
type registerValueBody struct {
	Number       *int `json:"register_number"`
	CurrentValue *int `json:"current_value"`
}

// liveReadBody is the body of POST /read-registers and /register-values/sync.
type liveReadBody struct {
	Registers      []int  `json:"registers"`
	InverterSerial string `json:"inverter_serial"`
}

// liveRead is one register read straight from the device.
type liveRead struct {
	Register int    `json:"register"`
	Value    string `json:"value,omitempty"`
	Raw      string `json:"raw_response,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// registerFull is metadata merged with its cached value.
type registerFull struct {
	register.Metadata
	CurrentValue         *int       `json:"current_value,omitempty"`
	LastUpdated          *time.Time `json:"last_updated,omitempty"`
	LastReadFromInverter *time.Time `json:"last_read_from_inverter,omitempty"`
}

func (s *Server) handleListRegisters(w http.ResponseWriter, r *http.Request) {
	regs, err := s.registers.ListMetadata(r.Context())
	if err != nil {
		s.logger.Error("listing registers", "error", err)
		writeInternalError(w, "failed to list registers")
		return
	}
	if regs == nil {
		regs = []register.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"registers": regs, "count": len(regs)})
}

// handleListRegistersFull returns every register with its cached value.
func (s *Server) handleListRegistersFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	regs, err := s.registers.ListMetadata(ctx)
	if err != nil {
		s.logger.Error("listing registers", "error", err)
		writeInternalError(w, "failed to list registers")
		return
	}
	values, err := s.registers.ListValues(ctx)
	if err != nil {
		s.logger.Error("listing register values", "error", err)
		writeInternalError(w, "failed to list register values")
		return
	}

	byNumber := make(map[int]register.Value, len(values))
	for _, v := range values {
		byNumber[v.Number] = v
	}

	out := make([]registerFull, 0, len(regs))
	for _, m := range regs {
		full := registerFull{Metadata: m}
		if v, ok := byNumber[m.Number]; ok {
			full.CurrentValue = &v.CurrentValue
			full.LastUpdated = &v.LastUpdated
			full.LastReadFromInverter = v.LastReadFromInverter
		}
		out = append(out, full)
	}
	writeJSON(w, http.StatusOK, map[string]any{"registers": out, "count": len(out)})
}

func (s *Server) handleGetRegister(w http.ResponseWriter, r *http.Request) {
	n, ok := registerNumberParam(w, r)
	if !ok {
		return
	}
	m, err := s.registers.GetMetadata(r.Context(), n)
	if err != nil {
		s.writeRegisterError(w, err, "get")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCreateRegister(w http.ResponseWriter, r *http.Request) {
	var m register.Metadata
	if err := decodeJSON(r, &m); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if err := register.ValidateMetadata(&m); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := s.registers.CreateMetadata(r.Context(), &m); err != nil {
		s.writeRegisterError(w, err, "create")
		return
	}
	s.logger.Info("register created", "register", m.Number, "name", m.Name)
	s.audit.Record(r.Context(), audit.ActionCreate, audit.EntityRegister, strconv.Itoa(m.Number), audit.SourceAPI,
		map[string]any{"name": m.Name})
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateRegister(w http.ResponseWriter, r *http.Request) {
	n, ok := registerNumberParam(w, r)
	if !ok {
		return
	}
	var m register.Metadata
	if err := decodeJSON(r, &m); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	m.Number = n
	if err := register.ValidateMetadata(&m); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if err := s.registers.UpdateMetadata(r.Context(), &m); err != nil {
		s.writeRegisterError(w, err, "update")
		return
	}
	s.audit.Record(r.Context(), audit.ActionUpdate, audit.EntityRegister, strconv.Itoa(n), audit.SourceAPI, nil)
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteRegister(w http.ResponseWriter, r *http.Request) {
	n, ok := registerNumberParam(w, r)
	if !ok {
		return
	}
	if err := s.registers.DeleteMetadata(r.Context(), n); err != nil {
		s.writeRegisterError(w, err, "delete")
		return
	}
	s.audit.Record(r.Context(), audit.ActionDelete, audit.EntityRegister, strconv.Itoa(n), audit.SourceAPI, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRegisterGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.registers.ListGroups(r.Context())
	if err != nil {
		s.logger.Error("listing register groups", "error", err)
		writeInternalError(w, "failed to list register groups")
		return
	}
	if groups == nil {
		groups = []register.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// handleGetRegisterValues returns every cached value, or one with ?register=N.
func (s *Server) handleGetRegisterValues(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("register"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeBadRequest(w, "register must be a non-negative integer")
			return
		}
		v, err := s.registers.GetValue(r.Context(), n)
		if err != nil {
			s.writeRegisterError(w, err, "get value for")
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}

	values, err := s.registers.ListValues(r.Context())
	if err != nil {
		s.logger.Error("listing register values", "error", err)
		writeInternalError(w, "failed to list register values")
		return
	}
	if values == nil {
		values = []register.Value{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"values": values, "count": len(values)})
}

// handleSetRegisterValues accepts one {"register_number","current_value"}
// object or an array of them. An array is stored in one transaction.
func (s *Server) handleSetRegisterValues(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	var items []registerValueBody
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			writeBadRequest(w, "invalid JSON: "+err.Error())
			return
		}
	} else {
		var one registerValueBody
		if err := json.Unmarshal(trimmed, &one); err != nil {
			writeBadRequest(w, "invalid JSON: "+err.Error())
			return
		}
		items = []registerValueBody{one}
	}
	if len(items) == 0 {
		writeBadRequest(w, "no register values given")
		return
	}

	values := make(map[int]int, len(items))
	for i, it := range items {
		if it.Number == nil || it.CurrentValue == nil {
			writeValidationError(w, fmt.Sprintf("item %d: register_number and current_value are required", i))
			return
		}
		if err := register.ValidateValue(*it.Number, *it.CurrentValue); err != nil {
			writeValidationError(w, err.Error())
			return
		}
		values[*it.Number] = *it.CurrentValue
	}

	if err := s.registers.SetValues(r.Context(), values); err != nil {
		s.logger.Error("storing register values", "error", err)
		writeInternalError(w, "failed to store register values")
		return
	}
	for n, v := range values {
		s.audit.Record(r.Context(), audit.ActionUpdate, audit.EntityRegisterValue, strconv.Itoa(n), audit.SourceAPI,
			map[string]any{"value": v})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Updated %d register values", len(values)),
	})
}

// handleSyncRegisterValues refreshes the cache from the device. An empty
// body syncs the Grid First block.
func (s *Server) handleSyncRegisterValues(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeGateway, "device access is not configured")
		return
	}
	body, ok := decodeLiveReadBody(w, r)
	if !ok {
		return
	}

	res := s.syncer.Sync(r.Context(), body.InverterSerial, body.Registers)
	s.audit.Record(r.Context(), audit.ActionSync, audit.EntityRegisterValue, "", audit.SourceAPI,
		map[string]any{"synced": len(res.Synced), "failed": len(res.Failed)})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": res.OK(),
		"synced":  res.Synced,
		"failed":  res.Failed,
		"message": fmt.Sprintf("Synced %d registers, %d failed", len(res.Synced), len(res.Failed)),
	})
}

// handleReadRegister reads one register live. Integer replies refresh the cache.
func (s *Server) handleReadRegister(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeGateway, "device access is not configured")
		return
	}
	n, ok := registerNumberParam(w, r)
	if !ok {
		return
	}

	read := s.readLive(r, r.URL.Query().Get("inverter_serial"), n)
	if !read.Success {
		writeBadGateway(w, read.Error)
		return
	}
	writeJSON(w, http.StatusOK, read)
}

// handleReadRegisters reads several registers live, one at a time.
func (s *Server) handleReadRegisters(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeGateway, "device access is not configured")
		return
	}
	body, ok := decodeLiveReadBody(w, r)
	if !ok {
		return
	}
	if len(body.Registers) == 0 {
		writeBadRequest(w, "no registers specified")
		return
	}
	if len(body.Registers) > maxLiveReads {
		writeBadRequest(w, fmt.Sprintf("at most %d registers per request", maxLiveReads))
		return
	}

	results := make([]liveRead, 0, len(body.Registers))
	failed := make([]liveRead, 0)
	for _, n := range body.Registers {
		read := s.readLive(r, body.InverterSerial, n)
		if read.Success {
			results = append(results, read)
		} else {
			failed = append(failed, read)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    len(failed) == 0,
		"results":    results,
		"failed":     failed,
		"total":      len(body.Registers),
		"successful": len(results),
	})
}

func (s *Server) readLive(r *http.Request, serial string, n int) liveRead {
	res, err := s.device.ReadRegister(r.Context(), serial, n)
	if err != nil {
		s.logger.Warn("live register read failed", "register", n, "error", err)
		return liveRead{Register: n, Error: err.Error()}
	}
	if v, err := strconv.Atoi(strings.TrimSpace(res.Value)); err == nil && register.ValidateValue(n, v) == nil {
		if err := s.registers.SetValue(r.Context(), n, v, true); err != nil {
			s.logger.Warn("caching live register read failed", "register", n, "error", err)
		}
	}
	return liveRead{Register: n, Value: res.Value, Raw: res.Raw, Success: true}
}

// decodeLiveReadBody accepts an empty body as "no registers, default serial".
func decodeLiveReadBody(w http.ResponseWriter, r *http.Request) (liveReadBody, bool) {
	var body liveReadBody
	if err := decodeJSON(r, &body); err != nil {
		if errors.Is(err, io.EOF) {
			return body, true
		}
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return body, false
	}
	return body, true
}

func registerNumberParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n < 0 {
		writeBadRequest(w, "register number must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// writeRegisterError maps register errors onto HTTP responses.
func (s *Server) writeRegisterError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, register.ErrRegisterNotFound):
		writeNotFound(w, "register not found")
	case errors.Is(err, register.ErrValueNotFound):
		writeNotFound(w, "register value not found")
	case errors.Is(err, register.ErrRegisterExists):
		writeConflict(w, "register already exists")
	case errors.Is(err, register.ErrInvalidRegister), errors.Is(err, register.ErrValueOutOfRange):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error("register operation failed", "op", op, "error", err)
		writeInternalError(w, "failed to "+op+" register")
	}
}
