package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/klawleybot/fleetd/internal/domain"
)

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps domain error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindStateConflict:
		status = http.StatusConflict
	case domain.KindPolicyReject:
		status = http.StatusForbidden
	case domain.KindConfigInvalid:
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": int64(s.uptime().Seconds()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready, checks := s.container.Readiness.Check(r.Context())
	status := http.StatusOK
	verdict := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		verdict = "not_ready"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status": verdict,
		"checks": checks,
	})
}

func (s *Server) handleLoopsStatus(w http.ResponseWriter, r *http.Request) {
	type loopView struct {
		Enabled  bool        `json:"enabled"`
		Running  bool        `json:"running"`
		LastTick interface{} `json:"lastTick,omitempty"`
	}

	autonomyView := loopView{}
	if s.container.Autonomy != nil {
		autonomyView.Enabled = true
		autonomyView.Running = s.container.Autonomy.Running()
		if tick := s.container.Autonomy.LastTickInfo(); !tick.At.IsZero() {
			autonomyView.LastTick = tick
		}
	}

	swingView := loopView{}
	if s.container.Swing != nil {
		swingView.Enabled = true
		swingView.Running = s.container.Swing.Running()
		if tick := s.container.Swing.LastTickInfo(); !tick.At.IsZero() {
			swingView.LastTick = tick
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"autonomy": autonomyView,
		"swing":    swingView,
	})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	operations, err := s.container.Operations.List(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if operations == nil {
		operations = []domain.Operation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"operations": operations})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id, err := s.operationID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	op, err := s.container.Operations.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, op)
}

// handleApproveOperation moves a pending operation to approved. The
// approver identity comes from the request body; execution stays a
// separate step so a human can approve without triggering trades.
func (s *Server) handleApproveOperation(w http.ResponseWriter, r *http.Request) {
	id, err := s.operationID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		ApprovedBy string `json:"approvedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ApprovedBy == "" {
		s.writeError(w, domain.NewError(domain.KindConfigInvalid, "approvedBy is required"))
		return
	}

	if err := s.container.Operations.SetApproved(id, body.ApprovedBy); err != nil {
		s.writeError(w, err)
		return
	}
	op, err := s.container.Operations.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id, err := s.operationID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := s.container.Operations.Cancel(id, body.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	op, err := s.container.Operations.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, op)
}

func (s *Server) operationID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewError(domain.KindConfigInvalid, "invalid operation id %q", raw)
	}
	return id, nil
}
