package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// updateMeasurementStatusRequest is the body of POST
// /agent-api/agent/{id}/measurement/{mid}/status (§6).
type updateMeasurementStatusRequest struct {
	SentProbes int64 `json:"sent_probes"`
	IsComplete bool  `json:"is_complete"`
}

// UpdateMeasurementStatus handles POST
// /agent-api/agent/{id}/measurement/{mid}/status: an agent reporting
// progress on its share of a measurement.
func (h *Handler) UpdateMeasurementStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	agentID := vars["id"]
	measurementID := vars["mid"]

	var req updateMeasurementStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, err := h.tracker.ByAgent(r.Context(), measurementID, agentID); err != nil {
		writeNotFound(h.logger, w)
		return
	}

	if err := h.tracker.Update(r.Context(), measurementID, agentID, req.SentProbes, req.IsComplete); err != nil {
		writeError(h.logger, w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
}
