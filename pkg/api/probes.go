package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nxthdr/saimiris-gateway/pkg/auth"
	"github.com/nxthdr/saimiris-gateway/pkg/coordinator"
	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
)

// SubmitProbes handles POST /api/probes, the submission coordinator's
// entry point (§4.6).
func (h *Handler) SubmitProbes(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(h.logger, w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req coordinator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, cerr := h.coordinator.Submit(r.Context(), identity.Subject, req)
	if cerr != nil {
		writeError(h.logger, w, coordinatorStatus(cerr.Kind), cerr.Message)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, resp)
}

func coordinatorStatus(kind coordinator.Kind) int {
	switch kind {
	case coordinator.KindBadRequest:
		return http.StatusBadRequest
	case coordinator.KindForbidden:
		return http.StatusForbidden
	case coordinator.KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// measurementStatusResponse is the body of GET
// /api/measurement/{id}/status: the §3 MeasurementStatus aggregate plus
// the per-agent tracking rows (§6: "200 MeasurementStatus+agents").
type measurementStatusResponse struct {
	TotalAgents         int                   `json:"total_agents"`
	CompletedAgents     int                   `json:"completed_agents"`
	TotalExpectedProbes int64                 `json:"total_expected_probes"`
	TotalSentProbes     int64                 `json:"total_sent_probes"`
	MeasurementComplete bool                  `json:"measurement_complete"`
	StartedAt           string                `json:"started_at,omitempty"`
	LastUpdated         string                `json:"last_updated,omitempty"`
	Agents              []measurementAgentRow `json:"agents"`
}

type measurementAgentRow struct {
	AgentID  string `json:"agent_id"`
	Expected int64  `json:"expected_probes"`
	Sent     int64  `json:"sent_probes"`
	Complete bool   `json:"is_complete"`
}

// MeasurementStatus handles GET /api/measurement/{id}/status.
func (h *Handler) MeasurementStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(h.logger, w, http.StatusUnauthorized, "missing identity")
		return
	}

	measurementID := mux.Vars(r)["id"]
	userHash := prefix.HashSubject(identity.Subject)

	status, err := h.tracker.Status(r.Context(), measurementID, userHash)
	if err != nil {
		writeError(h.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	if status.TotalAgents == 0 {
		writeNotFound(h.logger, w)
		return
	}

	rows, err := h.tracker.Tracking(r.Context(), measurementID, userHash)
	if err != nil {
		writeError(h.logger, w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := measurementStatusResponse{
		TotalAgents:         status.TotalAgents,
		CompletedAgents:     status.CompletedAgents,
		TotalExpectedProbes: status.TotalExpectedProbes,
		TotalSentProbes:     status.TotalSentProbes,
		MeasurementComplete: status.MeasurementComplete,
	}
	if !status.StartedAt.IsZero() {
		resp.StartedAt = status.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	if !status.LastUpdated.IsZero() {
		resp.LastUpdated = status.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	for _, row := range rows {
		resp.Agents = append(resp.Agents, measurementAgentRow{
			AgentID:  row.AgentID,
			Expected: row.Expected,
			Sent:     row.Sent,
			Complete: row.Complete,
		})
	}

	writeJSON(h.logger, w, http.StatusOK, resp)
}
