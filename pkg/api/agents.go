package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nxthdr/saimiris-gateway/pkg/registry"
)

// ListAgents handles GET /api/agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, h.registry.List())
}

// AgentDetail handles GET /api/agent/{id}.
func (h *Handler) AgentDetail(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeNotFound(h.logger, w)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, agent)
}

// AgentConfig handles GET /api/agent/{id}/config.
func (h *Handler) AgentConfig(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeNotFound(h.logger, w)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, agent.Configs)
}

// AgentHealth handles GET /api/agent/{id}/health.
func (h *Handler) AgentHealth(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeNotFound(h.logger, w)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, agent.Health)
}

// registerAgentRequest is the body of POST /agent-api/agent/register.
type registerAgentRequest struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// RegisterAgent handles POST /agent-api/agent/register (§6: "body {id,
// secret}; 200 Agent; 409 on secret mismatch").
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Secret == "" {
		writeError(h.logger, w, http.StatusBadRequest, "id and secret are required")
		return
	}

	agent, err := h.registry.Add(req.ID, req.Secret, []registry.AgentConfig{registry.DefaultAgentConfig()})
	if err != nil {
		if errors.Is(err, registry.ErrSecretMismatch) {
			writeError(h.logger, w, http.StatusConflict, "agent already registered with a different secret")
			return
		}
		writeError(h.logger, w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(h.logger, w, http.StatusOK, agent)
}

// UpdateAgentConfig handles POST /agent-api/agent/{id}/config, body
// [AgentConfig].
func (h *Handler) UpdateAgentConfig(w http.ResponseWriter, r *http.Request) {
	var configs []registry.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&configs); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.registry.UpdateConfig(mux.Vars(r)["id"], configs); err != nil {
		writeNotFound(h.logger, w)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UpdateAgentHealth handles POST /agent-api/agent/{id}/health, body
// Health.
func (h *Handler) UpdateAgentHealth(w http.ResponseWriter, r *http.Request) {
	var health registry.Health
	if err := json.NewDecoder(r.Body).Decode(&health); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.registry.UpdateHealth(mux.Vars(r)["id"], health); err != nil {
		writeNotFound(h.logger, w)
		return
	}
	w.WriteHeader(http.StatusOK)
}
