package api

import (
	"net/http"
	"time"

	"github.com/nxthdr/saimiris-gateway/pkg/auth"
	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
)

// userMeResponse is the body of GET /api/user/me (§6).
type userMeResponse struct {
	UserID          string `json:"user_id"`
	SubmissionCount int64  `json:"submission_count"`
	LastSubmitted   string `json:"last_submitted,omitempty"`
	Used            int64  `json:"used"`
	Limit           int64  `json:"limit"`
}

// UserMe handles GET /api/user/me.
func (h *Handler) UserMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(h.logger, w, http.StatusUnauthorized, "missing identity")
		return
	}

	userHash := prefix.HashSubject(identity.Subject)
	_, stats, err := h.accountant.CanSubmit(r.Context(), userHash, 0, nil)
	if err != nil {
		writeError(h.logger, w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := userMeResponse{
		UserID:          identity.Subject,
		SubmissionCount: stats.SubmissionCount,
		Used:            stats.TotalProbes,
		Limit:           stats.Limit,
	}
	if !stats.LastSubmitted.IsZero() {
		resp.LastSubmitted = stats.LastSubmitted.UTC().Format(time.RFC3339)
	}
	writeJSON(h.logger, w, http.StatusOK, resp)
}

// prefixEntry is one element of UserPrefixes' per-agent prefix list.
type prefixEntry struct {
	AgentPrefix string `json:"agent_prefix"`
	UserPrefix  string `json:"user_prefix"`
}

// agentPrefixes is one element of UserPrefixes' "agents" field.
type agentPrefixes struct {
	AgentID  string        `json:"agent_id"`
	Prefixes []prefixEntry `json:"prefixes"`
}

// userPrefixesResponse is the body of GET /api/user/prefixes (§6).
type userPrefixesResponse struct {
	UserID string          `json:"user_id"`
	Agents []agentPrefixes `json:"agents"`
}

// UserPrefixes handles GET /api/user/prefixes: for every registered
// agent's IPv6-prefixed configs, compute the caller's allocated
// sub-prefix within it.
func (h *Handler) UserPrefixes(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(h.logger, w, http.StatusUnauthorized, "missing identity")
		return
	}

	userTag, err := h.allocator.GetOrCreateUserTag(r.Context(), identity.Subject)
	if err != nil {
		writeError(h.logger, w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := userPrefixesResponse{UserID: identity.Subject}
	for _, agent := range h.registry.List() {
		var entries []prefixEntry
		for _, cfg := range agent.Configs {
			agentPrefix := cfg.ParsedIPv6Prefix()
			if agentPrefix == nil {
				continue
			}
			userPrefix, err := prefix.CalculateUserPrefix(agentPrefix, userTag)
			if err != nil {
				continue
			}
			entries = append(entries, prefixEntry{
				AgentPrefix: agentPrefix.String(),
				UserPrefix:  userPrefix.String(),
			})
		}
		if len(entries) > 0 {
			resp.Agents = append(resp.Agents, agentPrefixes{AgentID: agent.ID, Prefixes: entries})
		}
	}

	writeJSON(h.logger, w, http.StatusOK, resp)
}
