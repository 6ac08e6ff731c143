package api

import (
	"github.com/go-kit/log"
	"github.com/gorilla/mux"

	"github.com/nxthdr/saimiris-gateway/pkg/auth"
	"github.com/nxthdr/saimiris-gateway/pkg/coordinator"
	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
	"github.com/nxthdr/saimiris-gateway/pkg/quota"
	"github.com/nxthdr/saimiris-gateway/pkg/registry"
	"github.com/nxthdr/saimiris-gateway/pkg/tracker"
)

// Handler wires C8's HTTP surface onto the gateway's core components.
type Handler struct {
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	tracker     *tracker.Tracker
	accountant  *quota.Accountant
	allocator   *prefix.Allocator
	verifier    *auth.Verifier
	bypassJWT   bool
	agentKey    string
	logger      log.Logger
}

// Config bundles the dependencies RegisterRoutes needs.
type Config struct {
	Registry    *registry.Registry
	Coordinator *coordinator.Coordinator
	Tracker     *tracker.Tracker
	Accountant  *quota.Accountant
	Allocator   *prefix.Allocator
	Verifier    *auth.Verifier
	BypassJWT   bool
	AgentKey    string
	Logger      log.Logger
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		registry:    cfg.Registry,
		coordinator: cfg.Coordinator,
		tracker:     cfg.Tracker,
		accountant:  cfg.Accountant,
		allocator:   cfg.Allocator,
		verifier:    cfg.Verifier,
		bypassJWT:   cfg.BypassJWT,
		agentKey:    cfg.AgentKey,
		logger:      cfg.Logger,
	}
}

// RegisterRoutes mounts the client-facing (/api) and agent-facing
// (/agent-api) route tables of §6 onto r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	userAuth := auth.UserTokenMiddleware(h.verifier, h.bypassJWT, h.logger)
	agentAuth := auth.AgentKeyMiddleware(h.agentKey)

	r.HandleFunc("/ready", h.ReadyHandler).Methods("GET")
	r.HandleFunc("/status", h.StatusHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/agents", h.ListAgents).Methods("GET")
	api.HandleFunc("/agent/{id}", h.AgentDetail).Methods("GET")
	api.HandleFunc("/agent/{id}/config", h.AgentConfig).Methods("GET")
	api.HandleFunc("/agent/{id}/health", h.AgentHealth).Methods("GET")

	protected := api.NewRoute().Subrouter()
	protected.Use(userAuth)
	protected.HandleFunc("/user/me", h.UserMe).Methods("GET")
	protected.HandleFunc("/user/prefixes", h.UserPrefixes).Methods("GET")
	protected.HandleFunc("/probes", h.SubmitProbes).Methods("POST")
	protected.HandleFunc("/measurement/{id}/status", h.MeasurementStatus).Methods("GET")

	agentAPI := r.PathPrefix("/agent-api").Subrouter()
	agentAPI.Use(agentAuth)
	agentAPI.HandleFunc("/agent/register", h.RegisterAgent).Methods("POST")
	agentAPI.HandleFunc("/agent/{id}/config", h.UpdateAgentConfig).Methods("POST")
	agentAPI.HandleFunc("/agent/{id}/health", h.UpdateAgentHealth).Methods("POST")
	agentAPI.HandleFunc("/agent/{id}/measurement/{mid}/status", h.UpdateMeasurementStatus).Methods("POST")
}
