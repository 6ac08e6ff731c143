// Package registry holds the in-memory directory of probing agents: their
// shared secret, configuration list, health, and last-seen timestamp.
package registry

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"
)

// AgentConfig mirrors one agent configuration block (§3). It is opaque to
// the registry except for SrcIPv6Prefix, which pkg/prefix consumes.
type AgentConfig struct {
	BatchSize           int        `json:"batch_size"`
	InstanceID          int        `json:"instance_id"`
	DryRun              bool       `json:"dry_run"`
	MinTTL              *int       `json:"min_ttl,omitempty"`
	MaxTTL              *int       `json:"max_ttl,omitempty"`
	IntegrityCheck      bool       `json:"integrity_check"`
	Interface           string     `json:"interface"`
	SrcIPv4Prefix       string     `json:"src_ipv4_prefix,omitempty"`
	SrcIPv6Prefix       string     `json:"src_ipv6_prefix,omitempty"`
	Packets             int        `json:"packets"`
	ProbingRate         int        `json:"probing_rate"`
	RateLimitingMethod  string     `json:"rate_limiting_method"`
	DisplayName         string     `json:"display_name,omitempty"`
}

// DefaultAgentConfig returns an AgentConfig populated with §3's defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		BatchSize:          1000,
		InstanceID:         0,
		DryRun:             false,
		IntegrityCheck:     false,
		Interface:          "eth0",
		Packets:            10000,
		ProbingRate:        1000,
		RateLimitingMethod: "None",
	}
}

// ParsedIPv6Prefix returns the agent config's src_ipv6_prefix as a
// *net.IPNet, or nil if unset or unparsable.
func (c AgentConfig) ParsedIPv6Prefix() *net.IPNet {
	if c.SrcIPv6Prefix == "" {
		return nil
	}
	_, n, err := net.ParseCIDR(c.SrcIPv6Prefix)
	if err != nil {
		return nil
	}
	return n
}

// Health is an agent's self-reported health.
type Health struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Message   string    `json:"message,omitempty"`
}

// Agent is a single probing agent's registry entry. Secret is never
// serialized (see MarshalJSON); §4.3: "The serialized form of Agent
// MUST NOT expose the secret."
type Agent struct {
	ID       string
	Secret   string
	Configs  []AgentConfig
	Health   Health
	LastSeen time.Time
}

// MarshalJSON serializes an Agent without its Secret field (§4.3:
// "The serialized form of Agent MUST NOT expose the secret").
func (a Agent) MarshalJSON() ([]byte, error) {
	type agentJSON struct {
		ID       string        `json:"agent_id"`
		Configs  []AgentConfig `json:"configs"`
		Health   Health        `json:"health"`
		LastSeen time.Time     `json:"last_seen"`
	}
	return json.Marshal(agentJSON{
		ID:       a.ID,
		Configs:  a.Configs,
		Health:   a.Health,
		LastSeen: a.LastSeen,
	})
}

// ErrNotFound is returned when an agent id has no registry entry.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "registry: agent not found" }

// ErrSecretMismatch is returned by Add when re-registering an existing
// agent id with a different secret (§3, §4.3).
var ErrSecretMismatch = errSecretMismatch{}

type errSecretMismatch struct{}

func (errSecretMismatch) Error() string { return "registry: agent already registered with a different secret" }

// Registry is the in-memory agent directory, behind a sync.RWMutex:
// readers run concurrently and writers serialize. The lock is not
// reader-preferring; a waiting writer blocks new readers.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	now    func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
		now:    time.Now,
	}
}

// Add registers agent id with secret and an initial, non-empty config
// list. Re-registration with the same id is idempotent iff the secret
// matches; otherwise it is rejected with ErrSecretMismatch.
func (r *Registry) Add(id, secret string, configs []AgentConfig) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.agents[id]; ok {
		if existing.Secret != secret {
			return nil, ErrSecretMismatch
		}
		existing.Configs = configs
		existing.LastSeen = now
		return cloneAgent(existing), nil
	}

	a := &Agent{
		ID:       id,
		Secret:   secret,
		Configs:  configs,
		LastSeen: now,
	}
	r.agents[id] = a
	return cloneAgent(a), nil
}

// Get returns a copy of the agent with id, or ErrNotFound.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

// List returns a copy of every registered agent.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, cloneAgent(a))
	}
	return out
}

// UpdateConfig replaces an agent's configuration list and bumps
// last_seen.
func (r *Registry) UpdateConfig(id string, configs []AgentConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Configs = configs
	a.LastSeen = r.now()
	return nil
}

// UpdateHealth replaces an agent's health record and bumps last_seen.
func (r *Registry) UpdateHealth(id string, health Health) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Health = health
	a.LastSeen = r.now()
	return nil
}

// UpdateLastSeen bumps an agent's last-seen timestamp to now, without
// touching any other field.
func (r *Registry) UpdateLastSeen(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.LastSeen = r.now()
	return nil
}

// RemoveStale evicts every agent whose last-seen is older than maxAge and
// returns their ids.
func (r *Registry) RemoveStale(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed []string
	for id, a := range r.agents {
		if now.Sub(a.LastSeen) > maxAge {
			removed = append(removed, id)
			delete(r.agents, id)
		}
	}
	return removed
}

// RunStaleSweep runs RemoveStale on a ticker of the given period until ctx
// is canceled. onRemoved, if non-nil, is called with the ids evicted on
// each tick. This is the dedicated background task described in §5
// ("Stale-agent sweep runs on a periodic tick... independent of request
// tasks").
func (r *Registry) RunStaleSweep(ctx context.Context, period, maxAge time.Duration, onRemoved func([]string)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := r.RemoveStale(maxAge)
			if len(removed) > 0 && onRemoved != nil {
				onRemoved(removed)
			}
		}
	}
}

func cloneAgent(a *Agent) *Agent {
	configs := make([]AgentConfig, len(a.Configs))
	copy(configs, a.Configs)
	clone := *a
	clone.Configs = configs
	return &clone
}
