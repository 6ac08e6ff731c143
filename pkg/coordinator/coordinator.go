// Package coordinator implements the submission coordinator (C6): the
// ordered POST /probes pipeline of §4.6, wiring together the probe
// codec, prefix allocator, agent registry, quota accountant,
// measurement tracker, and bus publisher.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/nxthdr/saimiris-gateway/pkg/bus"
	"github.com/nxthdr/saimiris-gateway/pkg/codec"
	"github.com/nxthdr/saimiris-gateway/pkg/metrics"
	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
	"github.com/nxthdr/saimiris-gateway/pkg/quota"
	"github.com/nxthdr/saimiris-gateway/pkg/registry"
	"github.com/nxthdr/saimiris-gateway/pkg/tracker"
)

// Metadata is one requested agent in a submission, §4.6's "metadata:
// [{id, ip_address}...]".
type Metadata struct {
	ID        string `json:"id"`
	IPAddress string `json:"ip_address"`
}

// Request is the decoded body of POST /probes.
type Request struct {
	Metadata []Metadata      `json:"metadata"`
	Probes   json.RawMessage `json:"probes"`
}

// AgentResult is one entry of the response's "agents" field.
type AgentResult struct {
	ID        string `json:"id"`
	IPAddress string `json:"ip_address"`
}

// Response is the body of a successful POST /probes (§4.6 step 12).
type Response struct {
	ID     string        `json:"id"`
	Probes int           `json:"probes"`
	Agents []AgentResult `json:"agents"`
}

// Kind classifies a Error's disposition, matching the HTTP status the
// API layer answers with (§7).
type Kind int

const (
	KindBadRequest Kind = iota
	KindForbidden
	KindQuotaExceeded
	KindInternal
)

// Error is a coordinator-surfaced failure, carrying the status Kind and
// a human-readable, index-qualified message where applicable.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func badRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func quotaExceeded(format string, args ...any) *Error {
	return &Error{Kind: KindQuotaExceeded, Message: fmt.Sprintf(format, args...)}
}

func internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// Coordinator implements the POST /probes pipeline of §4.6.
type Coordinator struct {
	registry    *registry.Registry
	allocator   *prefix.Allocator
	accountant  *quota.Accountant
	tracker     *tracker.Tracker
	publisher   bus.Publisher
	topic       string
	batchBudget int
	logger      log.Logger
}

// New builds a Coordinator wiring together the registry, allocator,
// quota accountant, measurement tracker, and bus publisher.
func New(reg *registry.Registry, alloc *prefix.Allocator, acc *quota.Accountant, tr *tracker.Tracker, pub bus.Publisher, topic string, logger log.Logger) *Coordinator {
	return &Coordinator{
		registry:    reg,
		allocator:   alloc,
		accountant:  acc,
		tracker:     tr,
		publisher:   pub,
		topic:       topic,
		batchBudget: codec.DefaultBatchBudget,
		logger:      logger,
	}
}

// Submit runs the full §4.6 pipeline for a single POST /probes request
// issued by subject, and returns the measurement submission response.
func (c *Coordinator) Submit(ctx context.Context, subject string, req Request) (resp Response, cerr *Error) {
	defer func() {
		metrics.SubmissionsTotal.WithLabelValues(submissionOutcome(cerr)).Inc()
	}()

	// Step 1: empty probes.
	probes, err := codec.ParseProbes(req.Probes)
	if err != nil {
		// Step 2 folds into ParseProbes' per-index validation.
		if ve, ok := err.(*codec.ValidationError); ok {
			return Response{}, badRequest("probe %d: %s", ve.Index, ve.Reason)
		}
		return Response{}, badRequest("%s", err)
	}
	if len(probes) == 0 {
		return Response{}, badRequest("probes must not be empty")
	}

	// Step 3: every metadata entry must include ip_address.
	if len(req.Metadata) == 0 {
		return Response{}, badRequest("metadata must not be empty")
	}
	for _, m := range req.Metadata {
		if m.ID == "" || m.IPAddress == "" {
			return Response{}, badRequest("metadata entry %q: ip_address is required", m.ID)
		}
	}

	// Step 4: resolve user_tag.
	userHash := prefix.HashSubject(subject)
	userTag, err := c.allocator.GetOrCreateUserTag(ctx, subject)
	if err != nil {
		return Response{}, internal("resolving user tag: %s", err)
	}

	// Step 5: validate source IPs for IPv6 metadata entries.
	if err := c.validateSourceIPs(ctx, req.Metadata, userTag); err != nil {
		return Response{}, err
	}

	// Step 6: admission check.
	additional := int64(len(probes))
	admitted, stats, err := c.accountant.CanSubmit(ctx, userHash, additional, nil)
	if err != nil {
		return Response{}, internal("checking quota: %s", err)
	}
	if !admitted {
		return Response{}, quotaExceeded("quota exceeded: %d additional probes would exceed the limit of %d", additional, stats.Limit)
	}

	// Step 7: mint measurement_id.
	measurementID := uuid.New().String()

	// Step 8: assigned_agents = requested agents that exist and are healthy.
	assigned := c.resolveAssignedAgents(req.Metadata)
	if len(assigned) == 0 {
		return Response{}, badRequest("no requested agent is registered and healthy")
	}

	// Step 9: encode and batch.
	batches, err := codec.Batch(probes, c.batchBudget)
	if err != nil {
		return Response{}, badRequest("%s", err)
	}

	// Step 10: create tracking rows (best-effort).
	for _, a := range assigned {
		if _, err := c.tracker.Create(ctx, userHash, measurementID, a.ID, additional); err != nil {
			level.Error(c.logger).Log("msg", "failed to create tracking row", "measurement_id", measurementID, "agent_id", a.ID, "err", err)
		}
	}

	// Step 11: publish each batch, one bus message per batch, with a
	// header for every requested agent.
	requested := make([]AgentResult, 0, len(req.Metadata))
	for _, m := range req.Metadata {
		requested = append(requested, AgentResult{ID: m.ID, IPAddress: m.IPAddress})
	}
	if err := c.publishBatches(ctx, measurementID, batches, requested); err != nil {
		return Response{}, internal("publishing probe batches: %s", err)
	}

	// Step 12: response.
	agentResults := make([]AgentResult, 0, len(assigned))
	for _, a := range assigned {
		agentResults = append(agentResults, a)
	}

	metrics.ProbesPublishedTotal.Add(float64(len(probes) * len(assigned)))

	return Response{
		ID:     measurementID,
		Probes: len(probes) * len(assigned),
		Agents: agentResults,
	}, nil
}

// submissionOutcome maps a coordinator Error (or its absence) to the
// metrics.SubmissionsTotal label value.
func submissionOutcome(cerr *Error) string {
	if cerr == nil {
		return "ok"
	}
	switch cerr.Kind {
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "forbidden"
	case KindQuotaExceeded:
		return "quota_exceeded"
	default:
		return "internal"
	}
}

// validateSourceIPs implements §4.6 step 5: for every IPv6 metadata
// entry, the agent must exist and at least one of its configured IPv6
// prefixes must admit the user's sub-prefix.
func (c *Coordinator) validateSourceIPs(ctx context.Context, metas []Metadata, userTag uint32) *Error {
	for _, m := range metas {
		ip := net.ParseIP(m.IPAddress)
		if ip == nil {
			return badRequest("metadata entry %q: %q is not a valid IP address", m.ID, m.IPAddress)
		}
		if ip.To4() != nil {
			// IPv4 source addresses are accepted unconditionally (§4.2,
			// §9 Open Question decision).
			continue
		}

		agent, err := c.registry.Get(m.ID)
		if err != nil {
			return forbidden("metadata entry %q: agent is not registered", m.ID)
		}

		var matched bool
		for _, cfg := range agent.Configs {
			agentPrefix := cfg.ParsedIPv6Prefix()
			if agentPrefix == nil {
				continue
			}
			if prefix.ValidateUserIPv6(ip, agentPrefix, userTag) {
				matched = true
				break
			}
		}
		if !matched {
			return forbidden("metadata entry %q: source address %s is outside the user's allocated sub-prefix", m.ID, m.IPAddress)
		}
	}
	return nil
}

// resolveAssignedAgents filters the requested metadata down to agents
// that exist in the registry and report healthy=true (§4.6 step 8).
func (c *Coordinator) resolveAssignedAgents(metas []Metadata) []AgentResult {
	assigned := make([]AgentResult, 0, len(metas))
	for _, m := range metas {
		a, err := c.registry.Get(m.ID)
		if err != nil {
			continue
		}
		if !a.Health.Healthy {
			continue
		}
		assigned = append(assigned, AgentResult{ID: m.ID, IPAddress: m.IPAddress})
	}
	return assigned
}

// batchHeader is the JSON value of each per-agent bus message header
// (§6 "Bus wire format").
type batchHeader struct {
	SrcIP            string `json:"src_ip"`
	MeasurementID    string `json:"measurement_id"`
	EndOfMeasurement bool   `json:"end_of_measurement"`
}

// publishBatches publishes one bus message per batch, keyed by
// measurement_id, with one header per requested agent carrying its
// source IP and an end_of_measurement flag set only on the final batch
// (§4.6 step 11). A publish failure aborts remaining batches without
// rolling back already-published ones.
func (c *Coordinator) publishBatches(ctx context.Context, measurementID string, batches [][]byte, agents []AgentResult) error {
	for i, body := range batches {
		last := i == len(batches)-1

		headers := make([]bus.Header, 0, len(agents))
		for _, a := range agents {
			value, err := json.Marshal(batchHeader{
				SrcIP:            a.IPAddress,
				MeasurementID:    measurementID,
				EndOfMeasurement: last,
			})
			if err != nil {
				return fmt.Errorf("coordinator: marshal batch header for agent %s: %w", a.ID, err)
			}
			headers = append(headers, bus.Header{Key: a.ID, Value: value})
		}

		msg := bus.Message{
			Topic:   c.topic,
			Key:     measurementID,
			Value:   body,
			Headers: headers,
		}

		metrics.BatchBytes.Observe(float64(len(body)))
		start := time.Now()
		err := c.publisher.Publish(ctx, msg)
		metrics.PublishDurationSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("coordinator: publish batch %d/%d: %w", i+1, len(batches), err)
		}
	}
	return nil
}
