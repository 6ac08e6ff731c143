package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxthdr/saimiris-gateway/pkg/bus"
	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
	"github.com/nxthdr/saimiris-gateway/pkg/quota"
	"github.com/nxthdr/saimiris-gateway/pkg/registry"
	"github.com/nxthdr/saimiris-gateway/pkg/store"
	"github.com/nxthdr/saimiris-gateway/pkg/tracker"
)

const testProbes = `[["192.0.2.1", 33434, 53, 64, "udp"]]`

type harness struct {
	reg   *registry.Registry
	repo  *store.MemoryRepository
	pub   *bus.MemoryPublisher
	coord *Coordinator
}

func newHarness() harness {
	reg := registry.New()
	repo := store.NewMemoryRepository()
	pub := bus.NewMemoryPublisher()

	alloc := prefix.NewAllocator(repo)
	acc := quota.NewAccountant(repo)
	tr := tracker.New(repo)

	coord := New(reg, alloc, acc, tr, pub, "saimiris-probes", log.NewNopLogger())
	return harness{reg: reg, repo: repo, pub: pub, coord: coord}
}

func registerHealthyAgent(t *testing.T, reg *registry.Registry, id string, configs []registry.AgentConfig) {
	t.Helper()
	_, err := reg.Add(id, "secret", configs)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateHealth(id, registry.Health{Healthy: true}))
}

func TestSubmit_Scenario(t *testing.T) {
	h := newHarness()
	registerHealthyAgent(t, h.reg, "agent-1", []registry.AgentConfig{registry.DefaultAgentConfig()})

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: "203.0.113.5"}},
		Probes:   json.RawMessage(testProbes),
	}

	resp, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.Nil(t, cerr)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 1, resp.Probes)
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, "agent-1", resp.Agents[0].ID)

	published := h.pub.Messages()
	require.Len(t, published, 1)
	assert.Equal(t, resp.ID, published[0].Key)
	require.Len(t, published[0].Headers, 1)
	assert.Equal(t, "agent-1", published[0].Headers[0].Key)

	var header map[string]interface{}
	require.NoError(t, json.Unmarshal(published[0].Headers[0].Value, &header))
	assert.Equal(t, true, header["end_of_measurement"])
	assert.Equal(t, resp.ID, header["measurement_id"])
}

func TestSubmit_EmptyProbes(t *testing.T) {
	h := newHarness()
	registerHealthyAgent(t, h.reg, "agent-1", []registry.AgentConfig{registry.DefaultAgentConfig()})

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: "203.0.113.5"}},
		Probes:   json.RawMessage(`[]`),
	}

	_, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.NotNil(t, cerr)
	assert.Equal(t, KindBadRequest, cerr.Kind)
}

func TestSubmit_MissingMetadataIP(t *testing.T) {
	h := newHarness()
	req := Request{
		Metadata: []Metadata{{ID: "agent-1"}},
		Probes:   json.RawMessage(testProbes),
	}

	_, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.NotNil(t, cerr)
	assert.Equal(t, KindBadRequest, cerr.Kind)
}

func TestSubmit_NoHealthyAssignedAgent(t *testing.T) {
	h := newHarness()
	// Registered but never marked healthy.
	_, err := h.reg.Add("agent-1", "secret", []registry.AgentConfig{registry.DefaultAgentConfig()})
	require.NoError(t, err)

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: "203.0.113.5"}},
		Probes:   json.RawMessage(testProbes),
	}

	_, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.NotNil(t, cerr)
	assert.Equal(t, KindBadRequest, cerr.Kind)
}

func TestSubmit_IPv6SourceOutsideAllocatedSubprefix(t *testing.T) {
	h := newHarness()
	registerHealthyAgent(t, h.reg, "agent-1", []registry.AgentConfig{
		{SrcIPv6Prefix: "2001:db8:1234::/48"},
	})

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: "2001:db8:9999::1"}},
		Probes:   json.RawMessage(testProbes),
	}

	_, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.NotNil(t, cerr)
	assert.Equal(t, KindForbidden, cerr.Kind)
}

func TestSubmit_IPv6SourceWithinAllocatedSubprefix(t *testing.T) {
	h := newHarness()
	registerHealthyAgent(t, h.reg, "agent-1", []registry.AgentConfig{
		{SrcIPv6Prefix: "2001:db8:1234::/48"},
	})

	alloc := prefix.NewAllocator(h.repo)
	userTag, err := alloc.GetOrCreateUserTag(context.Background(), "subject-1")
	require.NoError(t, err)

	_, agentPrefix, err := net.ParseCIDR("2001:db8:1234::/48")
	require.NoError(t, err)
	userPrefix, err := prefix.CalculateUserPrefix(agentPrefix, userTag)
	require.NoError(t, err)

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: userPrefix.IP.String()}},
		Probes:   json.RawMessage(testProbes),
	}

	resp, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.Nil(t, cerr)
	assert.NotEmpty(t, resp.ID)
}

func TestSubmit_QuotaExceeded(t *testing.T) {
	h := newHarness()
	registerHealthyAgent(t, h.reg, "agent-1", []registry.AgentConfig{registry.DefaultAgentConfig()})

	userHash := prefix.HashSubject("subject-1")
	require.NoError(t, h.repo.UpsertUserLimit(context.Background(), userHash, 0))

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: "203.0.113.5"}},
		Probes:   json.RawMessage(testProbes),
	}

	_, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.NotNil(t, cerr)
	assert.Equal(t, KindQuotaExceeded, cerr.Kind)
}

func TestSubmit_PublishFailureAborts(t *testing.T) {
	h := newHarness()
	registerHealthyAgent(t, h.reg, "agent-1", []registry.AgentConfig{registry.DefaultAgentConfig()})
	h.pub.FailNextPublish(errors.New("broker unreachable"))

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: "203.0.113.5"}},
		Probes:   json.RawMessage(testProbes),
	}

	_, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.NotNil(t, cerr)
	assert.Equal(t, KindInternal, cerr.Kind)
}

func TestSubmit_CreatesTrackingRowsWithExpected(t *testing.T) {
	h := newHarness()
	registerHealthyAgent(t, h.reg, "agent-1", []registry.AgentConfig{registry.DefaultAgentConfig()})

	req := Request{
		Metadata: []Metadata{{ID: "agent-1", IPAddress: "203.0.113.5"}},
		Probes:   json.RawMessage(`[["192.0.2.1", 1, 2, 3, "tcp"], ["192.0.2.2", 4, 5, 6, "udp"]]`),
	}

	resp, cerr := h.coord.Submit(context.Background(), "subject-1", req)
	require.Nil(t, cerr)

	row, err := h.repo.TrackingByAgent(context.Background(), resp.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Expected)
	assert.False(t, row.Complete)
}
