package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_IdempotentWithMatchingSecret(t *testing.T) {
	r := New()
	_, err := r.Add("agent-1", "s3cr3t", []AgentConfig{DefaultAgentConfig()})
	require.NoError(t, err)

	got, err := r.Add("agent-1", "s3cr3t", []AgentConfig{DefaultAgentConfig()})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)
}

func TestAdd_RejectsSecretMismatch(t *testing.T) {
	r := New()
	_, err := r.Add("agent-1", "s3cr3t", nil)
	require.NoError(t, err)

	_, err = r.Add("agent-1", "other", nil)
	assert.ErrorIs(t, err, ErrSecretMismatch)
}

func TestGet_NotFound(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateHealthAndConfig(t *testing.T) {
	r := New()
	_, err := r.Add("agent-1", "s3cr3t", nil)
	require.NoError(t, err)

	require.NoError(t, r.UpdateHealth("agent-1", Health{Healthy: true, LastCheck: time.Now()}))
	require.NoError(t, r.UpdateConfig("agent-1", []AgentConfig{DefaultAgentConfig()}))

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.True(t, got.Health.Healthy)
	assert.Len(t, got.Configs, 1)
}

func TestUpdateHealth_NotFound(t *testing.T) {
	r := New()
	err := r.UpdateHealth("missing", Health{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_ReturnsCopies(t *testing.T) {
	r := New()
	_, err := r.Add("agent-1", "s3cr3t", []AgentConfig{DefaultAgentConfig()})
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 1)
	list[0].Configs[0].BatchSize = 999

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1000, got.Configs[0].BatchSize)
}

func TestRemoveStale(t *testing.T) {
	r := New()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixedNow }

	_, err := r.Add("stale", "s", nil)
	require.NoError(t, err)

	r.now = func() time.Time { return fixedNow.Add(20 * time.Minute) }
	_, err = r.Add("fresh", "s", nil)
	require.NoError(t, err)

	removed := r.RemoveStale(10 * time.Minute)
	assert.Equal(t, []string{"stale"}, removed)

	_, err = r.Get("stale")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("fresh")
	assert.NoError(t, err)
}

func TestAgent_MarshalJSON_NoSecret(t *testing.T) {
	r := New()
	a, err := r.Add("agent-1", "top-secret-value", nil)
	require.NoError(t, err)

	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(b), "top-secret-value"))
	assert.False(t, strings.Contains(string(b), "secret"))
}

func TestRunStaleSweep_EvictsOnTick(t *testing.T) {
	r := New()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return fixedNow
	}

	_, err := r.Add("stale", "s", nil)
	require.NoError(t, err)

	mu.Lock()
	fixedNow = fixedNow.Add(time.Hour)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	removedCh := make(chan []string, 1)
	go r.RunStaleSweep(ctx, 5*time.Millisecond, time.Minute, func(ids []string) {
		select {
		case removedCh <- ids:
		default:
		}
	})

	select {
	case ids := <-removedCh:
		assert.Equal(t, []string{"stale"}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not evict stale agent in time")
	}
	cancel()
}
