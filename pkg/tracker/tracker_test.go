package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxthdr/saimiris-gateway/pkg/store"
)

func TestStatus_AggregateScenario(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	tr := New(repo)

	_, err := tr.Create(ctx, "hash1", "meas-1", "agent-1", 50)
	require.NoError(t, err)
	_, err = tr.Create(ctx, "hash1", "meas-1", "agent-2", 50)
	require.NoError(t, err)
	_, err = tr.Create(ctx, "hash1", "meas-1", "agent-3", 50)
	require.NoError(t, err)

	require.NoError(t, tr.Update(ctx, "meas-1", "agent-1", 50, true))
	require.NoError(t, tr.Update(ctx, "meas-1", "agent-2", 25, false))
	require.NoError(t, tr.Update(ctx, "meas-1", "agent-3", 0, true))

	status, err := tr.Status(ctx, "meas-1", "hash1")
	require.NoError(t, err)

	assert.Equal(t, 3, status.TotalAgents)
	assert.Equal(t, 2, status.CompletedAgents)
	assert.Equal(t, int64(150), status.TotalExpectedProbes)
	assert.Equal(t, int64(75), status.TotalSentProbes)
	assert.False(t, status.MeasurementComplete)
}

func TestMeasurementComplete_TrueIffAllRowsComplete(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	tr := New(repo)

	_, err := tr.Create(ctx, "hash1", "meas-1", "agent-1", 10)
	require.NoError(t, err)
	_, err = tr.Create(ctx, "hash1", "meas-1", "agent-2", 10)
	require.NoError(t, err)

	require.NoError(t, tr.Update(ctx, "meas-1", "agent-1", 10, true))
	status, err := tr.Status(ctx, "meas-1", "hash1")
	require.NoError(t, err)
	assert.False(t, status.MeasurementComplete)

	require.NoError(t, tr.Update(ctx, "meas-1", "agent-2", 10, true))
	status, err = tr.Status(ctx, "meas-1", "hash1")
	require.NoError(t, err)
	assert.True(t, status.MeasurementComplete)
}

func TestUpdate_CannotUncomplete(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	tr := New(repo)

	_, err := tr.Create(ctx, "hash1", "meas-1", "agent-1", 10)
	require.NoError(t, err)

	require.NoError(t, tr.Update(ctx, "meas-1", "agent-1", 10, true))
	require.NoError(t, tr.Update(ctx, "meas-1", "agent-1", 10, false))

	row, err := tr.ByAgent(ctx, "meas-1", "agent-1")
	require.NoError(t, err)
	assert.True(t, row.Complete, "is_complete must not un-complete")
}

func TestUpdate_SentMayChangeAfterComplete(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	tr := New(repo)

	_, err := tr.Create(ctx, "hash1", "meas-1", "agent-1", 10)
	require.NoError(t, err)

	require.NoError(t, tr.Update(ctx, "meas-1", "agent-1", 10, true))
	require.NoError(t, tr.Update(ctx, "meas-1", "agent-1", 15, false))

	row, err := tr.ByAgent(ctx, "meas-1", "agent-1")
	require.NoError(t, err)
	assert.True(t, row.Complete)
	assert.Equal(t, int64(15), row.Sent)
}

func TestRowState_Transitions(t *testing.T) {
	pending := store.TrackingRow{Sent: 0, Complete: false}
	inProgress := store.TrackingRow{Sent: 5, Complete: false}
	complete := store.TrackingRow{Sent: 10, Complete: true}

	assert.Equal(t, StatePending, RowState(pending))
	assert.Equal(t, StateInProgress, RowState(inProgress))
	assert.Equal(t, StateComplete, RowState(complete))
}
