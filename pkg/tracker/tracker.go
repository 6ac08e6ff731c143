// Package tracker implements the per-(measurement, agent) progress state
// machine and its aggregation into a per-measurement status view (§4.5).
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/nxthdr/saimiris-gateway/pkg/store"
)

// State is one stage of the per-(measurement_id, agent_id) state machine
// described in §4.5.
type State int

const (
	StatePending State = iota
	StateInProgress
	StateComplete
)

// String returns a human-readable name for State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInProgress:
		return "InProgress"
	case StateComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// RowState classifies a tracking row into the state machine's current
// stage.
func RowState(row store.TrackingRow) State {
	if row.Complete {
		return StateComplete
	}
	if row.Sent > 0 {
		return StateInProgress
	}
	return StatePending
}

// Status is the aggregate MeasurementStatus view defined in §3, derived
// from the full set of tracking rows for (measurement_id, user_hash).
type Status struct {
	TotalAgents         int
	CompletedAgents     int
	TotalExpectedProbes int64
	TotalSentProbes     int64
	MeasurementComplete bool
	StartedAt           time.Time
	LastUpdated         time.Time
}

// Store is the persistence capability the tracker depends on.
type Store interface {
	CreateTracking(ctx context.Context, userHash, measurementID, agentID string, expected int64) (store.TrackingRow, error)
	UpdateTracking(ctx context.Context, measurementID, agentID string, sent int64, complete bool) error
	TrackingRows(ctx context.Context, measurementID, userHash string) ([]store.TrackingRow, error)
	TrackingByAgent(ctx context.Context, measurementID, agentID string) (store.TrackingRow, error)
}

// Tracker implements the measurement-tracking operations of §4.5.
type Tracker struct {
	store Store
}

// New builds a Tracker backed by s.
func New(s Store) *Tracker {
	return &Tracker{store: s}
}

// Create inserts a fresh tracking row (sent=0, is_complete=false).
func (t *Tracker) Create(ctx context.Context, userHash, measurementID, agentID string, expected int64) (store.TrackingRow, error) {
	row, err := t.store.CreateTracking(ctx, userHash, measurementID, agentID, expected)
	if err != nil {
		return store.TrackingRow{}, fmt.Errorf("tracker: create: %w", err)
	}
	return row, nil
}

// Update overwrites sent/is_complete for (measurement_id, agent_id). The
// monotonic is_complete invariant is enforced here: once a row is
// Complete, this call cannot transition it back, even if the caller
// passes complete=false; it can still adjust sent (§4.5, Open Question
// decision #3 in SPEC_FULL.md).
func (t *Tracker) Update(ctx context.Context, measurementID, agentID string, sent int64, complete bool) error {
	current, err := t.store.TrackingByAgent(ctx, measurementID, agentID)
	if err != nil {
		return fmt.Errorf("tracker: update: read current state: %w", err)
	}

	finalComplete := complete || current.Complete

	if err := t.store.UpdateTracking(ctx, measurementID, agentID, sent, finalComplete); err != nil {
		return fmt.Errorf("tracker: update: %w", err)
	}
	return nil
}

// Status computes the MeasurementStatus aggregate for (measurement_id,
// user_hash).
func (t *Tracker) Status(ctx context.Context, measurementID, userHash string) (Status, error) {
	rows, err := t.store.TrackingRows(ctx, measurementID, userHash)
	if err != nil {
		return Status{}, fmt.Errorf("tracker: status: %w", err)
	}

	var s Status
	s.TotalAgents = len(rows)
	for _, row := range rows {
		s.TotalExpectedProbes += row.Expected
		s.TotalSentProbes += row.Sent
		if row.Complete {
			s.CompletedAgents++
		}
		if s.StartedAt.IsZero() || row.CreatedAt.Before(s.StartedAt) {
			s.StartedAt = row.CreatedAt
		}
		if row.UpdatedAt.After(s.LastUpdated) {
			s.LastUpdated = row.UpdatedAt
		}
	}
	s.MeasurementComplete = s.CompletedAgents == s.TotalAgents

	return s, nil
}

// Tracking returns the per-agent rows backing a Status, for the
// "...+agents" shape of GET /measurement/{id}/status (§6).
func (t *Tracker) Tracking(ctx context.Context, measurementID, userHash string) ([]store.TrackingRow, error) {
	rows, err := t.store.TrackingRows(ctx, measurementID, userHash)
	if err != nil {
		return nil, fmt.Errorf("tracker: tracking: %w", err)
	}
	return rows, nil
}

// ByAgent resolves the tracking row for (measurement_id, agent_id),
// used to recover user_hash from an agent-authenticated status update.
func (t *Tracker) ByAgent(ctx context.Context, measurementID, agentID string) (store.TrackingRow, error) {
	row, err := t.store.TrackingByAgent(ctx, measurementID, agentID)
	if err != nil {
		return store.TrackingRow{}, fmt.Errorf("tracker: by agent: %w", err)
	}
	return row, nil
}
