// Package store defines the repository capability set the gateway's core
// depends on (§4.4, §4.5, §6 "Persisted state") and provides two
// implementations selected at construction: a Postgres-backed Repository
// and an in-memory one for tests and local development, per the design
// note "Storage has two variants... Model as a capability set... there
// is no inheritance."
package store

import (
	"context"
	"time"

	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
)

// TrackingRow is one row of measurement_tracking (§3).
type TrackingRow struct {
	ID            string
	UserHash      string
	MeasurementID string
	AgentID       string
	Expected      int64
	Sent          int64
	Complete      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserLimit is one row of user_limits (§3). When a user has no row,
// GetUserLimit reports found=false and the caller applies the default
// limit.
type UserLimit struct {
	UserHash  string
	Limit     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultProbeLimit is applied when a user has no explicit UserLimit row
// (§3: "Absent rows imply the default limit (10,000)").
const DefaultProbeLimit = 10_000

// ErrTrackingConflict is returned by CreateTracking when a row for
// (measurement_id, agent_id) already exists (§3 uniqueness).
var ErrTrackingConflict = errConflict{}

type errConflict struct{}

func (errConflict) Error() string { return "store: tracking row already exists for (measurement_id, agent_id)" }

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "store: no matching row" }

// Repository is the full persistence capability set the core depends on.
// It embeds prefix.TagStore so pkg/prefix.Allocator can be constructed
// directly from a Repository.
type Repository interface {
	prefix.TagStore

	// GetUserLimit returns the configured limit for userHash, or
	// found=false if none is set (caller applies DefaultProbeLimit).
	GetUserLimit(ctx context.Context, userHash string) (limit int64, found bool, err error)

	// UpsertUserLimit creates or updates the limit for userHash,
	// preserving created_at on update (§3 invariant).
	UpsertUserLimit(ctx context.Context, userHash string, limit int64) error

	// CreateTracking inserts a fresh tracking row with sent=0,
	// is_complete=false. Returns ErrTrackingConflict on a duplicate
	// (measurement_id, agent_id).
	CreateTracking(ctx context.Context, userHash, measurementID, agentID string, expected int64) (TrackingRow, error)

	// UpdateTracking overwrites sent and bumps updated_at for the row
	// identified by (measurement_id, agent_id). The in-memory
	// implementation overwrites is_complete as given; the Postgres
	// implementation never clears an is_complete that is already set.
	// The caller (pkg/tracker) enforces the monotonic is_complete rule
	// for both.
	UpdateTracking(ctx context.Context, measurementID, agentID string, sent int64, complete bool) error

	// TrackingRows returns every row for (measurement_id, user_hash).
	TrackingRows(ctx context.Context, measurementID, userHash string) ([]TrackingRow, error)

	// TrackingByAgent resolves the tracking row for (measurement_id,
	// agent_id), used by agent-authenticated updates to recover user_hash.
	TrackingByAgent(ctx context.Context, measurementID, agentID string) (TrackingRow, error)

	// TrackingRowsInWindow returns every tracking row for userHash whose
	// created_at falls in [start, end], across all measurements. Used by
	// pkg/quota to compute usage stats.
	TrackingRowsInWindow(ctx context.Context, userHash string, start, end time.Time) ([]TrackingRow, error)
}
