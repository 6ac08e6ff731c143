// Package quota implements the daily rolling-window probe accounting of
// §4.4, derived entirely from measurement-tracking rows (no separate
// usage table is written, see §4.6's note on record_probe_usage).
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/nxthdr/saimiris-gateway/pkg/store"
)

// UsageStats is the aggregate returned by GetUsageStats.
type UsageStats struct {
	SubmissionCount int64
	TotalProbes     int64
	Limit           int64
	LastSubmitted   time.Time
}

// Store is the read capability quota depends on.
type Store interface {
	GetUserLimit(ctx context.Context, userHash string) (limit int64, found bool, err error)
	TrackingRowsInWindow(ctx context.Context, userHash string, start, end time.Time) ([]store.TrackingRow, error)
}

// Accountant answers usage and admission questions for a user.
type Accountant struct {
	store Store
	now   func() time.Time
}

// NewAccountant builds an Accountant backed by store.
func NewAccountant(s Store) *Accountant {
	return &Accountant{store: s, now: time.Now}
}

// SetClock overrides the accountant's time source, for deterministic
// tests of window boundaries.
func (a *Accountant) SetClock(now func() time.Time) {
	a.now = now
}

// GetUsageStats computes the aggregate defined in §4.4: submission_count
// is the number of distinct measurement_ids, total_probes sums
// expected_probes (never sent_probes, see the rationale in §4.4),
// last_submitted is the max updated_at, all over tracking rows created
// in [start, end].
func (a *Accountant) GetUsageStats(ctx context.Context, userHash string, start, end time.Time) (UsageStats, error) {
	rows, err := a.store.TrackingRowsInWindow(ctx, userHash, start, end)
	if err != nil {
		return UsageStats{}, fmt.Errorf("quota: tracking rows in window: %w", err)
	}

	limit, found, err := a.store.GetUserLimit(ctx, userHash)
	if err != nil {
		return UsageStats{}, fmt.Errorf("quota: get user limit: %w", err)
	}
	if !found {
		limit = store.DefaultProbeLimit
	}

	stats := UsageStats{Limit: limit}
	measurements := make(map[string]struct{})
	for _, row := range rows {
		measurements[row.MeasurementID] = struct{}{}
		stats.TotalProbes += row.Expected
		if row.UpdatedAt.After(stats.LastSubmitted) {
			stats.LastSubmitted = row.UpdatedAt
		}
	}
	stats.SubmissionCount = int64(len(measurements))

	return stats, nil
}

// CanSubmit reports whether a submission of `additional` more probes
// should be admitted for userHash. window, if nil, defaults to the
// current UTC calendar day (§4.4: "the daily window uses UTC calendar
// day by default"); otherwise it is a rolling window of that duration
// ending now.
func (a *Accountant) CanSubmit(ctx context.Context, userHash string, additional int64, window *time.Duration) (bool, UsageStats, error) {
	end := a.now().UTC()
	var start time.Time
	if window != nil {
		start = end.Add(-*window)
	} else {
		start = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	}

	stats, err := a.GetUsageStats(ctx, userHash, start, end)
	if err != nil {
		return false, UsageStats{}, err
	}

	return stats.TotalProbes+additional <= stats.Limit, stats, nil
}
