package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
)

// MemoryRepository is an in-memory Repository implementation, used by
// tests and by the gateway's -storage.backend=memory developer mode.
type MemoryRepository struct {
	mu sync.Mutex

	tagByHash map[string]uint32
	tagOwner  map[uint32]string

	limits map[string]UserLimit

	tracking   map[string]*TrackingRow // key: measurementID+"/"+agentID
	now        func() time.Time
	idSeq      int
}

// NewMemoryRepository builds an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tagByHash: make(map[string]uint32),
		tagOwner:  make(map[uint32]string),
		limits:    make(map[string]UserLimit),
		tracking:  make(map[string]*TrackingRow),
		now:       time.Now,
	}
}

var _ Repository = (*MemoryRepository)(nil)

// SetClock overrides the repository's time source, for deterministic
// tests of created_at/updated_at behavior.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryRepository) LookupTag(_ context.Context, userHash string) (uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag, ok := m.tagByHash[userHash]
	return tag, ok, nil
}

func (m *MemoryRepository) InsertTag(_ context.Context, userHash string, tag uint32) (prefix.ConflictKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tagByHash[userHash]; exists {
		return prefix.UserHashConflict, nil
	}
	if owner, exists := m.tagOwner[tag]; exists && owner != userHash {
		return prefix.UserTagConflict, nil
	}
	m.tagByHash[userHash] = tag
	m.tagOwner[tag] = userHash
	return prefix.NoConflict, nil
}

func (m *MemoryRepository) GetUserLimit(_ context.Context, userHash string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limits[userHash]
	if !ok {
		return 0, false, nil
	}
	return l.Limit, true, nil
}

func (m *MemoryRepository) UpsertUserLimit(_ context.Context, userHash string, limit int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.limits[userHash]
	createdAt := now
	if ok {
		createdAt = existing.CreatedAt
	}
	m.limits[userHash] = UserLimit{
		UserHash:  userHash,
		Limit:     limit,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	return nil
}

func (m *MemoryRepository) CreateTracking(_ context.Context, userHash, measurementID, agentID string, expected int64) (TrackingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := measurementID + "/" + agentID
	if _, exists := m.tracking[key]; exists {
		return TrackingRow{}, ErrTrackingConflict
	}

	m.idSeq++
	now := m.now()
	row := &TrackingRow{
		ID:            strconv.Itoa(m.idSeq),
		UserHash:      userHash,
		MeasurementID: measurementID,
		AgentID:       agentID,
		Expected:      expected,
		Sent:          0,
		Complete:      false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.tracking[key] = row
	return *row, nil
}

func (m *MemoryRepository) UpdateTracking(_ context.Context, measurementID, agentID string, sent int64, complete bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := measurementID + "/" + agentID
	row, ok := m.tracking[key]
	if !ok {
		return ErrNotFound
	}
	row.Sent = sent
	row.Complete = complete
	row.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) TrackingRows(_ context.Context, measurementID, userHash string) ([]TrackingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []TrackingRow
	for _, row := range m.tracking {
		if row.MeasurementID == measurementID && row.UserHash == userHash {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

func (m *MemoryRepository) TrackingByAgent(_ context.Context, measurementID, agentID string) (TrackingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := measurementID + "/" + agentID
	row, ok := m.tracking[key]
	if !ok {
		return TrackingRow{}, ErrNotFound
	}
	return *row, nil
}

func (m *MemoryRepository) TrackingRowsInWindow(_ context.Context, userHash string, start, end time.Time) ([]TrackingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []TrackingRow
	for _, row := range m.tracking {
		if row.UserHash != userHash {
			continue
		}
		if row.CreatedAt.Before(start) || row.CreatedAt.After(end) {
			continue
		}
		rows = append(rows, *row)
	}
	return rows, nil
}
