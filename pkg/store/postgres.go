package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
)

// pgUniqueViolation is Postgres' SQLSTATE for a unique_violation.
const pgUniqueViolation = "23505"

// PostgresRepository is the production Repository, backed by a pgx
// connection pool. The user_id_mappings insert uses the database's
// unique constraints as the compare-and-set primitive described in
// §4.2/§5 ("the tag-mapping insert MUST use a unique-constraint-based
// compare-and-set to be safe under concurrent first-touch").
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an already-connected pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

func (p *PostgresRepository) LookupTag(ctx context.Context, userHash string) (uint32, bool, error) {
	var tag uint32
	err := p.pool.QueryRow(ctx,
		`SELECT user_tag FROM user_id_mappings WHERE user_hash = $1`, userHash,
	).Scan(&tag)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: lookup tag: %w", err)
	}
	return tag, true, nil
}

func (p *PostgresRepository) InsertTag(ctx context.Context, userHash string, tag uint32) (prefix.ConflictKind, error) {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO user_id_mappings (user_hash, user_tag, created_at) VALUES ($1, $2, now())`,
		userHash, tag,
	)
	if err == nil {
		return prefix.NoConflict, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "user_id_mappings_pkey", "user_id_mappings_user_hash_key":
			return prefix.UserHashConflict, nil
		case "user_id_mappings_user_tag_key":
			return prefix.UserTagConflict, nil
		}
		// Constraint name unavailable from the driver/server: fall back
		// to re-reading by user_hash to disambiguate.
		if _, found, lookupErr := p.LookupTag(ctx, userHash); lookupErr == nil && found {
			return prefix.UserHashConflict, nil
		}
		return prefix.UserTagConflict, nil
	}

	return prefix.NoConflict, fmt.Errorf("store: insert tag: %w", err)
}

func (p *PostgresRepository) GetUserLimit(ctx context.Context, userHash string) (int64, bool, error) {
	var limit int64
	err := p.pool.QueryRow(ctx,
		`SELECT probe_limit FROM user_limits WHERE user_hash = $1`, userHash,
	).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get user limit: %w", err)
	}
	return limit, true, nil
}

func (p *PostgresRepository) UpsertUserLimit(ctx context.Context, userHash string, limit int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_limits (user_hash, probe_limit, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (user_hash) DO UPDATE
		SET probe_limit = EXCLUDED.probe_limit, updated_at = now()`,
		userHash, limit,
	)
	if err != nil {
		return fmt.Errorf("store: upsert user limit: %w", err)
	}
	return nil
}

func (p *PostgresRepository) CreateTracking(ctx context.Context, userHash, measurementID, agentID string, expected int64) (TrackingRow, error) {
	var row TrackingRow
	err := p.pool.QueryRow(ctx, `
		INSERT INTO measurement_tracking
			(user_hash, measurement_id, agent_id, expected_probes, sent_probes, is_complete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, false, now(), now())
		RETURNING id, user_hash, measurement_id, agent_id, expected_probes, sent_probes, is_complete, created_at, updated_at`,
		userHash, measurementID, agentID, expected,
	).Scan(&row.ID, &row.UserHash, &row.MeasurementID, &row.AgentID, &row.Expected, &row.Sent, &row.Complete, &row.CreatedAt, &row.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return TrackingRow{}, ErrTrackingConflict
	}
	if err != nil {
		return TrackingRow{}, fmt.Errorf("store: create tracking: %w", err)
	}
	return row, nil
}

func (p *PostgresRepository) UpdateTracking(ctx context.Context, measurementID, agentID string, sent int64, complete bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE measurement_tracking
		SET sent_probes = $3, is_complete = is_complete OR $4, updated_at = now()
		WHERE measurement_id = $1 AND agent_id = $2`,
		measurementID, agentID, sent, complete,
	)
	if err != nil {
		return fmt.Errorf("store: update tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresRepository) TrackingRows(ctx context.Context, measurementID, userHash string) ([]TrackingRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_hash, measurement_id, agent_id, expected_probes, sent_probes, is_complete, created_at, updated_at
		FROM measurement_tracking
		WHERE measurement_id = $1 AND user_hash = $2`,
		measurementID, userHash,
	)
	if err != nil {
		return nil, fmt.Errorf("store: tracking rows: %w", err)
	}
	defer rows.Close()
	return scanTrackingRows(rows)
}

func (p *PostgresRepository) TrackingByAgent(ctx context.Context, measurementID, agentID string) (TrackingRow, error) {
	var row TrackingRow
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_hash, measurement_id, agent_id, expected_probes, sent_probes, is_complete, created_at, updated_at
		FROM measurement_tracking
		WHERE measurement_id = $1 AND agent_id = $2`,
		measurementID, agentID,
	).Scan(&row.ID, &row.UserHash, &row.MeasurementID, &row.AgentID, &row.Expected, &row.Sent, &row.Complete, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TrackingRow{}, ErrNotFound
	}
	if err != nil {
		return TrackingRow{}, fmt.Errorf("store: tracking by agent: %w", err)
	}
	return row, nil
}

func (p *PostgresRepository) TrackingRowsInWindow(ctx context.Context, userHash string, start, end time.Time) ([]TrackingRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_hash, measurement_id, agent_id, expected_probes, sent_probes, is_complete, created_at, updated_at
		FROM measurement_tracking
		WHERE user_hash = $1 AND created_at BETWEEN $2 AND $3`,
		userHash, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("store: tracking rows in window: %w", err)
	}
	defer rows.Close()
	return scanTrackingRows(rows)
}

func scanTrackingRows(rows pgx.Rows) ([]TrackingRow, error) {
	var out []TrackingRow
	for rows.Next() {
		var row TrackingRow
		if err := rows.Scan(&row.ID, &row.UserHash, &row.MeasurementID, &row.AgentID, &row.Expected, &row.Sent, &row.Complete, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan tracking row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate tracking rows: %w", err)
	}
	return out, nil
}
