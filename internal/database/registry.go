package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/agv-rtls/internal/model"
)

const agvColumns = `agv_id, display_name, agv_type, max_speed_mps, max_payload_kg, home_zone_id,
		total_distance_km, total_runtime_hours, maintenance_due_date, status, last_seen`

func scanAGV(scan func(dest ...interface{}) error) (*model.AGV, error) {
	var (
		a          model.AGV
		status     string
		homeZone   sql.NullString
		dueDate    sql.NullTime
		lastSeenAt sql.NullTime
	)
	if err := scan(
		&a.ID,
		&a.DisplayName,
		&a.Type,
		&a.MaxSpeed,
		&a.MaxPayload,
		&homeZone,
		&a.TotalDistanceKm,
		&a.TotalRuntimeHours,
		&dueDate,
		&status,
		&lastSeenAt,
	); err != nil {
		return nil, err
	}
	a.HomeZoneID = stringPtr(homeZone)
	a.MaintenanceDueDate = timePtr(dueDate)
	st, err := model.ParseAGVStatus(status)
	if err != nil {
		return nil, fmt.Errorf("agv %s: %w", a.ID, err)
	}
	a.Status = st
	a.LastSeen = timePtr(lastSeenAt)
	return &a, nil
}

// GetAGV retrieves a registry entry, or nil if it does not exist.
func (db *DB) GetAGV(ctx context.Context, agvID string) (*model.AGV, error) {
	query := `SELECT ` + agvColumns + ` FROM agv_registry WHERE agv_id = $1`

	a, err := scanAGV(db.QueryRowContext(ctx, query, agvID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agv %s: %w", agvID, err)
	}
	return a, nil
}

// ListAGVs returns the whole registry ordered by agv_id.
func (db *DB) ListAGVs(ctx context.Context) ([]model.AGV, error) {
	query := `SELECT ` + agvColumns + ` FROM agv_registry ORDER BY agv_id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agvs: %w", err)
	}
	defer rows.Close()

	var agvs []model.AGV
	for rows.Next() {
		a, err := scanAGV(rows.Scan)
		if err != nil {
			return nil, err
		}
		agvs = append(agvs, *a)
	}
	return agvs, rows.Err()
}

// ListAGVIDs returns every registered agv_id.
func (db *DB) ListAGVIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT agv_id FROM agv_registry ORDER BY agv_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agv ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountAGVs returns the registry size.
func (db *DB) CountAGVs(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agv_registry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count agvs: %w", err)
	}
	return n, nil
}

// TouchLastSeen advances last_seen for each AGV; it never moves backwards.
func (db *DB) TouchLastSeen(ctx context.Context, seen map[string]time.Time) error {
	if len(seen) == 0 {
		return nil
	}
	ids := make([]string, 0, len(seen))
	stamps := make([]string, 0, len(seen))
	for id, ts := range seen {
		ids = append(ids, id)
		stamps = append(stamps, ts.UTC().Format(time.RFC3339Nano))
	}

	query := `
		UPDATE agv_registry r
		SET last_seen = GREATEST(COALESCE(r.last_seen, v.ts), v.ts)
		FROM unnest($1::text[], $2::timestamptz[]) AS v(agv_id, ts)
		WHERE r.agv_id = v.agv_id
	`
	if _, err := db.ExecContext(ctx, query, pq.Array(ids), pq.Array(stamps)); err != nil {
		return fmt.Errorf("failed to update last_seen: %w", err)
	}
	return nil
}
