package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/smukkama/agv-rtls/internal/model"
)

// LoadZones returns the active zones. Derived geometry is left to the zone
// index.
func (db *DB) LoadZones(ctx context.Context) ([]model.Zone, error) {
	query := `
		SELECT zone_id, name, category, zone_type, max_speed_mps, max_agvs, priority, vertices, is_active
		FROM plant_zones
		WHERE is_active = true
		ORDER BY zone_id
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var (
			z        model.Zone
			zoneType string
			vertices []byte
		)
		if err := rows.Scan(
			&z.ID,
			&z.Name,
			&z.Category,
			&zoneType,
			&z.MaxSpeed,
			&z.MaxAGVs,
			&z.Priority,
			&vertices,
			&z.Active,
		); err != nil {
			return nil, err
		}
		if z.Type, err = model.ParseZoneType(zoneType); err != nil {
			return nil, fmt.Errorf("zone %s: %w", z.ID, err)
		}
		if err := json.Unmarshal(vertices, &z.Vertices); err != nil {
			return nil, fmt.Errorf("zone %s: invalid vertices: %w", z.ID, err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// UpsertZone inserts or updates a zone definition
func (db *DB) UpsertZone(ctx context.Context, z *model.Zone) error {
	vertices, err := json.Marshal(z.Vertices)
	if err != nil {
		return fmt.Errorf("failed to encode vertices: %w", err)
	}
	query := `
		INSERT INTO plant_zones (zone_id, name, category, zone_type, max_speed_mps, max_agvs, priority, vertices, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (zone_id) DO UPDATE
		SET name = EXCLUDED.name,
		    category = EXCLUDED.category,
		    zone_type = EXCLUDED.zone_type,
		    max_speed_mps = EXCLUDED.max_speed_mps,
		    max_agvs = EXCLUDED.max_agvs,
		    priority = EXCLUDED.priority,
		    vertices = EXCLUDED.vertices,
		    is_active = EXCLUDED.is_active,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err = db.ExecContext(ctx, query,
		z.ID,
		z.Name,
		z.Category,
		string(z.Type),
		z.MaxSpeed,
		z.MaxAGVs,
		z.Priority,
		string(vertices),
		z.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert zone %s: %w", z.ID, err)
	}
	return nil
}
