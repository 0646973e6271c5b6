package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smukkama/agv-rtls/internal/model"
)

// UpsertHourly writes hourly aggregates, overwriting any existing row for the
// same (agv_id, hour_start).
func (db *DB) UpsertHourly(ctx context.Context, aggs []model.HourlyAggregate) error {
	query := `
		INSERT INTO agv_analytics_hourly (
			agv_id, hour_start, total_distance_m, avg_speed_mps, max_speed_mps,
			idle_seconds, moving_seconds, sample_count, task_count, zone_transitions, anomaly_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (agv_id, hour_start) DO UPDATE
		SET total_distance_m = EXCLUDED.total_distance_m,
		    avg_speed_mps = EXCLUDED.avg_speed_mps,
		    max_speed_mps = EXCLUDED.max_speed_mps,
		    idle_seconds = EXCLUDED.idle_seconds,
		    moving_seconds = EXCLUDED.moving_seconds,
		    sample_count = EXCLUDED.sample_count,
		    task_count = EXCLUDED.task_count,
		    zone_transitions = EXCLUDED.zone_transitions,
		    anomaly_count = EXCLUDED.anomaly_count,
		    updated_at = CURRENT_TIMESTAMP
	`
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare hourly upsert: %w", err)
		}
		defer stmt.Close()

		for _, a := range aggs {
			if _, err := stmt.ExecContext(ctx,
				a.AGVID,
				a.HourStart,
				a.TotalDistance,
				a.AvgSpeed,
				a.MaxSpeed,
				a.IdleSeconds,
				a.MovingSeconds,
				a.SampleCount,
				a.TaskCount,
				a.ZoneTransitions,
				a.AnomalyCount,
			); err != nil {
				return fmt.Errorf("failed to upsert hourly aggregate for %s: %w", a.AGVID, err)
			}
		}
		return nil
	})
}

// HourlyForAGV returns an AGV's hourly aggregates with start <= hour_start < end.
func (db *DB) HourlyForAGV(ctx context.Context, agvID string, start, end time.Time) ([]model.HourlyAggregate, error) {
	query := `
		SELECT agv_id, hour_start, total_distance_m, avg_speed_mps, max_speed_mps,
		       idle_seconds, moving_seconds, sample_count, task_count, zone_transitions, anomaly_count
		FROM agv_analytics_hourly
		WHERE agv_id = $1 AND hour_start >= $2 AND hour_start < $3
		ORDER BY hour_start
	`
	rows, err := db.QueryContext(ctx, query, agvID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly aggregates: %w", err)
	}
	defer rows.Close()

	var out []model.HourlyAggregate
	for rows.Next() {
		var (
			a                  model.HourlyAggregate
			avgSpeed, maxSpeed sql.NullFloat64
		)
		if err := rows.Scan(
			&a.AGVID,
			&a.HourStart,
			&a.TotalDistance,
			&avgSpeed,
			&maxSpeed,
			&a.IdleSeconds,
			&a.MovingSeconds,
			&a.SampleCount,
			&a.TaskCount,
			&a.ZoneTransitions,
			&a.AnomalyCount,
		); err != nil {
			return nil, err
		}
		a.AvgSpeed = floatPtr(avgSpeed)
		a.MaxSpeed = floatPtr(maxSpeed)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SumDistance totals the hourly distance for hours with start <= hour_start < end.
func (db *DB) SumDistance(ctx context.Context, start, end time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(total_distance_m), 0)
		FROM agv_analytics_hourly
		WHERE hour_start >= $1 AND hour_start < $2
	`
	var total float64
	if err := db.QueryRowContext(ctx, query, start, end).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum hourly distance: %w", err)
	}
	return total, nil
}
