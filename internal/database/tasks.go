package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smukkama/agv-rtls/internal/model"
)

const taskColumns = `task_id, agv_id, status, origin_zone_id, destination_zone_id,
		created_at, started_at, completed_at, distance_m`

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var (
			t                    model.Task
			status               string
			origin, destination  sql.NullString
			startedAt, completed sql.NullTime
			distance             sql.NullFloat64
		)
		if err := rows.Scan(
			&t.ID,
			&t.AGVID,
			&status,
			&origin,
			&destination,
			&t.CreatedAt,
			&startedAt,
			&completed,
			&distance,
		); err != nil {
			return nil, err
		}
		st, err := model.ParseTaskStatus(status)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
		t.Status = st
		t.OriginZoneID = stringPtr(origin)
		t.DestinationZone = stringPtr(destination)
		t.StartedAt = timePtr(startedAt)
		t.CompletedAt = timePtr(completed)
		t.DistanceMeters = floatPtr(distance)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// InProgressTasks returns every IN_PROGRESS task ordered by (agv_id, task_id).
func (db *DB) InProgressTasks(ctx context.Context) ([]model.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM agv_tasks
		WHERE status = 'IN_PROGRESS'
		ORDER BY agv_id, task_id
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query in-progress tasks: %w", err)
	}
	return scanTasks(rows)
}

// CompletedTasks returns tasks completed within [start, end). An empty agvID
// means every AGV.
func (db *DB) CompletedTasks(ctx context.Context, agvID string, start, end time.Time) ([]model.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM agv_tasks
		WHERE status = 'COMPLETED'
		  AND completed_at >= $1 AND completed_at < $2
		  AND ($3 = '' OR agv_id = $3)
		ORDER BY completed_at, task_id
	`
	rows, err := db.QueryContext(ctx, query, start, end, agvID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed tasks: %w", err)
	}
	return scanTasks(rows)
}
