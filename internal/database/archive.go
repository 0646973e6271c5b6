package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ArchiveBatch moves up to limit samples older than cutoff into
// agv_positions_archive in one transaction. The copy skips rows the archive
// already holds, so a batch interrupted before commit can be rerun safely.
// It returns the rows newly archived, the rows deleted from the hot table,
// and the number of rows selected; fewer than limit selected means nothing
// else is due.
func (db *DB) ArchiveBatch(ctx context.Context, cutoff time.Time, limit int) (archived, deleted int64, selected int, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := lockArchivable(ctx, tx, cutoff, limit)
		if err != nil {
			return err
		}
		selected = len(ids)
		if selected == 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO agv_positions_archive (
				id, ts, received_at, agv_id, plant_x, plant_y, heading_deg, speed_mps, accel_mps2,
				lat, lon, quality, zone_id, battery_percent, payload_kg, status, error_code
			)
			SELECT `+positionColumns+`
			FROM agv_positions
			WHERE id = ANY($1) AND ts < $2
			ON CONFLICT (id, ts) DO NOTHING
		`, pq.Array(ids), cutoff)
		if err != nil {
			return fmt.Errorf("failed to copy samples to archive: %w", err)
		}
		if archived, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			DELETE FROM agv_positions
			WHERE id = ANY($1) AND ts < $2
		`, pq.Array(ids), cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete archived samples: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, 0, 0, err
	}
	return archived, deleted, selected, nil
}

func lockArchivable(ctx context.Context, tx *sql.Tx, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id
		FROM agv_positions
		WHERE ts < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select archivable samples: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
