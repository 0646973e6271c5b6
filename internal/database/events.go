package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smukkama/agv-rtls/internal/model"
)

// InsertEvent appends an event to the log.
func (db *DB) InsertEvent(ctx context.Context, e *model.SystemEvent) error {
	query := `
		INSERT INTO system_events (
			event_id, event_type, severity, agv_id, zone_id, message, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := db.ExecContext(ctx, query,
		e.ID,
		string(e.Type),
		string(e.Severity),
		nullString(e.AGVID),
		nullString(e.ZoneID),
		e.Message,
		string(e.Details),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", e.Type, err)
	}
	return nil
}

// Acknowledge marks an event acknowledged. It is the only mutation the log
// allows and can happen once.
func (db *DB) Acknowledge(ctx context.Context, eventID, actor string, at time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var acknowledged bool
		err := tx.QueryRowContext(ctx,
			`SELECT acknowledged FROM system_events WHERE event_id = $1 FOR UPDATE`,
			eventID,
		).Scan(&acknowledged)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		if err != nil {
			return fmt.Errorf("failed to load event %s: %w", eventID, err)
		}
		if acknowledged {
			return fmt.Errorf("%w: %s", ErrAlreadyAcknowledged, eventID)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE system_events
			SET acknowledged = true, acknowledged_by = $2, acknowledged_at = $3
			WHERE event_id = $1
		`, eventID, actor, at)
		if err != nil {
			return fmt.Errorf("failed to acknowledge event %s: %w", eventID, err)
		}
		return nil
	})
}

// RecentEvents returns the newest events first.
func (db *DB) RecentEvents(ctx context.Context, limit int, unacknowledgedOnly bool) ([]model.SystemEvent, error) {
	query := `
		SELECT event_id, event_type, severity, agv_id, zone_id, message, details,
		       acknowledged, acknowledged_by, acknowledged_at, created_at
		FROM system_events
		WHERE (NOT $2::boolean OR acknowledged = false)
		ORDER BY created_at DESC, event_id
		LIMIT $1
	`
	rows, err := db.QueryContext(ctx, query, limit, unacknowledgedOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.SystemEvent
	for rows.Next() {
		var (
			e                    model.SystemEvent
			eventType, severity  string
			agvID, zoneID, ackBy sql.NullString
			ackAt                sql.NullTime
			details              []byte
		)
		if err := rows.Scan(
			&e.ID,
			&eventType,
			&severity,
			&agvID,
			&zoneID,
			&e.Message,
			&details,
			&e.Acknowledged,
			&ackBy,
			&ackAt,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if e.Type, err = model.ParseEventType(eventType); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		if e.Severity, err = model.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		e.AGVID = stringPtr(agvID)
		e.ZoneID = stringPtr(zoneID)
		e.Details = details
		e.AcknowledgedBy = stringPtr(ackBy)
		e.AcknowledgedAt = timePtr(ackAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// HasRecentEvent reports whether an event of the given type for the same
// subject was created at or after since. A nil agvID or zoneID matches only
// events without one.
func (db *DB) HasRecentEvent(ctx context.Context, eventType model.EventType, agvID, zoneID *string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM system_events
			WHERE event_type = $1
			  AND agv_id IS NOT DISTINCT FROM $2
			  AND zone_id IS NOT DISTINCT FROM $3
			  AND created_at >= $4
		)
	`
	var exists bool
	err := db.QueryRowContext(ctx, query, string(eventType), nullString(agvID), nullString(zoneID), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent events: %w", err)
	}
	return exists, nil
}
