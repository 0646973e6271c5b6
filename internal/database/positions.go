package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/agv-rtls/internal/model"
)

const positionColumns = `id, ts, received_at, agv_id, plant_x, plant_y, heading_deg, speed_mps, accel_mps2,
		lat, lon, quality, zone_id, battery_percent, payload_kg, status, error_code`

const insertColumnCount = 16

// maxInsertRows keeps a multi-row INSERT under the 65535 bind parameter limit.
const maxInsertRows = 1000

// InsertSamples appends samples to the ledger with multi-row INSERTs.
func (db *DB) InsertSamples(ctx context.Context, samples []model.PositionSample) error {
	for start := 0; start < len(samples); start += maxInsertRows {
		end := start + maxInsertRows
		if end > len(samples) {
			end = len(samples)
		}
		if err := db.insertChunk(ctx, samples[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) insertChunk(ctx context.Context, samples []model.PositionSample) error {
	var b strings.Builder
	b.WriteString(`INSERT INTO agv_positions (
			ts, received_at, agv_id, plant_x, plant_y, heading_deg, speed_mps, accel_mps2,
			lat, lon, quality, zone_id, battery_percent, payload_kg, status, error_code
		) VALUES `)

	args := make([]interface{}, 0, len(samples)*insertColumnCount)
	for i, s := range samples {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < insertColumnCount; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*insertColumnCount+c+1)
		}
		b.WriteByte(')')

		args = append(args,
			s.Timestamp,
			s.ReceivedAt,
			s.AGVID,
			s.X,
			s.Y,
			s.Heading,
			s.Speed,
			s.Acceleration,
			s.Lat,
			s.Lon,
			s.Quality,
			nullString(s.ZoneID),
			s.BatteryPercent,
			s.PayloadWeight,
			string(s.Status),
			nullString(s.ErrorCode),
		)
	}

	if _, err := db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to insert %d samples: %w", len(samples), err)
	}
	return nil
}

func scanSamples(rows *sql.Rows) ([]model.PositionSample, error) {
	defer rows.Close()

	var samples []model.PositionSample
	for rows.Next() {
		var (
			s                                   model.PositionSample
			status                              string
			lat, lon, quality, battery, payload sql.NullFloat64
			zoneID, errorCode                   sql.NullString
		)
		if err := rows.Scan(
			&s.ID,
			&s.Timestamp,
			&s.ReceivedAt,
			&s.AGVID,
			&s.X,
			&s.Y,
			&s.Heading,
			&s.Speed,
			&s.Acceleration,
			&lat,
			&lon,
			&quality,
			&zoneID,
			&battery,
			&payload,
			&status,
			&errorCode,
		); err != nil {
			return nil, err
		}
		s.Lat = floatPtr(lat)
		s.Lon = floatPtr(lon)
		s.Quality = floatPtr(quality)
		s.ZoneID = stringPtr(zoneID)
		s.BatteryPercent = floatPtr(battery)
		s.PayloadWeight = floatPtr(payload)
		st, err := model.ParseAGVStatus(status)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", s.ID, err)
		}
		s.Status = st
		s.ErrorCode = stringPtr(errorCode)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Range returns one AGV's samples with start <= ts < end, ordered by
// (ts, id).
func (db *DB) Range(ctx context.Context, agvID string, start, end time.Time) ([]model.PositionSample, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM agv_positions
		WHERE agv_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts, id
	`
	rows, err := db.QueryContext(ctx, query, agvID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples for %s: %w", agvID, err)
	}
	return scanSamples(rows)
}

// SamplesInWindow returns every AGV's samples with start <= ts < end,
// ordered by (agv_id, ts, id). With zonedOnly set, samples without a
// resolved zone are skipped.
func (db *DB) SamplesInWindow(ctx context.Context, start, end time.Time, zonedOnly bool) ([]model.PositionSample, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM agv_positions
		WHERE ts >= $1 AND ts < $2 AND (NOT $3::boolean OR zone_id IS NOT NULL)
		ORDER BY agv_id, ts, id
	`
	rows, err := db.QueryContext(ctx, query, start, end, zonedOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples in window: %w", err)
	}
	return scanSamples(rows)
}

// LatestSample returns the newest sample for agvID at or after since, or nil.
func (db *DB) LatestSample(ctx context.Context, agvID string, since time.Time) (*model.PositionSample, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM agv_positions
		WHERE agv_id = $1 AND ts >= $2
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`
	rows, err := db.QueryContext(ctx, query, agvID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sample for %s: %w", agvID, err)
	}
	samples, err := scanSamples(rows)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return &samples[0], nil
}

// LatestSamples returns the newest sample per AGV at or after since, ordered
// by agv_id.
func (db *DB) LatestSamples(ctx context.Context, since time.Time) ([]model.PositionSample, error) {
	query := `
		SELECT DISTINCT ON (agv_id) ` + positionColumns + `
		FROM agv_positions
		WHERE ts >= $1
		ORDER BY agv_id, ts DESC, id DESC
	`
	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest samples: %w", err)
	}
	return scanSamples(rows)
}

// AnomalousSamples returns the newest sample per AGV at or after since that
// has |accel| above maxAccel (0 disables), quality below minQuality or an
// error code. Ordered by agv_id.
func (db *DB) AnomalousSamples(ctx context.Context, since time.Time, maxAccel, minQuality float64) ([]model.PositionSample, error) {
	query := `
		SELECT DISTINCT ON (agv_id) ` + positionColumns + `
		FROM agv_positions
		WHERE ts >= $1
		  AND (($2 > 0 AND abs(accel_mps2) > $2)
		       OR quality < $3
		       OR COALESCE(error_code, '') <> '')
		ORDER BY agv_id, ts DESC, id DESC
	`
	rows, err := db.QueryContext(ctx, query, since, maxAccel, minQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalous samples: %w", err)
	}
	return scanSamples(rows)
}

// ActiveAGVCount counts distinct AGVs with at least one sample in [start, end).
func (db *DB) ActiveAGVCount(ctx context.Context, start, end time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT agv_id)
		FROM agv_positions
		WHERE ts >= $1 AND ts < $2
	`
	var n int
	if err := db.QueryRowContext(ctx, query, start, end).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count active agvs: %w", err)
	}
	return n, nil
}

// ZoneHit is one (agv, zone) pair seen in a window.
type ZoneHit struct {
	AGVID    string
	ZoneID   string
	LastSeen time.Time
	Samples  int
	MaxSpeed float64
}

// ZoneHits groups samples with ts >= since by (agv_id, zone_id). An empty
// zoneIDs slice means every zone.
func (db *DB) ZoneHits(ctx context.Context, since time.Time, zoneIDs []string) ([]ZoneHit, error) {
	query := `
		SELECT agv_id, zone_id, MAX(ts), COUNT(*), MAX(speed_mps)
		FROM agv_positions
		WHERE ts >= $1 AND zone_id IS NOT NULL
		  AND (cardinality($2::text[]) = 0 OR zone_id = ANY($2))
		GROUP BY agv_id, zone_id
		ORDER BY agv_id, zone_id
	`
	if zoneIDs == nil {
		zoneIDs = []string{}
	}
	rows, err := db.QueryContext(ctx, query, since, pq.Array(zoneIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query zone hits: %w", err)
	}
	defer rows.Close()

	var hits []ZoneHit
	for rows.Next() {
		var h ZoneHit
		if err := rows.Scan(&h.AGVID, &h.ZoneID, &h.LastSeen, &h.Samples, &h.MaxSpeed); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ZoneOccupancy is the set of distinct AGVs seen in a zone.
type ZoneOccupancy struct {
	ZoneID string
	AGVIDs []string
}

// ZoneOccupancies lists, per zone, the distinct AGVs with a sample at or
// after since, ordered by zone_id with AGV ids sorted.
func (db *DB) ZoneOccupancies(ctx context.Context, since time.Time) ([]ZoneOccupancy, error) {
	query := `
		SELECT zone_id, array_agg(DISTINCT agv_id ORDER BY agv_id)
		FROM agv_positions
		WHERE ts >= $1 AND zone_id IS NOT NULL
		GROUP BY zone_id
		ORDER BY zone_id
	`
	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone occupancy: %w", err)
	}
	defer rows.Close()

	var out []ZoneOccupancy
	for rows.Next() {
		var o ZoneOccupancy
		if err := rows.Scan(&o.ZoneID, pq.Array(&o.AGVIDs)); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// BatteryReading is the newest battery level reported by an AGV.
type BatteryReading struct {
	AGVID   string
	Percent float64
	At      time.Time
}

// LatestBatteryBelow returns AGVs whose newest battery reading at or after
// since is below threshold.
func (db *DB) LatestBatteryBelow(ctx context.Context, since time.Time, threshold float64) ([]BatteryReading, error) {
	query := `
		SELECT agv_id, battery_percent, ts
		FROM (
			SELECT DISTINCT ON (agv_id) agv_id, battery_percent, ts
			FROM agv_positions
			WHERE ts >= $1 AND battery_percent IS NOT NULL
			ORDER BY agv_id, ts DESC, id DESC
		) latest
		WHERE battery_percent < $2
		ORDER BY agv_id
	`
	rows, err := db.QueryContext(ctx, query, since, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query battery levels: %w", err)
	}
	defer rows.Close()

	var out []BatteryReading
	for rows.Next() {
		var r BatteryReading
		if err := rows.Scan(&r.AGVID, &r.Percent, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
