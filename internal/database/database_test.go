package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
)

func setupMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return New(sqlDB, zap.NewNop()), mock
}

var sampleCols = []string{
	"id", "ts", "received_at", "agv_id", "plant_x", "plant_y", "heading_deg", "speed_mps", "accel_mps2",
	"lat", "lon", "quality", "zone_id", "battery_percent", "payload_kg", "status", "error_code",
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestInsertSamples_MultiRow(t *testing.T) {
	db, mock := setupMockDB(t)
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	zone := "Z1"
	samples := []model.PositionSample{
		{AGVID: "A1", Timestamp: ts, ReceivedAt: ts, X: 1, Y: 2, Status: model.StatusActive, ZoneID: &zone},
		{AGVID: "A2", Timestamp: ts, ReceivedAt: ts, X: 3, Y: 4, Status: model.StatusIdle},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agv_positions (")).
		WithArgs(anyArgs(2 * insertColumnCount)...).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, db.InsertSamples(context.Background(), samples))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSamples_ChunksLargeBatches(t *testing.T) {
	db, mock := setupMockDB(t)
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	samples := make([]model.PositionSample, maxInsertRows+1)
	for i := range samples {
		samples[i] = model.PositionSample{AGVID: "A1", Timestamp: ts, ReceivedAt: ts, Status: model.StatusActive}
	}

	mock.ExpectExec("INSERT INTO agv_positions").
		WithArgs(anyArgs(maxInsertRows * insertColumnCount)...).
		WillReturnResult(sqlmock.NewResult(0, maxInsertRows))
	mock.ExpectExec("INSERT INTO agv_positions").
		WithArgs(anyArgs(insertColumnCount)...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.InsertSamples(context.Background(), samples))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRange_ScansNullableColumns(t *testing.T) {
	db, mock := setupMockDB(t)
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	rows := sqlmock.NewRows(sampleCols).
		AddRow(int64(7), start, start, "A1", 1.0, 2.0, 90.0, 1.2, 0.0, nil, nil, 0.9, "Z1", 80.0, nil, "ACTIVE", nil).
		AddRow(int64(8), start.Add(time.Second), start, "A1", 1.5, 2.0, 90.0, 0.0, 0.0, 52.1, 4.3, nil, nil, nil, 12.5, "IDLE", "E42")

	mock.ExpectQuery(`FROM agv_positions\s+WHERE agv_id = \$1 AND ts >= \$2 AND ts < \$3\s+ORDER BY ts, id`).
		WithArgs("A1", start, end).
		WillReturnRows(rows)

	samples, err := db.Range(context.Background(), "A1", start, end)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, int64(7), samples[0].ID)
	assert.Nil(t, samples[0].Lat)
	require.NotNil(t, samples[0].ZoneID)
	assert.Equal(t, "Z1", *samples[0].ZoneID)
	assert.Equal(t, 80.0, *samples[0].BatteryPercent)
	assert.Equal(t, model.StatusActive, samples[0].Status)

	assert.False(t, samples[1].HasZone())
	assert.Equal(t, 52.1, *samples[1].Lat)
	assert.Equal(t, "E42", *samples[1].ErrorCode)
	assert.Equal(t, 12.5, *samples[1].PayloadWeight)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSample_NoneFound(t *testing.T) {
	db, mock := setupMockDB(t)
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ORDER BY ts DESC, id DESC\s+LIMIT 1`).
		WithArgs("A1", since).
		WillReturnRows(sqlmock.NewRows(sampleCols))

	s, err := db.LatestSample(context.Background(), "A1", since)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnomalousSamples(t *testing.T) {
	db, mock := setupMockDB(t)
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT DISTINCT ON \(agv_id\).*abs\(accel_mps2\) > \$2.*quality < \$3`).
		WithArgs(since, 3.0, 0.3).
		WillReturnRows(sqlmock.NewRows(sampleCols).
			AddRow(int64(9), since, since, "A1", 1.0, 2.0, 0.0, 0.5, 4.2, nil, nil, 0.9, "Z1", nil, nil, "ACTIVE", nil))

	samples, err := db.AnomalousSamples(context.Background(), since, 3, 0.3)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 4.2, samples[0].Acceleration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneOccupancies(t *testing.T) {
	db, mock := setupMockDB(t)
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("array_agg(DISTINCT agv_id ORDER BY agv_id)")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"zone_id", "agvs"}).
			AddRow("Z-DOCK", "{A1,A2,A3}").
			AddRow("Z-LAB", "{A9}"))

	occ, err := db.ZoneOccupancies(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, occ, 2)
	assert.Equal(t, "Z-DOCK", occ[0].ZoneID)
	assert.Equal(t, []string{"A1", "A2", "A3"}, occ[0].AGVIDs)
	assert.Equal(t, []string{"A9"}, occ[1].AGVIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveBatch_CopiesThenDeletes(t *testing.T) {
	db, mock := setupMockDB(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id\s+FROM agv_positions\s+WHERE ts < \$1\s+ORDER BY id\s+LIMIT \$2\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(cutoff, 500).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectExec(`(?s)INSERT INTO agv_positions_archive .* ON CONFLICT \(id, ts\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM agv_positions\s+WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg(), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	archived, deleted, selected, err := db.ArchiveBatch(context.Background(), cutoff, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(2), archived)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 2, selected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveBatch_RerunAfterSuccessIsNoop(t *testing.T) {
	db, mock := setupMockDB(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(cutoff, 500).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	archived, deleted, selected, err := db.ArchiveBatch(context.Background(), cutoff, 500)
	require.NoError(t, err)
	assert.Zero(t, archived)
	assert.Zero(t, deleted)
	assert.Zero(t, selected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveBatch_DeleteFailureRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(cutoff, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO agv_positions_archive").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM agv_positions").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	archived, deleted, _, err := db.ArchiveBatch(context.Background(), cutoff, 10)
	require.Error(t, err)
	assert.Zero(t, archived)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsurePartitions(t *testing.T) {
	db, mock := setupMockDB(t)
	from := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "agv_positions_p20260301" PARTITION OF agv_positions FOR VALUES FROM ('2026-03-01T00:00:00Z') TO ('2026-03-02T00:00:00Z')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`"agv_positions_p20260302"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.EnsurePartitions(context.Background(), from, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropEmptyPartitionsBefore(t *testing.T) {
	db, mock := setupMockDB(t)
	cutoff := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM pg_inherits").
		WillReturnRows(sqlmock.NewRows([]string{"relname"}).
			AddRow("agv_positions_p20260301").
			AddRow("agv_positions_default").
			AddRow("agv_positions_p20260102").
			AddRow("agv_positions_p20260101"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM "agv_positions_p20260101")`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "agv_positions_p20260101"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM "agv_positions_p20260102")`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	dropped, err := db.DropEmptyPartitionsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"agv_positions_p20260101"}, dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadZones(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery("FROM plant_zones").
		WillReturnRows(sqlmock.NewRows([]string{"zone_id", "name", "category", "zone_type", "max_speed_mps", "max_agvs", "priority", "vertices", "is_active"}).
			AddRow("Z1", "Dock", "logistics", "STAGING", 1.5, 3, 1, []byte(`[{"x":0,"y":0},{"x":10,"y":0},{"x":10,"y":5}]`), true))

	zones, err := db.LoadZones(context.Background())
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, model.ZoneStaging, zones[0].Type)
	assert.Equal(t, []model.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 5}}, zones[0].Vertices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadZones_RejectsUnknownType(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery("FROM plant_zones").
		WillReturnRows(sqlmock.NewRows([]string{"zone_id", "name", "category", "zone_type", "max_speed_mps", "max_agvs", "priority", "vertices", "is_active"}).
			AddRow("Z1", "Dock", "", "LOUNGE", 0.0, 0, 0, []byte(`[]`), true))

	_, err := db.LoadZones(context.Background())
	assert.ErrorIs(t, err, model.ErrUnknownZoneType)
}

func TestGetAGV_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery("FROM agv_registry WHERE agv_id = \\$1").
		WithArgs("GHOST").
		WillReturnRows(sqlmock.NewRows([]string{"agv_id"}))

	a, err := db.GetAGV(context.Background(), "GHOST")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAGVs(t *testing.T) {
	db, mock := setupMockDB(t)
	seen := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM agv_registry ORDER BY agv_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"agv_id", "display_name", "agv_type", "max_speed_mps", "max_payload_kg", "home_zone_id",
			"total_distance_km", "total_runtime_hours", "maintenance_due_date", "status", "last_seen",
		}).
			AddRow("A1", "Tugger 1", "tugger", 2.0, 500.0, "Z-HOME", 120.5, 300.0, nil, "ACTIVE", seen).
			AddRow("A2", "Forklift 2", "forklift", 1.5, 1200.0, nil, 0.0, 0.0, nil, "OFFLINE", nil))

	agvs, err := db.ListAGVs(context.Background())
	require.NoError(t, err)
	require.Len(t, agvs, 2)
	assert.Equal(t, "Z-HOME", *agvs[0].HomeZoneID)
	assert.Equal(t, seen, *agvs[0].LastSeen)
	assert.Nil(t, agvs[1].HomeZoneID)
	assert.Nil(t, agvs[1].LastSeen)
	assert.Equal(t, model.StatusOffline, agvs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchLastSeen(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("GREATEST(COALESCE(r.last_seen, v.ts), v.ts)")).
		WithArgs("{\"A1\"}", "{\"2026-03-01T08:00:00Z\"}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.TouchLastSeen(context.Background(), map[string]time.Time{
		"A1": time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.NoError(t, db.TouchLastSeen(context.Background(), nil))
}

func TestUpsertHourly(t *testing.T) {
	db, mock := setupMockDB(t)
	hour := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	avg := 1.1

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("ON CONFLICT (agv_id, hour_start) DO UPDATE"))
	prep.ExpectExec().
		WithArgs("A1", hour, 120.0, avg, 1.8, 600.0, 1200.0, 5400, 2, 3, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("A2", hour, 0.0, nil, nil, 0.0, 0.0, 0, 0, 0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	peak := 1.8
	err := db.UpsertHourly(context.Background(), []model.HourlyAggregate{
		{AGVID: "A1", HourStart: hour, TotalDistance: 120, AvgSpeed: &avg, MaxSpeed: &peak, IdleSeconds: 600, MovingSeconds: 1200, SampleCount: 5400, TaskCount: 2, ZoneTransitions: 3},
		{AGVID: "A2", HourStart: hour},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHourlyForAGV(t *testing.T) {
	db, mock := setupMockDB(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	cols := []string{"agv_id", "hour_start", "total_distance_m", "avg_speed_mps", "max_speed_mps",
		"idle_seconds", "moving_seconds", "sample_count", "task_count", "zone_transitions", "anomaly_count"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM agv_analytics_hourly")).
		WithArgs("A1", start, end).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("A1", start.Add(8*time.Hour), 120.0, 1.1, 1.8, 600.0, 1200.0, 5400, 2, 3, 1).
			AddRow("A1", start.Add(9*time.Hour), 0.0, nil, nil, 0.0, 0.0, 0, 1, 0, 0))

	rows, err := db.HourlyForAGV(context.Background(), "A1", start, end)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].AvgSpeed)
	assert.Equal(t, 1.1, *rows[0].AvgSpeed)
	assert.Equal(t, 1, rows[0].AnomalyCount)
	assert.Nil(t, rows[1].AvgSpeed)
	assert.Nil(t, rows[1].MaxSpeed)
	assert.Equal(t, 1, rows[1].TaskCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumDistance(t *testing.T) {
	db, mock := setupMockDB(t)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(SUM(total_distance_m), 0)")).
		WithArgs(day, day.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(4321.5))

	total, err := db.SumDistance(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4321.5, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInProgressTasks_RejectsUnknownStatus(t *testing.T) {
	db, mock := setupMockDB(t)
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE status = 'IN_PROGRESS'").
		WillReturnRows(sqlmock.NewRows([]string{
			"task_id", "agv_id", "status", "origin_zone_id", "destination_zone_id",
			"created_at", "started_at", "completed_at", "distance_m",
		}).AddRow("T1", "A1", "PAUSED", nil, nil, created, nil, nil, nil))

	_, err := db.InProgressTasks(context.Background())
	assert.ErrorIs(t, err, model.ErrUnknownTaskState)
}

func TestInsertEvent(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ev := model.NewSystemEvent(model.EventZoneViolation, model.SeverityCritical, "entered", nil, now).WithAGV("A1")

	mock.ExpectExec("INSERT INTO system_events").
		WithArgs(ev.ID, "ZONE_VIOLATION", "CRITICAL", "A1", nil, "entered", "{}", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, db.InsertEvent(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledge(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT acknowledged FROM system_events").
			WithArgs("ev-1").
			WillReturnRows(sqlmock.NewRows([]string{"acknowledged"}).AddRow(false))
		mock.ExpectExec("UPDATE system_events").
			WithArgs("ev-1", "operator", at).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, db.Acknowledge(context.Background(), "ev-1", "operator", at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT acknowledged FROM system_events").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"acknowledged"}))
		mock.ExpectRollback()

		err := db.Acknowledge(context.Background(), "missing", "operator", at)
		assert.ErrorIs(t, err, ErrEventNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already acknowledged", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT acknowledged FROM system_events").
			WithArgs("ev-1").
			WillReturnRows(sqlmock.NewRows([]string{"acknowledged"}).AddRow(true))
		mock.ExpectRollback()

		err := db.Acknowledge(context.Background(), "ev-1", "operator", at)
		assert.ErrorIs(t, err, ErrAlreadyAcknowledged)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHasRecentEvent(t *testing.T) {
	db, mock := setupMockDB(t)
	since := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	agv, zone := "A1", "Z-LAB"

	mock.ExpectQuery("IS NOT DISTINCT FROM").
		WithArgs("ZONE_VIOLATION", "A1", "Z-LAB", since).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := db.HasRecentEvent(context.Background(), model.EventZoneViolation, &agv, &zone, since)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentEvents(t *testing.T) {
	db, mock := setupMockDB(t)
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM system_events").
		WithArgs(10, true).
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "event_type", "severity", "agv_id", "zone_id", "message", "details",
			"acknowledged", "acknowledged_by", "acknowledged_at", "created_at",
		}).AddRow("ev-1", "BATTERY_LOW", "WARNING", "A1", nil, "low", []byte(`{"battery_percent":12}`), false, nil, nil, created))

	events, err := db.RecentEvents(context.Background(), 10, true)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventBatteryLow, events[0].Type)
	assert.Nil(t, events[0].ZoneID)
	assert.JSONEq(t, `{"battery_percent":12}`, string(events[0].Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}
