package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/agv-rtls/internal/model"
)

var received = time.Date(2026, 3, 1, 8, 0, 1, 0, time.UTC)

func TestDecodePosition_Valid(t *testing.T) {
	data := []byte(`{"agv_id":"A1","ts":"2026-03-01T08:00:00.123456Z","plant_x":12.5,"plant_y":4,
		"heading_deg":90,"speed_mps":1.2,"battery_percent":81.5,"status":"idle","quality":0.9}`)

	s, err := DecodePosition(data, "", received)
	require.NoError(t, err)
	assert.Equal(t, "A1", s.AGVID)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 123000000, time.UTC), s.Timestamp)
	assert.Equal(t, 12.5, s.X)
	assert.Equal(t, 4.0, s.Y)
	assert.Equal(t, model.StatusIdle, s.Status)
	assert.Equal(t, 81.5, *s.BatteryPercent)
	assert.Nil(t, s.Lat)
	assert.Equal(t, received, s.ReceivedAt)
}

func TestDecodePosition_TopicFallback(t *testing.T) {
	s, err := DecodePosition([]byte(`{"ts":"2026-03-01T08:00:00Z","plant_x":0,"plant_y":0}`), "A7", received)
	require.NoError(t, err)
	assert.Equal(t, "A7", s.AGVID)
	assert.Equal(t, model.StatusActive, s.Status)

	s, err = DecodePosition([]byte(`{"agv_id":"A1","ts":"2026-03-01T08:00:00Z","plant_x":0,"plant_y":0}`), "A7", received)
	require.NoError(t, err)
	assert.Equal(t, "A1", s.AGVID)
}

func TestDecodePosition_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"missing agv id", `{"ts":"2026-03-01T08:00:00Z","plant_x":1,"plant_y":1}`, "agv_id"},
		{"missing timestamp", `{"agv_id":"A1","plant_x":1,"plant_y":1}`, "timestamp"},
		{"bad timestamp", `{"agv_id":"A1","ts":"yesterday","plant_x":1,"plant_y":1}`, "timestamp"},
		{"missing x", `{"agv_id":"A1","ts":"2026-03-01T08:00:00Z","plant_y":1}`, "x"},
		{"missing y", `{"agv_id":"A1","ts":"2026-03-01T08:00:00Z","plant_x":1}`, "y"},
		{"negative speed", `{"agv_id":"A1","ts":"2026-03-01T08:00:00Z","plant_x":1,"plant_y":1,"speed_mps":-1}`, "speed"},
		{"heading out of range", `{"agv_id":"A1","ts":"2026-03-01T08:00:00Z","plant_x":1,"plant_y":1,"heading_deg":400}`, "heading"},
		{"unknown status", `{"agv_id":"A1","ts":"2026-03-01T08:00:00Z","plant_x":1,"plant_y":1,"status":"DANCING"}`, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePosition([]byte(tt.data), "", received)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidSample)
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, err := DecodePosition([]byte(`{not json`), "", received)
	assert.ErrorIs(t, err, model.ErrInvalidSample)
}

func TestEncodePosition_DecodesBack(t *testing.T) {
	battery := 50.0
	in := &model.PositionSample{
		AGVID:          "A1",
		Timestamp:      time.Date(2026, 3, 1, 8, 0, 0, 5000000, time.UTC),
		X:              1.5,
		Y:              -2,
		Speed:          0.4,
		BatteryPercent: &battery,
		Status:         model.StatusCharging,
	}
	data, err := EncodePosition(in)
	require.NoError(t, err)

	out, err := DecodePosition(data, "", received)
	require.NoError(t, err)
	assert.Equal(t, in.Timestamp, out.Timestamp)
	assert.Equal(t, in.X, out.X)
	assert.Equal(t, in.Y, out.Y)
	assert.Equal(t, model.StatusCharging, out.Status)
	assert.Equal(t, 50.0, *out.BatteryPercent)
}

func TestEncodeEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	ev := model.NewSystemEvent(model.EventZoneViolation, model.SeverityCritical, "entered", map[string]string{"zone_type": "RESTRICTED"}, now).
		WithAGV("A1").WithZone("Z-LAB")

	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	n, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, n.EventID)
	assert.Equal(t, "ZONE_VIOLATION", n.EventType)
	assert.Equal(t, "Z-LAB", *n.ZoneID)
	assert.JSONEq(t, `{"zone_type":"RESTRICTED"}`, string(n.Details))
	assert.True(t, now.Equal(n.CreatedAt))
}
