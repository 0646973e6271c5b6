package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smukkama/agv-rtls/internal/model"
)

// PositionMessage is the wire format of one telemetry reading. Pointer
// fields distinguish "absent" from zero.
type PositionMessage struct {
	AGVID          string   `json:"agv_id"`
	Timestamp      string   `json:"ts"`
	PlantX         *float64 `json:"plant_x"`
	PlantY         *float64 `json:"plant_y"`
	HeadingDeg     *float64 `json:"heading_deg,omitempty"`
	SpeedMPS       *float64 `json:"speed_mps,omitempty"`
	AccelMPS2      *float64 `json:"accel_mps2,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	Quality        *float64 `json:"quality,omitempty"`
	BatteryPercent *float64 `json:"battery_percent,omitempty"`
	PayloadKg      *float64 `json:"payload_kg,omitempty"`
	Status         string   `json:"status,omitempty"`
	ErrorCode      *string  `json:"error_code,omitempty"`
}

// DecodePosition parses a position message. fallbackAGVID (for example the
// id taken from an MQTT topic) is used only when the payload has none.
// Missing or malformed required fields are rejected; the result is
// validated before it is returned.
func DecodePosition(data []byte, fallbackAGVID string, receivedAt time.Time) (*model.PositionSample, error) {
	var msg PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", model.ErrInvalidSample, err)
	}
	if msg.AGVID == "" {
		msg.AGVID = fallbackAGVID
	}
	return msg.ToSample(receivedAt)
}

// ToSample converts the message into a validated sample.
func (m *PositionMessage) ToSample(receivedAt time.Time) (*model.PositionSample, error) {
	if strings.TrimSpace(m.AGVID) == "" {
		return nil, &model.ValidationError{Field: "agv_id", Reason: "is required"}
	}
	if m.Timestamp == "" {
		return nil, &model.ValidationError{Field: "timestamp", Reason: "is required"}
	}
	ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return nil, &model.ValidationError{Field: "timestamp", Reason: "must be RFC3339"}
	}
	if m.PlantX == nil {
		return nil, &model.ValidationError{Field: "x", Reason: "is required"}
	}
	if m.PlantY == nil {
		return nil, &model.ValidationError{Field: "y", Reason: "is required"}
	}

	s := &model.PositionSample{
		AGVID:          m.AGVID,
		Timestamp:      ts.UTC().Truncate(time.Millisecond),
		ReceivedAt:     receivedAt.UTC(),
		X:              *m.PlantX,
		Y:              *m.PlantY,
		Heading:        deref(m.HeadingDeg),
		Speed:          deref(m.SpeedMPS),
		Acceleration:   deref(m.AccelMPS2),
		Lat:            m.Lat,
		Lon:            m.Lon,
		Quality:        m.Quality,
		BatteryPercent: m.BatteryPercent,
		PayloadWeight:  m.PayloadKg,
		Status:         model.StatusActive,
		ErrorCode:      m.ErrorCode,
	}
	if m.Status != "" {
		s.Status = model.AGVStatus(strings.ToUpper(m.Status))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodePosition builds the wire form of a sample.
func EncodePosition(s *model.PositionSample) ([]byte, error) {
	x, y := s.X, s.Y
	heading, speed, accel := s.Heading, s.Speed, s.Acceleration
	return json.Marshal(&PositionMessage{
		AGVID:          s.AGVID,
		Timestamp:      s.Timestamp.UTC().Format(time.RFC3339Nano),
		PlantX:         &x,
		PlantY:         &y,
		HeadingDeg:     &heading,
		SpeedMPS:       &speed,
		AccelMPS2:      &accel,
		Lat:            s.Lat,
		Lon:            s.Lon,
		Quality:        s.Quality,
		BatteryPercent: s.BatteryPercent,
		PayloadKg:      s.PayloadWeight,
		Status:         string(s.Status),
		ErrorCode:      s.ErrorCode,
	})
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
