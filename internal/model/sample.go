package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var ErrInvalidSample = errors.New("invalid position sample")

// ValidationError names the field that made a sample unacceptable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidSample, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSample
}

// PositionSample is one telemetry reading from an AGV. Immutable once written.
type PositionSample struct {
	ID             int64
	AGVID          string
	Timestamp      time.Time // device clock, millisecond precision
	ReceivedAt     time.Time
	X              float64
	Y              float64
	Heading        float64
	Speed          float64
	Acceleration   float64
	Lat            *float64
	Lon            *float64
	Quality        *float64
	ZoneID         *string
	BatteryPercent *float64
	PayloadWeight  *float64
	Status         AGVStatus
	ErrorCode      *string
}

// HasZone reports whether the sample resolved to a zone.
func (s *PositionSample) HasZone() bool {
	return s.ZoneID != nil && *s.ZoneID != ""
}

// Validate checks required fields and physical ranges. Nothing is coerced.
func (s *PositionSample) Validate() error {
	if s.AGVID == "" {
		return &ValidationError{Field: "agv_id", Reason: "is required"}
	}
	if s.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	if !finite(s.X) {
		return &ValidationError{Field: "x", Reason: "must be a finite number"}
	}
	if !finite(s.Y) {
		return &ValidationError{Field: "y", Reason: "must be a finite number"}
	}
	if !finite(s.Heading) || s.Heading < 0 || s.Heading > 360 {
		return &ValidationError{Field: "heading", Reason: "must be within [0, 360]"}
	}
	if !finite(s.Speed) || s.Speed < 0 {
		return &ValidationError{Field: "speed", Reason: "must be non-negative"}
	}
	if !finite(s.Acceleration) {
		return &ValidationError{Field: "acceleration", Reason: "must be a finite number"}
	}
	if s.Lat != nil && (*s.Lat < -90 || *s.Lat > 90) {
		return &ValidationError{Field: "lat", Reason: "must be within [-90, 90]"}
	}
	if s.Lon != nil && (*s.Lon < -180 || *s.Lon > 180) {
		return &ValidationError{Field: "lon", Reason: "must be within [-180, 180]"}
	}
	if s.Quality != nil && (*s.Quality < 0 || *s.Quality > 1) {
		return &ValidationError{Field: "quality", Reason: "must be within [0, 1]"}
	}
	if s.BatteryPercent != nil && (*s.BatteryPercent < 0 || *s.BatteryPercent > 100) {
		return &ValidationError{Field: "battery_percent", Reason: "must be within [0, 100]"}
	}
	if s.PayloadWeight != nil && *s.PayloadWeight < 0 {
		return &ValidationError{Field: "payload_weight", Reason: "must be non-negative"}
	}
	if _, ok := agvStatuses[string(s.Status)]; !ok {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", s.Status)}
	}
	return nil
}

// SortByTimestamp orders samples by device timestamp, breaking ties by row id
// (insertion order). Arrival order is not trusted for deltas.
func SortByTimestamp(samples []PositionSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if !samples[i].Timestamp.Equal(samples[j].Timestamp) {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		}
		return samples[i].ID < samples[j].ID
	})
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
