package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Zone is a named polygon on the plant floor.
type Zone struct {
	ID        string
	Name      string
	Category  string
	Type      ZoneType
	MaxSpeed  float64 // m/s, 0 = unlimited
	MaxAGVs   int
	Priority  int
	Vertices  []Point
	Centroid  Point
	Area      float64
	Perimeter float64
	Active    bool
}

// AGV is a registry entry.
type AGV struct {
	ID                 string
	DisplayName        string
	Type               string
	MaxSpeed           float64
	MaxPayload         float64
	HomeZoneID         *string
	TotalDistanceKm    float64
	TotalRuntimeHours  float64
	MaintenanceDueDate *time.Time
	Status             AGVStatus
	LastSeen           *time.Time
}

// Task is read from the external task tracker; never written here.
type Task struct {
	ID              string
	AGVID           string
	Status          TaskStatus
	OriginZoneID    *string
	DestinationZone *string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DistanceMeters  *float64
}

// Duration returns the start-to-completion time, if both are known.
func (t *Task) Duration() (time.Duration, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(*t.StartedAt), true
}

// HourlyAggregate is the per-AGV rollup keyed by (AGVID, HourStart).
type HourlyAggregate struct {
	AGVID           string
	HourStart       time.Time
	TotalDistance   float64
	AvgSpeed        *float64
	MaxSpeed        *float64
	IdleSeconds     float64
	MovingSeconds   float64
	SampleCount     int
	TaskCount       int
	ZoneTransitions int
	AnomalyCount    int
}

// SystemEvent is an append-only operational record.
type SystemEvent struct {
	ID             string
	Type           EventType
	Severity       Severity
	AGVID          *string
	ZoneID         *string
	Message        string
	Details        json.RawMessage
	Acknowledged   bool
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

// NewSystemEvent builds an event with a fresh id. Details that fail to
// marshal are replaced by an empty object.
func NewSystemEvent(eventType EventType, severity Severity, message string, details any, now time.Time) *SystemEvent {
	raw, err := json.Marshal(details)
	if err != nil || details == nil {
		raw = json.RawMessage(`{}`)
	}
	return &SystemEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Details:   raw,
		CreatedAt: now,
	}
}

// WithAGV sets the subject AGV.
func (e *SystemEvent) WithAGV(agvID string) *SystemEvent {
	e.AGVID = &agvID
	return e
}

// WithZone sets the subject zone.
func (e *SystemEvent) WithZone(zoneID string) *SystemEvent {
	e.ZoneID = &zoneID
	return e
}
