package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownZoneType  = errors.New("unknown zone type")
	ErrUnknownAGVStatus = errors.New("unknown agv status")
	ErrUnknownTaskState = errors.New("unknown task status")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrUnknownSeverity  = errors.New("unknown severity")
)

// ZoneType classifies a plant zone.
type ZoneType string

const (
	ZoneRestricted  ZoneType = "RESTRICTED"
	ZoneOperational ZoneType = "OPERATIONAL"
	ZoneStaging     ZoneType = "STAGING"
	ZoneMaintenance ZoneType = "MAINTENANCE"
	ZoneCharging    ZoneType = "CHARGING"
)

var zoneTypes = map[string]ZoneType{
	"RESTRICTED":  ZoneRestricted,
	"OPERATIONAL": ZoneOperational,
	"STAGING":     ZoneStaging,
	"MAINTENANCE": ZoneMaintenance,
	"CHARGING":    ZoneCharging,
}

func ParseZoneType(s string) (ZoneType, error) {
	if t, ok := zoneTypes[s]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownZoneType, s)
}

// AGVStatus is the device-reported operating state.
type AGVStatus string

const (
	StatusActive      AGVStatus = "ACTIVE"
	StatusIdle        AGVStatus = "IDLE"
	StatusCharging    AGVStatus = "CHARGING"
	StatusMaintenance AGVStatus = "MAINTENANCE"
	StatusError       AGVStatus = "ERROR"
	StatusOffline     AGVStatus = "OFFLINE"
)

var agvStatuses = map[string]AGVStatus{
	"ACTIVE":      StatusActive,
	"IDLE":        StatusIdle,
	"CHARGING":    StatusCharging,
	"MAINTENANCE": StatusMaintenance,
	"ERROR":       StatusError,
	"OFFLINE":     StatusOffline,
}

func ParseAGVStatus(s string) (AGVStatus, error) {
	if st, ok := agvStatuses[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAGVStatus, s)
}

// TaskStatus is the lifecycle state of a mission.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskAssigned   TaskStatus = "ASSIGNED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

var taskStatuses = map[string]TaskStatus{
	"PENDING":     TaskPending,
	"ASSIGNED":    TaskAssigned,
	"IN_PROGRESS": TaskInProgress,
	"COMPLETED":   TaskCompleted,
	"FAILED":      TaskFailed,
	"CANCELLED":   TaskCancelled,
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	if st, ok := taskStatuses[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTaskState, s)
}

// EventType identifies the kind of system event.
type EventType string

const (
	EventCollisionRisk   EventType = "COLLISION_RISK"
	EventZoneViolation   EventType = "ZONE_VIOLATION"
	EventSpeedViolation  EventType = "SPEED_VIOLATION"
	EventBatteryLow      EventType = "BATTERY_LOW"
	EventConnectionLost  EventType = "CONNECTION_LOST"
	EventTaskFailed      EventType = "TASK_FAILED"
	EventMaintenanceDue  EventType = "MAINTENANCE_DUE"
	EventAnomalyDetected EventType = "ANOMALY_DETECTED"
	EventMaintenance     EventType = "MAINTENANCE"
	EventJobFailed       EventType = "JOB_FAILED"
)

var eventTypes = map[string]EventType{
	"COLLISION_RISK":   EventCollisionRisk,
	"ZONE_VIOLATION":   EventZoneViolation,
	"SPEED_VIOLATION":  EventSpeedViolation,
	"BATTERY_LOW":      EventBatteryLow,
	"CONNECTION_LOST":  EventConnectionLost,
	"TASK_FAILED":      EventTaskFailed,
	"MAINTENANCE_DUE":  EventMaintenanceDue,
	"ANOMALY_DETECTED": EventAnomalyDetected,
	"MAINTENANCE":      EventMaintenance,
	"JOB_FAILED":       EventJobFailed,
}

func ParseEventType(s string) (EventType, error) {
	if t, ok := eventTypes[s]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

var severities = map[string]Severity{
	"INFO":     SeverityInfo,
	"WARNING":  SeverityWarning,
	"ERROR":    SeverityError,
	"CRITICAL": SeverityCritical,
}

func ParseSeverity(s string) (Severity, error) {
	if sv, ok := severities[s]; ok {
		return sv, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
}
