package analytics

import "time"

// FleetKPIs is the fleet report for one UTC date.
type FleetKPIs struct {
	Date            time.Time
	TotalAGVs       int
	ActiveAGVs      int
	TotalDistance   float64 // from hourly rollups
	CompletedTasks  int
	AvgTaskDuration *time.Duration
	UtilizationPct  *float64
	TasksPerHour    float64
}

// KPIInputs are the independent aggregates a report is composed from.
// TaskDurations holds only completed tasks with both timestamps known.
type KPIInputs struct {
	TotalAGVs      int
	ActiveAGVs     int
	TotalDistance  float64
	CompletedTasks int
	TaskDurations  []time.Duration
}

// ComposeKPIs derives the report from its inputs.
func ComposeKPIs(date time.Time, in KPIInputs) FleetKPIs {
	k := FleetKPIs{
		Date:           date,
		TotalAGVs:      in.TotalAGVs,
		ActiveAGVs:     in.ActiveAGVs,
		TotalDistance:  in.TotalDistance,
		CompletedTasks: in.CompletedTasks,
		TasksPerHour:   float64(in.CompletedTasks) / 24,
	}
	if u := ratio(float64(in.ActiveAGVs), float64(in.TotalAGVs)); u != nil {
		pct := *u * 100
		k.UtilizationPct = &pct
	}
	if n := len(in.TaskDurations); n > 0 {
		var sum time.Duration
		for _, d := range in.TaskDurations {
			sum += d
		}
		avg := sum / time.Duration(n)
		k.AvgTaskDuration = &avg
	}
	return k
}
