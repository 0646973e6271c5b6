package analytics

import (
	"math"
	"time"

	"github.com/smukkama/agv-rtls/internal/model"
)

// Thresholds classify samples. IdleSpeed separates idle (below) from
// moving (at or above). RateHz converts sample counts to time.
type Thresholds struct {
	IdleSpeed      float64
	RateHz         float64
	AnomalyAccel   float64
	AnomalyQuality float64
	MinStop        time.Duration // shortest stop listed in trajectory stats
}

// Kinematics is the movement summary of one AGV over a span.
type Kinematics struct {
	SampleCount   int
	TotalDistance float64
	AvgSpeed      *float64 // over moving samples only
	MaxSpeed      *float64 // over all samples
	IdleSeconds   float64
	MovingSeconds float64
}

// Summarize computes kinematics for samples of a single AGV. Distance
// follows timestamp order, so the result does not depend on arrival order.
func Summarize(samples []model.PositionSample, th Thresholds) Kinematics {
	k := Kinematics{SampleCount: len(samples)}
	if len(samples) == 0 {
		return k
	}
	k.TotalDistance = PathLength(samples)

	var movingSum, peak float64
	moving, idle := 0, 0
	for _, s := range samples {
		peak = math.Max(peak, s.Speed)
		if s.Speed < th.IdleSpeed {
			idle++
			continue
		}
		moving++
		movingSum += s.Speed
	}
	k.MaxSpeed = &peak
	k.AvgSpeed = ratio(movingSum, float64(moving))
	k.IdleSeconds = float64(idle) / th.RateHz
	k.MovingSeconds = float64(moving) / th.RateHz
	return k
}

// IsAnomalous flags a sample with a harsh acceleration, a poor position fix
// or a device error code.
func IsAnomalous(s model.PositionSample, th Thresholds) bool {
	if th.AnomalyAccel > 0 && math.Abs(s.Acceleration) > th.AnomalyAccel {
		return true
	}
	if s.Quality != nil && *s.Quality < th.AnomalyQuality {
		return true
	}
	return s.ErrorCode != nil && *s.ErrorCode != ""
}

// CountTransitions returns the number of zone changes in one AGV's samples.
func CountTransitions(samples []model.PositionSample) int {
	n := 0
	walkTransitions(samples, func(from, to string) { n++ })
	return n
}

// HourlyAggregate builds the rollup row for one AGV and hour.
func HourlyAggregate(agvID string, hourStart time.Time, samples []model.PositionSample, taskCount int, th Thresholds) model.HourlyAggregate {
	k := Summarize(samples, th)
	anomalies := 0
	for _, s := range samples {
		if IsAnomalous(s, th) {
			anomalies++
		}
	}
	return model.HourlyAggregate{
		AGVID:           agvID,
		HourStart:       hourStart,
		TotalDistance:   k.TotalDistance,
		AvgSpeed:        k.AvgSpeed,
		MaxSpeed:        k.MaxSpeed,
		IdleSeconds:     k.IdleSeconds,
		MovingSeconds:   k.MovingSeconds,
		SampleCount:     k.SampleCount,
		TaskCount:       taskCount,
		ZoneTransitions: CountTransitions(samples),
		AnomalyCount:    anomalies,
	}
}

// DailyMetrics is the per-AGV report for one UTC date.
type DailyMetrics struct {
	AGVID string
	Date  time.Time
	Kinematics
	TaskCount       int
	IdlePercent     *float64
	DistancePerTask *float64
}

// ComputeDailyMetrics combines a day's samples with the tasks completed that
// day. Ratios are nil when their denominator is zero.
func ComputeDailyMetrics(agvID string, date time.Time, samples []model.PositionSample, completed []model.Task, th Thresholds) DailyMetrics {
	m := DailyMetrics{
		AGVID:      agvID,
		Date:       date,
		Kinematics: Summarize(samples, th),
		TaskCount:  len(completed),
	}
	if p := ratio(m.IdleSeconds, m.IdleSeconds+m.MovingSeconds); p != nil {
		pct := *p * 100
		m.IdlePercent = &pct
	}
	m.DistancePerTask = ratio(m.TotalDistance, float64(m.TaskCount))
	return m
}

// DayBounds returns the half-open UTC day [start, end) containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
