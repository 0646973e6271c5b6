package analytics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/smukkama/agv-rtls/internal/model"
)

var ErrInvalidStride = errors.New("stride must be at least 1")

// Downsample keeps the samples at positions 0, stride, 2*stride, ... of an
// already ordered window. stride 1 returns the window unchanged.
func Downsample(samples []model.PositionSample, stride int) ([]model.PositionSample, error) {
	if stride < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStride, stride)
	}
	if stride == 1 {
		return samples, nil
	}
	out := make([]model.PositionSample, 0, (len(samples)+stride-1)/stride)
	for i := 0; i < len(samples); i += stride {
		out = append(out, samples[i])
	}
	return out, nil
}

// PathLength sums the Euclidean steps between timestamp-adjacent samples.
// The input is not modified.
func PathLength(samples []model.PositionSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	ordered := sortedCopy(samples)
	var total float64
	for i := 1; i < len(ordered); i++ {
		total += math.Hypot(ordered[i].X-ordered[i-1].X, ordered[i].Y-ordered[i-1].Y)
	}
	return total
}

// TrajectoryStats summarises one extracted trajectory.
type TrajectoryStats struct {
	Samples        int
	TotalDistance  float64
	Duration       time.Duration
	AvgSpeed       *float64
	MaxSpeed       *float64
	StopMinutes    float64
	StopPercentage *float64
	Stops          []Stop
}

// SummarizeTrajectory computes distance, duration and stop time. Stop time is
// the count of samples below idleSpeed converted with the sampling rate.
func SummarizeTrajectory(samples []model.PositionSample, idleSpeed, rateHz float64) TrajectoryStats {
	stats := TrajectoryStats{Samples: len(samples)}
	if len(samples) == 0 {
		return stats
	}
	ordered := sortedCopy(samples)
	stats.TotalDistance = PathLength(ordered)
	stats.Duration = ordered[len(ordered)-1].Timestamp.Sub(ordered[0].Timestamp)

	var sum, peak float64
	stopped := 0
	for _, s := range ordered {
		sum += s.Speed
		peak = math.Max(peak, s.Speed)
		if s.Speed < idleSpeed {
			stopped++
		}
	}
	stats.AvgSpeed = ratio(sum, float64(len(ordered)))
	stats.MaxSpeed = &peak
	stats.StopMinutes = float64(stopped) / rateHz / 60
	if p := ratio(stats.StopMinutes*60, stats.Duration.Seconds()); p != nil {
		pct := *p * 100
		stats.StopPercentage = &pct
	}
	return stats
}

// Stop is a maximal run of consecutive samples below the idle speed.
type Stop struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
	X        float64
	Y        float64
	ZoneID   *string
}

// DetectStops finds stop runs lasting at least minDuration. The reported
// position is the first sample of the run.
func DetectStops(samples []model.PositionSample, idleSpeed float64, minDuration time.Duration) []Stop {
	ordered := sortedCopy(samples)
	var stops []Stop
	for i := 0; i < len(ordered); {
		if ordered[i].Speed >= idleSpeed {
			i++
			continue
		}
		j := i
		for j+1 < len(ordered) && ordered[j+1].Speed < idleSpeed {
			j++
		}
		d := ordered[j].Timestamp.Sub(ordered[i].Timestamp)
		if d >= minDuration {
			stops = append(stops, Stop{
				Start:    ordered[i].Timestamp,
				End:      ordered[j].Timestamp,
				Duration: d,
				X:        ordered[i].X,
				Y:        ordered[i].Y,
				ZoneID:   ordered[i].ZoneID,
			})
		}
		i = j + 1
	}
	return stops
}

func sortedCopy(samples []model.PositionSample) []model.PositionSample {
	out := make([]model.PositionSample, len(samples))
	copy(out, samples)
	model.SortByTimestamp(out)
	return out
}

// ratio returns num/den, or nil when den is zero.
func ratio(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	r := num / den
	return &r
}
