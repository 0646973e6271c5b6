package analytics

import (
	"sort"

	"github.com/smukkama/agv-rtls/internal/model"
)

// ZoneDwell is time spent inside one zone over a window.
type ZoneDwell struct {
	ZoneID           string
	ZoneName         string
	UniqueAGVs       int
	SampleCount      int
	TotalMinutes     float64
	AvgMinutesPerAGV float64
}

// ComputeZoneDwell groups zone-resolved samples by zone. Minutes are
// sample count / rateHz / 60; unresolved samples are ignored. Results are
// ordered by total minutes descending, then zone id.
func ComputeZoneDwell(samples []model.PositionSample, rateHz float64, names func(zoneID string) string) []ZoneDwell {
	type acc struct {
		count int
		agvs  map[string]struct{}
	}
	byZone := make(map[string]*acc)
	for _, s := range samples {
		if !s.HasZone() {
			continue
		}
		a, ok := byZone[*s.ZoneID]
		if !ok {
			a = &acc{agvs: make(map[string]struct{})}
			byZone[*s.ZoneID] = a
		}
		a.count++
		a.agvs[s.AGVID] = struct{}{}
	}

	out := make([]ZoneDwell, 0, len(byZone))
	for id, a := range byZone {
		d := ZoneDwell{
			ZoneID:       id,
			ZoneName:     id,
			UniqueAGVs:   len(a.agvs),
			SampleCount:  a.count,
			TotalMinutes: float64(a.count) / rateHz / 60,
		}
		d.AvgMinutesPerAGV = d.TotalMinutes / float64(d.UniqueAGVs)
		if names != nil {
			if n := names(id); n != "" {
				d.ZoneName = n
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalMinutes != out[j].TotalMinutes {
			return out[i].TotalMinutes > out[j].TotalMinutes
		}
		return out[i].ZoneID < out[j].ZoneID
	})
	return out
}
