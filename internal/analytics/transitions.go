package analytics

import (
	"sort"

	"github.com/smukkama/agv-rtls/internal/model"
)

// Transition counts moves from one zone to another.
type Transition struct {
	FromZone   string
	ToZone     string
	Count      int
	UniqueAGVs int
}

// walkTransitions visits every zone change in one AGV's zone-resolved
// samples, in timestamp order. Unresolved samples are skipped, so leaving the
// zoned area and returning to the same zone is not a change.
func walkTransitions(samples []model.PositionSample, visit func(from, to string)) {
	prev := ""
	for _, s := range sortedCopy(samples) {
		if !s.HasZone() {
			continue
		}
		if prev != "" && *s.ZoneID != prev {
			visit(prev, *s.ZoneID)
		}
		prev = *s.ZoneID
	}
}

// ComputeTransitions builds the zone transition matrix for samples from any
// number of AGVs. Rows are ordered by count descending, then from and to
// zone ids.
func ComputeTransitions(samples []model.PositionSample) []Transition {
	byAGV := make(map[string][]model.PositionSample)
	for _, s := range samples {
		byAGV[s.AGVID] = append(byAGV[s.AGVID], s)
	}

	type key struct{ from, to string }
	counts := make(map[key]int)
	agvs := make(map[key]map[string]struct{})
	for agvID, own := range byAGV {
		walkTransitions(own, func(from, to string) {
			k := key{from, to}
			counts[k]++
			if agvs[k] == nil {
				agvs[k] = make(map[string]struct{})
			}
			agvs[k][agvID] = struct{}{}
		})
	}

	out := make([]Transition, 0, len(counts))
	for k, n := range counts {
		out = append(out, Transition{FromZone: k.from, ToZone: k.to, Count: n, UniqueAGVs: len(agvs[k])})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].FromZone != out[j].FromZone {
			return out[i].FromZone < out[j].FromZone
		}
		return out[i].ToZone < out[j].ToZone
	})
	return out
}
