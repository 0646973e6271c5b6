package zones

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/smukkama/agv-rtls/internal/model"
)

var ErrInvalidZone = errors.New("invalid zone")

const (
	defaultGridDivisions = 64
	maxGridCells         = 1 << 20
)

type entry struct {
	zone model.Zone
	box  rect
}

// Index is an immutable snapshot of the active zones. It is safe for
// concurrent use; reconfiguration builds a new Index and swaps it in.
//
// Resolution buckets zones into a uniform grid over their combined bounding
// box, so a lookup is one cell read plus exact point-in-polygon tests over
// the few zones whose bounding boxes cover that cell.
//
// When a point lies in more than one zone the winner is the zone with the
// highest Priority, then the smallest Area, then the lexically smallest ID.
type Index struct {
	entries []entry // precedence order
	byID    map[string]int
	world   rect
	cell    float64
	cols    int
	rows    int
	grid    [][]int32
}

// Prepare validates a zone and fills its derived geometry.
func Prepare(z model.Zone) (model.Zone, error) {
	if z.ID == "" {
		return z, fmt.Errorf("%w: zone_id is required", ErrInvalidZone)
	}
	if _, err := model.ParseZoneType(string(z.Type)); err != nil {
		return z, fmt.Errorf("%w: zone %s: %v", ErrInvalidZone, z.ID, err)
	}
	if len(z.Vertices) < 3 {
		return z, fmt.Errorf("%w: zone %s needs at least 3 vertices, got %d", ErrInvalidZone, z.ID, len(z.Vertices))
	}
	for _, v := range z.Vertices {
		if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
			return z, fmt.Errorf("%w: zone %s has a non-finite vertex", ErrInvalidZone, z.ID)
		}
	}
	area := Area(z.Vertices)
	if area == 0 {
		return z, fmt.Errorf("%w: zone %s has zero area", ErrInvalidZone, z.ID)
	}
	if z.MaxAGVs < 0 {
		return z, fmt.Errorf("%w: zone %s has negative max_agvs", ErrInvalidZone, z.ID)
	}
	z.Area = area
	z.Perimeter = Perimeter(z.Vertices)
	z.Centroid = Centroid(z.Vertices)
	return z, nil
}

// NewIndex builds a snapshot from the given zones. Inactive zones are
// excluded. A cellSize of 0 picks one from the zones' extent.
func NewIndex(zones []model.Zone, cellSize float64) (*Index, error) {
	ix := &Index{byID: make(map[string]int)}

	for _, z := range zones {
		if !z.Active {
			continue
		}
		prepared, err := Prepare(z)
		if err != nil {
			return nil, err
		}
		if _, dup := ix.byID[prepared.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate zone_id %s", ErrInvalidZone, prepared.ID)
		}
		ix.byID[prepared.ID] = len(ix.entries)
		// Padded so the box keeps every point Contains accepts.
		ix.entries = append(ix.entries, entry{zone: prepared, box: bounds(prepared.Vertices).grow(boundaryEpsilon)})
	}

	sort.SliceStable(ix.entries, func(i, j int) bool {
		a, b := ix.entries[i].zone, ix.entries[j].zone
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Area != b.Area {
			return a.Area < b.Area
		}
		return a.ID < b.ID
	})
	for i, e := range ix.entries {
		ix.byID[e.zone.ID] = i
	}

	if len(ix.entries) == 0 {
		return ix, nil
	}

	ix.world = ix.entries[0].box
	for _, e := range ix.entries[1:] {
		ix.world.minX = math.Min(ix.world.minX, e.box.minX)
		ix.world.minY = math.Min(ix.world.minY, e.box.minY)
		ix.world.maxX = math.Max(ix.world.maxX, e.box.maxX)
		ix.world.maxY = math.Max(ix.world.maxY, e.box.maxY)
	}

	width := ix.world.maxX - ix.world.minX
	height := ix.world.maxY - ix.world.minY
	if cellSize <= 0 {
		cellSize = math.Max(width, height) / defaultGridDivisions
	}
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := int(width/cellSize) + 1
	rows := int(height/cellSize) + 1
	for cols*rows > maxGridCells {
		cellSize *= 2
		cols = int(width/cellSize) + 1
		rows = int(height/cellSize) + 1
	}
	ix.cell, ix.cols, ix.rows = cellSize, cols, rows
	ix.grid = make([][]int32, cols*rows)

	// Entries are visited in precedence order so every cell list is too.
	for i, e := range ix.entries {
		c0, r0 := ix.cellOf(e.box.minX, e.box.minY)
		c1, r1 := ix.cellOf(e.box.maxX, e.box.maxY)
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				k := r*ix.cols + c
				ix.grid[k] = append(ix.grid[k], int32(i))
			}
		}
	}

	return ix, nil
}

func (ix *Index) cellOf(x, y float64) (int, int) {
	c := int((x - ix.world.minX) / ix.cell)
	r := int((y - ix.world.minY) / ix.cell)
	if c >= ix.cols {
		c = ix.cols - 1
	}
	if r >= ix.rows {
		r = ix.rows - 1
	}
	if c < 0 {
		c = 0
	}
	if r < 0 {
		r = 0
	}
	return c, r
}

// Resolve returns the zone owning (x, y), if any.
func (ix *Index) Resolve(x, y float64) (string, bool) {
	if ix == nil || len(ix.entries) == 0 || !ix.world.contains(x, y) {
		return "", false
	}
	c, r := ix.cellOf(x, y)
	p := model.Point{X: x, Y: y}
	for _, i := range ix.grid[r*ix.cols+c] {
		e := &ix.entries[i]
		if !e.box.contains(x, y) {
			continue
		}
		if Contains(e.zone.Vertices, p) {
			return e.zone.ID, true
		}
	}
	return "", false
}

// Zone returns the active zone with the given id.
func (ix *Index) Zone(id string) (model.Zone, bool) {
	if ix == nil {
		return model.Zone{}, false
	}
	i, ok := ix.byID[id]
	if !ok {
		return model.Zone{}, false
	}
	return ix.entries[i].zone, true
}

// Len returns the number of active zones.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Zones returns the active zones ordered by id.
func (ix *Index) Zones() []model.Zone {
	if ix == nil {
		return nil
	}
	out := make([]model.Zone, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e.zone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDsByType returns the ids of active zones of the given type, sorted.
func (ix *Index) IDsByType(t model.ZoneType) []string {
	var ids []string
	for _, z := range ix.Zones() {
		if z.Type == t {
			ids = append(ids, z.ID)
		}
	}
	return ids
}

// Overlaps lists pairs of zones whose interiors intersect. Overlap is a
// configuration error; resolution still follows the precedence order.
func (ix *Index) Overlaps() [][2]string {
	if ix == nil {
		return nil
	}
	var pairs [][2]string
	for i := 0; i < len(ix.entries); i++ {
		for j := i + 1; j < len(ix.entries); j++ {
			a, b := ix.entries[i], ix.entries[j]
			if !a.box.intersects(b.box) {
				continue
			}
			if interiorsOverlap(a.zone.Vertices, b.zone.Vertices) {
				first, second := a.zone.ID, b.zone.ID
				if second < first {
					first, second = second, first
				}
				pairs = append(pairs, [2]string{first, second})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

// Adjacent returns the zones sharing at least one boundary point with id.
func (ix *Index) Adjacent(id string) []string {
	z, ok := ix.Zone(id)
	if !ok {
		return nil
	}
	box := bounds(z.Vertices).grow(boundaryEpsilon)
	var out []string
	for _, e := range ix.entries {
		if e.zone.ID == id || !box.intersects(e.box) {
			continue
		}
		if boundariesTouch(z.Vertices, e.zone.Vertices) {
			out = append(out, e.zone.ID)
		}
	}
	sort.Strings(out)
	return out
}
