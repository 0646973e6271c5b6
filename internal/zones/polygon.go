package zones

import (
	"math"

	"github.com/smukkama/agv-rtls/internal/model"
)

// boundaryEpsilon is the distance within which a point counts as on an edge.
const boundaryEpsilon = 1e-9

type rect struct {
	minX, minY, maxX, maxY float64
}

func (r rect) contains(x, y float64) bool {
	return x >= r.minX && x <= r.maxX && y >= r.minY && y <= r.maxY
}

// grow pads r by d on every side.
func (r rect) grow(d float64) rect {
	return rect{minX: r.minX - d, minY: r.minY - d, maxX: r.maxX + d, maxY: r.maxY + d}
}

func (r rect) intersects(o rect) bool {
	return r.minX <= o.maxX && o.minX <= r.maxX && r.minY <= o.maxY && o.minY <= r.maxY
}

func bounds(vs []model.Point) rect {
	r := rect{minX: math.Inf(1), minY: math.Inf(1), maxX: math.Inf(-1), maxY: math.Inf(-1)}
	for _, v := range vs {
		r.minX = math.Min(r.minX, v.X)
		r.minY = math.Min(r.minY, v.Y)
		r.maxX = math.Max(r.maxX, v.X)
		r.maxY = math.Max(r.maxY, v.Y)
	}
	return r
}

// Contains reports whether p is inside the polygon or on its boundary.
// Boundary points are inside: a sample exactly on a zone edge belongs to it.
func Contains(vs []model.Point, p model.Point) bool {
	n := len(vs)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(vs[j], vs[i], p) {
			return true
		}
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := vs[i], vs[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// containsStrict reports whether p is inside the polygon and not on its boundary.
func containsStrict(vs []model.Point, p model.Point) bool {
	for i, j := 0, len(vs)-1; i < len(vs); j, i = i, i+1 {
		if onSegment(vs[j], vs[i], p) {
			return false
		}
	}
	return Contains(vs, p)
}

func onSegment(a, b, p model.Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	length := math.Hypot(b.X-a.X, b.Y-a.Y)
	if length == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y) <= boundaryEpsilon
	}
	if math.Abs(cross)/length > boundaryEpsilon {
		return false
	}
	dot := (p.X-a.X)*(b.X-a.X) + (p.Y-a.Y)*(b.Y-a.Y)
	return dot >= -boundaryEpsilon && dot <= length*length+boundaryEpsilon
}

// signedArea uses the shoelace formula; positive for counter-clockwise rings.
func signedArea(vs []model.Point) float64 {
	var sum float64
	for i, j := 0, len(vs)-1; i < len(vs); j, i = i, i+1 {
		sum += vs[j].X*vs[i].Y - vs[i].X*vs[j].Y
	}
	return sum / 2
}

func Area(vs []model.Point) float64 {
	return math.Abs(signedArea(vs))
}

func Perimeter(vs []model.Point) float64 {
	var sum float64
	for i, j := 0, len(vs)-1; i < len(vs); j, i = i, i+1 {
		sum += math.Hypot(vs[i].X-vs[j].X, vs[i].Y-vs[j].Y)
	}
	return sum
}

// Centroid returns the area centroid, or the vertex mean for degenerate rings.
func Centroid(vs []model.Point) model.Point {
	a := signedArea(vs)
	if a == 0 {
		var c model.Point
		for _, v := range vs {
			c.X += v.X
			c.Y += v.Y
		}
		if n := float64(len(vs)); n > 0 {
			c.X /= n
			c.Y /= n
		}
		return c
	}
	var cx, cy float64
	for i, j := 0, len(vs)-1; i < len(vs); j, i = i, i+1 {
		f := vs[j].X*vs[i].Y - vs[i].X*vs[j].Y
		cx += (vs[j].X + vs[i].X) * f
		cy += (vs[j].Y + vs[i].Y) * f
	}
	return model.Point{X: cx / (6 * a), Y: cy / (6 * a)}
}

func orientation(a, b, c model.Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// segmentsTouch reports whether segments ab and cd share at least one point.
func segmentsTouch(a, b, c, d model.Point) bool {
	if segmentsCross(a, b, c, d) {
		return true
	}
	return onSegment(a, b, c) || onSegment(a, b, d) || onSegment(c, d, a) || onSegment(c, d, b)
}

// segmentsCross reports a proper crossing at a point interior to both segments.
func segmentsCross(a, b, c, d model.Point) bool {
	d1 := orientation(c, d, a)
	d2 := orientation(c, d, b)
	d3 := orientation(a, b, c)
	d4 := orientation(a, b, d)
	return ((d1 > boundaryEpsilon && d2 < -boundaryEpsilon) || (d1 < -boundaryEpsilon && d2 > boundaryEpsilon)) &&
		((d3 > boundaryEpsilon && d4 < -boundaryEpsilon) || (d3 < -boundaryEpsilon && d4 > boundaryEpsilon))
}

// boundariesTouch reports whether the two rings share any boundary point.
func boundariesTouch(p, q []model.Point) bool {
	for i, j := 0, len(p)-1; i < len(p); j, i = i, i+1 {
		for k, l := 0, len(q)-1; k < len(q); l, k = k, k+1 {
			if segmentsTouch(p[j], p[i], q[l], q[k]) {
				return true
			}
		}
	}
	return false
}

// interiorsOverlap is a conservative overlap test used to flag configuration
// errors: a proper edge crossing, a vertex strictly inside the other ring, or
// a centroid strictly inside both rings (catches identical polygons).
func interiorsOverlap(p, q []model.Point) bool {
	for i, j := 0, len(p)-1; i < len(p); j, i = i, i+1 {
		for k, l := 0, len(q)-1; k < len(q); l, k = k, k+1 {
			if segmentsCross(p[j], p[i], q[l], q[k]) {
				return true
			}
		}
	}
	for _, v := range p {
		if containsStrict(q, v) {
			return true
		}
	}
	for _, v := range q {
		if containsStrict(p, v) {
			return true
		}
	}
	for _, c := range []model.Point{Centroid(p), Centroid(q)} {
		if containsStrict(p, c) && containsStrict(q, c) {
			return true
		}
	}
	return false
}
