package zones

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
)

func square(id string, x0, y0, size float64, priority int) model.Zone {
	return model.Zone{
		ID:       id,
		Name:     id,
		Type:     model.ZoneOperational,
		Priority: priority,
		Active:   true,
		Vertices: []model.Point{
			{X: x0, Y: y0},
			{X: x0 + size, Y: y0},
			{X: x0 + size, Y: y0 + size},
			{X: x0, Y: y0 + size},
		},
	}
}

func TestIndex_ResolveIsBoundaryInclusive(t *testing.T) {
	ix, err := NewIndex([]model.Zone{square("Z1", 0, 0, 10, 0)}, 0)
	require.NoError(t, err)

	for _, p := range []model.Point{{X: 5, Y: 5}, {X: 10, Y: 5}, {X: 0, Y: 0}, {X: 10, Y: 10}, {X: 5, Y: 0}} {
		id, ok := ix.Resolve(p.X, p.Y)
		assert.True(t, ok, "point %v", p)
		assert.Equal(t, "Z1", id)
	}

	_, ok := ix.Resolve(10.001, 5)
	assert.False(t, ok)
	_, ok = ix.Resolve(-1, -1)
	assert.False(t, ok)
}

func TestIndex_ResolveAgreesWithContainsNearEdges(t *testing.T) {
	z := square("Z1", 0, 0, 10, 0)
	ix, err := NewIndex([]model.Zone{z}, 0)
	require.NoError(t, err)

	for _, p := range []model.Point{{X: 5, Y: -5e-10}, {X: 10 + 5e-10, Y: 5}, {X: -5e-10, Y: 10}, {X: 5, Y: -1e-6}} {
		id, ok := ix.Resolve(p.X, p.Y)
		want := Contains(z.Vertices, p)
		assert.Equal(t, want, ok, "point %v", p)
		if want {
			assert.Equal(t, "Z1", id)
		}
	}
	_, ok := ix.Resolve(5, -5e-10)
	assert.True(t, ok)
}

func TestIndex_ConcavePolygon(t *testing.T) {
	l := model.Zone{
		ID:     "L",
		Type:   model.ZoneStaging,
		Active: true,
		Vertices: []model.Point{
			{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 10}, {X: 0, Y: 10},
		},
	}
	ix, err := NewIndex([]model.Zone{l}, 1)
	require.NoError(t, err)

	_, ok := ix.Resolve(8, 8)
	assert.False(t, ok, "notch of the L is outside")
	id, ok := ix.Resolve(2, 8)
	assert.True(t, ok)
	assert.Equal(t, "L", id)

	z, ok := ix.Zone("L")
	require.True(t, ok)
	assert.InDelta(t, 64.0, z.Area, 1e-9)
	assert.InDelta(t, 40.0, z.Perimeter, 1e-9)
}

func TestIndex_OverlapPrecedence(t *testing.T) {
	big := square("Z-BIG", 0, 0, 20, 1)
	small := square("Z-SMALL", 5, 5, 5, 1)

	ix, err := NewIndex([]model.Zone{big, small}, 0)
	require.NoError(t, err)
	id, _ := ix.Resolve(7, 7)
	assert.Equal(t, "Z-SMALL", id, "equal priority: smaller area wins")

	big.Priority = 5
	ix, err = NewIndex([]model.Zone{small, big}, 0)
	require.NoError(t, err)
	id, _ = ix.Resolve(7, 7)
	assert.Equal(t, "Z-BIG", id, "higher priority wins")

	ix, err = NewIndex([]model.Zone{square("B", 0, 0, 4, 0), square("A", 0, 0, 4, 0)}, 0)
	require.NoError(t, err)
	id, _ = ix.Resolve(2, 2)
	assert.Equal(t, "A", id, "full tie: smaller id wins")
}

func TestIndex_InactiveZonesExcluded(t *testing.T) {
	off := square("Z-OFF", 0, 0, 10, 9)
	off.Active = false

	ix, err := NewIndex([]model.Zone{off, square("Z-ON", 0, 0, 10, 0)}, 0)
	require.NoError(t, err)

	id, ok := ix.Resolve(5, 5)
	assert.True(t, ok)
	assert.Equal(t, "Z-ON", id)
	_, ok = ix.Zone("Z-OFF")
	assert.False(t, ok)
	assert.Equal(t, 1, ix.Len())
}

func TestIndex_RejectsInvalidZones(t *testing.T) {
	tests := []struct {
		name string
		zone model.Zone
	}{
		{"too few vertices", model.Zone{ID: "Z", Type: model.ZoneStaging, Active: true, Vertices: []model.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}},
		{"collinear", model.Zone{ID: "Z", Type: model.ZoneStaging, Active: true, Vertices: []model.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}}},
		{"missing id", square("", 0, 0, 1, 0)},
		{"bad type", func() model.Zone { z := square("Z", 0, 0, 1, 0); z.Type = "LOUNGE"; return z }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIndex([]model.Zone{tt.zone}, 0)
			assert.ErrorIs(t, err, ErrInvalidZone)
		})
	}

	_, err := NewIndex([]model.Zone{square("Z", 0, 0, 1, 0), square("Z", 5, 5, 1, 0)}, 0)
	assert.ErrorIs(t, err, ErrInvalidZone)
}

func TestIndex_GridMatchesBruteForce(t *testing.T) {
	var zs []model.Zone
	for r := 0; r < 12; r++ {
		for c := 0; c < 12; c++ {
			zs = append(zs, square(fmt.Sprintf("Z-%02d-%02d", r, c), float64(c)*7, float64(r)*7, 5, 0))
		}
	}
	ix, err := NewIndex(zs, 3)
	require.NoError(t, err)

	for x := -2.0; x < 90; x += 0.75 {
		for y := -2.0; y < 90; y += 0.75 {
			want := ""
			for _, z := range zs {
				if Contains(z.Vertices, model.Point{X: x, Y: y}) {
					want = z.ID
					break
				}
			}
			got, _ := ix.Resolve(x, y)
			require.Equal(t, want, got, "point (%v, %v)", x, y)
		}
	}
}

func TestIndex_OverlapsAndAdjacency(t *testing.T) {
	ix, err := NewIndex([]model.Zone{
		square("A", 0, 0, 10, 0),
		square("B", 10, 0, 10, 0),
		square("C", 15, 5, 10, 0),
		square("D", 50, 50, 1, 0),
	}, 0)
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"B", "C"}}, ix.Overlaps())
	assert.Equal(t, []string{"B"}, ix.Adjacent("A"))
	assert.Equal(t, []string{"A", "C"}, ix.Adjacent("B"))
	assert.Empty(t, ix.Adjacent("D"))
	assert.Nil(t, ix.Adjacent("missing"))
}

func TestIndex_IdenticalPolygonsOverlap(t *testing.T) {
	ix, err := NewIndex([]model.Zone{square("X", 0, 0, 3, 0), square("Y", 0, 0, 3, 0)}, 0)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"X", "Y"}}, ix.Overlaps())
}

func TestIndex_IDsByType(t *testing.T) {
	r := square("R1", 0, 0, 2, 0)
	r.Type = model.ZoneRestricted
	ix, err := NewIndex([]model.Zone{square("O1", 5, 5, 2, 0), r}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1"}, ix.IDsByType(model.ZoneRestricted))
	assert.Equal(t, []string{"O1", "R1"}, []string{ix.Zones()[0].ID, ix.Zones()[1].ID})
}

type stubSource struct {
	zones []model.Zone
	err   error
}

func (s stubSource) LoadZones(ctx context.Context) ([]model.Zone, error) {
	return s.zones, s.err
}

func TestResolver_ReloadKeepsPreviousOnError(t *testing.T) {
	r := NewResolver(0, zap.NewNop())

	_, ok := r.Resolve(1, 1)
	assert.False(t, ok)

	require.NoError(t, r.Reload(context.Background(), stubSource{zones: []model.Zone{square("Z1", 0, 0, 10, 0)}}))
	id, ok := r.Resolve(1, 1)
	assert.True(t, ok)
	assert.Equal(t, "Z1", id)

	err := r.Reload(context.Background(), stubSource{err: errors.New("db down")})
	assert.Error(t, err)
	id, _ = r.Resolve(1, 1)
	assert.Equal(t, "Z1", id)

	err = r.Reload(context.Background(), stubSource{zones: []model.Zone{{ID: "bad", Type: model.ZoneStaging, Active: true}}})
	assert.ErrorIs(t, err, ErrInvalidZone)
	id, _ = r.Resolve(1, 1)
	assert.Equal(t, "Z1", id)
}

func TestResolver_SwapDuringResolution(t *testing.T) {
	r := NewResolver(0, zap.NewNop())
	v1, err := NewIndex([]model.Zone{square("V1", 0, 0, 10, 0)}, 0)
	require.NoError(t, err)
	v2, err := NewIndex([]model.Zone{square("V2", 0, 0, 10, 0)}, 0)
	require.NoError(t, err)
	r.Swap(v1)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				id, ok := r.Resolve(5, 5)
				if !ok || (id != "V1" && id != "V2") {
					t.Errorf("unexpected resolution %q %v", id, ok)
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			r.Swap(v2)
		} else {
			r.Swap(v1)
		}
	}
	close(stop)
	wg.Wait()
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
zones:
  - zone_id: Z-DOCK
    name: Loading dock
    category: logistics
    zone_type: STAGING
    max_speed_mps: 1.5
    max_agvs: 4
    priority: 2
    vertices: [[0, 0], [10, 0], [10, 5], [0, 5]]
  - zone_id: Z-LAB
    zone_type: RESTRICTED
    active: false
    vertices: [[20, 0], [25, 0], [25, 5]]
`)
	zs, err := ParseYAML(doc)
	require.NoError(t, err)
	require.Len(t, zs, 2)

	assert.Equal(t, "Z-DOCK", zs[0].ID)
	assert.Equal(t, "Loading dock", zs[0].Name)
	assert.Equal(t, model.ZoneStaging, zs[0].Type)
	assert.Equal(t, 4, zs[0].MaxAGVs)
	assert.True(t, zs[0].Active)
	assert.Len(t, zs[0].Vertices, 4)

	assert.Equal(t, "Z-LAB", zs[1].Name)
	assert.False(t, zs[1].Active)

	_, err = ParseYAML([]byte("zones:\n  - zone_id: X\n    zone_type: LOUNGE\n"))
	assert.ErrorIs(t, err, model.ErrUnknownZoneType)
}
