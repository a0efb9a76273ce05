package gpkg

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	tests := []struct {
		code  int
		kind  SystemKind
		zone  int
		south bool
		name  string
	}{
		{code: 4326, kind: KindGeographic, name: "WGS 84 geodetic"},
		{code: 3395, kind: KindWorldMercator, name: "WGS 84 / World Mercator"},
		{code: 3857, kind: KindWebMercator, name: "WGS 84 / Pseudo-Mercator"},
		{code: 900913, kind: KindWebMercator, name: "WGS 84 / Pseudo-Mercator"},
		{code: 32601, kind: KindUTM, zone: 1, name: "WGS 84 / UTM zone 1N"},
		{code: 32633, kind: KindUTM, zone: 33, name: "WGS 84 / UTM zone 33N"},
		{code: 32760, kind: KindUTM, zone: 60, south: true, name: "WGS 84 / UTM zone 60S"},
		{code: 2056, kind: KindGeneric, name: "EPSG:2056"},
	}
	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := reg.Resolve(tt.code)
			require.NoError(t, err)
			require.Equal(t, tt.kind, rs.Kind)
			require.Equal(t, tt.zone, rs.Zone)
			require.Equal(t, tt.south, rs.South)
			require.Equal(t, tt.name, rs.Name())
			require.Equal(t, OrganizationEPSG, rs.Organization)
		})
	}

	_, err := reg.Resolve(0)
	var perr *PlanningError
	require.True(t, errors.As(err, &perr))
}

func TestRegistryResolveString(t *testing.T) {
	reg := NewRegistry()
	rs, err := reg.ResolveString("EPSG:4326")
	require.NoError(t, err)
	require.Equal(t, KindGeographic, rs.Kind)

	rs, err = reg.ResolveString(" epsg:32633 ")
	require.NoError(t, err)
	require.Equal(t, 33, rs.Zone)

	_, err = reg.ResolveString("")
	require.Error(t, err)
}

func TestRegistryFrames(t *testing.T) {
	reg := NewRegistry()

	frame, err := reg.Frame(mustResolve(t, 4326))
	require.NoError(t, err)
	require.Equal(t, 2, frame.TilesWide)
	require.Equal(t, 360.0/512, frame.GSD0(256, 256))

	frame, err = reg.Frame(mustResolve(t, 3857))
	require.NoError(t, err)
	require.InDelta(t, 156543.03392804097, frame.GSD0(256, 256), 1e-6)

	north, err := reg.Frame(mustResolve(t, 32633))
	require.NoError(t, err)
	require.Equal(t, 0.0, north.Bounds.Min[1])
	south, err := reg.Frame(mustResolve(t, 32733))
	require.NoError(t, err)
	require.Equal(t, utmFalseNorthing, south.Bounds.Max[1])
	require.Equal(t, north.Bounds.Min[0], south.Bounds.Min[0])

	_, err = reg.Frame(mustResolve(t, 2056))
	var perr *PlanningError
	require.True(t, errors.As(err, &perr))

	reg.Register(2056, GlobalFrame{TilesWide: 1, TilesHigh: 1}, "")
	_, err = reg.Frame(mustResolve(t, 2056))
	require.True(t, errors.As(err, &perr))
}

func TestGlobalFrameTileGrid(t *testing.T) {
	rs := mustResolve(t, 4326)
	frame, err := NewRegistry().Frame(rs)
	require.NoError(t, err)
	grid := frame.TileGrid(rs, 256, 256)

	require.Equal(t, "EPSG:4326", grid.Srs.GetSrsCode())
	require.True(t, grid.IsGeodetic)
	require.True(t, grid.FlippedYAxis)
	require.Equal(t, uint32(maxZoomLevel+1), grid.Levels)
	require.Equal(t, frame.Bounds, *grid.BBox)
	for _, z := range []int{0, 1, 12, maxZoomLevel} {
		require.Equal(t, geographicGSD(z), grid.Resolution(z), "zoom %d", z)
	}
	require.Equal(t, [2]uint32{2, 1}, grid.GridSizes[0])
	require.Equal(t, [2]uint32{4, 2}, grid.GridSizes[1])

	x, y, _ := grid.Tile(10, -10, 1)
	require.Equal(t, [2]int{2, 1}, [2]int{x, y})
	require.Equal(t, 12, grid.ClosestLevel(geographicGSD(12)*1.2))
	require.Equal(t, 11, grid.ClosestLevel(geographicGSD(12)*1.4))
}

func TestRegistrySpatialReferenceSystem(t *testing.T) {
	reg := NewRegistry()

	srs := reg.SpatialReferenceSystem(mustResolve(t, 32633))
	require.Equal(t, "EPSG:32633", srs.Code())
	require.Equal(t, "WGS 84 / UTM zone 33N", srs.Name)
	require.Contains(t, srs.Definition, `PARAMETER["central_meridian",15]`)
	require.Contains(t, srs.Definition, `PARAMETER["false_northing",0]`)

	south := reg.SpatialReferenceSystem(mustResolve(t, 32733))
	require.Contains(t, south.Definition, `PARAMETER["false_northing",10000000]`)

	mercator := reg.SpatialReferenceSystem(mustResolve(t, 3857))
	require.True(t, strings.HasPrefix(mercator.Definition, "PROJCS"))

	reg.Register(2056, GlobalFrame{}, `PROJCS["CH1903+ / LV95"]`)
	require.Equal(t, `PROJCS["CH1903+ / LV95"]`, reg.SpatialReferenceSystem(mustResolve(t, 2056)).Definition)
}
