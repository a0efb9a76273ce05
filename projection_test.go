package gpkg

import (
	"image"
	"testing"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/stretchr/testify/require"
)

func TestProjectionRoundTrip(t *testing.T) {
	p := NewProjection(mustResolve(t, 32633), vec2d.T{500000, 4000000}, vec2d.T{2, 3})
	require.Equal(t, vec2d.T{500001, 3999998.5}, p.TiePoint)
	require.Equal(t, vec2d.T{500000, 4000000}, p.UpperLeft())

	for _, px := range []vec2d.T{{0, 0}, {10.5, 3.25}, {-4, 700}} {
		w := p.PixelToWorld(px)
		back := p.WorldToPixel(w)
		require.InDelta(t, px[0], back[0], 1e-9)
		require.InDelta(t, px[1], back[1], 1e-9)
	}
	require.Equal(t, vec2d.T{500003, 3999995.5}, p.PixelToWorld(vec2d.T{1, 1}))
}

func TestProjectionFootprint(t *testing.T) {
	p := NewProjection(mustResolve(t, 32633), vec2d.T{500000, 4000000}, vec2d.T{1, 1})
	fp := p.Footprint(image.Pt(600, 400))
	require.Equal(t, vec2d.T{500000, 3999600}, fp.Min)
	require.Equal(t, vec2d.T{500600, 4000000}, fp.Max)

	w := p.WorldRect(image.Rect(10, 20, 30, 50))
	require.Equal(t, vec2d.T{500010, 3999950}, w.Min)
	require.Equal(t, vec2d.T{500030, 3999980}, w.Max)
	require.Equal(t, image.Rect(10, 20, 30, 50), p.PixelRect(w))

	// partial pixels widen outwards
	require.Equal(t, image.Rect(0, 0, 2, 2), p.PixelRect(vec2d.Rect{
		Min: vec2d.T{500000.5, 3999998.5},
		Max: vec2d.T{500001.5, 3999999.5},
	}))
}

func TestProjectionRescale(t *testing.T) {
	p := NewProjection(mustResolve(t, 4326), vec2d.T{10, 50}, vec2d.T{0.25, 0.25})
	c := p.Clone()
	p.Rescale(0.5)
	require.Equal(t, vec2d.T{0.125, 0.125}, p.GSD)
	require.Equal(t, vec2d.T{10, 50}, p.UpperLeft())
	require.Equal(t, vec2d.T{10.0625, 49.9375}, p.TiePoint)
	require.Equal(t, vec2d.T{0.25, 0.25}, c.GSD)

	p.Rescale(4)
	require.Equal(t, vec2d.T{0.5, 0.5}, p.GSD)
	require.Equal(t, vec2d.T{10, 50}, p.UpperLeft())
}

func TestProjectionMetersPerPixel(t *testing.T) {
	utm := NewProjection(mustResolve(t, 32633), vec2d.T{}, vec2d.T{2, 2})
	require.Equal(t, vec2d.T{2, 2}, utm.MetersPerPixel())

	geographic := NewProjection(mustResolve(t, 4326), vec2d.T{}, vec2d.T{1, 1})
	mpp := geographic.MetersPerPixel()
	require.InDelta(t, 111319.49, mpp[0], 0.01)
}
