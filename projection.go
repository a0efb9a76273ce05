package gpkg

import (
	"image"
	"math"

	vec2d "github.com/flywave/go3d/float64/vec2"
)

// Projection maps line/sample space onto a reference frame. TiePoint is
// the world position of the centre of pixel (0,0); GSD is the positive
// pixel size along x (east) and y (south, lines grow downwards).
type Projection struct {
	System   ReferenceSystem
	TiePoint vec2d.T
	GSD      vec2d.T
}

// NewProjection builds a projection whose upper-left pixel edge sits on
// upperLeft.
func NewProjection(rs ReferenceSystem, upperLeft vec2d.T, gsd vec2d.T) *Projection {
	return &Projection{
		System:   rs,
		TiePoint: vec2d.T{upperLeft[0] + gsd[0]/2, upperLeft[1] - gsd[1]/2},
		GSD:      gsd,
	}
}

func (p *Projection) Clone() *Projection {
	c := *p
	return &c
}

// UpperLeft is the world position of the outer corner of pixel (0,0).
func (p *Projection) UpperLeft() vec2d.T {
	return vec2d.T{p.TiePoint[0] - p.GSD[0]/2, p.TiePoint[1] + p.GSD[1]/2}
}

// PixelToWorld converts a continuous pixel position, where integer
// coordinates are pixel centres.
func (p *Projection) PixelToWorld(pt vec2d.T) vec2d.T {
	return vec2d.T{
		p.TiePoint[0] + pt[0]*p.GSD[0],
		p.TiePoint[1] - pt[1]*p.GSD[1],
	}
}

func (p *Projection) WorldToPixel(w vec2d.T) vec2d.T {
	return vec2d.T{
		(w[0] - p.TiePoint[0]) / p.GSD[0],
		(p.TiePoint[1] - w[1]) / p.GSD[1],
	}
}

// Footprint is the edge-to-edge world rectangle of an image of the given
// size.
func (p *Projection) Footprint(size image.Point) vec2d.Rect {
	ul := p.UpperLeft()
	return vec2d.Rect{
		Min: vec2d.T{ul[0], ul[1] - float64(size.Y)*p.GSD[1]},
		Max: vec2d.T{ul[0] + float64(size.X)*p.GSD[0], ul[1]},
	}
}

// WorldRect returns the edge-to-edge world rectangle covered by a pixel
// rectangle.
func (p *Projection) WorldRect(r image.Rectangle) vec2d.Rect {
	ul := p.UpperLeft()
	return vec2d.Rect{
		Min: vec2d.T{ul[0] + float64(r.Min.X)*p.GSD[0], ul[1] - float64(r.Max.Y)*p.GSD[1]},
		Max: vec2d.T{ul[0] + float64(r.Max.X)*p.GSD[0], ul[1] - float64(r.Min.Y)*p.GSD[1]},
	}
}

// PixelRect returns the smallest pixel rectangle covering a world rectangle.
func (p *Projection) PixelRect(w vec2d.Rect) image.Rectangle {
	ul := p.UpperLeft()
	x0 := math.Floor((w.Min[0]-ul[0])/p.GSD[0] + gridEpsilon)
	x1 := math.Ceil((w.Max[0]-ul[0])/p.GSD[0] - gridEpsilon)
	y0 := math.Floor((ul[1]-w.Max[1])/p.GSD[1] + gridEpsilon)
	y1 := math.Ceil((ul[1]-w.Min[1])/p.GSD[1] - gridEpsilon)
	return image.Rect(int(x0), int(y0), int(x1), int(y1))
}

// Rescale multiplies the pixel size by factor in both axes. The upper-left
// edge stays where it is and the tie point is recentred on the new pixel.
func (p *Projection) Rescale(factor float64) {
	ul := p.UpperLeft()
	p.GSD = vec2d.T{p.GSD[0] * factor, p.GSD[1] * factor}
	p.TiePoint = vec2d.T{ul[0] + p.GSD[0]/2, ul[1] - p.GSD[1]/2}
}

func (p *Projection) MetersPerPixel() vec2d.T {
	m := p.System.MetersPerUnit()
	return vec2d.T{p.GSD[0] * m, p.GSD[1] * m}
}

func vec(x, y float64) vec2d.T {
	return vec2d.T{x, y}
}
