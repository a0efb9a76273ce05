package gpkg

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// ImageSource is a tiled image with one or more resolution levels.
type ImageSource interface {
	// Tile returns the pixels of rect at resLevel, or nil when the source
	// has no data anywhere in rect.
	Tile(rect image.Rectangle, resLevel int) (*PixelTile, error)
	Bounds(resLevel int) image.Rectangle
	NumResolutionLevels() int
}

// ViewSource is an ImageSource whose output grid can be changed. After
// SetView, pixel (x, y) of the source is the pixel (x, y) of view.
type ViewSource interface {
	ImageSource
	SetView(view *Projection) error
}

// MemorySource serves an in-memory image through a view projection using
// nearest neighbour sampling.
type MemorySource struct {
	img  *image.NRGBA
	proj *Projection
	view *Projection
}

func NewMemorySource(img image.Image, proj *Projection) *MemorySource {
	return &MemorySource{
		img:  toNRGBA(img),
		proj: proj.Clone(),
		view: proj.Clone(),
	}
}

func (s *MemorySource) Projection() *Projection {
	return s.proj.Clone()
}

func (s *MemorySource) Size() image.Point {
	return s.img.Rect.Size()
}

func (s *MemorySource) SetView(view *Projection) error {
	if view == nil {
		return errors.New("nil view")
	}
	if view.System != s.proj.System {
		return errors.Errorf("view in %s, source in %s", view.System, s.proj.System)
	}
	if !(view.GSD[0] > 0) || !(view.GSD[1] > 0) {
		return errors.Errorf("invalid view GSD %v", view.GSD)
	}
	s.view = view.Clone()
	return nil
}

func (s *MemorySource) NumResolutionLevels() int {
	return 1
}

// Bounds is the view pixel rectangle touched by the source footprint.
func (s *MemorySource) Bounds(resLevel int) image.Rectangle {
	if resLevel != 0 {
		return image.Rectangle{}
	}
	return s.view.PixelRect(s.proj.Footprint(s.img.Rect.Size()))
}

func (s *MemorySource) Tile(rect image.Rectangle, resLevel int) (*PixelTile, error) {
	if resLevel != 0 {
		return nil, errors.Wrapf(ErrInvalidResolutionLevel, "%d", resLevel)
	}
	if rect.Intersect(s.Bounds(0)).Empty() {
		return nil, nil
	}

	w, h := rect.Dx(), rect.Dy()
	srcW, srcH := s.img.Rect.Dx(), s.img.Rect.Dy()
	tile := NewPixelTile(w, h)

	cols := make([]int, w)
	for x := range cols {
		p := s.proj.WorldToPixel(s.view.PixelToWorld(vec(float64(rect.Min.X+x), 0)))
		cols[x] = nearest(p[0], srcW)
	}
	for y := 0; y < h; y++ {
		p := s.proj.WorldToPixel(s.view.PixelToWorld(vec(0, float64(rect.Min.Y+y))))
		sy := nearest(p[1], srcH)
		if sy < 0 {
			continue
		}
		dst := tile.Image.Pix[y*tile.Image.Stride:]
		src := s.img.Pix[sy*s.img.Stride:]
		for x, sx := range cols {
			if sx < 0 {
				continue
			}
			copy(dst[x*4:x*4+4], src[sx*4:sx*4+4])
		}
	}
	return tile, nil
}

// nearest rounds a continuous pixel coordinate to an index in [0, n), or
// -1 when it falls outside.
func nearest(p float64, n int) int {
	i := int(math.Floor(p + 0.5))
	if i < 0 || i >= n {
		return -1
	}
	return i
}
