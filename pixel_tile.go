package gpkg

import (
	"image"
	"image/draw"
)

// TileClass is the fullness of a pixel tile.
type TileClass uint8

const (
	// TileNull means the source had no data at all for the rectangle.
	TileNull TileClass = iota
	TileEmpty
	TilePartial
	TileFull
)

func (c TileClass) String() string {
	switch c {
	case TileEmpty:
		return "empty"
	case TilePartial:
		return "partial"
	case TileFull:
		return "full"
	default:
		return "null"
	}
}

// PixelTile is a block of pixels. A pixel is valid iff its alpha is non
// zero; nodata is stored as transparent black.
type PixelTile struct {
	Image *image.NRGBA
}

// NewPixelTile returns a w x h tile with every pixel nodata.
func NewPixelTile(w, h int) *PixelTile {
	return &PixelTile{Image: image.NewNRGBA(image.Rect(0, 0, w, h))}
}

func NewPixelTileFromImage(img image.Image) *PixelTile {
	return &PixelTile{Image: toNRGBA(img)}
}

func (t *PixelTile) Bounds() image.Rectangle {
	return t.Image.Bounds()
}

func (t *PixelTile) Valid(x, y int) bool {
	if !(image.Point{x, y}.In(t.Image.Rect)) {
		return false
	}
	return t.Image.Pix[t.Image.PixOffset(x, y)+3] != 0
}

func (t *PixelTile) ValidCount() int {
	n := 0
	b := t.Image.Rect
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := t.Image.Pix[t.Image.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4+3] != 0 {
				n++
			}
		}
	}
	return n
}

func (t *PixelTile) Clone() *PixelTile {
	img := image.NewNRGBA(t.Image.Rect)
	copy(img.Pix, t.Image.Pix)
	return &PixelTile{Image: img}
}

// Draw copies r of src into t at dp, nodata included.
func (t *PixelTile) Draw(dp image.Point, src *PixelTile, r image.Rectangle) {
	draw.Draw(t.Image, image.Rectangle{Min: dp, Max: dp.Add(r.Size())}, src.Image, r.Min, draw.Src)
}

// ClassifyTile sorts t into null, empty, partial or full.
func ClassifyTile(t *PixelTile) TileClass {
	if t == nil || t.Image == nil {
		return TileNull
	}
	valid := t.ValidCount()
	switch {
	case valid == 0:
		return TileEmpty
	case valid == t.Image.Rect.Dx()*t.Image.Rect.Dy():
		return TileFull
	default:
		return TilePartial
	}
}

// opaque returns a copy of img with every alpha set to 255.
func opaque(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == 4*b.Dx() {
		return n
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}
