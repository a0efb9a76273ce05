package gpkg

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/gen2brain/webp"
	"github.com/pkg/errors"
)

// CodecMode picks the encoding of a tile.
type CodecMode uint8

const (
	OpaqueLossy CodecMode = iota
	OpaqueLossless
	AlphaLossless
)

func (m CodecMode) String() string {
	switch m {
	case OpaqueLossless:
		return "opaque-lossless"
	case AlphaLossless:
		return "alpha-lossless"
	default:
		return "opaque-lossy"
	}
}

const defaultQuality = 75

// Codec converts pixel tiles to and from tile blobs. Lossy tiles are JPEG
// unless LossyFormat is WEBP.
type Codec struct {
	Quality     int
	LossyFormat TileFormat
}

func NewCodec(quality int, lossy TileFormat) *Codec {
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	if lossy != WEBP {
		lossy = JPG
	}
	return &Codec{Quality: quality, LossyFormat: lossy}
}

func (c *Codec) Encode(tile *PixelTile, mode CodecMode) ([]byte, error) {
	if tile == nil || tile.Image == nil {
		return nil, errors.New("encode nil tile")
	}
	var buf bytes.Buffer
	var err error
	switch mode {
	case OpaqueLossy:
		img := opaque(tile.Image)
		if c.LossyFormat == WEBP {
			err = webp.Encode(&buf, img, webp.Options{Lossless: false, Quality: c.Quality})
		} else {
			err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.Quality})
		}
	case OpaqueLossless:
		err = c.encodePNG(&buf, opaque(tile.Image))
	case AlphaLossless:
		err = c.encodePNG(&buf, tile.Image)
	default:
		err = errors.Errorf("unknown codec mode %d", mode)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s tile", mode)
	}
	return buf.Bytes(), nil
}

func (c *Codec) encodePNG(buf *bytes.Buffer, img image.Image) error {
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(buf, img)
}

// Decode sniffs the blob format and decodes it.
func (c *Codec) Decode(data []byte) (*PixelTile, error) {
	format, err := DetectTileFormat(data)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(data)
	var img image.Image
	switch format {
	case PNG:
		img, err = png.Decode(r)
	case JPG:
		img, err = jpeg.Decode(r)
	case WEBP:
		img, err = webp.Decode(r)
		if err == nil {
			img = studioRangeToNRGBA(img)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedTileFormat, "%s", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s tile", format)
	}
	return NewPixelTileFromImage(img), nil
}

// studioRangeToNRGBA converts lossy WebP output, which holds BT.601 YUV
// with luma in 16..235, to RGB. Other images are returned as is.
func studioRangeToNRGBA(img image.Image) image.Image {
	var ycc *image.YCbCr
	var alpha *image.NYCbCrA
	switch m := img.(type) {
	case *image.NYCbCrA:
		ycc, alpha = &m.YCbCr, m
	case *image.YCbCr:
		ycc = m
	default:
		return img
	}
	b := ycc.Rect
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			luma := 1.164383 * (float64(ycc.Y[ycc.YOffset(x, y)]) - 16)
			ci := ycc.COffset(x, y)
			cb := float64(ycc.Cb[ci]) - 128
			cr := float64(ycc.Cr[ci]) - 128
			i := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[i+0] = clampUint8(luma + 1.596027*cr)
			out.Pix[i+1] = clampUint8(luma - 0.391762*cb - 0.812968*cr)
			out.Pix[i+2] = clampUint8(luma + 2.017232*cb)
			out.Pix[i+3] = 0xff
			if alpha != nil {
				out.Pix[i+3] = alpha.A[alpha.AOffset(x, y)]
			}
		}
	}
	return out
}

func clampUint8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
