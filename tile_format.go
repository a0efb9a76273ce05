package gpkg

import (
	"bytes"

	"github.com/pkg/errors"
)

type TileFormat uint8

const (
	UNKNOWN TileFormat = iota
	PNG
	JPG
	PBF
	WEBP
)

func (t TileFormat) String() string {
	switch t {
	case PNG:
		return "png"
	case JPG:
		return "jpg"
	case PBF:
		return "pbf"
	case WEBP:
		return "webp"
	default:
		return ""
	}
}

func (t TileFormat) ContentType() string {
	switch t {
	case PNG:
		return "image/png"
	case JPG:
		return "image/jpeg"
	case PBF:
		return "application/x-protobuf"
	case WEBP:
		return "image/webp"
	default:
		return ""
	}
}

var (
	pngSignature  = []byte("\x89\x50\x4E\x47\x0D\x0A\x1A\x0A")
	jpegSignature = []byte("\xFF\xD8\xFF")
	riffSignature = []byte("RIFF")
	webpSignature = []byte("WEBP")
)

// DetectTileFormat identifies a tile blob by its leading bytes.
func DetectTileFormat(data []byte) (TileFormat, error) {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return PNG, nil
	case bytes.HasPrefix(data, jpegSignature):
		return JPG, nil
	case len(data) >= 12 && bytes.HasPrefix(data, riffSignature) && bytes.Equal(data[8:12], webpSignature):
		return WEBP, nil
	}
	return UNKNOWN, errors.Wrap(ErrUnsupportedTileFormat, "could not detect tile format")
}
