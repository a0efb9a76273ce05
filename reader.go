package gpkg

import (
	"image"
	"log/slog"
	"strings"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/pkg/errors"
)

// Reader serves a stored tile set as an ImageSource. Resolution level 0 is
// the finest stored level. Each level's pixel space starts at the upper
// left of its populated tiles when extents are clipped, else at the upper
// left of the matrix.
type Reader struct {
	gpkg     *GeoPackage
	catalog  *TileMatrixSetCatalog
	codec    *Codec
	cfg      ReaderConfig
	logger   *slog.Logger
	registry *Registry
	overview ImageSource
}

func NewReader(g *GeoPackage, table string, cfg ReaderConfig, opts ...Option) (*Reader, error) {
	if g == nil || g.DB == nil {
		return nil, errors.New("nil container")
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	cat, err := g.LoadEntry(table)
	if err != nil {
		return nil, err
	}
	if len(cat.Levels) == 0 {
		return nil, errors.Errorf("%q has no tile matrix levels", table)
	}
	o := newOptions(opts)
	return &Reader{
		gpkg:     g,
		catalog:  cat,
		codec:    NewCodec(defaultQuality, JPG),
		cfg:      cfg,
		logger:   o.logger,
		registry: o.registry,
		overview: o.overview,
	}, nil
}

func (r *Reader) Catalog() *TileMatrixSetCatalog {
	return r.catalog
}

// SetOverview attaches a source for resolution levels past the stored
// ones; level len(Levels) of the reader is level 0 of src.
func (r *Reader) SetOverview(src ImageSource) {
	r.overview = src
}

func (r *Reader) NumResolutionLevels() int {
	n := len(r.catalog.Levels)
	if r.overview != nil {
		n += r.overview.NumResolutionLevels()
	}
	return n
}

// offset is the matrix pixel position of pixel (0,0) of a level.
func (r *Reader) offset(level CatalogLevel) image.Point {
	return level.ImageRect(r.cfg.ClipToExtent()).Min
}

func (r *Reader) Bounds(resLevel int) image.Rectangle {
	if resLevel < 0 {
		return image.Rectangle{}
	}
	if resLevel >= len(r.catalog.Levels) {
		if r.overview == nil {
			return image.Rectangle{}
		}
		return r.overview.Bounds(resLevel - len(r.catalog.Levels))
	}
	rect := r.catalog.Levels[resLevel].ImageRect(r.cfg.ClipToExtent())
	return rect.Sub(rect.Min)
}

// LevelProjection georeferences the pixel space of resLevel.
func (r *Reader) LevelProjection(resLevel int) (*Projection, error) {
	if resLevel < 0 || resLevel >= len(r.catalog.Levels) {
		return nil, errors.Wrapf(ErrInvalidResolutionLevel, "%d", resLevel)
	}
	level := r.catalog.Levels[resLevel]
	rs, err := r.referenceSystem()
	if err != nil {
		return nil, err
	}
	off := r.offset(level)
	gsd := vec2d.T{level.Matrix.PixelXSize, level.Matrix.PixelYSize}
	ext := r.catalog.Extent
	ul := vec2d.T{ext.Min[0] + float64(off.X)*gsd[0], ext.Max[1] - float64(off.Y)*gsd[1]}
	return NewProjection(rs, ul, gsd), nil
}

func (r *Reader) referenceSystem() (ReferenceSystem, error) {
	srs := r.catalog.SRS
	if srs.OrganizationCoordinateSystemId != nil && strings.EqualFold(srs.Organization, OrganizationEPSG) {
		return r.registry.Resolve(*srs.OrganizationCoordinateSystemId)
	}
	return ReferenceSystem{Kind: KindGeneric, Organization: srs.Organization, Code: srs.ID()}, nil
}

func (r *Reader) Tile(rect image.Rectangle, resLevel int) (*PixelTile, error) {
	return r.GetTile(resLevel, rect)
}

// GetTile assembles rect of resLevel from the stored tiles. Missing tiles
// and tiles that fail to decode are left as nodata.
func (r *Reader) GetTile(resLevel int, rect image.Rectangle) (*PixelTile, error) {
	if resLevel < 0 {
		return nil, errors.Wrapf(ErrInvalidResolutionLevel, "%d", resLevel)
	}
	if resLevel >= len(r.catalog.Levels) {
		if r.overview == nil || resLevel >= r.NumResolutionLevels() {
			return nil, errors.Wrapf(ErrInvalidResolutionLevel, "%d of %d", resLevel, len(r.catalog.Levels))
		}
		return r.overview.Tile(rect, resLevel-len(r.catalog.Levels))
	}

	out := NewPixelTile(rect.Dx(), rect.Dy())
	clipped := rect.Intersect(r.Bounds(resLevel))
	if clipped.Empty() {
		return out, nil
	}

	level := r.catalog.Levels[resLevel]
	zoom := level.Matrix.ZoomLevel
	tw, th := level.Matrix.TileWidth, level.Matrix.TileHeight
	off := r.offset(level)
	m := clipped.Add(off)

	for row := m.Min.Y / th; row <= (m.Max.Y-1)/th; row++ {
		for col := m.Min.X / tw; col <= (m.Max.X-1)/tw; col++ {
			blob, err := r.gpkg.GetTile(r.catalog.TableName, zoom, col, row)
			if err != nil {
				return nil, errors.Wrapf(err, "fetch tile %d/%d/%d", zoom, col, row)
			}
			if blob == nil {
				continue
			}
			tile, err := r.codec.Decode(blob)
			if err != nil {
				r.logger.Warn("gpkg: decoding tile failed", tileAttrs(TileIndex{zoom, col, row}, err)...)
				continue
			}
			tileRect := image.Rect(col*tw, row*th, (col+1)*tw, (row+1)*th)
			inter := tileRect.Intersect(m)
			src := inter.Sub(tileRect.Min).Intersect(tile.Bounds())
			if src.Empty() {
				continue
			}
			dst := src.Min.Add(tileRect.Min).Sub(off).Sub(rect.Min)
			out.Draw(dst, tile, src)
		}
	}
	return out, nil
}
