package gpkg

import (
	"image"
	"math"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

type TileIndex struct {
	Zoom   int
	Column int
	Row    int
}

// CatalogLevel is one zoom level of a stored tile set.
type CatalogLevel struct {
	Matrix TileMatrix
	Extent *TileMatrixExtent
}

// Populated returns the populated tile rectangle, or the whole matrix when
// no extent row is stored.
func (l CatalogLevel) Populated() image.Rectangle {
	full := image.Rect(0, 0, l.Matrix.MatrixWidth, l.Matrix.MatrixHeight)
	if l.Extent == nil {
		return full
	}
	r, ok := l.Extent.TileRect()
	if !ok {
		return full
	}
	return r.Intersect(full)
}

// ImageRect is the pixel rectangle of the level in matrix pixel space. With
// clip set it is narrowed to the populated tiles.
func (l CatalogLevel) ImageRect(clip bool) image.Rectangle {
	tiles := image.Rect(0, 0, l.Matrix.MatrixWidth, l.Matrix.MatrixHeight)
	if clip {
		tiles = l.Populated()
	}
	tw, th := l.Matrix.TileWidth, l.Matrix.TileHeight
	return image.Rect(tiles.Min.X*tw, tiles.Min.Y*th, tiles.Max.X*tw, tiles.Max.Y*th)
}

// TileMatrixSetCatalog is everything stored about one tile table. Levels[0]
// is the finest level.
type TileMatrixSetCatalog struct {
	TableName string
	SRS       SpatialReferenceSystem
	Extent    vec2d.Rect
	Levels    []CatalogLevel
}

func (c *TileMatrixSetCatalog) Zooms() []int {
	zooms := make([]int, len(c.Levels))
	for i, l := range c.Levels {
		zooms[i] = l.Matrix.ZoomLevel
	}
	return zooms
}

func (c *TileMatrixSetCatalog) Level(zoom int) (CatalogLevel, bool) {
	for _, l := range c.Levels {
		if l.Matrix.ZoomLevel == zoom {
			return l, true
		}
	}
	return CatalogLevel{}, false
}

// LoadEntry reads back the catalog of tableName.
func (g *GeoPackage) LoadEntry(tableName string) (*TileMatrixSetCatalog, error) {
	tms, err := g.GetTileMatrixSet(tableName)
	if gorm.IsRecordNotFoundError(err) {
		return nil, errors.Wrapf(ErrEntryNotFound, "%q", tableName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load tile matrix set %q", tableName)
	}
	srs, err := g.GetSpatialReferenceSystem(tms.GetSpatialReferenceSystemId())
	if err != nil {
		return nil, errors.Wrapf(err, "load srs %d of %q", tms.GetSpatialReferenceSystemId(), tableName)
	}
	matrices, err := g.GetTileMatrices(tableName)
	if err != nil {
		return nil, errors.Wrapf(err, "load tile matrices of %q", tableName)
	}
	extents, err := g.GetTileMatrixExtents(tableName)
	if err != nil {
		return nil, errors.Wrapf(err, "load tile matrix extents of %q", tableName)
	}

	cat := &TileMatrixSetCatalog{
		TableName: tableName,
		SRS:       srs,
		Extent:    tms.Extent(),
		Levels:    make([]CatalogLevel, 0, len(matrices)),
	}
	for _, tm := range matrices {
		level := CatalogLevel{Matrix: tm}
		if te, ok := extents[tm.ZoomLevel]; ok {
			level.Extent = &te
		}
		cat.Levels = append(cat.Levels, level)
	}
	return cat, nil
}

// CheckAppendLevels verifies that levels can be added to an existing tile
// set: same srs and tile size, every new zoom id above the stored ones and
// a GSD that keeps halving from the finest stored level. It writes
// nothing.
func (g *GeoPackage) CheckAppendLevels(tableName string, srsID int, tileWidth, tileHeight int, levels []PlannedLevel) error {
	cat, err := g.LoadEntry(tableName)
	if err != nil {
		return err
	}
	if cat.SRS.ID() != srsID {
		return &ReferenceSystemMismatchError{Table: tableName, Existing: cat.SRS.ID(), Got: srsID}
	}
	if len(cat.Levels) == 0 {
		return nil
	}
	finest := cat.Levels[0].Matrix
	if finest.TileWidth != tileWidth || finest.TileHeight != tileHeight {
		return errors.Errorf("%q uses %dx%d tiles, cannot append %dx%d",
			tableName, finest.TileWidth, finest.TileHeight, tileWidth, tileHeight)
	}
	for _, l := range levels {
		if _, ok := cat.Level(l.Zoom); ok {
			return &DuplicateLevelError{Table: tableName, ZoomLevel: l.Zoom}
		}
		if l.Zoom < finest.ZoomLevel {
			return &LevelOrderError{Table: tableName, ZoomLevel: l.Zoom, MaxZoom: finest.ZoomLevel}
		}
		want := math.Ldexp(finest.PixelXSize, finest.ZoomLevel-l.Zoom)
		if math.Abs(l.GSD-want) > want*gridEpsilon {
			return &ResolutionMismatchError{Table: tableName, ZoomLevel: l.Zoom, Want: want, Got: l.GSD}
		}
	}
	return nil
}
