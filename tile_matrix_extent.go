package gpkg

import (
	"image"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/pkg/errors"
)

const ExtentTypeData = "data"

// TileMatrixExtent is the populated part of one zoom level. Column and row
// bounds are inclusive.
type TileMatrixExtent struct {
	Name       string   `sql:"type:text" gorm:"column:table_name;not null"`
	ZoomLevel  int      `gorm:"column:zoom_level;not null"`
	ExtentType string   `gorm:"column:extent_type;not null"`
	MinColumn  *int     `gorm:"column:min_column"`
	MinRow     *int     `gorm:"column:min_row"`
	MaxColumn  *int     `gorm:"column:max_column"`
	MaxRow     *int     `gorm:"column:max_row"`
	MinX       *float64 `gorm:"column:min_x"`
	MinY       *float64 `gorm:"column:min_y"`
	MaxX       *float64 `gorm:"column:max_x"`
	MaxY       *float64 `gorm:"column:max_y"`
}

func (TileMatrixExtent) TableName() string {
	return "nsg_tile_matrix_extent"
}

// TileRect returns the populated tiles with an exclusive max, and false when
// the row carries no tile bounds.
func (te TileMatrixExtent) TileRect() (image.Rectangle, bool) {
	if te.MinColumn == nil || te.MinRow == nil || te.MaxColumn == nil || te.MaxRow == nil {
		return image.Rectangle{}, false
	}
	return image.Rect(*te.MinColumn, *te.MinRow, *te.MaxColumn+1, *te.MaxRow+1), true
}

// WriteMatrixExtent inserts the populated extent row of one zoom level.
// tiles has an exclusive max.
func (g *GeoPackage) WriteMatrixExtent(tableName string, zoom int, tiles image.Rectangle, world vec2d.Rect) error {
	const insertSQL = `
		INSERT INTO nsg_tile_matrix_extent(
			table_name,
			zoom_level,
			extent_type,
			min_column,
			min_row,
			max_column,
			max_row,
			min_x,
			min_y,
			max_x,
			max_y
		)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		`
	if tiles.Empty() {
		return errors.Errorf("empty populated extent for %q/%d", tableName, zoom)
	}
	err := g.DB.Exec(insertSQL, tableName, zoom, ExtentTypeData,
		tiles.Min.X, tiles.Min.Y, tiles.Max.X-1, tiles.Max.Y-1,
		world.Min[0], world.Min[1], world.Max[0], world.Max[1]).Error
	if isConstraintViolation(err) {
		return &DuplicateLevelError{Table: tableName, ZoomLevel: zoom}
	}
	return errors.Wrapf(err, "insert tile matrix extent %q/%d", tableName, zoom)
}

// GetTileMatrixExtents returns the data extents of tableName keyed by zoom
// level.
func (g *GeoPackage) GetTileMatrixExtents(tableName string) (map[int]TileMatrixExtent, error) {
	rows := make([]TileMatrixExtent, 0)
	err := g.DB.Where("table_name = ? AND extent_type = ?", tableName, ExtentTypeData).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]TileMatrixExtent, len(rows))
	for _, te := range rows {
		out[te.ZoomLevel] = te
	}
	return out, nil
}
