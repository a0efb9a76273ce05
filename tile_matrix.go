package gpkg

import (
	"image"

	"github.com/flywave/go-geo"
	"github.com/pkg/errors"
)

type TileMatrix struct {
	Name         string  `sql:"type:text" gorm:"column:table_name;not null"`
	ZoomLevel    int     `gorm:"column:zoom_level;not null"`
	MatrixWidth  int     `gorm:"column:matrix_width;not null"`
	MatrixHeight int     `gorm:"column:matrix_height;not null"`
	TileWidth    int     `gorm:"column:tile_width;not null"`
	TileHeight   int     `gorm:"column:tile_height;not null"`
	PixelXSize   float64 `gorm:"column:pixel_x_size;not null"`
	PixelYSize   float64 `gorm:"column:pixel_y_size;not null"`
}

func (TileMatrix) TableName() string {
	return "gpkg_tile_matrix"
}

func NewTileMatrix(tableName string, zoom int, matrixSize image.Point, tileWidth, tileHeight int, gsd float64) *TileMatrix {
	return &TileMatrix{
		Name:         tableName,
		ZoomLevel:    zoom,
		MatrixWidth:  matrixSize.X,
		MatrixHeight: matrixSize.Y,
		TileWidth:    tileWidth,
		TileHeight:   tileHeight,
		PixelXSize:   gsd,
		PixelYSize:   gsd,
	}
}

// NewTileMatrixs builds one row per grid level; zooms[i] is the zoom id of
// level i.
func NewTileMatrixs(tableName string, grid *geo.TileGrid, zooms []int) []TileMatrix {
	n := int(grid.Levels)
	if len(zooms) < n {
		n = len(zooms)
	}
	tms := make([]TileMatrix, 0, n)
	for i := 0; i < n; i++ {
		res := grid.Resolutions[i]
		grids := grid.GridSizes[i]

		tms = append(tms, TileMatrix{
			Name:         tableName,
			ZoomLevel:    zooms[i],
			MatrixWidth:  int(grids[0]),
			MatrixHeight: int(grids[1]),
			TileWidth:    int(grid.TileSize[0]),
			TileHeight:   int(grid.TileSize[1]),
			PixelXSize:   res,
			PixelYSize:   res,
		})
	}
	return tms
}

// ImageSize is the pixel size of the whole matrix.
func (tm TileMatrix) ImageSize() image.Point {
	return image.Pt(tm.MatrixWidth*tm.TileWidth, tm.MatrixHeight*tm.TileHeight)
}

// WriteMatrixLevel inserts the matrix row of one zoom level. An existing
// row yields *DuplicateLevelError.
func (g *GeoPackage) WriteMatrixLevel(tableName string, zoom int, matrixSize image.Point, tileWidth, tileHeight int, gsd float64) error {
	return g.WriteTileMatrix(NewTileMatrix(tableName, zoom, matrixSize, tileWidth, tileHeight, gsd))
}

func (g *GeoPackage) WriteTileMatrix(tm *TileMatrix) error {
	const insertSQL = `
		INSERT INTO gpkg_tile_matrix(
			table_name,
			zoom_level,
			matrix_width,
			matrix_height,
			tile_width,
			tile_height,
			pixel_x_size,
			pixel_y_size
		)
		VALUES (?,?,?,?,?,?,?,?)
		`
	err := g.DB.Exec(insertSQL, tm.Name, tm.ZoomLevel, tm.MatrixWidth, tm.MatrixHeight,
		tm.TileWidth, tm.TileHeight, tm.PixelXSize, tm.PixelYSize).Error
	if isConstraintViolation(err) {
		return &DuplicateLevelError{Table: tm.Name, ZoomLevel: tm.ZoomLevel}
	}
	return errors.Wrapf(err, "insert tile matrix %q/%d", tm.Name, tm.ZoomLevel)
}

// GetTileMatrices returns the matrix rows of tableName, finest first.
func (g *GeoPackage) GetTileMatrices(tableName string) ([]TileMatrix, error) {
	tms := make([]TileMatrix, 0)
	err := g.DB.Where("table_name = ?", tableName).Order("zoom_level desc").Find(&tms).Error
	return tms, err
}
