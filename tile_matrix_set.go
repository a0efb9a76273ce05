package gpkg

import (
	"github.com/flywave/go-geo"
	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/pkg/errors"
)

type TileMatrixSet struct {
	Name                     string   `sql:"type:text" gorm:"column:table_name;not null;primary_key"`
	SpatialReferenceSystemId *int     `gorm:"column:srs_id;not null"`
	MinX                     *float64 `gorm:"column:min_x;not null"`
	MinY                     *float64 `gorm:"column:min_y;not null"`
	MaxX                     *float64 `gorm:"column:max_x;not null"`
	MaxY                     *float64 `gorm:"column:max_y;not null"`
}

func (TileMatrixSet) TableName() string {
	return "gpkg_tile_matrix_set"
}

func (tms TileMatrixSet) GetSpatialReferenceSystemId() int {
	if tms.SpatialReferenceSystemId == nil {
		return 0
	}
	return *tms.SpatialReferenceSystemId
}

// Extent is the edge-to-edge bounding rectangle of the set.
func (tms TileMatrixSet) Extent() vec2d.Rect {
	var r vec2d.Rect
	if tms.MinX != nil && tms.MinY != nil && tms.MaxX != nil && tms.MaxY != nil {
		r = vec2d.Rect{Min: vec2d.T{*tms.MinX, *tms.MinY}, Max: vec2d.T{*tms.MaxX, *tms.MaxY}}
	}
	return r
}

// NewTileMatrixSet takes the set extent from the grid bbox.
func NewTileMatrixSet(tableName string, srsID int, grid *geo.TileGrid) *TileMatrixSet {
	bbox := *grid.BBox
	return &TileMatrixSet{
		Name:                     tableName,
		SpatialReferenceSystemId: &srsID,
		MinX:                     &bbox.Min[0],
		MinY:                     &bbox.Min[1],
		MaxX:                     &bbox.Max[0],
		MaxY:                     &bbox.Max[1],
	}
}

func (g *GeoPackage) GetTileMatrixSet(tableName string) (TileMatrixSet, error) {
	tms := TileMatrixSet{}
	err := g.DB.Where("table_name = ?", tableName).First(&tms).Error
	return tms, err
}

func (g *GeoPackage) writeTileMatrixSet(tms *TileMatrixSet) error {
	const insertSQL = `
		INSERT INTO gpkg_tile_matrix_set(
			table_name,
			srs_id,
			min_x,
			min_y,
			max_x,
			max_y
		)
		VALUES (?,?,?,?,?,?)
		`
	err := g.DB.Exec(insertSQL, tms.Name, tms.GetSpatialReferenceSystemId(), *tms.MinX, *tms.MinY, *tms.MaxX, *tms.MaxY).Error
	if isConstraintViolation(err) {
		return errors.Errorf("tile matrix set %q already exists", tms.Name)
	}
	return errors.Wrapf(err, "insert tile matrix set %q", tms.Name)
}
