package gpkg

import (
	"time"

	"github.com/flywave/go-geom/general"
	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/pkg/errors"
)

const DataTypeTiles = "tiles"

type Content struct {
	ContentTableName         string     `sql:"type:text" gorm:"column:table_name;unique;not null;primary_key"`
	DataType                 string     `sql:"type:text" gorm:"column:data_type;not null"`
	Identifier               string     `sql:"type:text" gorm:"column:identifier;unique"`
	Description              string     `sql:"type:text" gorm:"column:description;default:''"`
	LastChange               *time.Time `gorm:"column:last_change;not null"`
	MinX                     *float64   `gorm:"column:min_x"`
	MinY                     *float64   `gorm:"column:min_y"`
	MaxX                     *float64   `gorm:"column:max_x"`
	MaxY                     *float64   `gorm:"column:max_y"`
	SpatialReferenceSystemId int        `sql:"type:integer REFERENCES gpkg_spatial_ref_sys(srs_id)" gorm:"column:srs_id"`
}

func (Content) TableName() string {
	return "gpkg_contents"
}

func NewContent(tableName string, srsID int, extent vec2d.Rect) *Content {
	now := time.Now().UTC()
	return &Content{
		ContentTableName:         tableName,
		DataType:                 DataTypeTiles,
		Identifier:               tableName,
		LastChange:               &now,
		MinX:                     &extent.Min[0],
		MinY:                     &extent.Min[1],
		MaxX:                     &extent.Max[0],
		MaxY:                     &extent.Max[1],
		SpatialReferenceSystemId: srsID,
	}
}

// Extent returns the bounds of the contents row, or nil when they are not
// set.
func (c *Content) Extent() *general.Extent {
	if c.MinX == nil || c.MinY == nil || c.MaxX == nil || c.MaxY == nil {
		return nil
	}
	return general.NewExtent([]float64{*c.MinX, *c.MinY}, []float64{*c.MaxX, *c.MaxY})
}

func (g *GeoPackage) GetContent(tableName string) (Content, error) {
	c := Content{}
	err := g.DB.Where("table_name = ?", tableName).First(&c).Error
	return c, err
}

func (g *GeoPackage) writeContent(c *Content) error {
	const insertSQL = `
		INSERT INTO gpkg_contents(
			table_name,
			data_type,
			identifier,
			description,
			last_change,
			min_x,
			min_y,
			max_x,
			max_y,
			srs_id
		)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		`
	err := g.DB.Exec(insertSQL,
		c.ContentTableName, c.DataType, c.Identifier, c.Description, c.LastChange.Format(time.RFC3339Nano),
		c.MinX, c.MinY, c.MaxX, c.MaxY, c.SpatialReferenceSystemId).Error
	if isConstraintViolation(err) {
		return errors.Errorf("tile table %q already exists", c.ContentTableName)
	}
	return errors.Wrapf(err, "insert contents row for %q", c.ContentTableName)
}

// UpdateContentsExtent grows the bounds of the contents row of tableName to
// include extent.
func (g *GeoPackage) UpdateContentsExtent(tableName string, extent *general.Extent) error {
	if extent == nil {
		return nil
	}

	const updateSQL = `
		UPDATE gpkg_contents
		SET
			min_x = ?,
			min_y = ?,
			max_x = ?,
			max_y = ?,
			last_change = ?
		WHERE
			table_name = ?
		`
	c, err := g.GetContent(tableName)
	if err != nil {
		return errors.Wrapf(err, "load contents row for %q", tableName)
	}
	ext := c.Extent()
	if ext == nil {
		ext = extent
	} else {
		ext.Add(extent)
	}
	return g.DB.Exec(updateSQL, ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY(),
		time.Now().UTC().Format(time.RFC3339Nano), tableName).Error
}
