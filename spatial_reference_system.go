package gpkg

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

type SpatialReferenceSystem struct {
	Name                           string `gorm:"column:srs_name;not null"`
	SpatialReferenceSystemId       *int   `gorm:"column:srs_id;not null;primary_key"`
	Organization                   string `gorm:"column:organization;not null" json:"org"`
	OrganizationCoordinateSystemId *int   `gorm:"column:organization_coordsys_id;not null" json:"org_id"`
	Definition                     string `gorm:"column:definition;not null" json:"def"`
	Description                    string `gorm:"column:description" json:"description"`
}

func (srs *SpatialReferenceSystem) Code() string {
	if len(srs.Organization) > 0 && srs.OrganizationCoordinateSystemId != nil {
		return strings.ToUpper(srs.Organization + ":" + strconv.Itoa(*srs.OrganizationCoordinateSystemId))
	}
	return ""
}

func (srs *SpatialReferenceSystem) ID() int {
	if srs.SpatialReferenceSystemId == nil {
		return 0
	}
	return *srs.SpatialReferenceSystemId
}

func (SpatialReferenceSystem) TableName() string {
	return "gpkg_spatial_ref_sys"
}

var (
	srsUndefinedCartesian  = -1
	srsUndefinedGeographic = 0
	srsWGS84               = 1
	epsg4326               = 4326
)

// bootstrapSpatialReferenceSystems are the rows every container carries.
var bootstrapSpatialReferenceSystems = []SpatialReferenceSystem{
	{Name: "Undefined cartesian SRS", SpatialReferenceSystemId: &srsUndefinedCartesian, Organization: "NONE", OrganizationCoordinateSystemId: &srsUndefinedCartesian, Definition: "undefined", Description: "undefined cartesian coordinate reference system"},
	{Name: "Undefined geographic SRS", SpatialReferenceSystemId: &srsUndefinedGeographic, Organization: "NONE", OrganizationCoordinateSystemId: &srsUndefinedGeographic, Definition: "undefined", Description: "undefined geographic coordinate reference system"},
	{Name: "WGS 84 geodetic", SpatialReferenceSystemId: &srsWGS84, Organization: OrganizationEPSG, OrganizationCoordinateSystemId: &epsg4326, Definition: strings.TrimSpace(wellKnownDefinitions[4326]), Description: "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
}

// wellKnownDefinitions holds WKT keyed by EPSG code.
var wellKnownDefinitions = map[int]string{
	3395: `
	PROJCS["WGS 84 / World Mercator",
    GEOGCS["WGS 84",
        DATUM["WGS_1984",
            SPHEROID["WGS 84",6378137,298.257223563,
                AUTHORITY["EPSG","7030"]],
            AUTHORITY["EPSG","6326"]],
        PRIMEM["Greenwich",0,
            AUTHORITY["EPSG","8901"]],
        UNIT["degree",0.0174532925199433,
            AUTHORITY["EPSG","9122"]],
        AUTHORITY["EPSG","4326"]],
    PROJECTION["Mercator_1SP"],
    PARAMETER["central_meridian",0],
    PARAMETER["scale_factor",1],
    PARAMETER["false_easting",0],
    PARAMETER["false_northing",0],
    UNIT["metre",1,
        AUTHORITY["EPSG","9001"]],
    AXIS["Easting",EAST],
    AXIS["Northing",NORTH],
    AUTHORITY["EPSG","3395"]]
	`,
	3857: `
	PROJCS["WGS 84 / Pseudo-Mercator",
    GEOGCS["WGS 84",
        DATUM["WGS_1984",
            SPHEROID["WGS 84",6378137,298.257223563,
                AUTHORITY["EPSG","7030"]],
            AUTHORITY["EPSG","6326"]],
        PRIMEM["Greenwich",0,
            AUTHORITY["EPSG","8901"]],
        UNIT["degree",0.0174532925199433,
            AUTHORITY["EPSG","9122"]],
        AUTHORITY["EPSG","4326"]],
    PROJECTION["Mercator_1SP"],
    PARAMETER["central_meridian",0],
    PARAMETER["scale_factor",1],
    PARAMETER["false_easting",0],
    PARAMETER["false_northing",0],
    UNIT["metre",1,
        AUTHORITY["EPSG","9001"]],
    AXIS["X",EAST],
    AXIS["Y",NORTH],
    EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext  +no_defs"],
    AUTHORITY["EPSG","3857"]]
	`,
	4326: `
	GEOGCS["WGS 84",
    DATUM["WGS_1984",
        SPHEROID["WGS 84",6378137,298.257223563,
            AUTHORITY["EPSG","7030"]],
        AUTHORITY["EPSG","6326"]],
    PRIMEM["Greenwich",0,
        AUTHORITY["EPSG","8901"]],
    UNIT["degree",0.0174532925199433,
        AUTHORITY["EPSG","9122"]],
    AUTHORITY["EPSG","4326"]]
	`,
	900913: `
	PROJCS["Google Maps Global Mercator",
    GEOGCS["WGS 84",
        DATUM["WGS_1984",
            SPHEROID["WGS 84",6378137,298.257223563,
                AUTHORITY["EPSG","7030"]],
            AUTHORITY["EPSG","6326"]],
        PRIMEM["Greenwich",0,
            AUTHORITY["EPSG","8901"]],
        UNIT["degree",0.01745329251994328,
            AUTHORITY["EPSG","9122"]],
        AUTHORITY["EPSG","4326"]],
    PROJECTION["Mercator_2SP"],
    PARAMETER["standard_parallel_1",0],
    PARAMETER["latitude_of_origin",0],
    PARAMETER["central_meridian",0],
    PARAMETER["false_easting",0],
    PARAMETER["false_northing",0],
    UNIT["Meter",1],
    EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext  +no_defs"],
    AUTHORITY["EPSG","900913"]]
	`,
}

func (g *GeoPackage) GetSpatialReferenceSystem(srsID int) (SpatialReferenceSystem, error) {
	srs := SpatialReferenceSystem{}
	err := g.DB.Where("srs_id = ?", srsID).First(&srs).Error
	return srs, err
}

// FindSpatialReferenceSystem looks a row up by its authority and code.
func (g *GeoPackage) FindSpatialReferenceSystem(organization string, code int) (SpatialReferenceSystem, error) {
	srs := SpatialReferenceSystem{}
	err := g.DB.
		Where("lower(organization) = lower(?) AND organization_coordsys_id = ?", organization, code).
		Order("srs_id").
		First(&srs).Error
	return srs, err
}

// WriteReferenceSystem returns the srs_id of the row matching srs by
// authority and code, inserting it first when there is none. New rows
// take the authority code as srs_id when it is free.
func (g *GeoPackage) WriteReferenceSystem(srs SpatialReferenceSystem) (int, error) {
	if srs.OrganizationCoordinateSystemId == nil {
		return 0, errors.New("reference system without a code")
	}
	code := *srs.OrganizationCoordinateSystemId

	existing, err := g.FindSpatialReferenceSystem(srs.Organization, code)
	if err == nil {
		return existing.ID(), nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return 0, errors.Wrapf(err, "look up %s", srs.Code())
	}

	id := code
	taken, err := g.QueryInt("SELECT count(*) FROM gpkg_spatial_ref_sys WHERE srs_id = ?;", id)
	if err != nil {
		return 0, err
	}
	if taken > 0 {
		if id, err = g.QueryInt("SELECT max(srs_id) + 1 FROM gpkg_spatial_ref_sys;"); err != nil {
			return 0, err
		}
	}
	srs.SpatialReferenceSystemId = &id
	if err := g.UpdateSRS(srs); err != nil {
		return 0, errors.Wrapf(err, "insert %s", srs.Code())
	}
	g.logger.Debug("gpkg: added reference system", slog.String("code", srs.Code()), slog.Int("srs_id", id))
	return id, nil
}

// UpdateSRS inserts rows, leaving existing srs_ids untouched.
func (g *GeoPackage) UpdateSRS(srss ...SpatialReferenceSystem) error {
	const (
		UpdateSQL = `
	INSERT INTO gpkg_spatial_ref_sys(
		srs_name,
		srs_id,
		organization,
		organization_coordsys_id,
		definition,
		description
	)
	VALUES %v
    ON CONFLICT(srs_id) DO NOTHING;
	`
		placeHolders = `(?,?,?,?,?,?) `
	)
	if len(srss) == 0 {
		return nil
	}

	valuePlaceHolder := strings.Join(
		strings.SplitN(
			strings.Repeat(placeHolders, len(srss)),
			" ",
			len(srss),
		),
		",",
	)
	updateSQL := fmt.Sprintf(UpdateSQL, valuePlaceHolder)
	values := make([]interface{}, 0, len(srss)*6)

	for _, srs := range srss {
		values = append(
			values,
			srs.Name,
			srs.ID(),
			srs.Organization,
			*srs.OrganizationCoordinateSystemId,
			srs.Definition,
			srs.Description,
		)
	}
	_, err := g.DB.DB().Exec(updateSQL, values...)
	return err
}
