package gpkg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/flywave/go-geo"
	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"
)

const (
	ApplicationID     = 0x47503130 // "GP10"
	ApplicationIDGPKG = 0x47504B47 // "GPKG"
	UserVersion       = 0x000027D9 // 10201

	sqliteHeader        = "SQLite format 3\x00"
	applicationIDOffset = 68
)

var (
	initialSQL = fmt.Sprintf(
		`
		PRAGMA application_id = %d;
		PRAGMA user_version = %d ;
		`,
		ApplicationID,
		UserVersion,
	)

	schemaSQL = []string{
		`
		CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys
		(srs_name                 TEXT    NOT NULL,
		 srs_id                   INTEGER NOT NULL PRIMARY KEY,
		 organization             TEXT    NOT NULL,
		 organization_coordsys_id INTEGER NOT NULL,
		 definition               TEXT    NOT NULL,
		 description              TEXT)
		`,
		`
		CREATE TABLE IF NOT EXISTS gpkg_contents
		(table_name  TEXT     NOT NULL PRIMARY KEY,
		 data_type   TEXT     NOT NULL,
		 identifier  TEXT     UNIQUE,
		 description TEXT     DEFAULT '',
		 last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		 min_x       DOUBLE,
		 min_y       DOUBLE,
		 max_x       DOUBLE,
		 max_y       DOUBLE,
		 srs_id      INTEGER,
		 CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id))
		`,
		`
		CREATE TABLE IF NOT EXISTS gpkg_tile_matrix_set
		(table_name TEXT    NOT NULL PRIMARY KEY,
		 srs_id     INTEGER NOT NULL,
		 min_x      DOUBLE  NOT NULL,
		 min_y      DOUBLE  NOT NULL,
		 max_x      DOUBLE  NOT NULL,
		 max_y      DOUBLE  NOT NULL,
		 CONSTRAINT fk_gtms_table_name FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		 CONSTRAINT fk_gtms_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id))
		`,
		`
		CREATE TABLE IF NOT EXISTS gpkg_tile_matrix
		(table_name    TEXT    NOT NULL,
		 zoom_level    INTEGER NOT NULL,
		 matrix_width  INTEGER NOT NULL,
		 matrix_height INTEGER NOT NULL,
		 tile_width    INTEGER NOT NULL,
		 tile_height   INTEGER NOT NULL,
		 pixel_x_size  DOUBLE  NOT NULL,
		 pixel_y_size  DOUBLE  NOT NULL,
		 CONSTRAINT pk_ttm PRIMARY KEY (table_name, zoom_level),
		 CONSTRAINT fk_tmm_table_name FOREIGN KEY (table_name) REFERENCES gpkg_tile_matrix_set(table_name))
		`,
		`
		CREATE TABLE IF NOT EXISTS nsg_tile_matrix_extent
		(table_name  TEXT    NOT NULL,
		 zoom_level  INTEGER NOT NULL,
		 extent_type TEXT    NOT NULL,
		 min_column  INTEGER,
		 min_row     INTEGER,
		 max_column  INTEGER,
		 max_row     INTEGER,
		 min_x       DOUBLE,
		 min_y       DOUBLE,
		 max_x       DOUBLE,
		 max_y       DOUBLE,
		 CONSTRAINT pk_ntme PRIMARY KEY (table_name, zoom_level, extent_type),
		 CONSTRAINT fk_ntme FOREIGN KEY (table_name, zoom_level) REFERENCES gpkg_tile_matrix(table_name, zoom_level))
		`,
	}

	createTileTableSQL = `
		CREATE TABLE IF NOT EXISTS %v
		(id          INTEGER PRIMARY KEY AUTOINCREMENT,
		 zoom_level  INTEGER NOT NULL,
		 tile_column INTEGER NOT NULL,
		 tile_row    INTEGER NOT NULL,
		 tile_data   BLOB    NOT NULL,
		 UNIQUE (zoom_level, tile_column, tile_row))
		 `
)

// GeoPackage is an open container. It holds a single SQLite connection
// and is not safe for concurrent use.
type GeoPackage struct {
	Uri    string
	DB     *gorm.DB
	logger *slog.Logger
}

// Create opens uri for writing, creating the file when needed, and makes
// sure the catalog schema exists. A new file is stamped with the GP10
// application id.
func Create(uri string, opts ...Option) (*GeoPackage, error) {
	o := newOptions(opts)
	g := &GeoPackage{Uri: uri, logger: o.logger}
	size, err := g.Size()
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", uri)
	}
	fresh := size == 0
	if !fresh {
		if err := g.checkHeader(); err != nil {
			return nil, err
		}
	}
	if err := g.Init(); err != nil {
		return nil, err
	}
	if fresh {
		if err := g.DB.Exec(initialSQL).Error; err != nil {
			g.Close()
			return nil, errors.Wrap(err, "stamp application id")
		}
	}
	if err := g.EnsureSchema(); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// Open opens an existing container. A missing GP10 application id is
// reported as a warning only.
func Open(uri string, opts ...Option) (*GeoPackage, error) {
	o := newOptions(opts)
	g := &GeoPackage{Uri: uri, logger: o.logger}
	if !g.Exists() {
		return nil, errors.Errorf("%s: no such container", uri)
	}
	if err := g.checkHeader(); err != nil {
		return nil, err
	}
	if err := g.Init(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GeoPackage) Exists() bool {
	if _, err := os.Stat(g.Uri); os.IsNotExist(err) {
		return false
	}
	return true
}

func (g *GeoPackage) Size() (int64, error) {
	fi, err := os.Stat(g.Uri)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (g *GeoPackage) Init() error {
	db, err := gorm.Open("sqlite3", g.Uri+"?_foreign_keys=1")
	if err != nil {
		return errors.Wrapf(err, "open %s", g.Uri)
	}
	db.DB().SetMaxOpenConns(1)
	db.LogMode(false)
	g.DB = db
	return nil
}

// checkHeader verifies the SQLite magic and the application id at byte 68.
func (g *GeoPackage) checkHeader() error {
	f, err := os.Open(g.Uri)
	if err != nil {
		return errors.Wrapf(err, "open %s", g.Uri)
	}
	defer f.Close()

	header := make([]byte, applicationIDOffset+4)
	n, err := io.ReadFull(f, header)
	if n == 0 && err == io.EOF {
		return nil
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return errors.Wrapf(err, "read header of %s", g.Uri)
	}
	if n < len(sqliteHeader) || !bytes.Equal(header[:len(sqliteHeader)], []byte(sqliteHeader)) {
		return errors.Errorf("%s is not a SQLite container", g.Uri)
	}
	if n < len(header) {
		return errors.Errorf("%s: truncated SQLite header", g.Uri)
	}
	appID := binary.BigEndian.Uint32(header[applicationIDOffset:])
	if appID != ApplicationID && appID != ApplicationIDGPKG {
		g.logger.Warn("gpkg: unexpected application id",
			slog.String("uri", g.Uri), slog.String("application_id", fmt.Sprintf("%#08x", appID)))
	}
	return nil
}

// EnsureSchema creates the catalog tables and bootstrap reference systems.
// Calling it on a container that already has them is a no-op.
func (g *GeoPackage) EnsureSchema() error {
	for _, stmt := range schemaSQL {
		if err := g.DB.Exec(stmt).Error; err != nil {
			return errors.Wrap(err, "create catalog schema")
		}
	}
	return g.UpdateSRS(bootstrapSpatialReferenceSystems...)
}

// WriteCatalogEntry registers a new tile table: its contents row, its tile
// matrix set row and the tile table itself.
func (g *GeoPackage) WriteCatalogEntry(table string, srsID int, extent vec2d.Rect) error {
	return g.AddTilesTable(table, srsID, &geo.TileGrid{BBox: &extent})
}

// AddTilesTable is WriteCatalogEntry with the extent taken from the bbox of
// a tile matrix set grid.
func (g *GeoPackage) AddTilesTable(table string, srsID int, grid *geo.TileGrid) error {
	if err := g.writeContent(NewContent(table, srsID, *grid.BBox)); err != nil {
		return err
	}
	if err := g.writeTileMatrixSet(NewTileMatrixSet(table, srsID, grid)); err != nil {
		return err
	}
	if err := g.DB.Exec(fmt.Sprintf(createTileTableSQL, quoteIdent(table))).Error; err != nil {
		return errors.Wrapf(err, "create tile table %q", table)
	}
	return nil
}

// DeleteTileTable removes a tile table and every catalog row that refers
// to it.
func (g *GeoPackage) DeleteTileTable(table string) error {
	tx := g.DB.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	stmts := []string{
		"DELETE FROM nsg_tile_matrix_extent WHERE table_name = ?",
		"DELETE FROM gpkg_tile_matrix WHERE table_name = ?",
		"DELETE FROM gpkg_tile_matrix_set WHERE table_name = ?",
		"DELETE FROM gpkg_contents WHERE table_name = ?",
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt, table).Error; err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "delete %q", table)
		}
	}
	if err := tx.Exec("DROP TABLE IF EXISTS " + quoteIdent(table)).Error; err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "drop %q", table)
	}
	return tx.Commit().Error
}

func (g *GeoPackage) QueryInt(stmt string, args ...interface{}) (int, error) {
	result := 0

	rows, err := g.DB.DB().Query(stmt, args...)
	if err != nil {
		return result, err
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&result); err != nil {
			return result, err
		}
	}

	return result, rows.Err()
}

// GetTile returns the blob stored at (z, x, y), or nil when there is none.
func (g *GeoPackage) GetTile(table string, z int, x int, y int) ([]byte, error) {
	var b []byte

	stmt := "SELECT tile_data FROM %s WHERE zoom_level = ? AND tile_column = ? AND tile_row = ? LIMIT 1;"
	rows, err := g.DB.DB().Query(fmt.Sprintf(stmt, quoteIdent(table)), z, x, y)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
	}

	return b, rows.Err()
}

func (g *GeoPackage) GetMaxZoom(table string) (int, error) {
	return g.QueryInt("SELECT max(zoom_level) FROM gpkg_tile_matrix WHERE table_name = ?;", table)
}

// GetZoomLevelsAndResolutions lists the levels of table, coarsest first.
func (g *GeoPackage) GetZoomLevelsAndResolutions(table string) ([]int, []float64, error) {
	stmt := "SELECT zoom_level, pixel_x_size FROM gpkg_tile_matrix WHERE table_name = ? ORDER BY zoom_level;"
	levels := make([]int, 0)
	resolutions := make([]float64, 0)

	rows, err := g.DB.DB().Query(stmt, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		level := 0
		res := float64(0)
		if err := rows.Scan(&level, &res); err != nil {
			return nil, nil, err
		}
		levels = append(levels, level)
		resolutions = append(resolutions, res)
	}

	return levels, resolutions, rows.Err()
}

func (g *GeoPackage) GetTileMatrixSets() ([]TileMatrixSet, error) {
	tileMatrixSets := make([]TileMatrixSet, 0)
	err := g.DB.Order("table_name").Find(&tileMatrixSets).Error
	return tileMatrixSets, err
}

// GetTileFormat sniffs the format of the first tile stored in table.
func (g *GeoPackage) GetTileFormat(table string) (TileFormat, error) {
	var b []byte

	stmt := "SELECT tile_data FROM %s LIMIT 1;"
	rows, err := g.DB.DB().Query(fmt.Sprintf(stmt, quoteIdent(table)))
	if err != nil {
		return UNKNOWN, err
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&b); err != nil {
			return UNKNOWN, err
		}
	}

	return DetectTileFormat(b)
}

func (g *GeoPackage) Close() error {
	if g.DB == nil {
		return nil
	}
	return g.DB.Close()
}

func (g *GeoPackage) tableExists(table string) (bool, error) {
	n, err := g.QueryInt("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?;", table)
	return n > 0, err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
