package gpkg

import (
	"bytes"
	"database/sql"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/require"
)

func newTestContainer(t *testing.T, opts ...Option) *GeoPackage {
	t.Helper()
	g, err := Create(filepath.Join(t.TempDir(), "test.gpkg"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8((x + y) / 2), A: 0xff})
		}
	}
	return img
}

func TestCreateStampsApplicationID(t *testing.T) {
	g := newTestContainer(t)

	data, err := os.ReadFile(g.Uri)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte(sqliteHeader)))
	require.Equal(t, []byte("GP10"), data[68:72])

	size, err := g.Size()
	require.NoError(t, err)
	require.Positive(t, size)
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	g := newTestContainer(t)

	require.NoError(t, g.EnsureSchema())
	require.NoError(t, g.EnsureSchema())

	for _, table := range []string{
		"gpkg_spatial_ref_sys", "gpkg_contents", "gpkg_tile_matrix_set",
		"gpkg_tile_matrix", "nsg_tile_matrix_extent",
	} {
		n, err := g.QueryInt("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?;", table)
		require.NoError(t, err)
		require.Equal(t, 1, n, table)
	}

	n, err := g.QueryInt("SELECT count(*) FROM gpkg_spatial_ref_sys;")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, id := range []int{-1, 0, 1} {
		_, err := g.GetSpatialReferenceSystem(id)
		require.NoError(t, err, "srs_id %d", id)
	}
	wgs84, err := g.GetSpatialReferenceSystem(1)
	require.NoError(t, err)
	require.Equal(t, "EPSG:4326", wgs84.Code())
}

func TestWriteReferenceSystemDeduplicates(t *testing.T) {
	g := newTestContainer(t)
	reg := NewRegistry()

	geographic, err := reg.Resolve(4326)
	require.NoError(t, err)
	id, err := g.WriteReferenceSystem(reg.SpatialReferenceSystem(geographic))
	require.NoError(t, err)
	require.Equal(t, 1, id)

	mercator, err := reg.Resolve(3857)
	require.NoError(t, err)
	first, err := g.WriteReferenceSystem(reg.SpatialReferenceSystem(mercator))
	require.NoError(t, err)
	require.Equal(t, 3857, first)
	second, err := g.WriteReferenceSystem(reg.SpatialReferenceSystem(mercator))
	require.NoError(t, err)
	require.Equal(t, first, second)

	n, err := g.QueryInt("SELECT count(*) FROM gpkg_spatial_ref_sys WHERE organization_coordsys_id = 3857;")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestWriteReferenceSystemTakenID(t *testing.T) {
	g := newTestContainer(t)

	// code 1 is already the srs_id of WGS 84
	code := 1
	id, err := g.WriteReferenceSystem(SpatialReferenceSystem{
		Name:                           "local grid",
		Organization:                   "LOCAL",
		OrganizationCoordinateSystemId: &code,
		Definition:                     "undefined",
	})
	require.NoError(t, err)
	require.Equal(t, 2, id)

	srs, err := g.FindSpatialReferenceSystem("local", 1)
	require.NoError(t, err)
	require.Equal(t, 2, srs.ID())
}

func TestOpenWarnsOnForeignApplicationID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.sqlite")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (a INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var logs bytes.Buffer
	g, err := Open(path, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	defer g.Close()
	require.Contains(t, logs.String(), "unexpected application id")
}

func TestOpenRejectsNonSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.gpkg")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 128), 0o644))

	_, err := Open(path)
	require.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.gpkg"))
	require.Error(t, err)
}

func TestCreateStatFailure(t *testing.T) {
	dir := t.TempDir()
	notDir := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))

	_, err := Create(filepath.Join(notDir, "test.gpkg"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "stat ")

	// an empty file is initialised like a missing one
	empty := filepath.Join(dir, "empty.gpkg")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	g, err := Create(empty)
	require.NoError(t, err)
	defer g.Close()
	data, err := os.ReadFile(empty)
	require.NoError(t, err)
	require.Equal(t, []byte("GP10"), data[68:72])
}

func TestOpenExistingContainer(t *testing.T) {
	g := newTestContainer(t)
	require.NoError(t, g.Close())

	var logs bytes.Buffer
	reopened, err := Open(g.Uri, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	defer reopened.Close()
	require.Empty(t, logs.String())

	_, err = reopened.GetSpatialReferenceSystem(1)
	require.NoError(t, err)
}

func TestDeleteTileTable(t *testing.T) {
	g := newTestContainer(t)
	extent := vec2d.Rect{Min: vec2d.T{0, 0}, Max: vec2d.T{10, 10}}

	require.NoError(t, g.WriteCatalogEntry("doomed", 1, extent))
	require.NoError(t, g.WriteMatrixLevel("doomed", 0, image.Pt(1, 1), 256, 256, 10.0/256))
	require.NoError(t, g.WriteMatrixExtent("doomed", 0, image.Rect(0, 0, 1, 1), extent))
	require.NoError(t, InsertTile(g.DB.DB(), "doomed", TileIndex{}, []byte{1}))

	require.NoError(t, g.DeleteTileTable("doomed"))

	exists, err := g.tableExists("doomed")
	require.NoError(t, err)
	require.False(t, exists)
	_, err = g.GetContent("doomed")
	require.True(t, gorm.IsRecordNotFoundError(err))
	levels, _, err := g.GetZoomLevelsAndResolutions("doomed")
	require.NoError(t, err)
	require.Empty(t, levels)
}

func TestUpdateContentsExtent(t *testing.T) {
	g := newTestContainer(t)
	require.NoError(t, g.WriteCatalogEntry("tiles", 1, vec2d.Rect{Min: vec2d.T{0, 0}, Max: vec2d.T{10, 10}}))

	c, err := g.GetContent("tiles")
	require.NoError(t, err)
	require.Equal(t, DataTypeTiles, c.DataType)

	require.NoError(t, g.UpdateContentsExtent("tiles", c.Extent()))
	c2, err := g.GetContent("tiles")
	require.NoError(t, err)
	ext := c2.Extent()
	require.Equal(t, []float64{0, 0, 10, 10}, []float64{ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY()})
}

func TestGetTileFormat(t *testing.T) {
	g := newTestContainer(t)
	require.NoError(t, g.WriteCatalogEntry("tiles", 1, vec2d.Rect{Min: vec2d.T{0, 0}, Max: vec2d.T{1, 1}}))

	data, err := NewCodec(0, JPG).Encode(&PixelTile{Image: gradientImage(16, 16)}, AlphaLossless)
	require.NoError(t, err)
	require.NoError(t, InsertTile(g.DB.DB(), "tiles", TileIndex{Zoom: 0}, data))

	format, err := g.GetTileFormat("tiles")
	require.NoError(t, err)
	require.Equal(t, PNG, format)
	require.Equal(t, "image/png", format.ContentType())

	blob, err := g.GetTile("tiles", 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, data, blob)
	missing, err := g.GetTile("tiles", 0, 1, 0)
	require.NoError(t, err)
	require.Nil(t, missing)
}
