package gpkg

import (
	"bytes"
	"image"
	"log/slog"
	"testing"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// newSeededReader stores one full PNG tile at column 1, row 0 of the finest
// level written by seedCatalog.
func newSeededReader(t *testing.T, cfg ReaderConfig, opts ...Option) (*GeoPackage, *Reader, *PixelTile) {
	t.Helper()
	g := newTestContainer(t)
	seedCatalog(t, g, "tiles")

	tile := NewPixelTileFromImage(gradientImage(256, 256))
	data, err := NewCodec(0, JPG).Encode(tile, OpaqueLossless)
	require.NoError(t, err)
	require.NoError(t, InsertTile(g.DB.DB(), "tiles", TileIndex{Zoom: 5, Column: 1, Row: 0}, data))

	r, err := NewReader(g, "tiles", cfg, opts...)
	require.NoError(t, err)
	return g, r, tile
}

func TestReaderClippedExtent(t *testing.T) {
	_, r, tile := newSeededReader(t, ReaderConfig{})
	require.True(t, r.cfg.ClipToExtent())
	require.Equal(t, 3, r.NumResolutionLevels())
	require.Equal(t, image.Rect(0, 0, 512, 512), r.Bounds(0))

	got, err := r.GetTile(0, image.Rect(0, 0, 256, 256))
	require.NoError(t, err)
	require.Equal(t, tile.Image.Pix, got.Image.Pix)

	// straddles the stored tile and its missing neighbours
	got, err = r.Tile(image.Rect(128, 128, 384, 384), 0)
	require.NoError(t, err)
	require.Equal(t, 128*128, got.ValidCount())
	require.True(t, got.Valid(127, 127))
	require.False(t, got.Valid(128, 127))

	// outside the level
	got, err = r.GetTile(0, image.Rect(600, 600, 700, 700))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 100, 100), got.Bounds())
	require.Zero(t, got.ValidCount())

	proj, err := r.LevelProjection(0)
	require.NoError(t, err)
	require.Equal(t, vec2d.T{1, 4}, proj.UpperLeft())
	require.Equal(t, vec2d.T{1.0 / 256, 1.0 / 256}, proj.GSD)
	require.Equal(t, KindGeographic, proj.System.Kind)
}

func TestReaderFullExtent(t *testing.T) {
	_, r, tile := newSeededReader(t, ReaderConfig{Extent: ExtentFull})
	require.Equal(t, image.Rect(0, 0, 1024, 1024), r.Bounds(0))

	got, err := r.GetTile(0, image.Rect(256, 0, 512, 256))
	require.NoError(t, err)
	require.Equal(t, tile.Image.Pix, got.Image.Pix)

	proj, err := r.LevelProjection(0)
	require.NoError(t, err)
	require.Equal(t, vec2d.T{0, 4}, proj.UpperLeft())
}

func TestReaderResolutionLevels(t *testing.T) {
	_, r, _ := newSeededReader(t, ReaderConfig{})

	for _, level := range []int{-1, 3} {
		_, err := r.GetTile(level, image.Rect(0, 0, 1, 1))
		require.True(t, errors.Is(err, ErrInvalidResolutionLevel), "level %d", level)
		require.Equal(t, image.Rectangle{}, r.Bounds(level))
	}
	_, err := r.LevelProjection(3)
	require.True(t, errors.Is(err, ErrInvalidResolutionLevel))

	overview := NewMemorySource(gradientImage(8, 8), NewProjection(mustResolve(t, 4326), vec2d.T{0, 4}, vec2d.T{0.5, 0.5}))
	r.SetOverview(overview)
	require.Equal(t, 4, r.NumResolutionLevels())
	require.Equal(t, image.Rect(0, 0, 8, 8), r.Bounds(3))
	got, err := r.GetTile(3, image.Rect(0, 0, 8, 8))
	require.NoError(t, err)
	require.Equal(t, 64, got.ValidCount())
	_, err = r.GetTile(4, image.Rect(0, 0, 1, 1))
	require.True(t, errors.Is(err, ErrInvalidResolutionLevel))
}

func TestReaderWithOverviewOption(t *testing.T) {
	overview := NewMemorySource(gradientImage(4, 4), NewProjection(mustResolve(t, 4326), vec2d.T{0, 4}, vec2d.T{1, 1}))
	_, r, _ := newSeededReader(t, ReaderConfig{}, WithOverview(overview))
	require.Equal(t, 4, r.NumResolutionLevels())
}

func TestReaderDecodeFailure(t *testing.T) {
	var logs bytes.Buffer
	g, r, _ := newSeededReader(t, ReaderConfig{}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, g.DB.Exec(`UPDATE "tiles" SET tile_data = ? WHERE zoom_level = 5`, []byte("garbage")).Error)

	got, err := r.GetTile(0, image.Rect(0, 0, 256, 256))
	require.NoError(t, err)
	require.Zero(t, got.ValidCount())
	require.Contains(t, logs.String(), "decoding tile failed")
	require.Contains(t, logs.String(), "column=1")
}

func TestNewReaderErrors(t *testing.T) {
	g := newTestContainer(t)

	_, err := NewReader(g, "missing", ReaderConfig{})
	require.True(t, errors.Is(err, ErrEntryNotFound))

	require.NoError(t, g.WriteCatalogEntry("empty", 1, vec2d.Rect{Min: vec2d.T{0, 0}, Max: vec2d.T{1, 1}}))
	_, err = NewReader(g, "empty", ReaderConfig{})
	require.Error(t, err)

	seedCatalog(t, g, "tiles")
	_, err = NewReader(g, "tiles", ReaderConfig{Extent: "sideways"})
	require.Error(t, err)

	_, err = NewReader(nil, "tiles", ReaderConfig{})
	require.Error(t, err)
}
