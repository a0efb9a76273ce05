package gpkg

import (
	"testing"

	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/stretchr/testify/require"
)

func newTileTable(t *testing.T, table string) *GeoPackage {
	t.Helper()
	g := newTestContainer(t)
	require.NoError(t, g.WriteCatalogEntry(table, 1, vec2d.Rect{Min: vec2d.T{0, 0}, Max: vec2d.T{1, 1}}))
	return g
}

func TestTileStoreBatch(t *testing.T) {
	g := newTileTable(t, "tiles")
	store := NewTileStore(g.DB.DB(), "tiles")
	require.Equal(t, "tiles", store.Table())

	require.False(t, store.InBatch())
	require.NoError(t, store.BeginBatch())
	require.True(t, store.InBatch())
	require.Error(t, store.BeginBatch())
	require.NoError(t, store.InsertTile(TileIndex{Zoom: 2, Column: 1, Row: 3}, []byte("a")))
	require.NoError(t, store.InsertTile(TileIndex{Zoom: 2, Column: 2, Row: 3}, []byte("b")))
	err := store.InsertTile(TileIndex{Zoom: 2, Column: 1, Row: 3}, []byte("c"))
	require.True(t, isConstraintViolation(err), "%v", err)
	require.NoError(t, store.EndBatch())
	require.False(t, store.InBatch())
	require.NoError(t, store.EndBatch())

	n, err := store.CountTiles(2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	blob, err := store.GetTileBlob(TileIndex{Zoom: 2, Column: 1, Row: 3})
	require.NoError(t, err)
	require.Equal(t, []byte("a"), blob)
	blob, err = store.GetTileBlob(TileIndex{Zoom: 2, Column: 9, Row: 9})
	require.NoError(t, err)
	require.Nil(t, blob)

	// outside a batch every insert commits on its own
	require.NoError(t, store.InsertTile(TileIndex{Zoom: 3}, []byte("d")))
	n, err = store.CountTiles(3)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestOpenTileStore(t *testing.T) {
	g := newTileTable(t, "tiles")
	path := g.Uri
	require.NoError(t, g.Close())

	_, err := OpenTileStore(path, "other")
	require.Error(t, err)

	store, err := OpenTileStore(path, "tiles")
	require.NoError(t, err)
	require.NoError(t, store.BeginBatch())
	require.NoError(t, store.InsertTile(TileIndex{Zoom: 0}, []byte("x")))
	// Close commits the open batch
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	blob, err := reopened.GetTile("tiles", 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), blob)
}
