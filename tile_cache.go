package gpkg

import (
	"fmt"
	"image"
	"time"

	"github.com/karlseguin/ccache/v3"
)

const (
	defaultCacheTTL      = 10 * time.Minute
	defaultItemsToPrune  = 16
	defaultCacheCapacity = 256
)

// TileCache keeps recently requested tiles of an ImageSource in a fixed
// capacity LRU cache. Returned tiles are copies.
type TileCache struct {
	src   ImageSource
	cache *ccache.Cache[*PixelTile]
	ttl   time.Duration
}

func NewTileCache(src ImageSource, capacity int64, ttl time.Duration) *TileCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	prune := uint32(defaultItemsToPrune)
	if int64(prune) > capacity {
		prune = uint32(capacity)
	}
	return &TileCache{
		src:   src,
		cache: ccache.New(ccache.Configure[*PixelTile]().MaxSize(capacity).ItemsToPrune(prune)),
		ttl:   ttl,
	}
}

func tileCacheKey(rect image.Rectangle, resLevel int) string {
	return fmt.Sprintf("%d/%d/%d/%d/%d", resLevel, rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y)
}

func (c *TileCache) Tile(rect image.Rectangle, resLevel int) (*PixelTile, error) {
	key := tileCacheKey(rect, resLevel)
	if item := c.cache.Get(key); item != nil && !item.Expired() {
		return cloneTile(item.Value()), nil
	}
	tile, err := c.src.Tile(rect, resLevel)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cloneTile(tile), c.ttl)
	return tile, nil
}

func (c *TileCache) Bounds(resLevel int) image.Rectangle {
	return c.src.Bounds(resLevel)
}

func (c *TileCache) NumResolutionLevels() int {
	return c.src.NumResolutionLevels()
}

func (c *TileCache) ItemCount() int {
	return c.cache.ItemCount()
}

// Clear drops every cached tile.
func (c *TileCache) Clear() {
	c.cache.Clear()
}

// Stop releases the cache's background worker.
func (c *TileCache) Stop() {
	c.cache.Stop()
}

func cloneTile(t *PixelTile) *PixelTile {
	if t == nil {
		return nil
	}
	return t.Clone()
}
