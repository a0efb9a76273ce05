package gpkg

import (
	"context"
	"image"
	"log/slog"

	"github.com/pkg/errors"
)

// LevelSpec is the geometry of one level to write. Populated is the tile
// rectangle to visit, max exclusive.
type LevelSpec struct {
	Zoom       int
	MatrixSize image.Point
	GSD        float64
	Populated  image.Rectangle
}

type LevelStats struct {
	Zoom    int
	Visited int
	Written int
	Skipped int
	Failed  int

	// LastCommitted is the last tile known to be durable, nil if none.
	LastCommitted *TileIndex
}

// TileWriter writes the tiles of one level at a time into a TileStore.
type TileWriter struct {
	store    *TileStore
	codec    *Codec
	cfg      WriterConfig
	logger   *slog.Logger
	progress *progressTracker
}

func NewTileWriter(store *TileStore, cfg WriterConfig, opts ...Option) (*TileWriter, error) {
	if cfg.TableName == "" {
		cfg.TableName = store.Table()
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &TileWriter{
		store:  store,
		codec:  NewCodec(cfg.Quality, cfg.lossyFormat()),
		cfg:    cfg,
		logger: o.logger,
	}, nil
}

func (w *TileWriter) modeFor(class TileClass) CodecMode {
	switch w.cfg.Compression {
	case CompressionJPEG, CompressionWebP:
		return OpaqueLossy
	case CompressionPNG:
		if class == TileFull {
			return OpaqueLossless
		}
		return AlphaLossless
	}
	if class == TileFull {
		return OpaqueLossy
	}
	return AlphaLossless
}

// WriteLevel requests every populated tile of level from src, encodes it
// and stores it. Per-tile failures are logged and skipped. Cancellation is
// checked before each tile row; the open batch is then committed and
// ErrAborted returned.
func (w *TileWriter) WriteLevel(ctx context.Context, level LevelSpec, src ImageSource) (LevelStats, error) {
	stats := LevelStats{Zoom: level.Zoom}
	tw, th := w.cfg.TileWidth, w.cfg.TileHeight
	populated := level.Populated.Intersect(image.Rectangle{Max: level.MatrixSize})

	var lastInserted *TileIndex
	pending := 0
	commit := func() error {
		if !w.store.InBatch() {
			return nil
		}
		if err := w.store.EndBatch(); err != nil {
			return err
		}
		w.logger.Debug("gpkg: committed tile batch", slog.Int("zoom", level.Zoom), slog.Int("tiles", pending))
		stats.LastCommitted = lastInserted
		pending = 0
		return nil
	}

	w.logger.Info("gpkg: writing level",
		slog.String("table", w.store.Table()), slog.Int("zoom", level.Zoom),
		slog.Int("columns", populated.Dx()), slog.Int("rows", populated.Dy()))

	for row := populated.Min.Y; row < populated.Max.Y; row++ {
		if err := ctx.Err(); err != nil {
			if cerr := commit(); cerr != nil {
				return stats, cerr
			}
			w.logger.Warn("gpkg: level aborted", slog.Int("zoom", level.Zoom), slog.Int("row", row))
			return stats, errors.Wrapf(ErrAborted, "zoom %d row %d: %v", level.Zoom, row, err)
		}

		for col := populated.Min.X; col < populated.Max.X; col++ {
			idx := TileIndex{Zoom: level.Zoom, Column: col, Row: row}
			stats.Visited++
			w.progress.advance(1)

			rect := image.Rect(col*tw, row*th, (col+1)*tw, (row+1)*th)
			tile, err := src.Tile(rect, 0)
			if err != nil {
				w.logger.Warn("gpkg: reading tile failed", tileAttrs(idx, err)...)
				stats.Failed++
				continue
			}
			class := ClassifyTile(tile)
			if class == TileNull || (class == TileEmpty && !w.cfg.WriteBlankTiles) {
				stats.Skipped++
				continue
			}

			data, err := w.codec.Encode(tile, w.modeFor(class))
			if err != nil {
				w.logger.Warn("gpkg: encoding tile failed", tileAttrs(idx, err)...)
				stats.Failed++
				continue
			}

			if !w.store.InBatch() {
				if err := w.store.BeginBatch(); err != nil {
					return stats, err
				}
			}
			if err := w.store.InsertTile(idx, data); err != nil {
				if isConstraintViolation(err) {
					w.logger.Warn("gpkg: tile already stored", tileAttrs(idx, err)...)
					stats.Skipped++
					continue
				}
				if cerr := commit(); cerr != nil {
					w.logger.Error("gpkg: committing batch failed", slog.Any("error", cerr))
				}
				return stats, errors.Wrapf(err, "insert tile %d/%d/%d", idx.Zoom, idx.Column, idx.Row)
			}
			stats.Written++
			i := idx
			lastInserted = &i
			pending++

			if pending >= w.cfg.BatchSize {
				if err := commit(); err != nil {
					return stats, err
				}
			}
		}
	}

	if err := commit(); err != nil {
		return stats, err
	}
	w.logger.Info("gpkg: level done",
		slog.Int("zoom", level.Zoom), slog.Int("written", stats.Written),
		slog.Int("skipped", stats.Skipped), slog.Int("failed", stats.Failed))
	return stats, nil
}

func tileAttrs(idx TileIndex, err error) []any {
	return []any{
		slog.Int("zoom", idx.Zoom),
		slog.Int("column", idx.Column),
		slog.Int("row", idx.Row),
		slog.Any("error", err),
	}
}
