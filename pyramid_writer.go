package gpkg

import (
	"context"
	"image"
	"log/slog"
	"math"

	"github.com/flywave/go-geom/general"
	vec2d "github.com/flywave/go3d/float64/vec2"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

type WriteStats struct {
	Plan   *Plan
	SrsID  int
	Extent vec2d.Rect
	Levels []LevelStats
}

func (s WriteStats) TilesWritten() int {
	n := 0
	for _, l := range s.Levels {
		n += l.Written
	}
	return n
}

// PyramidWriter builds a tile pyramid from a source image into one tile
// table of a container.
type PyramidWriter struct {
	gpkg     *GeoPackage
	cfg      WriterConfig
	opts     []Option
	logger   *slog.Logger
	registry *Registry
	progress ProgressFunc
}

func NewPyramidWriter(g *GeoPackage, cfg WriterConfig, opts ...Option) (*PyramidWriter, error) {
	if g == nil || g.DB == nil {
		return nil, errors.New("nil container")
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &PyramidWriter{
		gpkg:     g,
		cfg:      cfg,
		opts:     opts,
		logger:   o.logger,
		registry: o.registry,
		progress: o.progress,
	}, nil
}

// Write plans the pyramid for a source of srcSize pixels georeferenced by
// srcProj, writes its catalog rows and then every level, coarsest first.
// src is re-viewed onto each level's grid before its tiles are requested.
// Tiles go through a connection of their own, so src may read from the
// same container.
func (w *PyramidWriter) Write(ctx context.Context, src ViewSource, srcProj *Projection, srcSize image.Point) (stats WriteStats, err error) {
	if srcProj == nil {
		return stats, &PlanningError{Reason: "source has no projection"}
	}
	if err := w.gpkg.EnsureSchema(); err != nil {
		return stats, err
	}
	table := w.cfg.TableName
	appending, base, err := w.appendBase()
	if err != nil {
		return stats, err
	}

	planner := NewPlanner(w.registry)
	plan, err := planner.PlanLevels(PlanRequest{
		System:         srcProj.System,
		Footprint:      srcProj.Footprint(srcSize),
		SourceGSD:      math.Min(srcProj.GSD[0], srcProj.GSD[1]),
		TileWidth:      w.cfg.TileWidth,
		TileHeight:     w.cfg.TileHeight,
		AlignToGrid:    w.cfg.AlignToGrid(),
		ExplicitLevels: w.cfg.Levels,
		BaseLevel:      base,
	})
	if err != nil {
		return stats, err
	}
	stats.Plan = plan
	w.logger.Info("gpkg: planned pyramid",
		slog.String("table", table), slog.String("srs", plan.System.String()),
		slog.Any("zooms", plan.Zooms()), slog.Float64("gsd", plan.FullResGSD))

	srs := w.registry.SpatialReferenceSystem(plan.System)
	if appending {
		if err := w.checkAppend(plan, srs); err != nil {
			return stats, err
		}
	}
	srsID, err := w.gpkg.WriteReferenceSystem(srs)
	if err != nil {
		return stats, err
	}
	stats.SrsID = srsID

	ms, err := w.prepareEntry(plan, srsID, appending)
	if err != nil {
		return stats, err
	}
	stats.Extent = ms.Extent()

	total := 0
	for i := range plan.Levels {
		total += area(ms.Populated(i))
	}
	progress := newProgressTracker(w.progress, total)

	store, err := OpenTileStore(w.gpkg.Uri, table)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	tw, err := NewTileWriter(store, w.cfg, w.opts...)
	if err != nil {
		return stats, err
	}
	tw.progress = progress

	matrices := ms.TileMatrices(table)
	coarsest := plan.Coarsest()
	extent := ms.Extent()
	view := NewProjection(plan.System, vec2d.T{extent.Min[0], extent.Max[1]}, vec2d.T{coarsest.GSD, coarsest.GSD})
	prevZoom := coarsest.Zoom
	for i, level := range plan.Levels {
		populated := ms.Populated(i)
		if err := w.gpkg.WriteTileMatrix(&matrices[i]); err != nil {
			return stats, err
		}
		if !populated.Empty() {
			world := ms.TileWorldRect(i, populated)
			if err := w.gpkg.WriteMatrixExtent(table, level.Zoom, populated, world); err != nil {
				return stats, err
			}
		}

		if level.Zoom != prevZoom {
			view.Rescale(math.Ldexp(1, prevZoom-level.Zoom))
			prevZoom = level.Zoom
		}
		if err := src.SetView(view.Clone()); err != nil {
			return stats, errors.Wrapf(err, "view source at zoom %d", level.Zoom)
		}

		ls, err := tw.WriteLevel(ctx, LevelSpec{
			Zoom:       level.Zoom,
			MatrixSize: ms.Size(i),
			GSD:        level.GSD,
			Populated:  populated,
		}, src)
		stats.Levels = append(stats.Levels, ls)
		if err != nil {
			return stats, err
		}
	}
	progress.finish()
	return stats, nil
}

// appendBase reports whether levels are added to an existing table and,
// if so, its finest stored level.
func (w *PyramidWriter) appendBase() (bool, *PlannedLevel, error) {
	if !w.cfg.Append {
		return false, nil, nil
	}
	exists, err := w.gpkg.tableExists(w.cfg.TableName)
	if err != nil || !exists {
		return false, nil, err
	}
	cat, err := w.gpkg.LoadEntry(w.cfg.TableName)
	if err != nil {
		return false, nil, err
	}
	if len(cat.Levels) == 0 {
		return true, nil, nil
	}
	finest := cat.Levels[0].Matrix
	return true, &PlannedLevel{Zoom: finest.ZoomLevel, GSD: finest.PixelXSize}, nil
}

// checkAppend runs the append checks before anything is written. A
// reference system without a row yet cannot match the stored one.
func (w *PyramidWriter) checkAppend(plan *Plan, srs SpatialReferenceSystem) error {
	srsID := 0
	existing, err := w.gpkg.FindSpatialReferenceSystem(srs.Organization, *srs.OrganizationCoordinateSystemId)
	switch {
	case err == nil:
		srsID = existing.ID()
	case !gorm.IsRecordNotFoundError(err):
		return errors.Wrapf(err, "look up %s", srs.Code())
	}
	return w.gpkg.CheckAppendLevels(w.cfg.TableName, srsID, w.cfg.TileWidth, w.cfg.TileHeight, plan.Levels)
}

// prepareEntry writes the catalog entry of a new table, or widens the
// contents extent of the table being appended to. It returns the matrix
// set to write the levels against.
func (w *PyramidWriter) prepareEntry(plan *Plan, srsID int, appending bool) (*MatrixSet, error) {
	table := w.cfg.TableName
	if !appending {
		ms := plan.MatrixSet(plan.AlignedExtent())
		if err := w.gpkg.AddTilesTable(table, srsID, ms.Grid); err != nil {
			return nil, err
		}
		return ms, nil
	}

	tms, err := w.gpkg.GetTileMatrixSet(table)
	if err != nil {
		return nil, errors.Wrapf(err, "load tile matrix set %q", table)
	}
	extent := tms.Extent()
	fp, ok := intersectRect(plan.Footprint, extent)
	if !ok {
		return nil, planningErrorf("footprint lies outside the extent of %q", table)
	}
	if err := w.gpkg.UpdateContentsExtent(table, general.NewExtent(
		[]float64{fp.Min[0], fp.Min[1]},
		[]float64{fp.Max[0], fp.Max[1]},
	)); err != nil {
		return nil, err
	}
	return plan.MatrixSet(extent), nil
}

func area(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}
