package gpkg

import (
	"image"
	"math"
	"sort"

	"github.com/flywave/go-geo"
	vec2d "github.com/flywave/go3d/float64/vec2"
)

const (
	// tolerance, in tile or pixel units, for snapping world values onto a grid
	gridEpsilon = 1e-6

	// the coarsest grid level whose GSD is within this factor of the source
	// GSD stops the walk down from level 0
	stopLevelFactor = 1.5

	maxZoomLevel = 30
)

// PlannedLevel is one zoom level of a pyramid with its square pixel size
// in reference-frame units.
type PlannedLevel struct {
	Zoom int
	GSD  float64
}

// PlanRequest describes the source to build a pyramid for. BaseLevel, when
// set, is a level already stored in the target table: explicit levels then
// continue its GSD by halving instead of taking it from the frame or the
// source.
type PlanRequest struct {
	System         ReferenceSystem
	Footprint      vec2d.Rect
	SourceGSD      float64
	TileWidth      int
	TileHeight     int
	AlignToGrid    bool
	ExplicitLevels []int
	BaseLevel      *PlannedLevel
}

// Plan is the ordered set of levels to write, coarsest first. Grid is the
// global frame grid of grid-aligned plans and nil otherwise.
type Plan struct {
	System      ReferenceSystem
	AlignToGrid bool
	TileWidth   int
	TileHeight  int
	Grid        *geo.TileGrid
	Footprint   vec2d.Rect
	Levels      []PlannedLevel
	FullResGSD  float64
}

type Planner struct {
	registry *Registry
}

func NewPlanner(registry *Registry) *Planner {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Planner{registry: registry}
}

// PlanLevels derives the zoom levels of a pyramid for the given source.
func (p *Planner) PlanLevels(req PlanRequest) (*Plan, error) {
	fp := req.Footprint
	width := fp.Max[0] - fp.Min[0]
	height := fp.Max[1] - fp.Min[1]
	if !(width > 0) || !(height > 0) {
		return nil, planningErrorf("degenerate footprint %vx%v", width, height)
	}
	if !(req.SourceGSD > 0) {
		return nil, planningErrorf("source GSD must be positive, got %v", req.SourceGSD)
	}
	if req.TileWidth < 1 || req.TileHeight < 1 {
		return nil, planningErrorf("invalid tile size %dx%d", req.TileWidth, req.TileHeight)
	}
	if req.BaseLevel != nil && !(req.BaseLevel.GSD > 0) {
		return nil, planningErrorf("base level %d has GSD %v", req.BaseLevel.Zoom, req.BaseLevel.GSD)
	}

	plan := &Plan{
		System:      req.System,
		AlignToGrid: req.AlignToGrid,
		TileWidth:   req.TileWidth,
		TileHeight:  req.TileHeight,
		Footprint:   fp,
	}

	if req.AlignToGrid {
		frame, err := p.registry.Frame(req.System)
		if err != nil {
			return nil, err
		}
		clipped, ok := intersectRect(fp, frame.Bounds)
		if !ok {
			return nil, planningErrorf("footprint lies outside the %s frame", req.System)
		}
		plan.Grid = frame.TileGrid(req.System, req.TileWidth, req.TileHeight)
		plan.Footprint = clipped
	}

	sourcePixels := vec2d.T{
		(plan.Footprint.Max[0] - plan.Footprint.Min[0]) / req.SourceGSD,
		(plan.Footprint.Max[1] - plan.Footprint.Min[1]) / req.SourceGSD,
	}
	if math.Round(sourcePixels[0]) < 1 || math.Round(sourcePixels[1]) < 1 {
		return nil, planningErrorf("footprint is smaller than one pixel, no tile would result")
	}

	switch {
	case len(req.ExplicitLevels) > 0:
		levels, err := normalizeLevels(req.ExplicitLevels)
		if err != nil {
			return nil, err
		}
		finest := levels[len(levels)-1]
		for _, z := range levels {
			var gsd float64
			switch {
			case req.BaseLevel != nil:
				gsd = math.Ldexp(req.BaseLevel.GSD, req.BaseLevel.Zoom-z)
			case plan.Grid != nil:
				gsd = plan.Grid.Resolution(z)
			default:
				gsd = math.Ldexp(req.SourceGSD, finest-z)
			}
			plan.Levels = append(plan.Levels, PlannedLevel{Zoom: z, GSD: gsd})
		}
	case plan.Grid != nil:
		zoom := plan.Grid.ClosestLevel(req.SourceGSD)
		gsd := plan.Grid.Resolution(zoom)
		if gsd > stopLevelFactor*req.SourceGSD {
			return nil, planningErrorf("source GSD %v is finer than grid level %d", req.SourceGSD, maxZoomLevel)
		}
		plan.Levels = append(plan.Levels, PlannedLevel{Zoom: zoom, GSD: gsd})
		for gsd > req.SourceGSD*(1+gridEpsilon) && zoom < maxZoomLevel {
			zoom++
			gsd = plan.Grid.Resolution(zoom)
			plan.Levels = append(plan.Levels, PlannedLevel{Zoom: zoom, GSD: gsd})
		}
	default:
		n := LevelCount(sourcePixels[0], sourcePixels[1], req.TileWidth, req.TileHeight)
		for z := 0; z < n; z++ {
			plan.Levels = append(plan.Levels, PlannedLevel{Zoom: z, GSD: req.SourceGSD * math.Ldexp(1, n-1-z)})
		}
	}

	plan.FullResGSD = plan.Levels[len(plan.Levels)-1].GSD
	return plan, nil
}

// LevelCount is the smallest number of halvings that brings both
// dimensions below a quarter tile, and at least one.
func LevelCount(width, height float64, tileWidth, tileHeight int) int {
	qw, qh := float64(tileWidth)/4, float64(tileHeight)/4
	n := 0
	for (width >= qw || height >= qh) && n < maxZoomLevel {
		width /= 2
		height /= 2
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

func normalizeLevels(levels []int) ([]int, error) {
	out := append([]int(nil), levels...)
	sort.Ints(out)
	j := 0
	for i, z := range out {
		if z < 0 || z > maxZoomLevel {
			return nil, planningErrorf("zoom level %d out of range [0,%d]", z, maxZoomLevel)
		}
		if i > 0 && z == out[j-1] {
			continue
		}
		out[j] = z
		j++
	}
	return out[:j], nil
}

func (p *Plan) Coarsest() PlannedLevel {
	return p.Levels[0]
}

func (p *Plan) Finest() PlannedLevel {
	return p.Levels[len(p.Levels)-1]
}

func (p *Plan) Zooms() []int {
	zooms := make([]int, len(p.Levels))
	for i, l := range p.Levels {
		zooms[i] = l.Zoom
	}
	return zooms
}

// AlignedExtent is the tile matrix set extent: the footprint grown outward
// to whole tiles of the coarsest level. In grid mode tiles are counted from
// the frame's upper-left corner, otherwise from the footprint's.
func (p *Plan) AlignedExtent() vec2d.Rect {
	fp := p.Footprint
	gsd := p.Coarsest().GSD
	span := vec2d.T{float64(p.TileWidth) * gsd, float64(p.TileHeight) * gsd}
	if p.Grid != nil {
		ox, oy := p.Grid.BBox.Min[0], p.Grid.BBox.Max[1]
		return vec2d.Rect{
			Min: vec2d.T{
				ox + math.Floor((fp.Min[0]-ox)/span[0]+gridEpsilon)*span[0],
				oy - math.Ceil((oy-fp.Min[1])/span[1]-gridEpsilon)*span[1],
			},
			Max: vec2d.T{
				ox + math.Ceil((fp.Max[0]-ox)/span[0]-gridEpsilon)*span[0],
				oy - math.Floor((oy-fp.Max[1])/span[1]+gridEpsilon)*span[1],
			},
		}
	}
	cols := math.Ceil((fp.Max[0]-fp.Min[0])/span[0] - gridEpsilon)
	rows := math.Ceil((fp.Max[1]-fp.Min[1])/span[1] - gridEpsilon)
	return vec2d.Rect{
		Min: vec2d.T{fp.Min[0], fp.Max[1] - math.Max(rows, 1)*span[1]},
		Max: vec2d.T{fp.Min[0] + math.Max(cols, 1)*span[0], fp.Max[1]},
	}
}

// MatrixSet lays the planned levels over a tile matrix set extent.
func (p *Plan) MatrixSet(extent vec2d.Rect) *MatrixSet {
	res := make([]float64, len(p.Levels))
	for i, l := range p.Levels {
		res[i] = l.GSD
	}
	opts := tileGridOptions(p.System, extent, p.TileWidth, p.TileHeight)
	opts[geo.TILEGRID_RES] = res
	return &MatrixSet{
		Grid:      geo.NewTileGrid(opts),
		Zooms:     p.Zooms(),
		Footprint: p.Footprint,
	}
}

// MatrixSet is the go-geo grid of one tile matrix set: its bbox is the set
// extent, grid level i is the i-th planned level and rows count down from
// the top edge.
type MatrixSet struct {
	Grid      *geo.TileGrid
	Zooms     []int
	Footprint vec2d.Rect
}

func (m *MatrixSet) Extent() vec2d.Rect {
	return *m.Grid.BBox
}

// Size is the tile count of level i.
func (m *MatrixSet) Size(i int) image.Point {
	gs := m.Grid.GridSizes[i]
	return image.Pt(int(gs[0]), int(gs[1]))
}

// Populated returns the tiles (max exclusive) of level i that the
// footprint touches.
func (m *MatrixSet) Populated(i int) image.Rectangle {
	ext := m.Extent()
	fp, ok := intersectRect(m.Footprint, ext)
	if !ok {
		return image.Rectangle{}
	}
	// the lookup shrinks the box by a tenth of a pixel on each side
	fp = widenRect(fp, ext, m.Grid.Resolution(i)/2)
	_, _, it, err := m.Grid.GetAffectedLevelTiles(fp, i)
	if err != nil {
		return image.Rectangle{}
	}
	b := it.GetTileBound()
	r := image.Rect(int(b[0]), int(b[1]), int(b[2])+1, int(b[3])+1)
	return r.Intersect(image.Rectangle{Max: m.Size(i)})
}

// TileWorldRect is the world rectangle of a tile rectangle of level i.
func (m *MatrixSet) TileWorldRect(i int, tiles image.Rectangle) vec2d.Rect {
	return m.Grid.TilesBBox([][3]int{
		{tiles.Min.X, tiles.Min.Y, i},
		{tiles.Max.X - 1, tiles.Max.Y - 1, i},
	})
}

// TileMatrices returns the gpkg_tile_matrix rows of every level.
func (m *MatrixSet) TileMatrices(tableName string) []TileMatrix {
	return NewTileMatrixs(tableName, m.Grid, m.Zooms)
}

func intersectRect(a, b vec2d.Rect) (vec2d.Rect, bool) {
	r := vec2d.Rect{
		Min: vec2d.T{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: vec2d.T{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
	if r.Max[0] <= r.Min[0] || r.Max[1] <= r.Min[1] {
		return r, false
	}
	return r, true
}

// widenRect grows r about its centre to at least size on each axis,
// keeping it inside bounds.
func widenRect(r, bounds vec2d.Rect, size float64) vec2d.Rect {
	for i := 0; i < 2; i++ {
		if r.Max[i]-r.Min[i] >= size {
			continue
		}
		c := (r.Min[i] + r.Max[i]) / 2
		c = math.Max(c, bounds.Min[i]+size/2)
		c = math.Min(c, bounds.Max[i]-size/2)
		r.Min[i], r.Max[i] = c-size/2, c+size/2
	}
	return r
}
