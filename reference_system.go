package gpkg

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/flywave/go-geo"
	vec2d "github.com/flywave/go3d/float64/vec2"
)

// SystemKind is the closed set of reference-system families the pyramid
// engine knows how to grid-align.
type SystemKind uint8

const (
	KindGeneric SystemKind = iota
	KindGeographic
	KindWorldMercator
	KindWebMercator
	KindUTM
)

func (k SystemKind) String() string {
	switch k {
	case KindGeographic:
		return "geographic"
	case KindWorldMercator:
		return "world-mercator"
	case KindWebMercator:
		return "web-mercator"
	case KindUTM:
		return "utm"
	default:
		return "generic"
	}
}

const (
	OrganizationEPSG = "EPSG"

	// meters per degree on the WGS84 equator
	metersPerDegree = 6378137.0 * 2 * math.Pi / 360.0

	mercatorHalfExtent = 20037508.342789244
	utmFrameSize       = 20003931.4586255
	utmFalseNorthing   = 10000000.0
)

// ReferenceSystem identifies the frame a pyramid is written in. It is
// resolved once, at plan time, and carried by value afterwards.
type ReferenceSystem struct {
	Kind         SystemKind
	Organization string
	Code         int
	Zone         int
	South        bool
}

func (rs ReferenceSystem) String() string {
	return fmt.Sprintf("%s:%d", rs.Organization, rs.Code)
}

func (rs ReferenceSystem) Name() string {
	switch rs.Kind {
	case KindGeographic:
		return "WGS 84 geodetic"
	case KindWorldMercator:
		return "WGS 84 / World Mercator"
	case KindWebMercator:
		return "WGS 84 / Pseudo-Mercator"
	case KindUTM:
		hemi := "N"
		if rs.South {
			hemi = "S"
		}
		return fmt.Sprintf("WGS 84 / UTM zone %d%s", rs.Zone, hemi)
	default:
		return rs.String()
	}
}

// MetersPerUnit converts the frame's native unit to meters at the equator.
func (rs ReferenceSystem) MetersPerUnit() float64 {
	if rs.Kind == KindGeographic {
		return metersPerDegree
	}
	return 1
}

// GlobalFrame is the canonical tiling of a reference frame at zoom level 0:
// Bounds is covered by exactly TilesWide x TilesHigh tiles.
type GlobalFrame struct {
	Bounds    vec2d.Rect
	TilesWide int
	TilesHigh int
}

func (f GlobalFrame) Width() float64 {
	return f.Bounds.Max[0] - f.Bounds.Min[0]
}

func (f GlobalFrame) Height() float64 {
	return f.Bounds.Max[1] - f.Bounds.Min[1]
}

// GSD0 is the square pixel size at zoom level 0 for the given tile size.
func (f GlobalFrame) GSD0(tileWidth, tileHeight int) float64 {
	gx := f.Width() / float64(f.TilesWide*tileWidth)
	gy := f.Height() / float64(f.TilesHigh*tileHeight)
	return math.Max(gx, gy)
}

// TileGrid is the go-geo grid of the frame for rs: level 0 has GSD0 and
// every further level halves it, rows count down from the top edge.
func (f GlobalFrame) TileGrid(rs ReferenceSystem, tileWidth, tileHeight int) *geo.TileGrid {
	opts := tileGridOptions(rs, f.Bounds, tileWidth, tileHeight)
	opts[geo.TILEGRID_MIN_RES] = f.GSD0(tileWidth, tileHeight)
	opts[geo.TILEGRID_RES_FACTOR] = 2.0
	opts[geo.TILEGRID_NUM_LEVELS] = maxZoomLevel + 1
	return geo.NewTileGrid(opts)
}

// tileGridOptions describes a grid over bbox in rs. The srs is carried by
// code only, nothing is reprojected.
func tileGridOptions(rs ReferenceSystem, bbox vec2d.Rect, tileWidth, tileHeight int) geo.TileGridOptions {
	opts := geo.DefaultTileGridOptions()
	opts[geo.TILEGRID_NAME] = rs.Name()
	opts[geo.TILEGRID_SRS] = &geo.SRSProj4{SrsCode: rs.String()}
	opts[geo.TILEGRID_BBOX] = &bbox
	opts[geo.TILEGRID_TILE_SIZE] = []uint32{uint32(tileWidth), uint32(tileHeight)}
	opts[geo.TILEGRID_ORIGIN] = geo.ORIGIN_UL
	opts[geo.TILEGRID_IS_GEODETIC] = rs.Kind == KindGeographic
	opts[geo.TILEGRID_MAX_STRETCH_FACTOR] = stopLevelFactor
	return opts
}

// Registry resolves EPSG codes to reference systems and knows the global
// frames of generic systems registered by the caller. Construct one per
// process and pass it to writers.
type Registry struct {
	mu          sync.RWMutex
	frames      map[int]GlobalFrame
	definitions map[int]string
}

func NewRegistry() *Registry {
	return &Registry{
		frames:      make(map[int]GlobalFrame),
		definitions: make(map[int]string),
	}
}

// Register makes a generic EPSG code plannable in grid-aligned mode.
func (r *Registry) Register(code int, frame GlobalFrame, definition string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[code] = frame
	if definition != "" {
		r.definitions[code] = definition
	}
}

// Resolve maps an EPSG code onto its kind.
func (r *Registry) Resolve(code int) (ReferenceSystem, error) {
	rs := ReferenceSystem{Organization: OrganizationEPSG, Code: code}
	switch {
	case code == 4326:
		rs.Kind = KindGeographic
	case code == 3395:
		rs.Kind = KindWorldMercator
	case code == 3857 || code == 900913:
		rs.Kind = KindWebMercator
	case code >= 32601 && code <= 32660:
		rs.Kind = KindUTM
		rs.Zone = code - 32600
	case code >= 32701 && code <= 32760:
		rs.Kind = KindUTM
		rs.Zone = code - 32700
		rs.South = true
	case code > 0:
		rs.Kind = KindGeneric
	default:
		return rs, planningErrorf("invalid EPSG code %d", code)
	}
	return rs, nil
}

// ResolveString accepts "EPSG:nnnn" style codes.
func (r *Registry) ResolveString(code string) (ReferenceSystem, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return ReferenceSystem{}, planningErrorf("empty reference system code")
	}
	return r.Resolve(geo.GetEpsgNum(strings.ToUpper(code)))
}

// Frame returns the global tiling frame of rs.
func (r *Registry) Frame(rs ReferenceSystem) (GlobalFrame, error) {
	switch rs.Kind {
	case KindGeographic:
		return GlobalFrame{
			Bounds:    vec2d.Rect{Min: vec2d.T{-180, -90}, Max: vec2d.T{180, 90}},
			TilesWide: 2,
			TilesHigh: 1,
		}, nil
	case KindWebMercator, KindWorldMercator:
		return GlobalFrame{
			Bounds:    vec2d.Rect{Min: vec2d.T{-mercatorHalfExtent, -mercatorHalfExtent}, Max: vec2d.T{mercatorHalfExtent, mercatorHalfExtent}},
			TilesWide: 1,
			TilesHigh: 1,
		}, nil
	case KindUTM:
		minX := 500000 - utmFrameSize/2
		minY := 0.0
		if rs.South {
			minY = utmFalseNorthing - utmFrameSize
		}
		return GlobalFrame{
			Bounds:    vec2d.Rect{Min: vec2d.T{minX, minY}, Max: vec2d.T{minX + utmFrameSize, minY + utmFrameSize}},
			TilesWide: 1,
			TilesHigh: 1,
		}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	frame, ok := r.frames[rs.Code]
	if !ok {
		return GlobalFrame{}, planningErrorf("no global extent registered for %s", rs)
	}
	if frame.TilesWide < 1 || frame.TilesHigh < 1 || frame.Width() <= 0 || frame.Height() <= 0 {
		return GlobalFrame{}, planningErrorf("degenerate global extent registered for %s", rs)
	}
	return frame, nil
}

// Definition returns the WKT stored in gpkg_spatial_ref_sys for rs.
func (r *Registry) Definition(rs ReferenceSystem) string {
	if def, ok := wellKnownDefinitions[rs.Code]; ok {
		return strings.TrimSpace(def)
	}
	if rs.Kind == KindUTM {
		return utmDefinition(rs)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.definitions[rs.Code]; ok {
		return def
	}
	return "undefined"
}

// SpatialReferenceSystem builds the catalog row describing rs.
func (r *Registry) SpatialReferenceSystem(rs ReferenceSystem) SpatialReferenceSystem {
	if rs.Organization == "" {
		rs.Organization = OrganizationEPSG
	}
	code := rs.Code
	return SpatialReferenceSystem{
		Name:                           rs.Name(),
		Organization:                   rs.Organization,
		OrganizationCoordinateSystemId: &code,
		Definition:                     r.Definition(rs),
		Description:                    rs.Kind.String(),
	}
}

func utmDefinition(rs ReferenceSystem) string {
	northing := 0
	if rs.South {
		northing = int(utmFalseNorthing)
	}
	return fmt.Sprintf(`PROJCS["%s",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],`+
		`PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],`+
		`PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",%d],PARAMETER["scale_factor",0.9996],`+
		`PARAMETER["false_easting",500000],PARAMETER["false_northing",%d],UNIT["metre",1],AUTHORITY["EPSG","%d"]]`,
		rs.Name(), rs.Zone*6-183, northing, rs.Code)
}
