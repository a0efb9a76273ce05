package gpkg

import (
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrInvalidResolutionLevel = errors.New("invalid resolution level")
	ErrUnsupportedTileFormat  = errors.New("unsupported tile format")
	ErrAborted                = errors.New("pyramid write aborted")
	ErrEntryNotFound          = errors.New("tile matrix set entry not found")
)

// PlanningError reports a footprint or reference system the planner cannot
// turn into a pyramid. It is fatal to the whole write.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return "planning: " + e.Reason
}

func planningErrorf(format string, args ...interface{}) error {
	return &PlanningError{Reason: fmt.Sprintf(format, args...)}
}

// DuplicateLevelError is returned when a zoom level row already exists for
// a tile table.
type DuplicateLevelError struct {
	Table     string
	ZoomLevel int
}

func (e *DuplicateLevelError) Error() string {
	return fmt.Sprintf("zoom level %d already exists in %q", e.ZoomLevel, e.Table)
}

// LevelOrderError is returned when a level appended to an existing pyramid
// is not finer than every level already stored.
type LevelOrderError struct {
	Table     string
	ZoomLevel int
	MaxZoom   int
}

func (e *LevelOrderError) Error() string {
	return fmt.Sprintf("zoom level %d must be greater than existing max zoom %d in %q", e.ZoomLevel, e.MaxZoom, e.Table)
}

// ResolutionMismatchError is returned when a level appended to an existing
// pyramid does not continue the halving GSD of the stored levels.
type ResolutionMismatchError struct {
	Table     string
	ZoomLevel int
	Want      float64
	Got       float64
}

func (e *ResolutionMismatchError) Error() string {
	return fmt.Sprintf("zoom level %d of %q needs GSD %v, got %v", e.ZoomLevel, e.Table, e.Want, e.Got)
}

type ReferenceSystemMismatchError struct {
	Table    string
	Existing int
	Got      int
}

func (e *ReferenceSystemMismatchError) Error() string {
	return fmt.Sprintf("%q uses srs_id %d, cannot append levels in srs_id %d", e.Table, e.Existing, e.Got)
}

// isConstraintViolation reports whether err is a SQLite UNIQUE or PRIMARY
// KEY failure.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
