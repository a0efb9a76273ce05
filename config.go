package gpkg

import (
	"log/slog"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	AlignmentGrid   = "grid"
	AlignmentSource = "source"

	CompressionMixed = "mixed"
	CompressionJPEG  = "jpeg"
	CompressionPNG   = "png"
	CompressionWebP  = "webp"

	ExtentClip = "clip"
	ExtentFull = "full"
)

// WriterConfig controls how a pyramid is written.
type WriterConfig struct {
	TableName  string `validate:"required"`
	TileWidth  int    `default:"256" validate:"min=1,max=4096"`
	TileHeight int    `default:"256" validate:"min=1,max=4096"`

	// Alignment is "grid" to snap levels to the global tiling of the
	// reference frame, "source" to keep the source resolution.
	Alignment string `default:"grid" validate:"oneof=grid source"`
	Levels    []int  `validate:"omitempty,dive,min=0,max=30"`

	// Compression "mixed" writes full tiles with LossyFormat and partial
	// tiles as PNG; the other values force one format for every tile.
	Compression string `default:"mixed" validate:"oneof=mixed jpeg png webp"`
	LossyFormat string `default:"jpeg" validate:"oneof=jpeg webp"`
	Quality     int    `default:"75" validate:"min=1,max=100"`

	BatchSize       int `default:"32" validate:"min=1"`
	WriteBlankTiles bool
	Append          bool
}

func (c *WriterConfig) AlignToGrid() bool {
	return c.Alignment == AlignmentGrid
}

// Prepare fills in defaults and validates c.
func (c *WriterConfig) Prepare() error {
	if err := defaults.Set(c); err != nil {
		return errors.Wrap(err, "writer config defaults")
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return errors.Wrap(validate.Struct(c), "writer config")
}

// lossyFormat is the format used for opaque lossy tiles.
func (c *WriterConfig) lossyFormat() TileFormat {
	if c.Compression == CompressionWebP || (c.Compression == CompressionMixed && c.LossyFormat == CompressionWebP) {
		return WEBP
	}
	return JPG
}

type ReaderConfig struct {
	// Extent "clip" narrows each level to its populated tiles when the
	// catalog stores them, "full" exposes the whole matrix.
	Extent string `default:"clip" validate:"oneof=clip full"`
}

func (c *ReaderConfig) ClipToExtent() bool {
	return c.Extent == ExtentClip
}

func (c *ReaderConfig) Prepare() error {
	if err := defaults.Set(c); err != nil {
		return errors.Wrap(err, "reader config defaults")
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return errors.Wrap(validate.Struct(c), "reader config")
}

type options struct {
	logger   *slog.Logger
	progress ProgressFunc
	registry *Registry
	overview ImageSource
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProgress reports a monotonic completion fraction while writing.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

func WithRegistry(registry *Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithOverview attaches a source serving resolution levels past the stored
// ones.
func WithOverview(src ImageSource) Option {
	return func(o *options) { o.overview = src }
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	return o
}
