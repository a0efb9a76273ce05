package gpkg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressTracker(t *testing.T) {
	var got []float64
	p := newProgressTracker(func(f float64) { got = append(got, f) }, 4)
	p.advance(1)
	p.advance(0)
	p.advance(2)
	p.advance(5)
	p.advance(1)
	p.finish()
	require.Equal(t, []float64{0.25, 0.75, 1}, got)

	// an unknown total only reports completion
	got = nil
	p = newProgressTracker(func(f float64) { got = append(got, f) }, 0)
	p.advance(3)
	p.finish()
	require.Equal(t, []float64{1}, got)

	var nilTracker *progressTracker
	nilTracker.advance(1)
	nilTracker.finish()
	newProgressTracker(nil, 2).advance(1)
}

func TestNewProgressBar(t *testing.T) {
	var out bytes.Buffer
	fn := NewProgressBar(&out, "writing")
	fn(0.5)
	fn(1)
	require.Contains(t, out.String(), "writing")
}
