package gpkg

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// ProgressFunc receives the completed fraction of a write, in [0, 1].
// Successive values never decrease.
type ProgressFunc func(fraction float64)

const progressBarSteps = 1000

// NewProgressBar returns a ProgressFunc drawing a terminal bar on w.
func NewProgressBar(w io.Writer, description string) ProgressFunc {
	bar := progressbar.NewOptions(progressBarSteps,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
	)
	return func(fraction float64) {
		bar.Set(int(fraction * progressBarSteps))
		if fraction >= 1 {
			bar.Finish()
		}
	}
}

type progressTracker struct {
	fn    ProgressFunc
	total int
	done  int
	last  float64
}

func newProgressTracker(fn ProgressFunc, total int) *progressTracker {
	return &progressTracker{fn: fn, total: total}
}

func (p *progressTracker) advance(n int) {
	if p == nil {
		return
	}
	p.done += n
	if p.total <= 0 {
		return
	}
	p.report(float64(p.done) / float64(p.total))
}

func (p *progressTracker) finish() {
	if p == nil {
		return
	}
	p.report(1)
}

func (p *progressTracker) report(f float64) {
	if f > 1 {
		f = 1
	}
	if f <= p.last {
		return
	}
	p.last = f
	if p.fn != nil {
		p.fn(f)
	}
}
