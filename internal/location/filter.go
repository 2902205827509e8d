package location

import (
	"fittrack/internal/metrics"
	"fittrack/internal/shared/geo"
)

// Filter applies the accuracy and displacement gates to raw fixes.
// Both gates share geo.Distance with the session's distance accumulator.
type Filter struct {
	maxAccuracyM     float64
	minDisplacementM float64
	last             *geo.Point
}

func NewFilter(maxAccuracyM, minDisplacementM float64) *Filter {
	return &Filter{maxAccuracyM: maxAccuracyM, minDisplacementM: minDisplacementM}
}

// Accept reports whether fix passes both gates and records it as the last accepted point.
// The returned string is the metrics result label.
func (f *Filter) Accept(fix Fix) (geo.Point, string, bool) {
	if fix.AccuracyM > f.maxAccuracyM {
		return geo.Point{}, metrics.FixRejectedAccuracy, false
	}
	p := fix.Point()
	if f.last != nil && geo.Distance(*f.last, p) < f.minDisplacementM {
		return geo.Point{}, metrics.FixRejectedDisplacement, false
	}
	f.last = &p
	return p, metrics.FixAccepted, true
}

func (f *Filter) Reset() {
	f.last = nil
}
