package isoline

import (
	"fmt"
	"math"
)

// Source tags which regime curve supplied a composite point.
type Source int

const (
	// SourceSynthetic marks the closure points added when bounding the
	// exceedance region, not produced by either regime.
	SourceSynthetic Source = iota
	SourceA
	SourceB
	SourceBoth
)

func (s Source) String() string {
	switch s {
	case SourceA:
		return "A"
	case SourceB:
		return "B"
	case SourceBoth:
		return "both"
	default:
		return "synthetic"
	}
}

// ClosureSentinel is the y value of the trailing point that closes the
// composite exceedance region from below.
const ClosureSentinel = -1e9

// Composite is the merged exceedance boundary of two conditioning regimes:
// a monotone-in-x polyline with a per-point contributor tag.
type Composite struct {
	X      []float64
	Y      []float64
	Source []Source
}

// Len reports the number of composite points.
func (c Composite) Len() int { return len(c.X) }

// Merge resamples both regime curves onto a fixed-step x grid spanning
// [0, max x] and takes, at each grid x, the larger of the defined regime
// values; a grid x is dropped only when neither curve covers it. The union
// boundary is then closed into a bounded region: a leading point at x=0 at
// the curve's maximum height and a trailing sentinel far below the data.
// A non-positive step defaults to 1/1000 of the x span.
func Merge(a, b Curve, step float64) (Composite, error) {
	if len(a.X) == 0 || len(b.X) == 0 {
		return Composite{}, fmt.Errorf("merge needs two non-empty curves")
	}
	maxX := math.Max(a.MaxX(), b.MaxX())
	if !(maxX > 0) {
		return Composite{}, fmt.Errorf("merge needs a positive x span, got max x %v", maxX)
	}
	if step <= 0 {
		step = maxX / 1000
	}

	var xs, ys []float64
	var src []Source
	for k := 0; ; k++ {
		x := float64(k) * step
		if x > maxX {
			break
		}
		ya, okA := a.YAtX(x)
		yb, okB := b.YAtX(x)
		switch {
		case okA && okB:
			y := math.Max(ya, yb)
			tag := SourceA
			if ya == yb {
				tag = SourceBoth
			} else if yb > ya {
				tag = SourceB
			}
			xs, ys, src = append(xs, x), append(ys, y), append(src, tag)
		case okA:
			xs, ys, src = append(xs, x), append(ys, ya), append(src, SourceA)
		case okB:
			xs, ys, src = append(xs, x), append(ys, yb), append(src, SourceB)
		}
	}
	if len(xs) == 0 {
		return Composite{}, fmt.Errorf("merge grid with step %v never intersects either curve", step)
	}

	top := ys[0]
	for _, y := range ys {
		top = math.Max(top, y)
	}

	out := Composite{
		X:      append([]float64{0}, xs...),
		Y:      append([]float64{top}, ys...),
		Source: append([]Source{SourceSynthetic}, src...),
	}
	out.X = append(out.X, out.X[len(out.X)-1])
	out.Y = append(out.Y, ClosureSentinel)
	out.Source = append(out.Source, SourceSynthetic)

	return dedupe(out), nil
}

// dedupe removes consecutive identical (x,y) pairs, keeping the first
// occurrence's tag.
func dedupe(c Composite) Composite {
	out := Composite{
		X:      c.X[:1],
		Y:      c.Y[:1],
		Source: c.Source[:1],
	}
	for i := 1; i < len(c.X); i++ {
		last := len(out.X) - 1
		if c.X[i] == out.X[last] && c.Y[i] == out.Y[last] {
			continue
		}
		out.X = append(out.X, c.X[i])
		out.Y = append(out.Y, c.Y[i])
		out.Source = append(out.Source, c.Source[i])
	}
	return out
}
