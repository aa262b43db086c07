package isoline

import (
	"fmt"
	"math"
)

// Curve is an ordered polyline in physical coordinates, typically an
// isoline mapped out of uniform space. It is interpolable in both
// orientations because an exceedance boundary is not single-valued in
// either coordinate near its turning point.
type Curve struct {
	X []float64
	Y []float64
}

// NewCurve wraps parallel coordinate slices, rejecting ragged or empty
// input and non-finite coordinates.
func NewCurve(x, y []float64) (Curve, error) {
	if len(x) == 0 || len(x) != len(y) {
		return Curve{}, fmt.Errorf("curve needs equal-length non-empty coordinates, got %d/%d", len(x), len(y))
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return Curve{}, fmt.Errorf("curve has non-finite point at index %d", i)
		}
	}
	return Curve{X: x, Y: y}, nil
}

// YAtX interpolates linearly along the polyline at the given x. The first
// bracketing segment in point order wins; ok is false when no segment
// covers x.
func (c Curve) YAtX(x float64) (float64, bool) {
	return interpolate(c.X, c.Y, x)
}

// XAtY is the reverse-role lookup, solving for x at the given y.
func (c Curve) XAtY(y float64) (float64, bool) {
	return interpolate(c.Y, c.X, y)
}

// MaxX returns the largest x coordinate.
func (c Curve) MaxX() float64 {
	m := math.Inf(-1)
	for _, v := range c.X {
		m = math.Max(m, v)
	}
	return m
}

// MaxY returns the largest y coordinate.
func (c Curve) MaxY() float64 {
	m := math.Inf(-1)
	for _, v := range c.Y {
		m = math.Max(m, v)
	}
	return m
}

func interpolate(along, across []float64, at float64) (float64, bool) {
	if len(along) == 1 {
		if along[0] == at {
			return across[0], true
		}
		return 0, false
	}
	for i := 0; i+1 < len(along); i++ {
		a, b := along[i], along[i+1]
		if (at-a)*(at-b) > 0 {
			continue
		}
		if a == b {
			return across[i], true
		}
		t := (at - a) / (b - a)
		return across[i] + t*(across[i+1]-across[i]), true
	}
	return 0, false
}
