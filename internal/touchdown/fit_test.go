package touchdown

import (
	"math"
	"testing"
)

func TestFitLineRecoversCoefficients(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := make([]float64, len(x))
	for i, xi := range x {
		y[i] = 2.5*xi - 1.25
	}
	slope, intercept, ssr := fitLine(x, y)
	if math.Abs(slope-2.5) > 1e-12 || math.Abs(intercept+1.25) > 1e-12 {
		t.Errorf("fitLine = (%g, %g), want (2.5, -1.25)", slope, intercept)
	}
	if ssr > 1e-20 {
		t.Errorf("ssr = %g for collinear points, want 0", ssr)
	}
}

func TestFitLineResiduals(t *testing.T) {
	// Symmetric deviations around y = x: slope and intercept unchanged,
	// all the misfit lands in the residual.
	x := []float64{0, 1, 2}
	y := []float64{0.1, 0.8, 2.1}
	_, _, ssr := fitLine(x, y)
	if ssr <= 0 {
		t.Errorf("ssr = %g for noisy points, want > 0", ssr)
	}
}

func TestFitLineVerticalStack(t *testing.T) {
	x := []float64{2, 2, 2, 2}
	y := []float64{1, 3, 5, 7}
	slope, intercept, _ := fitLine(x, y)
	if slope != 0 || intercept != 4 {
		t.Errorf("fitLine on a vertical stack = (%g, %g), want (0, 4)", slope, intercept)
	}
}

func TestFitLineDegenerate(t *testing.T) {
	if s, b, ssr := fitLine([]float64{5}, []float64{9}); s != 0 || b != 9 || ssr != 0 {
		t.Errorf("fitLine single point = (%g, %g, %g), want (0, 9, 0)", s, b, ssr)
	}
	if s, b, ssr := fitLine(nil, nil); s != 0 || b != 0 || ssr != 0 {
		t.Errorf("fitLine empty = (%g, %g, %g), want zeros", s, b, ssr)
	}
}
