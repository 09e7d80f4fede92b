package touchdown

// fitLine fits y = slope*x + intercept by least squares and returns the
// residual sum of squares alongside the coefficients.
func fitLine(x, y []float64) (slope, intercept, ssr float64) {
	n := float64(len(x))
	if len(x) < 2 {
		if len(y) == 1 {
			return 0, y[0], 0
		}
		return 0, 0, 0
	}

	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n

	var sxx, sxy float64
	for i := range x {
		dx := x[i] - mx
		sxx += dx * dx
		sxy += dx * (y[i] - my)
	}
	if sxx == 0 {
		// Vertical stack of points; treat as flat at the mean.
		slope, intercept = 0, my
	} else {
		slope = sxy / sxx
		intercept = my - slope*mx
	}

	for i := range x {
		r := y[i] - (slope*x[i] + intercept)
		ssr += r * r
	}
	return slope, intercept, ssr
}
