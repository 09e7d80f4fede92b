package scanner

import "fmt"

// PlaneFit is the fitted sample plane z = XCoeff*x + YCoeff*y + Offset,
// in volts. A scan follows this plane at a constant height offset so the
// probe tracks the (tilted) sample surface.
type PlaneFit struct {
	XCoeff float64
	YCoeff float64
	Offset float64
}

// Eval returns the plane height at (x, y).
func (p PlaneFit) Eval(x, y float64) float64 {
	return p.XCoeff*x + p.YCoeff*y + p.Offset
}

// ScanParams describes one raster scan of the sample plane.
type ScanParams struct {
	FastAxis Axis // X or Y; the other lateral axis is the slow axis

	CenterX, CenterY float64 // scan center, V
	SizeX, SizeY     float64 // scan extent, V

	PixelsX, PixelsY int // scan size in pixels per axis

	ScanRate float64 // pixels per second along the fast axis
	Height   float64 // height offset added to the plane, V

	Plane PlaneFit
}

// SlowAxis returns the lateral axis perpendicular to the fast axis.
func (p ScanParams) SlowAxis() Axis {
	if p.FastAxis == AxisY {
		return AxisX
	}
	return AxisY
}

// Lines returns the number of scan lines (pixels along the slow axis).
func (p ScanParams) Lines() int {
	if p.SlowAxis() == AxisX {
		return p.PixelsX
	}
	return p.PixelsY
}

// PointsPerLine returns the DAQ samples per line: line duration (fast
// pixels over scan rate) times the DAQ rate.
func (p ScanParams) PointsPerLine(daqRate float64) int {
	pix := p.PixelsX
	if p.FastAxis == AxisY {
		pix = p.PixelsY
	}
	return int(daqRate * float64(pix) / p.ScanRate)
}

// Grid holds per-sample voltages for an entire raster scan, one matrix
// per axis indexed [line][sample]. Immutable for the scan's duration.
type Grid struct {
	X, Y, Z [][]float64
}

// Lines returns the number of scan lines in the grid.
func (g *Grid) Lines() int { return len(g.X) }

// Axis returns the matrix for one axis.
func (g *Grid) Axis(a Axis) [][]float64 {
	switch a {
	case AxisX:
		return g.X
	case AxisY:
		return g.Y
	default:
		return g.Z
	}
}

// LineStart returns the first sample of the given line on all axes.
func (g *Grid) LineStart(line int) Position {
	return Position{g.X[line][0], g.Y[line][0], g.Z[line][0]}
}

// MakeGrid generates the full scan grid from scan parameters: the fast
// axis sweeps its extent within each line, the slow axis is constant per
// line, and z follows the fitted plane plus the height offset.
func MakeGrid(p ScanParams, daqRate float64) (*Grid, error) {
	if p.FastAxis != AxisX && p.FastAxis != AxisY {
		return nil, fmt.Errorf("scanner: fast axis must be x or y, got %s", p.FastAxis)
	}
	if p.PixelsX < 1 || p.PixelsY < 1 {
		return nil, fmt.Errorf("scanner: scan size must be at least 1x1 pixels, got %dx%d", p.PixelsX, p.PixelsY)
	}
	if p.ScanRate <= 0 {
		return nil, fmt.Errorf("scanner: scan rate must be positive, got %g", p.ScanRate)
	}
	pts := p.PointsPerLine(daqRate)
	if pts < 2 {
		return nil, fmt.Errorf("scanner: %d samples per line; scan rate too fast for DAQ rate %g Hz", pts, daqRate)
	}

	fastLo, fastHi := p.CenterX-p.SizeX/2, p.CenterX+p.SizeX/2
	slowVec := linspace(p.CenterY-p.SizeY/2, p.CenterY+p.SizeY/2, p.PixelsY)
	if p.FastAxis == AxisY {
		fastLo, fastHi = p.CenterY-p.SizeY/2, p.CenterY+p.SizeY/2
		slowVec = linspace(p.CenterX-p.SizeX/2, p.CenterX+p.SizeX/2, p.PixelsX)
	}
	fastVec := linspace(fastLo, fastHi, pts)

	lines := len(slowVec)
	g := &Grid{
		X: make([][]float64, lines),
		Y: make([][]float64, lines),
		Z: make([][]float64, lines),
	}
	for l := 0; l < lines; l++ {
		x := make([]float64, pts)
		y := make([]float64, pts)
		z := make([]float64, pts)
		for j := 0; j < pts; j++ {
			if p.FastAxis == AxisX {
				x[j] = fastVec[j]
				y[j] = slowVec[l]
			} else {
				x[j] = slowVec[l]
				y[j] = fastVec[j]
			}
			z[j] = p.Plane.Eval(x[j], y[j]) + p.Height
		}
		g.X[l], g.Y[l], g.Z[l] = x, y, z
	}
	return g, nil
}

// ValidateGrid checks every sample of the grid against the scanner
// limits for the given mode, so an unsafe scan is rejected before the
// probe moves at all.
func ValidateGrid(g *Grid, limits Limits, mode TempMode) error {
	for l := 0; l < g.Lines(); l++ {
		for a := 0; a < NumAxes; a++ {
			for _, v := range g.Axis(Axis(a))[l] {
				if err := limits.Validate(Axis(a), mode, v); err != nil {
					return fmt.Errorf("scan grid line %d: %w", l, err)
				}
			}
		}
	}
	return nil
}
