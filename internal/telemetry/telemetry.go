// Package telemetry defines the JSON records published over MQTT by the
// scan and touchdown drivers and consumed by the monitor and display.
package telemetry

// Position is a scanner position snapshot.
type Position struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Time string  `json:"time,omitempty"`
}

// LineRecord carries one acquired raster line: the per-channel sample
// arrays in acquisition order.
type LineRecord struct {
	Line    int                  `json:"line"`
	Lines   int                  `json:"lines"`
	Reverse bool                 `json:"reverse"`
	Data    map[string][]float64 `json:"data"`
	Time    string               `json:"time,omitempty"`
}

// TouchdownPoint is one step of a touchdown sweep.
type TouchdownPoint struct {
	Step   int     `json:"step"`
	Height float64 `json:"height"`
	Signal float64 `json:"signal"`
}

// Verdict is the terminal outcome of a touchdown sweep. Height and the
// slopes are only meaningful when Occurred is set.
type Verdict struct {
	Outcome   string  `json:"outcome"`
	Occurred  bool    `json:"occurred"`
	Height    float64 `json:"height,omitempty"`
	PreSlope  float64 `json:"pre_slope,omitempty"`
	PostSlope float64 `json:"post_slope,omitempty"`
	Time      string  `json:"time,omitempty"`
}
