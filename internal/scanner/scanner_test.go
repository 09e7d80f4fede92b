package scanner

import (
	"errors"
	"testing"

	"github.com/relabs-tech/squid_scanner/internal/daq"
)

var (
	testAO = ChannelMap{0, 1, 2}
	testAI = ChannelMap{0, 1, 2}
)

// simScanner wires a Scanner to a SimDevice with the position inputs
// mirroring the outputs, starting at the origin.
func simScanner(t *testing.T, mode TempMode) (*Scanner, *daq.SimDevice) {
	t.Helper()
	dev := daq.NewSimDevice()
	for a := 0; a < NumAxes; a++ {
		dev.Mirror(testAI[a], testAO[a])
	}
	sc, err := New(dev, Config{
		Limits:   testLimits(t),
		Mode:     mode,
		RetractV: [NumModes]float64{ModeLT: -8, ModeRT: -1.5},
		Speed:    10,
		Rate:     100,
		AO:       testAO,
		AI:       testAI,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sc, dev
}

func TestNewRejectsBadConfig(t *testing.T) {
	dev := daq.NewSimDevice()
	lim := testLimits(t)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero speed", Config{Limits: lim, Speed: 0, Rate: 100}},
		{"zero rate", Config{Limits: lim, Speed: 1, Rate: 0}},
		{"retract outside z limits", Config{Limits: lim, Speed: 1, Rate: 100,
			RetractV: [NumModes]float64{ModeLT: -50, ModeRT: 0}}},
	}
	for _, tc := range cases {
		if _, err := New(dev, tc.cfg); err == nil {
			t.Errorf("%s: New accepted bad config", tc.name)
		}
	}
}

func TestGetPositionRoundsToMillivolts(t *testing.T) {
	dev := daq.NewSimDevice()
	dev.SetSignal(func(ch int, _ map[int]float64) float64 { return 1.23456 })
	sc, err := New(dev, Config{
		Limits:   testLimits(t),
		Mode:     ModeLT,
		RetractV: [NumModes]float64{ModeLT: -8, ModeRT: -1.5},
		Speed:    10, Rate: 100, AO: testAO, AI: testAI,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := sc.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	for a := 0; a < NumAxes; a++ {
		if p[a] != 1.235 {
			t.Errorf("axis %s: position %g, want 1.235", Axis(a), p[a])
		}
	}
}

// TestGoToOutOfRangeWritesNothing verifies a rejected move leaves the
// hardware untouched: validation happens before any output task opens.
func TestGoToOutOfRangeWritesNothing(t *testing.T) {
	sc, dev := simScanner(t, ModeRT)

	err := sc.GoTo(Position{5, 0, 0}, MoveOptions{})
	var oor *OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("GoTo = %v, want *OutOfRangeError", err)
	}
	if n := len(dev.Writes()); n != 0 {
		t.Errorf("rejected move produced %d hardware writes, want 0", n)
	}
}

func TestGoToMovesAllAxes(t *testing.T) {
	sc, dev := simScanner(t, ModeLT)

	target := Position{1.5, -2.5, 3}
	if err := sc.GoTo(target, MoveOptions{Quiet: true}); err != nil {
		t.Fatalf("GoTo: %v", err)
	}
	for a := 0; a < NumAxes; a++ {
		if got := dev.Level(testAO[a]); got != target[a] {
			t.Errorf("axis %s: output level %g, want %g", Axis(a), got, target[a])
		}
	}
	p, err := sc.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if p != target {
		t.Errorf("position after move %v, want %v", p, target)
	}
	if n := dev.ActiveTasks(); n != 0 {
		t.Errorf("%d tasks still open after move, want 0", n)
	}
}

// TestGoToRetractFirstStagesMove verifies the staged order: z reaches
// the retract voltage before x or y leave their start, and x/y reach the
// target before z descends.
func TestGoToRetractFirstStagesMove(t *testing.T) {
	sc, dev := simScanner(t, ModeLT)

	start := Position{2, 2, 5}
	if err := sc.GoTo(start, MoveOptions{Quiet: true}); err != nil {
		t.Fatalf("GoTo(start): %v", err)
	}
	before := len(dev.Writes())

	target := Position{-3, -3, 4}
	if err := sc.GoTo(target, MoveOptions{RetractFirst: true, Quiet: true}); err != nil {
		t.Fatalf("GoTo(retract-first): %v", err)
	}

	writes := dev.Writes()[before:]
	if len(writes) != 3 {
		t.Fatalf("retract-first move produced %d ramps, want 3 (retract, lateral, descend)", len(writes))
	}

	retract, lateral, descend := writes[0], writes[1], writes[2]

	// Stage 1: z goes to the retract voltage, x and y hold.
	if got := last(retract[2]); got != -8 {
		t.Errorf("retract stage ends with z = %g, want -8", got)
	}
	if last(retract[0]) != 2 || last(retract[1]) != 2 {
		t.Errorf("retract stage moved x/y to [%g %g], want [2 2]", last(retract[0]), last(retract[1]))
	}

	// Stage 2: x and y move at the safe height; z holds.
	if last(lateral[0]) != -3 || last(lateral[1]) != -3 {
		t.Errorf("lateral stage ends at x=%g y=%g, want -3 -3", last(lateral[0]), last(lateral[1]))
	}
	for i, v := range lateral[2] {
		if v != -8 {
			t.Fatalf("lateral stage sample %d has z = %g, want -8 (held at retract)", i, v)
		}
	}

	// Stage 3: only z descends.
	if last(descend[2]) != 4 {
		t.Errorf("descend stage ends with z = %g, want 4", last(descend[2]))
	}
	for i, v := range descend[0] {
		if v != -3 {
			t.Fatalf("descend stage sample %d has x = %g, want -3 (held)", i, v)
		}
	}
}

func TestRetractHoldsXY(t *testing.T) {
	sc, dev := simScanner(t, ModeRT)

	if err := sc.GoTo(Position{1, -1, 1}, MoveOptions{Quiet: true}); err != nil {
		t.Fatalf("GoTo: %v", err)
	}
	if err := sc.Retract(0); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	if got := dev.Level(testAO[AxisZ]); got != -1.5 {
		t.Errorf("z level after retract %g, want -1.5", got)
	}
	if dev.Level(testAO[AxisX]) != 1 || dev.Level(testAO[AxisY]) != -1 {
		t.Errorf("retract displaced x/y to [%g %g], want [1 -1]",
			dev.Level(testAO[AxisX]), dev.Level(testAO[AxisY]))
	}
}

func TestGoToAxisHoldsOthers(t *testing.T) {
	sc, dev := simScanner(t, ModeLT)

	if err := sc.GoTo(Position{1, 2, 3}, MoveOptions{Quiet: true}); err != nil {
		t.Fatalf("GoTo: %v", err)
	}
	if err := sc.GoToZ(-4); err != nil {
		t.Fatalf("GoToZ: %v", err)
	}
	want := Position{1, 2, -4}
	for a := 0; a < NumAxes; a++ {
		if got := dev.Level(testAO[a]); got != want[a] {
			t.Errorf("axis %s: level %g, want %g", Axis(a), got, want[a])
		}
	}
	if err := sc.GoToAxis(Axis(7), 0); err == nil {
		t.Error("GoToAxis accepted invalid axis")
	}
}

// TestGoToNonPositiveSpeedUsesDefault verifies that a zero or negative
// requested speed falls back to the configured default instead of
// producing a degenerate ramp.
func TestGoToNonPositiveSpeedUsesDefault(t *testing.T) {
	for _, speed := range []float64{0, -1} {
		sc, dev := simScanner(t, ModeLT)
		if err := sc.GoTo(Position{1, 0, 0}, MoveOptions{Speed: speed, Quiet: true}); err != nil {
			t.Fatalf("GoTo with speed %g: %v", speed, err)
		}
		if got := dev.Level(testAO[AxisX]); got != 1 {
			t.Errorf("speed %g: x level = %g, want 1", speed, got)
		}
		writes := dev.Writes()
		if len(writes) != 1 {
			t.Fatalf("speed %g: %d ramps written, want 1", speed, len(writes))
		}
		// Default speed 10 V/s at 100 Hz over 1 V travel: 12 samples.
		if got := len(writes[0][0]); got != 12 {
			t.Errorf("speed %g: ramp has %d samples, want 12 (default speed)", speed, got)
		}
	}
}

// TestGoToClosesTaskOnWriteFailure verifies a failed hardware write does
// not leak an open task.
func TestGoToClosesTaskOnWriteFailure(t *testing.T) {
	sc, dev := simScanner(t, ModeLT)

	dev.FailOn("write")
	if err := sc.GoTo(Position{1, 0, 0}, MoveOptions{Quiet: true}); err == nil {
		t.Fatal("GoTo succeeded despite write failure")
	}
	if n := dev.ActiveTasks(); n != 0 {
		t.Errorf("%d tasks still open after failed move, want 0", n)
	}
}

func last(row []float64) float64 { return row[len(row)-1] }
