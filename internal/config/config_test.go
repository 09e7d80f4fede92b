package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "microscope_config.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `# microscope test configuration
TEMP_MODE=LT

SCANNER_X_MIN_LT=-10
SCANNER_X_MAX_LT=10
SCANNER_Y_MIN_LT=-10
SCANNER_Y_MAX_LT=10
SCANNER_Z_MIN_LT=-10
SCANNER_Z_MAX_LT=10
SCANNER_X_MIN_RT=-2
SCANNER_X_MAX_RT=2
SCANNER_Y_MIN_RT=-2
SCANNER_Y_MAX_RT=2
SCANNER_Z_MIN_RT=-2
SCANNER_Z_MAX_RT=2

SCANNER_RETRACT_LT=-8
SCANNER_RETRACT_RT=-1.5
SCANNER_SPEED=2

DAQ_RATE=100
DAQ_SPI_DEVICE=/dev/spidev0.0
DAQ_I2C_BUS=1
DAQ_AO_X=0
DAQ_AO_Y=1
DAQ_AO_Z=2
DAQ_AI_X=0
DAQ_AI_Y=1
DAQ_AI_Z=2
DAQ_AI_CAP=3

SCAN_FAST_AXIS=x
SCAN_SIZE_X=4
SCAN_SIZE_Y=4
SCAN_PIXELS_X=64
SCAN_PIXELS_Y=64
SCAN_RATE=2
SCAN_HEIGHT=0.05
SCAN_SERPENTINE=true

PLANE_X=0.01
PLANE_Y=-0.02
PLANE_OFFSET=1.5
PLANE_IS_CURRENT=true

TD_START=0
TD_END=8
TD_STEP_V=0.05
TD_INITIAL_SIGNAL=1.0
TD_MAX_DELTA=0.5
TD_SATURATION=9.5
TD_MAX_SLOPE=0.1
TD_MIN_SLOPE_DELTA=0.05
TD_WINDOW=60
TD_FIT_MIN=10
TD_WAIT_FACTOR=3

MQTT_BROKER=tcp://localhost:1883
MQTT_CLIENT_ID_SCAN=squid-scan
TOPIC_POSITION=squid/position
TOPIC_SCAN_LINE=squid/scan/line

ATTO_SERIAL_PORT=/dev/ttyUSB0
ATTO_BAUD_RATE=38400
ATTO_VOLTAGE_LIMIT_LT=55
ATTO_VOLTAGE_LIMIT_RT=30
CAP_LOCKIN_SERIAL_PORT=/dev/ttyUSB1
LOCKIN_BAUD_RATE=9600

WEB_SERVER_PORT=8080
DISPLAY_I2C_ADDR=0x3C
DISPLAY_UPDATE_INTERVAL=200
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TempMode != "LT" {
		t.Errorf("TempMode = %q, want LT", cfg.TempMode)
	}
	if cfg.ScannerXMinLT != -10 || cfg.ScannerZMaxRT != 2 {
		t.Errorf("limits = [%g %g], want [-10 2]", cfg.ScannerXMinLT, cfg.ScannerZMaxRT)
	}
	if cfg.RetractRT != -1.5 {
		t.Errorf("RetractRT = %g, want -1.5", cfg.RetractRT)
	}
	if cfg.DAQRate != 100 || cfg.DAQAICap != 3 {
		t.Errorf("DAQ = rate %g cap %d, want 100 / 3", cfg.DAQRate, cfg.DAQAICap)
	}
	if !cfg.ScanSerpentine || cfg.ScanPixelsX != 64 {
		t.Errorf("scan = serpentine %v pixels %d, want true / 64", cfg.ScanSerpentine, cfg.ScanPixelsX)
	}
	if !cfg.PlaneIsCurrent || cfg.PlaneOffset != 1.5 {
		t.Errorf("plane = current %v offset %g", cfg.PlaneIsCurrent, cfg.PlaneOffset)
	}
	if cfg.TDWindow != 60 || cfg.TDFitMin != 10 || cfg.TDStepV != 0.05 {
		t.Errorf("touchdown = window %d fitmin %d step %g", cfg.TDWindow, cfg.TDFitMin, cfg.TDStepV)
	}
	if cfg.MQTTBroker != "tcp://localhost:1883" {
		t.Errorf("MQTTBroker = %q", cfg.MQTTBroker)
	}
	if cfg.DisplayI2CAddr != 0x3C {
		t.Errorf("DisplayI2CAddr = %#x, want 0x3c", cfg.DisplayI2CAddr)
	}
	if cfg.AttoVoltageLimitLT != 55 || cfg.AttoVoltageLimitRT != 30 {
		t.Errorf("atto limits = [%g %g], want [55 30]", cfg.AttoVoltageLimitLT, cfg.AttoVoltageLimitRT)
	}
}

func TestLoadLowercaseTempMode(t *testing.T) {
	cfg, err := Load(writeConfig(t, strings.Replace(validConfig, "TEMP_MODE=LT", "TEMP_MODE=rt", 1)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TempMode != "RT" {
		t.Errorf("TempMode = %q, want RT", cfg.TempMode)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(string) string
	}{
		{"unknown key", func(s string) string { return s + "NO_SUCH_KEY=1\n" }},
		{"bad float", func(s string) string {
			return strings.Replace(s, "SCANNER_SPEED=2", "SCANNER_SPEED=fast", 1)
		}},
		{"bad temp mode", func(s string) string {
			return strings.Replace(s, "TEMP_MODE=LT", "TEMP_MODE=warm", 1)
		}},
		{"missing temp mode", func(s string) string {
			return strings.Replace(s, "TEMP_MODE=LT", "", 1)
		}},
		{"missing broker", func(s string) string {
			return strings.Replace(s, "MQTT_BROKER=tcp://localhost:1883", "", 1)
		}},
		{"zero speed", func(s string) string {
			return strings.Replace(s, "SCANNER_SPEED=2", "SCANNER_SPEED=0", 1)
		}},
		{"window too small for fit", func(s string) string {
			return strings.Replace(s, "TD_WINDOW=60", "TD_WINDOW=15", 1)
		}},
		{"malformed line", func(s string) string { return s + "JUST_A_KEY\n" }},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.mutate(validConfig))); err == nil {
			t.Errorf("%s: Load accepted a bad config", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	content := "# leading comment\n\n" + validConfig + "\n# trailing comment\n\n"
	if _, err := Load(writeConfig(t, content)); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
