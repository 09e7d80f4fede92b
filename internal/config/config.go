package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all microscope configuration values.
type Config struct {
	// Temperature mode: "LT" or "RT". Selects scanner voltage limits and
	// the retract voltage.
	TempMode string

	// Scanner voltage limits per axis and temperature mode, volts.
	ScannerXMinLT, ScannerXMaxLT float64
	ScannerYMinLT, ScannerYMaxLT float64
	ScannerZMinLT, ScannerZMaxLT float64
	ScannerXMinRT, ScannerXMaxRT float64
	ScannerYMinRT, ScannerYMaxRT float64
	ScannerZMinRT, ScannerZMaxRT float64

	// Retract voltage per temperature mode, volts.
	RetractLT float64
	RetractRT float64

	// Maximum (and default) scanner speed, V/s.
	ScannerSpeed float64

	// DAQ
	DAQRate      float64 // sample rate, Hz
	DAQSPIDevice string  // SPI port for the DAC
	DAQI2CBus    string  // I2C bus for the ADC
	DAQAOX       int     // analog output channel per axis
	DAQAOY       int
	DAQAOZ       int
	DAQAIX       int // analog input channel per axis (position readback)
	DAQAIY       int
	DAQAIZ       int
	DAQAICap     int // analog input channel for the capacitance signal

	// Scan
	ScanFastAxis   string // "x" or "y"
	ScanCenterX    float64
	ScanCenterY    float64
	ScanSizeX      float64
	ScanSizeY      float64
	ScanPixelsX    int
	ScanPixelsY    int
	ScanRate       float64 // pixels per second along the fast axis
	ScanHeight     float64 // height offset from the fitted plane, V
	ScanSerpentine bool    // alternate line direction

	// Fitted sample plane z = PLANE_X*x + PLANE_Y*y + PLANE_OFFSET.
	PlaneX         float64
	PlaneY         float64
	PlaneOffset    float64
	PlaneIsCurrent bool

	// Touchdown sweep and detection constants.
	TDStart         float64 // sweep start height, V
	TDEnd           float64 // sweep end height, V
	TDStepV         float64 // height step per sample, V
	TDInitialSignal float64 // balanced signal level before the sweep
	TDMaxDelta      float64 // abort if the signal drifts further than this
	TDSaturation    float64 // abort if |signal/prefactor| exceeds this, V
	TDMaxSlope      float64 // maximum pre-contact slope magnitude
	TDMinSlopeDelta float64 // slope change that declares a touchdown
	TDWindow        int     // changepoint search window, samples
	TDFitMin        int     // minimum samples per fitted sub-segment
	TDFitMax        int     // maximum split offset, 0 = unbounded
	TDWaitFactor    float64 // settle delay in lock-in time constants

	// MQTT
	MQTTBroker            string
	MQTTClientIDScan      string
	MQTTClientIDTouchdown string
	MQTTClientIDMonitor   string
	MQTTClientIDDisplay   string

	// Topics
	TopicPosition  string
	TopicScanLine  string
	TopicTouchdown string
	TopicVerdict   string

	// Serial instruments
	AttoSerialPort string
	AttoBaudRate   int
	// Maximum coarse-positioner stepping voltage per temperature mode, V.
	AttoVoltageLimitLT float64
	AttoVoltageLimitRT float64
	CapLockinPort      string
	SuscLockinPort     string
	LockinBaudRate     int

	// Web monitor
	WebServerPort int

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern: external code
// must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{}
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	case "TEMP_MODE":
		v := strings.ToUpper(value)
		if v != "LT" && v != "RT" {
			return fmt.Errorf(`TEMP_MODE must be "LT" or "RT", got %q`, value)
		}
		c.TempMode = v

	// Scanner voltage limits
	case "SCANNER_X_MIN_LT":
		c.ScannerXMinLT, err = parseFloat(key, value)
	case "SCANNER_X_MAX_LT":
		c.ScannerXMaxLT, err = parseFloat(key, value)
	case "SCANNER_Y_MIN_LT":
		c.ScannerYMinLT, err = parseFloat(key, value)
	case "SCANNER_Y_MAX_LT":
		c.ScannerYMaxLT, err = parseFloat(key, value)
	case "SCANNER_Z_MIN_LT":
		c.ScannerZMinLT, err = parseFloat(key, value)
	case "SCANNER_Z_MAX_LT":
		c.ScannerZMaxLT, err = parseFloat(key, value)
	case "SCANNER_X_MIN_RT":
		c.ScannerXMinRT, err = parseFloat(key, value)
	case "SCANNER_X_MAX_RT":
		c.ScannerXMaxRT, err = parseFloat(key, value)
	case "SCANNER_Y_MIN_RT":
		c.ScannerYMinRT, err = parseFloat(key, value)
	case "SCANNER_Y_MAX_RT":
		c.ScannerYMaxRT, err = parseFloat(key, value)
	case "SCANNER_Z_MIN_RT":
		c.ScannerZMinRT, err = parseFloat(key, value)
	case "SCANNER_Z_MAX_RT":
		c.ScannerZMaxRT, err = parseFloat(key, value)

	case "SCANNER_RETRACT_LT":
		c.RetractLT, err = parseFloat(key, value)
	case "SCANNER_RETRACT_RT":
		c.RetractRT, err = parseFloat(key, value)
	case "SCANNER_SPEED":
		c.ScannerSpeed, err = parseFloat(key, value)

	// DAQ
	case "DAQ_RATE":
		c.DAQRate, err = parseFloat(key, value)
	case "DAQ_SPI_DEVICE":
		c.DAQSPIDevice = value
	case "DAQ_I2C_BUS":
		c.DAQI2CBus = value
	case "DAQ_AO_X":
		c.DAQAOX, err = parseInt(key, value)
	case "DAQ_AO_Y":
		c.DAQAOY, err = parseInt(key, value)
	case "DAQ_AO_Z":
		c.DAQAOZ, err = parseInt(key, value)
	case "DAQ_AI_X":
		c.DAQAIX, err = parseInt(key, value)
	case "DAQ_AI_Y":
		c.DAQAIY, err = parseInt(key, value)
	case "DAQ_AI_Z":
		c.DAQAIZ, err = parseInt(key, value)
	case "DAQ_AI_CAP":
		c.DAQAICap, err = parseInt(key, value)

	// Scan
	case "SCAN_FAST_AXIS":
		v := strings.ToLower(value)
		if v != "x" && v != "y" {
			return fmt.Errorf(`SCAN_FAST_AXIS must be "x" or "y", got %q`, value)
		}
		c.ScanFastAxis = v
	case "SCAN_CENTER_X":
		c.ScanCenterX, err = parseFloat(key, value)
	case "SCAN_CENTER_Y":
		c.ScanCenterY, err = parseFloat(key, value)
	case "SCAN_SIZE_X":
		c.ScanSizeX, err = parseFloat(key, value)
	case "SCAN_SIZE_Y":
		c.ScanSizeY, err = parseFloat(key, value)
	case "SCAN_PIXELS_X":
		c.ScanPixelsX, err = parseInt(key, value)
	case "SCAN_PIXELS_Y":
		c.ScanPixelsY, err = parseInt(key, value)
	case "SCAN_RATE":
		c.ScanRate, err = parseFloat(key, value)
	case "SCAN_HEIGHT":
		c.ScanHeight, err = parseFloat(key, value)
	case "SCAN_SERPENTINE":
		c.ScanSerpentine, err = parseBool(key, value)

	// Plane
	case "PLANE_X":
		c.PlaneX, err = parseFloat(key, value)
	case "PLANE_Y":
		c.PlaneY, err = parseFloat(key, value)
	case "PLANE_OFFSET":
		c.PlaneOffset, err = parseFloat(key, value)
	case "PLANE_IS_CURRENT":
		c.PlaneIsCurrent, err = parseBool(key, value)

	// Touchdown
	case "TD_START":
		c.TDStart, err = parseFloat(key, value)
	case "TD_END":
		c.TDEnd, err = parseFloat(key, value)
	case "TD_STEP_V":
		c.TDStepV, err = parseFloat(key, value)
	case "TD_INITIAL_SIGNAL":
		c.TDInitialSignal, err = parseFloat(key, value)
	case "TD_MAX_DELTA":
		c.TDMaxDelta, err = parseFloat(key, value)
	case "TD_SATURATION":
		c.TDSaturation, err = parseFloat(key, value)
	case "TD_MAX_SLOPE":
		c.TDMaxSlope, err = parseFloat(key, value)
	case "TD_MIN_SLOPE_DELTA":
		c.TDMinSlopeDelta, err = parseFloat(key, value)
	case "TD_WINDOW":
		c.TDWindow, err = parseInt(key, value)
	case "TD_FIT_MIN":
		c.TDFitMin, err = parseInt(key, value)
	case "TD_FIT_MAX":
		c.TDFitMax, err = parseInt(key, value)
	case "TD_WAIT_FACTOR":
		c.TDWaitFactor, err = parseFloat(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_SCAN":
		c.MQTTClientIDScan = value
	case "MQTT_CLIENT_ID_TOUCHDOWN":
		c.MQTTClientIDTouchdown = value
	case "MQTT_CLIENT_ID_MONITOR":
		c.MQTTClientIDMonitor = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_POSITION":
		c.TopicPosition = value
	case "TOPIC_SCAN_LINE":
		c.TopicScanLine = value
	case "TOPIC_TOUCHDOWN":
		c.TopicTouchdown = value
	case "TOPIC_VERDICT":
		c.TopicVerdict = value

	// Serial instruments
	case "ATTO_SERIAL_PORT":
		c.AttoSerialPort = value
	case "ATTO_BAUD_RATE":
		c.AttoBaudRate, err = parseInt(key, value)
	case "ATTO_VOLTAGE_LIMIT_LT":
		c.AttoVoltageLimitLT, err = parseFloat(key, value)
	case "ATTO_VOLTAGE_LIMIT_RT":
		c.AttoVoltageLimitRT, err = parseFloat(key, value)
	case "CAP_LOCKIN_SERIAL_PORT":
		c.CapLockinPort = value
	case "SUSC_LOCKIN_SERIAL_PORT":
		c.SuscLockinPort = value
	case "LOCKIN_BAUD_RATE":
		c.LockinBaudRate, err = parseInt(key, value)

	// Web monitor
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, aerr := strconv.ParseUint(value, 0, 16)
		if aerr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, aerr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set and sane. Per-axis
// limit ordering is checked again when the scanner limit table is built.
func (c *Config) validate() error {
	if c.TempMode == "" {
		return fmt.Errorf("TEMP_MODE is required")
	}
	if c.ScannerSpeed <= 0 {
		return fmt.Errorf("SCANNER_SPEED must be positive")
	}
	if c.DAQRate <= 0 {
		return fmt.Errorf("DAQ_RATE must be positive")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TDWindow != 0 && c.TDFitMin != 0 && 2*c.TDFitMin >= c.TDWindow {
		return fmt.Errorf("TD_WINDOW must exceed twice TD_FIT_MIN")
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Uses
// sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be
// called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
