package app

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/daq"
	"github.com/relabs-tech/squid_scanner/internal/scanner"
)

// buildLimits assembles the scanner voltage limit table from the flat
// config keys.
func buildLimits(cfg *config.Config) (scanner.Limits, error) {
	var ranges [scanner.NumModes][scanner.NumAxes]scanner.Range
	ranges[scanner.ModeLT][scanner.AxisX] = scanner.Range{Min: cfg.ScannerXMinLT, Max: cfg.ScannerXMaxLT}
	ranges[scanner.ModeLT][scanner.AxisY] = scanner.Range{Min: cfg.ScannerYMinLT, Max: cfg.ScannerYMaxLT}
	ranges[scanner.ModeLT][scanner.AxisZ] = scanner.Range{Min: cfg.ScannerZMinLT, Max: cfg.ScannerZMaxLT}
	ranges[scanner.ModeRT][scanner.AxisX] = scanner.Range{Min: cfg.ScannerXMinRT, Max: cfg.ScannerXMaxRT}
	ranges[scanner.ModeRT][scanner.AxisY] = scanner.Range{Min: cfg.ScannerYMinRT, Max: cfg.ScannerYMaxRT}
	ranges[scanner.ModeRT][scanner.AxisZ] = scanner.Range{Min: cfg.ScannerZMinRT, Max: cfg.ScannerZMaxRT}
	return scanner.NewLimits(ranges)
}

func aoMap(cfg *config.Config) scanner.ChannelMap {
	return scanner.ChannelMap{cfg.DAQAOX, cfg.DAQAOY, cfg.DAQAOZ}
}

func aiMap(cfg *config.Config) scanner.ChannelMap {
	return scanner.ChannelMap{cfg.DAQAIX, cfg.DAQAIY, cfg.DAQAIZ}
}

// buildScanner wires a position controller from the configuration and a
// device.
func buildScanner(cfg *config.Config, dev daq.Device) (*scanner.Scanner, error) {
	limits, err := buildLimits(cfg)
	if err != nil {
		return nil, err
	}
	mode, err := scanner.ParseTempMode(cfg.TempMode)
	if err != nil {
		return nil, err
	}
	return scanner.New(dev, scanner.Config{
		Limits:   limits,
		Mode:     mode,
		RetractV: [scanner.NumModes]float64{scanner.ModeLT: cfg.RetractLT, scanner.ModeRT: cfg.RetractRT},
		Speed:    cfg.ScannerSpeed,
		Rate:     cfg.DAQRate,
		AO:       aoMap(cfg),
		AI:       aiMap(cfg),
	})
}

// openDevice opens the hardware DAQ with every input channel the apps
// read: the three position mirrors and the capacitance signal.
func openDevice(cfg *config.Config) (daq.Device, error) {
	return daq.OpenHardware(cfg.DAQSPIDevice, cfg.DAQI2CBus,
		[]int{cfg.DAQAIX, cfg.DAQAIY, cfg.DAQAIZ, cfg.DAQAICap})
}

// scanParams assembles the raster-scan parameters from the config.
func scanParams(cfg *config.Config) (scanner.ScanParams, error) {
	fast, err := scanner.ParseAxis(cfg.ScanFastAxis)
	if err != nil {
		return scanner.ScanParams{}, fmt.Errorf("scan fast axis: %w", err)
	}
	return scanner.ScanParams{
		FastAxis: fast,
		CenterX:  cfg.ScanCenterX,
		CenterY:  cfg.ScanCenterY,
		SizeX:    cfg.ScanSizeX,
		SizeY:    cfg.ScanSizeY,
		PixelsX:  cfg.ScanPixelsX,
		PixelsY:  cfg.ScanPixelsY,
		ScanRate: cfg.ScanRate,
		Height:   cfg.ScanHeight,
		Plane:    scanner.PlaneFit{XCoeff: cfg.PlaneX, YCoeff: cfg.PlaneY, Offset: cfg.PlaneOffset},
	}, nil
}

// connectMQTT connects a client to the configured broker.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect: %w", token.Error())
	}
	log.Printf("connected to MQTT broker at %s", broker)
	return client, nil
}

// publisher returns a fire-and-forget JSON publish function. Publish
// failures are logged, never fatal: telemetry must not break a scan.
func publisher(client mqtt.Client) func(topic string, v any) {
	return func(topic string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Printf("json marshal error (%s): %v", topic, err)
			return
		}
		if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (%s): %v", topic, token.Error())
		}
	}
}
