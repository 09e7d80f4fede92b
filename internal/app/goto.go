package app

import (
	"log"
	"time"

	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/scanner"
	"github.com/relabs-tech/squid_scanner/internal/telemetry"
)

// RunGoTo performs a single validated move to target and publishes the
// resulting position. With retractFirst the probe is lifted to the safe
// height before any lateral motion.
func RunGoTo(target scanner.Position, retractFirst bool) error {
	cfg := config.Get()

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}

	sc, err := buildScanner(cfg, dev)
	if err != nil {
		return err
	}

	if err := sc.GoTo(target, scanner.MoveOptions{RetractFirst: retractFirst}); err != nil {
		return err
	}

	pos, err := sc.GetPosition()
	if err != nil {
		return err
	}
	log.Printf("goto: scanner now at %s", pos)

	// Best-effort position broadcast; a standalone move without a broker
	// running is still useful.
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDScan)
	if err != nil {
		log.Printf("goto: position not published: %v", err)
		return nil
	}
	defer client.Disconnect(250)
	publisher(client)(cfg.TopicPosition, telemetry.Position{
		X: pos[scanner.AxisX], Y: pos[scanner.AxisY], Z: pos[scanner.AxisZ],
		Time: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}
