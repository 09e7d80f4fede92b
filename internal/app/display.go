package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/telemetry"
)

// displayData holds the latest telemetry shown on the bench OLED.
type displayData struct {
	mu sync.RWMutex

	pos     telemetry.Position
	havePos bool

	line     telemetry.LineRecord
	haveLine bool

	verdict     telemetry.Verdict
	haveVerdict bool
}

// RunDisplay drives a small bench OLED with the scanner position, scan
// progress and the last touchdown verdict.
func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DAQI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	disp, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := showSplash(disp); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &displayData{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}

	if err := subscribeDisplay(client, cfg, data); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		data.mu.RLock()
		snapshot := displayData{
			pos:         data.pos,
			havePos:     data.havePos,
			line:        data.line,
			haveLine:    data.haveLine,
			verdict:     data.verdict,
			haveVerdict: data.haveVerdict,
		}
		data.mu.RUnlock()

		if err := updateDisplay(disp, &snapshot); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func subscribeDisplay(client mqtt.Client, cfg *config.Config, data *displayData) error {
	token := client.Subscribe(cfg.TopicPosition, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p telemetry.Position
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("display: position unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.pos = p
		data.havePos = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicPosition)

	token = client.Subscribe(cfg.TopicScanLine, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var rec telemetry.LineRecord
		if err := json.Unmarshal(msg.Payload(), &rec); err != nil {
			log.Printf("display: scan line unmarshal error: %v", err)
			return
		}
		// The sample arrays are not rendered; drop them so the display
		// process does not hold whole lines alive between updates.
		rec.Data = nil
		data.mu.Lock()
		data.line = rec
		data.haveLine = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicScanLine)

	token = client.Subscribe(cfg.TopicVerdict, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v telemetry.Verdict
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Printf("display: verdict unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.verdict = v
		data.haveVerdict = true
		data.mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicVerdict)

	return nil
}

func updateDisplay(dev *ssd1306.Dev, data *displayData) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !data.havePos && !data.haveLine && !data.haveVerdict {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("SQUID Scanner"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return dev.Draw(dev.Bounds(), img, image.Point{})
	}

	if data.havePos {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("X:%7.3f V", data.pos.X)))
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("Y:%7.3f V", data.pos.Y)))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("Z:%7.3f V", data.pos.Z)))
	}

	drawer.Dot = fixed.P(0, 52)
	switch {
	case data.haveLine:
		drawer.DrawBytes([]byte(fmt.Sprintf("Line %d/%d", data.line.Line+1, data.line.Lines)))
	case data.haveVerdict && data.verdict.Occurred:
		drawer.DrawBytes([]byte(fmt.Sprintf("TD @ %.3f V", data.verdict.Height)))
	case data.haveVerdict:
		drawer.DrawBytes([]byte("TD: " + data.verdict.Outcome))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("SQUID Scanner"))

	drawer.Dot = fixed.P(25, 43)
	drawer.DrawBytes([]byte("Relabs"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
