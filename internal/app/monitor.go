package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/squid_scanner/internal/config"
	"github.com/relabs-tech/squid_scanner/internal/telemetry"
)

// monitorState is the latest telemetry from every topic, fed by MQTT and
// served over HTTP and websockets.
type monitorState struct {
	mu sync.RWMutex

	Position     telemetry.Position       `json:"position"`
	HavePosition bool                     `json:"have_position"`
	Line         telemetry.LineRecord     `json:"line"`
	HaveLine     bool                     `json:"have_line"`
	Touchdown    telemetry.TouchdownPoint `json:"touchdown"`
	Verdict      telemetry.Verdict        `json:"verdict"`
	HaveVerdict  bool                     `json:"have_verdict"`
}

func (s *monitorState) snapshot() monitorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return monitorState{
		Position:     s.Position,
		HavePosition: s.HavePosition,
		Line:         s.Line,
		HaveLine:     s.HaveLine,
		Touchdown:    s.Touchdown,
		Verdict:      s.Verdict,
		HaveVerdict:  s.HaveVerdict,
	}
}

// RunMonitor serves the live microscope state over HTTP: a JSON snapshot
// at /api/status, a websocket push feed at /ws, and static files from
// ./web as the root.
func RunMonitor() error {
	cfg := config.Get()
	state := &monitorState{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDMonitor)
	if err != nil {
		return err
	}

	if err := subscribeMonitor(client, cfg, state); err != nil {
		return err
	}

	http.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		snap := state.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Printf("monitor: json encode error: %v", err)
		}
	})

	upgrader := websocket.Upgrader{
		// The monitor page is served from this same process.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("monitor: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("monitor: websocket client connected from %s", r.RemoteAddr)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			snap := state.snapshot()
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("monitor: websocket client %s gone: %v", r.RemoteAddr, err)
				return
			}
		}
	})

	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("monitor: web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}

func subscribeMonitor(client mqtt.Client, cfg *config.Config, state *monitorState) error {
	subscribe := func(topic string, handler mqtt.MessageHandler) error {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("monitor: subscribed to MQTT topic %s", topic)
		return nil
	}

	if err := subscribe(cfg.TopicPosition, func(_ mqtt.Client, msg mqtt.Message) {
		var p telemetry.Position
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("monitor: position unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.Position = p
		state.HavePosition = true
		state.mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicScanLine, func(_ mqtt.Client, msg mqtt.Message) {
		var rec telemetry.LineRecord
		if err := json.Unmarshal(msg.Payload(), &rec); err != nil {
			log.Printf("monitor: scan line unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.Line = rec
		state.HaveLine = true
		state.mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicTouchdown, func(_ mqtt.Client, msg mqtt.Message) {
		var pt telemetry.TouchdownPoint
		if err := json.Unmarshal(msg.Payload(), &pt); err != nil {
			log.Printf("monitor: touchdown unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.Touchdown = pt
		state.mu.Unlock()
	}); err != nil {
		return err
	}

	return subscribe(cfg.TopicVerdict, func(_ mqtt.Client, msg mqtt.Message) {
		var v telemetry.Verdict
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Printf("monitor: verdict unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.Verdict = v
		state.HaveVerdict = true
		state.mu.Unlock()
	})
}
