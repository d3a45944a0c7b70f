// Package hass publishes bike telemetry to Home Assistant over MQTT,
// using retained discovery topics so sensors appear without any YAML on
// the Home Assistant side.
package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaz8081/hyena-bridge/internal/ebike"
	"github.com/chaz8081/hyena-bridge/internal/telemetry"
)

// newClientFunc creates the paho client; tests substitute a mock.
var newClientFunc = mqtt.NewClient

// tokenTimeout bounds every broker operation so a dead broker cannot
// wedge shutdown.
const tokenTimeout = 10 * time.Second

// Options holds broker and topic settings.
type Options struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string // e.g. "hyena"
	DiscoveryPrefix string // e.g. "homeassistant"
}

// Publisher maintains the broker session and mirrors every telemetry
// update into a retained state topic. Discovery and availability are
// re-announced on every (re)connect so a broker restart heals itself.
type Publisher struct {
	device ebike.DeviceInfo
	bus    *telemetry.Bus
	opts   Options

	node         string // topic-safe device id derived from the address
	stateTopic   string
	availability string

	client  mqtt.Client
	updates <-chan telemetry.Update
	unsub   func()
	done    chan struct{}

	closeOnce sync.Once
}

// NewPublisher prepares a publisher for the given bike. Call Start to
// connect.
func NewPublisher(device ebike.DeviceInfo, bus *telemetry.Bus, opts Options) *Publisher {
	node := nodeID(device.Address)
	return &Publisher{
		device:       device,
		bus:          bus,
		opts:         opts,
		node:         node,
		stateTopic:   fmt.Sprintf("%s/%s/state", opts.TopicPrefix, node),
		availability: fmt.Sprintf("%s/%s/availability", opts.TopicPrefix, node),
		done:         make(chan struct{}),
	}
}

// Start connects to the broker and begins mirroring telemetry updates.
func (p *Publisher) Start() error {
	mqtt.CRITICAL = pahoLogger{slog.LevelError}
	mqtt.ERROR = pahoLogger{slog.LevelError}
	mqtt.WARN = pahoLogger{slog.LevelWarn}

	p.client = newClientFunc(p.clientOptions())

	if err := p.tokenWait(p.client.Connect(), "connect"); err != nil {
		return fmt.Errorf("hass: connect to broker: %w", err)
	}

	p.updates, p.unsub = p.bus.Subscribe()
	go p.loop()

	slog.Info("[MQTT] publishing to broker", "broker", p.opts.Broker, "state_topic", p.stateTopic)
	return nil
}

// Close announces the bridge offline and disconnects. Idempotent.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.client == nil {
			return
		}
		p.tokenWait(p.client.Publish(p.availability, 1, true, []byte("offline")), "publish offline")
		if p.unsub != nil {
			p.unsub()
			<-p.done
		}
		p.client.Disconnect(250)
	})
}

func (p *Publisher) clientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(p.opts.Broker).
		SetClientID(p.opts.ClientID).
		SetUsername(p.opts.Username).
		SetPassword(p.opts.Password).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOrderMatters(false).
		SetWill(p.availability, "offline", 1, true).
		SetOnConnectHandler(p.announce)
}

// announce publishes the retained discovery configs and marks the bridge
// online. Runs on every (re)connect: the broker's last-will has flipped
// availability to offline by then, and a fresh broker may have lost the
// discovery topics entirely.
func (p *Publisher) announce(client mqtt.Client) {
	for _, d := range telemetry.Descriptors {
		topic := fmt.Sprintf("%s/sensor/%s/%s/config", p.opts.DiscoveryPrefix, p.node, d.Key)
		payload, err := json.Marshal(p.discoveryConfig(d))
		if err != nil {
			slog.Error("[MQTT] marshal discovery config", "metric", d.Key, "error", err)
			continue
		}
		p.tokenWait(client.Publish(topic, 1, true, payload), "publish discovery")
	}
	p.tokenWait(client.Publish(p.availability, 1, true, []byte("online")), "publish online")
}

func (p *Publisher) loop() {
	defer close(p.done)
	for u := range p.updates {
		payload, err := json.Marshal(u.State)
		if err != nil {
			slog.Error("[MQTT] marshal state", "error", err)
			continue
		}
		p.tokenWait(p.client.Publish(p.stateTopic, 1, true, payload), "publish state")
	}
}

func (p *Publisher) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(tokenTimeout) {
		slog.Warn("[MQTT] " + tag + " timed out")
		return fmt.Errorf("hass: %s timed out", tag)
	}
	if err := t.Error(); err != nil {
		slog.Error("[MQTT] "+tag+" failed", "error", err)
		return err
	}
	return nil
}

// discoveryDevice groups all sensors under one Home Assistant device.
type discoveryDevice struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
}

type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	Unit              string          `json:"unit_of_measurement,omitempty"`
	ValueTemplate     string          `json:"value_template"`
	EntityCategory    string          `json:"entity_category,omitempty"`
	Device            discoveryDevice `json:"device"`
}

func (p *Publisher) discoveryConfig(d telemetry.Descriptor) discoveryConfig {
	cfg := discoveryConfig{
		Name:              d.Name,
		UniqueID:          fmt.Sprintf("hyena_%s_%s", p.node, d.Key),
		StateTopic:        p.stateTopic,
		AvailabilityTopic: p.availability,
		DeviceClass:       d.DeviceClass,
		StateClass:        d.StateClass,
		Unit:              d.Unit,
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", d.Key),
		Device: discoveryDevice{
			Identifiers:  []string{"hyena_" + p.node},
			Connections:  [][2]string{{"bluetooth", p.device.Address}},
			Name:         "Hyena E-Bike",
			Manufacturer: p.device.Manufacturer,
			Model:        p.device.Model,
		},
	}
	if d.Diagnostic {
		cfg.EntityCategory = "diagnostic"
	}
	return cfg
}

// nodeID turns a device address into a topic- and entity-safe id:
// "AA:BB:CC:DD:EE:FF" becomes "aabbccddeeff".
func nodeID(address string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(address) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// pahoLogger adapts the paho library's logger hooks to slog.
type pahoLogger struct{ level slog.Level }

func (l pahoLogger) Println(v ...interface{}) {
	slog.Log(context.Background(), l.level, "[MQTT] "+fmt.Sprint(v...))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	slog.Log(context.Background(), l.level, "[MQTT] "+fmt.Sprintf(format, v...))
}
