package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/hyena-bridge/internal/ble"
	"github.com/chaz8081/hyena-bridge/internal/config"
	"github.com/chaz8081/hyena-bridge/internal/ebike"
	"github.com/chaz8081/hyena-bridge/internal/gateway"
	"github.com/chaz8081/hyena-bridge/internal/hass"
	"github.com/chaz8081/hyena-bridge/internal/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/hyena-bridge/config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write a default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("write config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Wrote default config to %s", path)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	// Telemetry state and fan-out
	store := telemetry.NewStore()
	bus := telemetry.NewBus()

	// BLE monitor
	monitor := ebike.New(ble.NewHostAdapter(), store, bus, ebike.Options{
		Address:        cfg.Device.Address,
		ConnectTimeout: time.Duration(cfg.Device.ConnectTimeoutSec) * time.Second,
		IdleTimeout:    time.Duration(cfg.Device.IdleTimeoutSec) * time.Second,
		PollInterval:   time.Duration(cfg.Device.PollIntervalSec) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("Failed to start BLE monitor: %v\n\nCheck that the Bluetooth adapter is powered on.", err)
	}
	log.Printf("Monitoring %s (%s %s)", cfg.Device.Address, ebike.Manufacturer, ebike.Model)

	// MQTT publisher for Home Assistant
	var publisher *hass.Publisher
	if cfg.MQTT.Enabled {
		publisher = hass.NewPublisher(monitor.DeviceInfo(), bus, hass.Options{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		})
		if err := publisher.Start(); err != nil {
			monitor.Shutdown()
			log.Fatalf("Failed to start MQTT publisher: %v\n\nCheck mqtt.broker in the config, or set mqtt.enabled: false.", err)
		}
		log.Printf("MQTT publisher ready (%s)", cfg.MQTT.Broker)
	}

	// HTTP gateway
	gwErr := make(chan error, 1)
	if cfg.Gateway.Enabled {
		gw := gateway.New(cfg.Gateway.Listen, monitor, bus)
		go func() { gwErr <- gw.Start(ctx) }()
	}

	if !cfg.MQTT.Enabled && !cfg.Gateway.Enabled {
		log.Println("WARNING: mqtt and gateway are both disabled, telemetry will only appear in logs")
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down...", sig)
	case err := <-gwErr:
		if err != nil {
			log.Printf("ERROR: gateway stopped: %v", err)
		}
	}

	cancel()
	if publisher != nil {
		publisher.Close()
	}
	monitor.Shutdown()
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	mqtt := "disabled"
	if cfg.MQTT.Enabled {
		mqtt = cfg.MQTT.Broker
	}
	gw := "disabled"
	if cfg.Gateway.Enabled {
		gw = cfg.Gateway.Listen
	}

	fmt.Println("=== hyena-bridge ===")
	fmt.Printf("  Device:  %s\n", cfg.Device.Address)
	fmt.Printf("  Idle:    disconnect after %ds without data\n", cfg.Device.IdleTimeoutSec)
	fmt.Printf("  Poll:    every %ds\n", cfg.Device.PollIntervalSec)
	fmt.Printf("  MQTT:    %s\n", mqtt)
	fmt.Printf("  Gateway: %s\n", gw)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
