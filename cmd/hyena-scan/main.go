// Command hyena-scan discovers Hyena e-bikes over BLE and prints their
// addresses. Put the address in the hyena-bridge config file.
//
// Usage:
//
//	go run ./cmd/hyena-scan [--timeout 10s] [--all]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/hyena-bridge/internal/ble"
	"github.com/chaz8081/hyena-bridge/internal/ebike"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "how long to scan")
	prefix := flag.String("prefix", ebike.DeviceNamePrefix, "advertised name prefix to match")
	all := flag.Bool("all", false, "list every advertising device, not just bikes")
	flag.Parse()

	match := *prefix
	if *all {
		match = ""
	}

	if match == "" {
		fmt.Printf("Scanning all BLE devices for %s...\n", *timeout)
	} else {
		fmt.Printf("Scanning for bikes advertising %q for %s...\n", match, *timeout)
	}

	devices, err := ble.ScanForBikes(ble.NewHostAdapter(), match, *timeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found. Wake the bike's display and try again.")
		return
	}

	fmt.Printf("\nFound %d device(s):\n", len(devices))
	for _, d := range devices {
		fmt.Printf("  %-20s %s (RSSI %d)\n", d.Name, d.Address, d.RSSI)
	}
	fmt.Println("\nSet device.address in the config to the address above.")
}
