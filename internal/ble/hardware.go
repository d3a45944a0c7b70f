package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// HostAdapter wraps tinygo-org/bluetooth around the host's default radio.
// On Linux device addresses are MAC addresses; on macOS, CoreBluetooth
// assigns each peripheral a UUID and that UUID string is used wherever an
// address is expected.
type HostAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*hostConnection // keyed by canonical address string
}

// NewHostAdapter creates a BLE adapter backed by the default host radio.
func NewHostAdapter() *HostAdapter {
	return &HostAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*hostConnection),
	}
}

func (a *HostAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// Register the adapter-level connect/disconnect handler. The stack
	// fires this callback (with connected=false) when a peripheral drops,
	// and we route it to the affected connection's OnDisconnect callback.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			conn.dropped()
		}
	})

	return nil
}

func (a *HostAdapter) Scan(ctx context.Context, namePrefix string) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" || !strings.HasPrefix(name, namePrefix) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    name,
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *HostAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	// Address.Set parses a MAC string on Linux and a device UUID on macOS.
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// Context cancelled. The underlying Connect will eventually time out
		// or succeed. We can't cancel it from here, but we return immediately.
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &hostConnection{device: result.device}

		// Track this connection under the stack's canonical address form
		// so the adapter-level disconnect handler can find it and fire
		// its OnDisconnect callback.
		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that HostAdapter implements Adapter.
var _ Adapter = (*HostAdapter)(nil)

type hostConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *hostConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &hostCharacteristic{char: chars[0]}, nil
}

func (c *hostConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *hostConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

// dropped fires the registered OnDisconnect callback, if any.
func (c *hostConnection) dropped() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type hostCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *hostCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}

func (c *hostCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
