package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// mockCharacteristic allows subscribing and replaying notifications.
type mockCharacteristic struct {
	mu       sync.Mutex
	callback func([]byte)
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu           sync.Mutex
	telemetry    *mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{telemetry: &mockCharacteristic{}}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if charUUID == TelemetryCharUUID {
		return c.telemetry, nil
	}
	return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	devices   []Device
	enableErr error
	scanErr   error
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{devices: devices}
}

func (a *mockAdapter) Enable() error { return a.enableErr }

func (a *mockAdapter) Scan(_ context.Context, namePrefix string) ([]Device, error) {
	if a.scanErr != nil {
		return nil, a.scanErr
	}
	var out []Device
	for _, d := range a.devices {
		if strings.HasPrefix(d.Name, namePrefix) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	return newMockConnection(), nil
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
