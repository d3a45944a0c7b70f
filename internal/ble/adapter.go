// Package ble provides the BLE central for communicating with a Hyena
// e-bike drive unit. It handles adapter access, device discovery, and
// telemetry notification subscriptions over Bluetooth Low Energy.
package ble

import "context"

// Hyena drive unit GATT UUIDs.
const (
	ServiceUUID       = "48592800-6879-656e-6174-656b2e485550"
	TelemetryCharUUID = "48590001-6879-656e-6174-656b2e485550"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notifications previously enabled by Subscribe.
	Unsubscribe() error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals whose advertised name starts with
	// namePrefix; an empty prefix matches every named peripheral.
	// Returns discovered devices until ctx is cancelled or times out.
	Scan(ctx context.Context, namePrefix string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	// On Linux this is the MAC address; on macOS it is the CoreBluetooth
	// device UUID.
	Connect(ctx context.Context, address string) (Connection, error)
}
