package ble

import (
	"context"
	"fmt"
	"time"
)

// ScanForBikes scans for peripherals whose advertised name starts with
// namePrefix, for up to timeout. Used by the scan CLI and by setup flows
// where the operator has a bike nearby but no address yet.
func ScanForBikes(adapter Adapter, namePrefix string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, namePrefix)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}
