package ebike

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/hyena-bridge/internal/ble/protocol"
	"github.com/chaz8081/hyena-bridge/internal/telemetry"
)

func testOptions() Options {
	return Options{
		Address:        "AA:BB:CC:DD:EE:FF",
		ConnectTimeout: time.Second,
		// Long enough that they never fire unless a test shrinks them.
		IdleTimeout:  time.Hour,
		PollInterval: time.Hour,
	}
}

// waitUntil polls cond until it holds or the timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEnsureConnectedSerialized(t *testing.T) {
	adapter := newMockAdapter()
	adapter.connectDelay = 50 * time.Millisecond
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), testOptions())

	// Two concurrent callers while disconnected: the lock must collapse
	// them into a single underlying connect attempt.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureConnected(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: EnsureConnected() error = %v", i, err)
		}
	}
	if got := adapter.connectCount(); got != 1 {
		t.Errorf("connect attempts = %d, want 1", got)
	}
	if !m.Connected() {
		t.Error("monitor should be connected")
	}
}

func TestEnsureConnectedNotReachable(t *testing.T) {
	adapter := newMockAdapter()
	adapter.setConnectErr(errors.New("le-connection-abort-by-local"))
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), testOptions())

	err := m.EnsureConnected(context.Background())
	if !errors.Is(err, ErrNotReachable) {
		t.Errorf("EnsureConnected() error = %v, want ErrNotReachable", err)
	}
	if m.Connected() {
		t.Error("monitor should not be connected after a failed attempt")
	}
}

func TestNotificationsUpdateStoreAndPublish(t *testing.T) {
	adapter := newMockAdapter()
	store := telemetry.NewStore()
	bus := telemetry.NewBus()
	updates, cancel := bus.Subscribe()
	defer cancel()

	m := New(adapter, store, bus, testOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	waitUntil(t, time.Second, m.Connected)

	adapter.latestConnection().telemetry.SimulateNotification([]byte{0x0A, 87})

	select {
	case u := <-updates:
		if u.Metric != protocol.MetricBattery {
			t.Errorf("update metric = %q, want %q", u.Metric, protocol.MetricBattery)
		}
		if u.State.Battery == nil || *u.State.Battery != 87 {
			t.Errorf("update battery = %v, want 87", u.State.Battery)
		}
	case <-time.After(time.Second):
		t.Fatal("no update published for a changed reading")
	}

	if st := m.Data(); st.Battery == nil || *st.Battery != 87 {
		t.Errorf("store battery = %v, want 87", st.Battery)
	}

	// A repeated value, a frame delimiter, and an unhandled tag must all
	// pass without publishing anything.
	conn := adapter.latestConnection()
	conn.telemetry.SimulateNotification([]byte{0x0A, 87})
	conn.telemetry.SimulateNotification([]byte{0xEE, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	conn.telemetry.SimulateNotification([]byte{0x05, 0x01, 0x02, 0x03, 0x04})

	select {
	case u := <-updates:
		t.Errorf("unexpected update published: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnexpectedDisconnectSchedulesReconnect(t *testing.T) {
	adapter := newMockAdapter()
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), testOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	waitUntil(t, time.Second, m.Connected)

	adapter.latestConnection().SimulateDisconnect()

	waitUntil(t, time.Second, func() bool {
		return adapter.connectCount() == 2 && m.Connected()
	})
}

func TestManagerDisconnectDoesNotReconnect(t *testing.T) {
	adapter := newMockAdapter()
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), testOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	waitUntil(t, time.Second, m.Connected)
	conn := adapter.latestConnection()

	m.Disconnect()
	if m.Connected() {
		t.Error("monitor should be disconnected after Disconnect()")
	}
	if !conn.isDisconnected() {
		t.Error("Disconnect() should close the underlying link")
	}

	// The adapter reports the drop afterwards, as real stacks do. That
	// callback is for a link we closed ourselves and must not reconnect.
	conn.SimulateDisconnect()
	time.Sleep(150 * time.Millisecond)

	if got := adapter.connectCount(); got != 1 {
		t.Errorf("connect attempts = %d, want 1 (no reconnect after manager disconnect)", got)
	}
	if m.Connected() {
		t.Error("monitor should stay disconnected")
	}
}

func TestIdleTimeoutReleasesConnection(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOptions()
	opts.IdleTimeout = 60 * time.Millisecond
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	waitUntil(t, time.Second, m.Connected)
	conn := adapter.latestConnection()

	// First fresh reading arms the idle timer; then the stream goes quiet.
	conn.telemetry.SimulateNotification([]byte{0x0A, 50})

	waitUntil(t, time.Second, func() bool { return !m.Connected() })
	if !conn.isDisconnected() {
		t.Error("idle timeout should close the underlying link")
	}
	if conn.telemetry.subscribed() {
		t.Error("idle timeout should unsubscribe before closing")
	}

	// The late adapter callback for our own disconnect must not reconnect.
	conn.SimulateDisconnect()
	time.Sleep(100 * time.Millisecond)
	if got := adapter.connectCount(); got != 1 {
		t.Errorf("connect attempts = %d, want 1 (idle disconnect is expected)", got)
	}
}

func TestFreshReadingsHoldOffIdleDisconnect(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOptions()
	opts.IdleTimeout = 120 * time.Millisecond
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	waitUntil(t, time.Second, m.Connected)
	conn := adapter.latestConnection()

	// Each changed reading lands well inside the window and re-arms it.
	for pct := byte(1); pct <= 5; pct++ {
		conn.telemetry.SimulateNotification([]byte{0x0A, pct})
		time.Sleep(40 * time.Millisecond)
	}
	if !m.Connected() {
		t.Fatal("fresh readings should keep the link up")
	}

	// Quiet stream: the window finally expires.
	waitUntil(t, time.Second, func() bool { return !m.Connected() })
}

func TestUnchangedReadingsHoldOffIdleDisconnect(t *testing.T) {
	adapter := newMockAdapter()
	opts := testOptions()
	opts.IdleTimeout = 120 * time.Millisecond
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Shutdown()

	waitUntil(t, time.Second, m.Connected)
	conn := adapter.latestConnection()

	// The same value over and over publishes nothing, but it is still
	// link activity and must keep the connection alive.
	for i := 0; i < 5; i++ {
		conn.telemetry.SimulateNotification([]byte{0x0A, 87})
		time.Sleep(40 * time.Millisecond)
	}
	if !m.Connected() {
		t.Fatal("unchanged readings should keep the link up")
	}
}

func TestStartToleratesUnreachableDevice(t *testing.T) {
	adapter := newMockAdapter()
	adapter.setConnectErr(errors.New("device out of range"))
	store := telemetry.NewStore()
	opts := testOptions()
	opts.PollInterval = 30 * time.Millisecond

	m := New(adapter, store, telemetry.NewBus(), opts)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want setup to complete with the bike out of range", err)
	}
	defer m.Shutdown()

	waitUntil(t, time.Second, func() bool { return adapter.connectCount() >= 1 })
	if m.Connected() {
		t.Error("monitor should not be connected while the bike is unreachable")
	}

	// The bike comes into range; the fallback poll picks it up.
	adapter.setConnectErr(nil)
	waitUntil(t, 2*time.Second, m.Connected)

	adapter.latestConnection().telemetry.SimulateNotification([]byte{0x07, 0x00, 0xEB})
	waitUntil(t, time.Second, func() bool {
		st := store.Snapshot()
		return st.Temperature != nil && *st.Temperature == 23.5
	})
}

func TestShutdownIdempotent(t *testing.T) {
	adapter := newMockAdapter()
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), testOptions())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitUntil(t, time.Second, m.Connected)
	conn := adapter.latestConnection()

	m.Shutdown()
	if m.Connected() {
		t.Error("monitor should be disconnected after Shutdown()")
	}
	if !conn.isDisconnected() {
		t.Error("Shutdown() should close the underlying link")
	}

	// Second call is a no-op, not a hang or panic.
	m.Shutdown()
}

func TestShutdownWithoutStart(t *testing.T) {
	m := New(newMockAdapter(), telemetry.NewStore(), telemetry.NewBus(), testOptions())
	m.Shutdown()
}

func TestStartEnableError(t *testing.T) {
	adapter := newMockAdapter()
	adapter.enableErr = errors.New("no bluetooth adapter")
	m := New(adapter, telemetry.NewStore(), telemetry.NewBus(), testOptions())

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when the adapter cannot be enabled")
	}
	m.Shutdown()
}

func TestDeviceInfo(t *testing.T) {
	m := New(newMockAdapter(), telemetry.NewStore(), telemetry.NewBus(),
		DefaultOptions("AA:BB:CC:DD:EE:FF"))

	info := m.DeviceInfo()
	if info.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Address = %q, want AA:BB:CC:DD:EE:FF", info.Address)
	}
	if info.Manufacturer != "Hyena" || info.Model != "Trek FX+2" {
		t.Errorf("identity = %q/%q, want Hyena/Trek FX+2", info.Manufacturer, info.Model)
	}
}
