// Package ebike maintains the link to a Hyena e-bike drive unit and turns
// its BLE notification stream into telemetry updates. It owns the whole
// connection lifecycle: connect, subscribe, react to drops, and release
// idle links to conserve connection slots on intermediary hubs.
package ebike

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/hyena-bridge/internal/ble"
	"github.com/chaz8081/hyena-bridge/internal/ble/protocol"
	"github.com/chaz8081/hyena-bridge/internal/telemetry"
)

// ErrNotReachable reports that the bike could not be reached on this
// attempt. Callers treat it as transient and retry on a later tick.
var ErrNotReachable = errors.New("ebike: device not reachable")

// Options configures the monitor's connection behavior.
type Options struct {
	Address        string        // device MAC (Linux) or CoreBluetooth UUID (macOS)
	ConnectTimeout time.Duration // upper bound for one connect attempt
	IdleTimeout    time.Duration // inactivity window before the link is released
	PollInterval   time.Duration // fallback reconnect tick
}

// DefaultOptions returns sensible defaults for the given device address.
func DefaultOptions(address string) Options {
	return Options{
		Address:        address,
		ConnectTimeout: 30 * time.Second,
		IdleTimeout:    120 * time.Second,
		PollInterval:   60 * time.Second,
	}
}

type eventKind int

const (
	evPacket eventKind = iota
	evDropped
	evShutdown
)

// event is one message into the monitor's run loop. Packets and drops are
// delivered here by adapter callbacks so all state transitions and timer
// interactions happen on a single goroutine.
type event struct {
	kind eventKind
	data []byte         // evPacket: raw notification bytes
	conn ble.Connection // evDropped: the link that dropped
}

// Monitor owns the BLE link to one bike. Telemetry flows in by
// notification; a fallback poll reconnects when the link is down, and an
// idle timer releases a link that has stopped producing fresh readings.
type Monitor struct {
	adapter ble.Adapter
	store   *telemetry.Store
	bus     *telemetry.Bus
	opts    Options

	// connMu serializes every connection state transition so at most one
	// connect or disconnect proceeds at a time.
	connMu    sync.Mutex
	conn      ble.Connection
	char      ble.Characteristic
	connected bool

	reconnecting atomic.Bool

	events chan event
	done   chan struct{}

	runCtx context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
}

// New creates a monitor for the bike at opts.Address. Call Start to bring
// the link up.
func New(adapter ble.Adapter, store *telemetry.Store, bus *telemetry.Bus, opts Options) *Monitor {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 120 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	return &Monitor{
		adapter: adapter,
		store:   store,
		bus:     bus,
		opts:    opts,
		events:  make(chan event, 64),
		done:    make(chan struct{}),
	}
}

// Start enables the adapter and launches the run and poll loops. The
// first connect attempt is best-effort: a bike that is out of range at
// startup leaves the data unavailable until a later attempt succeeds.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("ebike: enable adapter: %w", err)
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	go m.run()
	go m.pollLoop()
	return nil
}

// Shutdown stops the timers and loops and tears down the link. Idempotent
// and safe to call when never connected.
func (m *Monitor) Shutdown() {
	m.shutdownOnce.Do(func() {
		if m.cancel == nil {
			return
		}
		m.cancel()
		select {
		case m.events <- event{kind: evShutdown}:
		case <-m.done:
		}
		<-m.done
	})
}

// Connected reports whether the BLE link is currently up.
func (m *Monitor) Connected() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.connected
}

// Data returns the current telemetry snapshot.
func (m *Monitor) Data() telemetry.State {
	return m.store.Snapshot()
}

// DeviceInfo returns identity metadata for the monitored bike.
func (m *Monitor) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Address:      m.opts.Address,
		Manufacturer: Manufacturer,
		Model:        Model,
	}
}

// Refresh reconnects if the link is down and returns the current
// snapshot. Data normally arrives by notification; this is the fallback
// path used by the poll loop and at startup.
func (m *Monitor) Refresh(ctx context.Context) (telemetry.State, error) {
	var err error
	if !m.Connected() {
		err = m.EnsureConnected(ctx)
	}
	return m.store.Snapshot(), err
}

// EnsureConnected brings the link up if it is not already. One logical
// connect attempt per call; concurrent callers wait for the in-flight
// attempt and then see its outcome instead of racing.
func (m *Monitor) EnsureConnected(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return nil
	}

	slog.Debug("[EBIKE] connecting", "address", m.opts.Address)

	connectCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	conn, err := m.adapter.Connect(connectCtx, m.opts.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReachable, err)
	}

	char, err := conn.DiscoverCharacteristic(ble.ServiceUUID, ble.TelemetryCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("ebike: discover telemetry characteristic: %w", err)
	}

	// The drop event carries the connection so the run loop can tell a
	// live link failing from a stale callback for one we already closed.
	conn.OnDisconnect(func() {
		m.enqueue(event{kind: evDropped, conn: conn})
	})

	if err := char.Subscribe(m.handleNotification); err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("ebike: subscribe to telemetry: %w", err)
	}

	m.conn = conn
	m.char = char
	m.connected = true
	slog.Info("[EBIKE] connected", "address", m.opts.Address)
	return nil
}

// Disconnect gracefully tears down the link. Unsubscribe or close
// failures are logged and ignored since the link is being discarded
// regardless. No-op when not connected.
func (m *Monitor) Disconnect() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if !m.connected {
		return
	}

	slog.Debug("[EBIKE] disconnecting", "address", m.opts.Address)

	if err := m.char.Unsubscribe(); err != nil {
		slog.Debug("[EBIKE] unsubscribe failed", "error", err)
	}
	if err := m.conn.Disconnect(); err != nil {
		slog.Debug("[EBIKE] disconnect failed", "error", err)
	}

	m.conn = nil
	m.char = nil
	m.connected = false
}

// handleNotification runs on the adapter's notification goroutine. It
// copies the payload (BLE stacks reuse the buffer) and hands it to the
// run loop.
func (m *Monitor) handleNotification(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.enqueue(event{kind: evPacket, data: buf})
}

// enqueue delivers an event to the run loop without ever blocking an
// adapter callback. A jammed queue costs us the event; the fallback poll
// recovers the link if a drop notice is lost.
func (m *Monitor) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		slog.Warn("[EBIKE] event queue full, dropping event")
	}
}

// run is the monitor's single-threaded state machine. All packet decode,
// store updates, drop handling, and idle timer interactions happen here.
func (m *Monitor) run() {
	defer close(m.done)

	idle := time.NewTimer(m.opts.IdleTimeout)
	stopTimer(idle)

	for {
		select {
		case ev := <-m.events:
			switch ev.kind {
			case evPacket:
				m.handlePacket(ev.data, idle)
			case evDropped:
				m.handleDropped(ev.conn, idle)
			case evShutdown:
				stopTimer(idle)
				m.Disconnect()
				return
			}
		case <-idle.C:
			slog.Debug("[EBIKE] idle timeout, releasing connection", "idle", m.opts.IdleTimeout)
			m.Disconnect()
		case <-m.runCtx.Done():
			stopTimer(idle)
			m.Disconnect()
			return
		}
	}
}

// handlePacket decodes one notification. Every decoded reading counts
// as link activity and re-arms the idle window; consumers hear about it
// only when the stored value changed. Undecodable frames are skipped,
// as expected for a partially documented protocol.
func (m *Monitor) handlePacket(data []byte, idle *time.Timer) {
	slog.Debug("[EBIKE] packet", "data", hex.EncodeToString(data))

	reading, ok := protocol.Decode(data)
	if !ok {
		return
	}
	resetTimer(idle, m.opts.IdleTimeout)

	if !m.store.Apply(reading) {
		return
	}

	slog.Debug("[EBIKE] telemetry updated", "reading", reading.String())
	m.bus.Publish(telemetry.Update{
		Metric: reading.Metric,
		State:  m.store.Snapshot(),
	})
}

// handleDropped processes an adapter drop notice. A notice for a link we
// already closed ourselves is expected and ignored; a live link dropping
// schedules exactly one reconnect attempt.
func (m *Monitor) handleDropped(conn ble.Connection, idle *time.Timer) {
	m.connMu.Lock()
	current := conn != nil && conn == m.conn
	if current {
		m.conn = nil
		m.char = nil
		m.connected = false
	}
	m.connMu.Unlock()

	if !current {
		slog.Debug("[EBIKE] expected disconnection")
		return
	}

	slog.Warn("[EBIKE] unexpected disconnection, scheduling reconnect")
	stopTimer(idle)

	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.reconnecting.Store(false)
		if err := m.EnsureConnected(m.runCtx); err != nil {
			slog.Warn("[EBIKE] reconnect failed", "error", err)
		}
	}()
}

// pollLoop is the fallback path: an immediate first refresh at startup,
// then one refresh per tick. Primary data delivery is notification-driven.
func (m *Monitor) pollLoop() {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.refresh()
	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.refresh()
		}
	}
}

func (m *Monitor) refresh() {
	if _, err := m.Refresh(m.runCtx); err != nil {
		slog.Warn("[EBIKE] refresh failed", "error", err)
	}
}

// resetTimer re-arms t for d, draining a stale fire if one is pending.
func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
