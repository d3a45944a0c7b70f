// Package telemetry holds the bike's live telemetry state: a last-value
// store written by the notification-decoding path, a change bus that fans
// updates out to consumers, and the descriptor table that tells consumers
// how to present each metric.
package telemetry

import (
	"sync"

	"github.com/chaz8081/hyena-bridge/internal/ble/protocol"
)

// State is a point-in-time snapshot of the last-known telemetry values.
// A nil field has never been observed. The JSON field names double as
// the metric keys consumers select on.
type State struct {
	Battery     *int     `json:"battery"`     // percent
	Temperature *float64 `json:"temperature"` // °C
}

// Store keeps the last-known value per metric. The sole writer is the
// notification path; consumers read concurrently via Snapshot.
type Store struct {
	mu    sync.RWMutex
	state State
}

func NewStore() *Store {
	return &Store{}
}

// Apply overwrites the slot for the reading's metric and reports whether
// the stored value changed. Each write fully replaces the prior value:
// no staleness checks, no merging, no history.
func (s *Store) Apply(r protocol.Reading) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Metric {
	case protocol.MetricBattery:
		v := int(r.Percent)
		changed := s.state.Battery == nil || *s.state.Battery != v
		s.state.Battery = &v
		return changed

	case protocol.MetricTemperature:
		v := r.Celsius
		changed := s.state.Temperature == nil || *s.state.Temperature != v
		s.state.Temperature = &v
		return changed
	}
	return false
}

// Snapshot returns an independent copy of the current state. Callers may
// hold or mutate it freely.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (st State) clone() State {
	var out State
	if st.Battery != nil {
		v := *st.Battery
		out.Battery = &v
	}
	if st.Temperature != nil {
		v := *st.Temperature
		out.Temperature = &v
	}
	return out
}
