// Package gateway serves the local HTTP API: a status endpoint with the
// current telemetry snapshot and a WebSocket stream of live updates.
//
// Routes:
//
//	GET /api/status   device info, link state, current telemetry
//	GET /api/events   WebSocket live stream of telemetry updates
package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/hyena-bridge/internal/ble/protocol"
	"github.com/chaz8081/hyena-bridge/internal/ebike"
	"github.com/chaz8081/hyena-bridge/internal/telemetry"
)

// Source is the monitor surface the API reads. It is never written to.
type Source interface {
	Connected() bool
	Data() telemetry.State
	DeviceInfo() ebike.DeviceInfo
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

type api struct {
	source Source
	bus    *telemetry.Bus
}

// NewRouter wires the /api/* routes and returns an http.Handler.
func NewRouter(source Source, bus *telemetry.Bus) http.Handler {
	a := &api{source: source, bus: bus}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", a.status)
	mux.HandleFunc("GET /api/events", a.eventStream)

	return withLogging(mux)
}

// sensorView is one metric rendered for UI consumption: the descriptor
// fields plus the current value and its icon.
type sensorView struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Unit        string      `json:"unit,omitempty"`
	DeviceClass string      `json:"device_class,omitempty"`
	Diagnostic  bool        `json:"diagnostic,omitempty"`
	Icon        string      `json:"icon"`
	Value       interface{} `json:"value"`
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	st := a.source.Data()

	sensors := make([]sensorView, 0, len(telemetry.Descriptors))
	for _, d := range telemetry.Descriptors {
		sensors = append(sensors, sensorView{
			Key:         string(d.Key),
			Name:        d.Name,
			Unit:        d.Unit,
			DeviceClass: d.DeviceClass,
			Diagnostic:  d.Diagnostic,
			Icon:        d.Icon(st),
			Value:       metricValue(st, d.Key),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device":    a.source.DeviceInfo(),
		"connected": a.source.Connected(),
		"telemetry": st,
		"sensors":   sensors,
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

func metricValue(st telemetry.State, key protocol.Metric) interface{} {
	switch key {
	case protocol.MetricBattery:
		if st.Battery != nil {
			return *st.Battery
		}
	case protocol.MetricTemperature:
		if st.Temperature != nil {
			return *st.Temperature
		}
	}
	return nil
}

func (a *api) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[API] ws upgrade", "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := a.bus.Subscribe()
	defer unsub()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(u); err != nil {
				slog.Debug("[API] ws write", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("[API] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.code,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so the WebSocket
// upgrade still works behind the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("gateway: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
