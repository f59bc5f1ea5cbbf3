package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Connections   ConnectionMetrics `json:"connections"`
	Sensors       SensorMetrics     `json:"sensors"`
	Actuators     int               `json:"actuators"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains live feed statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// ConnectionMetrics counts connections by state.
type ConnectionMetrics struct {
	Total     int            `json:"total"`
	ByState   map[string]int `json:"by_state"`
	Buffered  int            `json:"buffered"`
	Published uint64         `json:"published"`
	Failures  uint64         `json:"failures"`
}

// SensorMetrics sums the scheduler counters of every sensor.
type SensorMetrics struct {
	Total    int    `json:"total"`
	Polls    uint64 `json:"polls"`
	Skips    uint64 `json:"skips"`
	Errors   uint64 `json:"errors"`
	Readings uint64 `json:"readings"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime and reporter counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
		Connections: connectionMetrics(s.runtime.Connections()),
		Actuators:   len(s.runtime.Actuators()),
	}

	for _, st := range s.runtime.Sensors() {
		metrics.Sensors.Total++
		metrics.Sensors.Polls += st.Polls
		metrics.Sensors.Skips += st.Skips
		metrics.Sensors.Errors += st.Errors
		metrics.Sensors.Readings += st.Readings
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func connectionMetrics(conns []connection.Status) ConnectionMetrics {
	m := ConnectionMetrics{Total: len(conns), ByState: make(map[string]int)}
	for _, c := range conns {
		m.ByState[c.State.String()]++
		m.Buffered += c.Buffered
		m.Published += c.Published
		m.Failures += c.Failures
	}
	return m
}
