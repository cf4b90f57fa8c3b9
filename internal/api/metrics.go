package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/devsync"
	"github.com/nerrad567/gray-logic-sync/internal/platform"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Host          *HostMetrics   `json:"host,omitempty"`
	WebSocket     WSMetrics      `json:"websocket"`
	Sync          devsync.Stats  `json:"sync"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HostMetrics describes the machine the device runs on.
type HostMetrics struct {
	Info   platform.Info    `json:"info"`
	Memory *platform.Memory `json:"memory,omitempty"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
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
		},
		Sync: s.sync.Stats(r.Context()),
	}

	// Host details are best effort; a failed query only omits them.
	if info, err := s.platform.Query(r.Context()); err == nil {
		metrics.Host = &HostMetrics{Info: info}
		if m, err := platform.MemoryUsage(r.Context()); err == nil {
			metrics.Host.Memory = &m
		}
	} else {
		s.logger.Debug("host query failed", "error", err)
	}

	writeJSON(w, http.StatusOK, metrics)
}
