package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/cadenzahq/cadenza/engine"
	"github.com/cadenzahq/cadenza/version"
)

// StatusResponse is the daemon's runtime snapshot.
type StatusResponse struct {
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Scheduler     engine.Stats `json:"scheduler"`
	Goroutines    int          `json:"goroutines"`
	ProcessRSSMB  float64      `json:"process_rss_mb"`
	SystemUsedPct float64      `json:"system_memory_used_pct"`
	Subscribers   int          `json:"event_subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Scheduler:     s.engine.Stats(),
		Goroutines:    runtime.NumGoroutine(),
		Subscribers:   s.events.SubscriberCount(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			resp.ProcessRSSMB = float64(memInfo.RSS) / (1024 * 1024)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.SystemUsedPct = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}
