package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) uptime() time.Duration {
	return time.Since(s.startedAt)
}

// handleSystemStatus reports process and host health: CPU, memory,
// disk under the data directory, and both store states.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_sec": int64(s.uptime().Seconds()),
		"goroutines": runtime.NumGoroutine(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"used_percent": memStat.UsedPercent,
			"total_mb":     memStat.Total / 1024 / 1024,
			"used_mb":      memStat.Used / 1024 / 1024,
		}
	}
	if diskStat, err := disk.Usage(s.container.Config.DataDir); err == nil {
		status["disk"] = map[string]interface{}{
			"used_percent": diskStat.UsedPercent,
			"free_mb":      diskStat.Free / 1024 / 1024,
		}
	}

	stores := make(map[string]interface{})
	if stats, err := s.container.FleetDB.GetStats(); err == nil {
		stores["fleet"] = stats
	}
	if stats, err := s.container.SignalDB.GetStats(); err == nil {
		stores["signals"] = stats
	}
	status["stores"] = stores

	s.writeJSON(w, http.StatusOK, status)
}
