package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemHealth reports dependency and resource health: database
// pings, queue depths, in-flight order pollers, CPU and memory usage.
// Always answers 200; the status field carries the verdict.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	databases := make(map[string]string, len(s.deps.Databases))
	for name, db := range s.deps.Databases {
		if err := db.QuickCheck(ctx); err != nil {
			databases[name] = "unreachable: " + err.Error()
			status = "degraded"
			continue
		}
		databases[name] = "ok"
	}

	queueStats := map[string]interface{}{}
	if stats, err := s.deps.Dispatcher.Stats(); err != nil {
		queueStats["error"] = err.Error()
		status = "degraded"
	} else {
		queueStats["priority_depth"] = stats.PriorityDepth
		queueStats["standard_depth"] = stats.StandardDepth
	}

	// Resource readings are best effort; a failed probe never degrades
	// the verdict on its own.
	resources := map[string]interface{}{}
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		resources["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resources["memory_percent"] = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"uptime_seconds":   int64(time.Since(s.startedAt).Seconds()),
		"databases":        databases,
		"queue":            queueStats,
		"inflight_pollers": s.deps.Tracker.InFlight(),
		"resources":        resources,
		"time":             time.Now().UTC().Format(time.RFC3339),
	})
}
