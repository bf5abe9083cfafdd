package job

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/airbais/conductor/errors"
)

// SystemMetrics tracks resource usage for executor monitoring. Served
// by the health endpoint.
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsQueued    int     `json:"jobs_queued"`     // Jobs waiting in queue
	JobsRunning   int     `json:"jobs_running"`    // Jobs currently executing
}

func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available
// memory. Each analysis subprocess holds a headless browser plus parsed
// page content, roughly 2GB at the crawl sizes the tools target.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 2.0 // GB per concurrent analysis subprocess
	const memoryBuffer = 1.0    // GB reserved for the server itself

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 10 {
		return 10
	}
	return recommended
}

// GetSystemMetrics returns current resource usage and job counts.
func (e *Executor) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	var queued, running int
	if counts, err := e.queue.Store().CountByStatus(); err == nil {
		queued = counts[StatusQueued]
		running = counts[StatusRunning]
	}

	return SystemMetrics{
		WorkersActive: e.ActiveWorkers(),
		WorkersTotal:  e.config.Workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsQueued:    queued,
		JobsRunning:   running,
	}
}

// checkMemoryPressure validates worker count against available memory.
// Returns a warning message if the count looks too high, empty if OK.
func (e *Executor) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if e.config.Workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			e.config.Workers, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}
