package services

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceOptimizerConfig bounds the worker counts handed to batch jobs
type ResourceOptimizerConfig struct {
	MinWorkers      int     `json:"min_workers" mapstructure:"min_workers"`
	MaxWorkers      int     `json:"max_workers" mapstructure:"max_workers"`
	CPUThreshold    float64 `json:"cpu_threshold" mapstructure:"cpu_threshold"`
	MemoryThreshold float64 `json:"memory_threshold" mapstructure:"memory_threshold"`
}

// ResourceOptimizer sizes worker pools for batch analytics from host CPU
// and memory headroom
type ResourceOptimizer struct {
	mu                 sync.RWMutex
	cpuCores           int
	memoryGB           float64
	currentCPUUsage    float64
	currentMemoryUsage float64
	lastSample         time.Time
	config             ResourceOptimizerConfig
	logger             *logrus.Logger
}

// SystemSnapshot captures host utilization for health reporting
type SystemSnapshot struct {
	CPUCores          int     `json:"cpu_cores"`
	CPUUsagePercent   float64 `json:"cpu_usage_percent"`
	MemoryTotalGB     float64 `json:"memory_total_gb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Goroutines        int     `json:"goroutines"`
}

// NewResourceOptimizer creates a resource optimizer with sane bounds
func NewResourceOptimizer(config ResourceOptimizerConfig, logger *logrus.Logger) *ResourceOptimizer {
	if config.MinWorkers <= 0 {
		config.MinWorkers = 2
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 16
	}
	if config.CPUThreshold <= 0 {
		config.CPUThreshold = 80.0
	}
	if config.MemoryThreshold <= 0 {
		config.MemoryThreshold = 85.0
	}

	ro := &ResourceOptimizer{
		cpuCores: runtime.NumCPU(),
		config:   config,
		logger:   logger,
	}

	if cores, err := cpu.Counts(true); err == nil && cores > 0 {
		ro.cpuCores = cores
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		ro.memoryGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		ro.logger.WithError(err).Warn("Could not read memory info, assuming 8GB")
		ro.memoryGB = 8.0
	}

	ro.logger.WithFields(logrus.Fields{
		"cpu_cores": ro.cpuCores,
		"memory_gb": ro.memoryGB,
	}).Info("Resource optimizer initialized")

	return ro
}

// OptimalWorkers returns the worker count a batch of queueLen jobs should
// fan out to on this host.
func (ro *ResourceOptimizer) OptimalWorkers(queueLen int) int {
	ro.refreshUsage()

	ro.mu.RLock()
	defer ro.mu.RUnlock()

	workers := ro.cpuCores * 2

	// Low-memory hosts get half the headroom
	memoryFactor := 1.0
	if ro.memoryGB < 4.0 {
		memoryFactor = 0.5
	} else if ro.memoryGB < 8.0 {
		memoryFactor = 0.75
	}

	loadFactor := 1.0
	if ro.currentCPUUsage > ro.config.CPUThreshold {
		loadFactor = 0.7
	} else if ro.currentMemoryUsage > ro.config.MemoryThreshold {
		loadFactor = 0.8
	}

	workers = int(float64(workers) * memoryFactor * loadFactor)
	if workers < ro.config.MinWorkers {
		workers = ro.config.MinWorkers
	}
	if workers > ro.config.MaxWorkers {
		workers = ro.config.MaxWorkers
	}
	if queueLen > 0 && workers > queueLen {
		workers = queueLen
	}
	return workers
}

// refreshUsage samples CPU and memory at most once per second
func (ro *ResourceOptimizer) refreshUsage() {
	ro.mu.Lock()
	defer ro.mu.Unlock()

	if time.Since(ro.lastSample) < time.Second {
		return
	}
	ro.lastSample = time.Now()

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		ro.currentCPUUsage = percents[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		ro.currentMemoryUsage = memInfo.UsedPercent
	}
}

// Snapshot reports current host utilization
func (ro *ResourceOptimizer) Snapshot(ctx context.Context) *SystemSnapshot {
	snapshot := &SystemSnapshot{
		CPUCores:   ro.cpuCores,
		Goroutines: runtime.NumGoroutine(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snapshot.CPUUsagePercent = percents[0]
	}
	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snapshot.MemoryTotalGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
		snapshot.MemoryUsedPercent = memInfo.UsedPercent
	}

	return snapshot
}
