package services

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewResourceOptimizer(t *testing.T) {
	config := ResourceOptimizerConfig{
		MinWorkers:      2,
		MaxWorkers:      20,
		CPUThreshold:    80.0,
		MemoryThreshold: 85.0,
	}

	ro := NewResourceOptimizer(config, logrus.New())

	assert.NotNil(t, ro)
	assert.Greater(t, ro.cpuCores, 0)
	assert.Greater(t, ro.memoryGB, 0.0)
	assert.Equal(t, 2, ro.config.MinWorkers)
	assert.Equal(t, 20, ro.config.MaxWorkers)
}

func TestNewResourceOptimizer_Defaults(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{}, logrus.New())

	assert.Equal(t, 2, ro.config.MinWorkers)
	assert.Equal(t, 16, ro.config.MaxWorkers)
	assert.Equal(t, 80.0, ro.config.CPUThreshold)
	assert.Equal(t, 85.0, ro.config.MemoryThreshold)
}

func TestOptimalWorkers_Bounds(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{
		MinWorkers: 3,
		MaxWorkers: 8,
	}, logrus.New())

	workers := ro.OptimalWorkers(0)
	assert.GreaterOrEqual(t, workers, 3)
	assert.LessOrEqual(t, workers, 8)
}

func TestOptimalWorkers_QueueCap(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{
		MinWorkers: 2,
		MaxWorkers: 16,
	}, logrus.New())

	// A two-job batch never needs more than two workers.
	workers := ro.OptimalWorkers(2)
	assert.LessOrEqual(t, workers, 2)
	assert.GreaterOrEqual(t, workers, 1)
}

func TestOptimalWorkers_Stable(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{}, logrus.New())

	// Samples are cached for a second, so repeated calls agree.
	first := ro.OptimalWorkers(100)
	second := ro.OptimalWorkers(100)
	assert.Equal(t, first, second)
}

func TestSnapshot(t *testing.T) {
	ro := NewResourceOptimizer(ResourceOptimizerConfig{}, logrus.New())

	snap := ro.Snapshot(context.Background())

	assert.NotNil(t, snap)
	assert.Greater(t, snap.CPUCores, 0)
	assert.Greater(t, snap.Goroutines, 0)
	assert.Greater(t, snap.MemoryTotalGB, 0.0)
}
