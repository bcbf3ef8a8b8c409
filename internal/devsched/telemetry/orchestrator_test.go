package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/scheduler"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *scheduler.Scheduler, *Hub) {
	t.Helper()
	reg := device.NewRegistry()
	cpu := device.New(device.CPU, 0, 40)
	reg.AddDevice(cpu)
	require.NoError(t, reg.RegisterAbility(device.CPU, "yolo", 1.0, "relayVM", "/tmp/cpu_yolo.so"))

	sched := scheduler.New(scheduler.Config{StrategyTimeout: 200 * time.Millisecond}, reg, nil, scheduler.NewMetrics(prometheus.NewRegistry()))
	hub := NewHub(nil)
	orch := NewOrchestrator(sched, map[device.Type]*Hub{device.CPU: hub}, 10*time.Millisecond, nil)
	return orch, sched, hub
}

func TestSweepAddsAndRemovesTaskSeries(t *testing.T) {
	orch, sched, hub := newTestOrchestrator(t)
	ctx := context.Background()

	sched.IncreaseTask(ctx, "yolo")
	orch.sweep()
	assert.True(t, hub.tasks["yolo"])

	sched.DecreaseTask(ctx, "yolo")
	orch.sweep()
	assert.False(t, hub.tasks["yolo"])
}

func TestSweepSkipsDeviceTypesWithoutHub(t *testing.T) {
	reg := device.NewRegistry()
	gpu := device.New(device.GPU, 0, 500)
	reg.AddDevice(gpu)
	require.NoError(t, reg.RegisterAbility(device.GPU, "yolo", 1.0, "relayVM", "/tmp/gpu_yolo.so"))

	sched := scheduler.New(scheduler.Config{StrategyTimeout: 200 * time.Millisecond}, reg, nil, scheduler.NewMetrics(prometheus.NewRegistry()))
	orch := NewOrchestrator(sched, map[device.Type]*Hub{}, 10*time.Millisecond, nil)

	sched.IncreaseTask(context.Background(), "yolo")
	assert.NotPanics(t, orch.sweep)
}
