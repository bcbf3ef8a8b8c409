package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/hetero-sched/internal/devsched/device"
)

// TestStaticTwoDevice checks that GPU wins despite lower affinity
// because 500*0.7 beats 40*0.9.
func TestStaticTwoDevice(t *testing.T) {
	cpu := device.New(device.CPU, 0, 40)
	gpu := device.New(device.GPU, 0, 500)
	reg := device.NewRegistry()
	reg.AddDevice(cpu)
	reg.AddDevice(gpu)
	require.NoError(t, reg.RegisterAbility(device.CPU, "yolo", 0.9, "relayVM", "/tmp/cpu_yolo.so"))
	require.NoError(t, reg.RegisterAbility(device.GPU, "yolo", 0.7, "relayVM", "/tmp/gpu_yolo.so"))

	eng := New(nil)
	strat := eng.Compute(context.Background(), Static, []string{"yolo"}, reg.Devices(), time.Now())

	assert.Equal(t, []device.Type{device.GPU}, strat["yolo"])
}

// TestStaticUniqueDevice checks that a task with only one capable device
// is always assigned to that device.
func TestStaticUniqueDevice(t *testing.T) {
	cpu := device.New(device.CPU, 0, 40)
	gpu := device.New(device.GPU, 0, 500)
	reg := device.NewRegistry()
	reg.AddDevice(cpu)
	reg.AddDevice(gpu)
	require.NoError(t, reg.RegisterAbility(device.CPU, "yolo", 0.9, "relayVM", "/tmp/cpu_yolo.so"))
	require.NoError(t, reg.RegisterAbility(device.GPU, "yolo", 0.7, "relayVM", "/tmp/gpu_yolo.so"))
	require.NoError(t, reg.RegisterAbility(device.CPU, "BFS", 1.0, "relayVM", "/tmp/cpu_bfs.so"))

	eng := New(nil)
	strat := eng.Compute(context.Background(), Static, []string{"yolo", "BFS"}, reg.Devices(), time.Now())

	assert.Equal(t, []device.Type{device.GPU}, strat["yolo"])
	assert.Equal(t, []device.Type{device.CPU}, strat["BFS"])
}

// TestDynamicReshare checks that splitting GPU across yolo and BFS
// scores lower than dedicating GPU to yolo and CPU to BFS.
func TestDynamicReshare(t *testing.T) {
	cpu := device.New(device.CPU, 0, 40)
	gpu := device.New(device.GPU, 0, 500)
	reg := device.NewRegistry()
	reg.AddDevice(cpu)
	reg.AddDevice(gpu)
	require.NoError(t, reg.RegisterAbility(device.CPU, "yolo", 0.9, "relayVM", "/tmp/cpu_yolo.so"))
	require.NoError(t, reg.RegisterAbility(device.GPU, "yolo", 0.7, "relayVM", "/tmp/gpu_yolo.so"))
	require.NoError(t, reg.RegisterAbility(device.CPU, "BFS", 1.0, "relayVM", "/tmp/cpu_bfs.so"))
	require.NoError(t, reg.RegisterAbility(device.GPU, "BFS", 0.2, "relayVM", "/tmp/gpu_bfs.so"))

	eng := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	strat := eng.Compute(ctx, Dynamic, []string{"yolo", "BFS"}, reg.Devices(), time.Now())

	assert.ElementsMatch(t, []device.Type{device.GPU}, strat["yolo"])
	assert.ElementsMatch(t, []device.Type{device.CPU}, strat["BFS"])
}

// TestNoRationalAssignment checks that when no device has an ability for
// an active task, that task maps to an empty list rather than panicking.
func TestNoRationalAssignment(t *testing.T) {
	cpu := device.New(device.CPU, 0, 40)
	reg := device.NewRegistry()
	reg.AddDevice(cpu)

	eng := New(nil)
	strat := eng.Compute(context.Background(), Static, []string{"unregistered"}, reg.Devices(), time.Now())
	assert.Empty(t, strat["unregistered"])

	strat = eng.Compute(context.Background(), Dynamic, []string{"unregistered"}, reg.Devices(), time.Now())
	assert.Empty(t, strat["unregistered"])
}

// TestStaticArgmaxProperty checks that in static mode the chosen device
// is always the argmax of computePower*affinity.
func TestStaticArgmaxProperty(t *testing.T) {
	devices := []*device.Device{
		device.New(device.CPU, 0, 40),
		device.New(device.GPU, 0, 500),
		device.New(device.NPU, 0, 200),
	}
	reg := device.NewRegistry()
	for _, d := range devices {
		reg.AddDevice(d)
	}
	require.NoError(t, reg.RegisterAbility(device.CPU, "t", 0.9, "k", "p"))
	require.NoError(t, reg.RegisterAbility(device.GPU, "t", 0.1, "k", "p"))
	require.NoError(t, reg.RegisterAbility(device.NPU, "t", 0.5, "k", "p"))

	eng := New(nil)
	strat := eng.Compute(context.Background(), Static, []string{"t"}, reg.Devices(), time.Now())

	// 40*0.9=36, 500*0.1=50, 200*0.5=100 -> NPU wins.
	assert.Equal(t, []device.Type{device.NPU}, strat["t"])
}

// TestStrategyCloneIndependence covers the round-trip/idempotence
// property: deep-copying a strategy and comparing preserves equality,
// but mutating the copy must not affect the source.
func TestStrategyCloneIndependence(t *testing.T) {
	src := Strategy{"yolo": {device.GPU}}
	cp := src.Clone()
	assert.Equal(t, src, cp)

	cp["yolo"][0] = device.CPU
	assert.Equal(t, device.GPU, src["yolo"][0])
}

func TestDynamicModeTimeoutFallsBackToStatic(t *testing.T) {
	cpu := device.New(device.CPU, 0, 40)
	gpu := device.New(device.GPU, 0, 500)
	reg := device.NewRegistry()
	reg.AddDevice(cpu)
	reg.AddDevice(gpu)
	require.NoError(t, reg.RegisterAbility(device.CPU, "yolo", 0.9, "relayVM", "/tmp/cpu_yolo.so"))
	require.NoError(t, reg.RegisterAbility(device.GPU, "yolo", 0.7, "relayVM", "/tmp/gpu_yolo.so"))

	eng := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already expired
	strat := eng.Compute(ctx, Dynamic, []string{"yolo"}, reg.Devices(), time.Now())

	// With no candidates explored, the engine falls back to the static
	// winner (GPU, by computePower*affinity).
	assert.Equal(t, []device.Type{device.GPU}, strat["yolo"])
}
