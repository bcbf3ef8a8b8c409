package ipc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/scheduler"
)

func startTestServer(t *testing.T, presharedKey []byte) (*Server, string) {
	t.Helper()
	reg := device.NewRegistry()
	cpu := device.New(device.CPU, 0, 40)
	gpu := device.New(device.GPU, 0, 500)
	reg.AddDevice(cpu)
	reg.AddDevice(gpu)

	sched := scheduler.New(scheduler.Config{StrategyTimeout: 200 * time.Millisecond}, reg, nil, nil)
	socketPath := filepath.Join(t.TempDir(), "scheduler.sock")

	srv := &Server{SocketPath: socketPath, PresharedKey: presharedKey, Scheduler: sched}
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })

	return srv, socketPath
}

func TestClientServerRoundTrip(t *testing.T) {
	key := []byte("lemon")
	_, socketPath := startTestServer(t, key)

	client, err := Dial(socketPath, key, time.Second)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.RegisterAbility(ctx, device.GPU, "yolo", 0.7, "relayVM", "/tmp/gpu_yolo.so"))
	require.NoError(t, client.RegisterAbility(ctx, device.CPU, "yolo", 0.9, "relayVM", "/tmp/cpu_yolo.so"))

	require.NoError(t, client.IncreaseTask(ctx, "yolo"))

	got, err := client.GetStrategy(ctx, "yolo")
	require.NoError(t, err)
	assert.Equal(t, []device.Type{device.GPU}, got)

	require.NoError(t, client.DecreaseTask(ctx, "yolo"))

	got, err = client.GetStrategy(ctx, "yolo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDialRejectsWrongPresharedKey(t *testing.T) {
	_, socketPath := startTestServer(t, []byte("lemon"))

	_, err := Dial(socketPath, []byte("wrong-key"), time.Second)
	require.Error(t, err)
}

func TestRegisterAbilityPropagatesValidationError(t *testing.T) {
	key := []byte("lemon")
	_, socketPath := startTestServer(t, key)

	client, err := Dial(socketPath, key, time.Second)
	require.NoError(t, err)
	defer client.Close()

	err = client.RegisterAbility(context.Background(), device.GPU, "yolo", 1.5, "relayVM", "/tmp/gpu_yolo.so")
	assert.Error(t, err)
}
