package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/loader"
)

// fakeScheduler is an in-process stand-in for the IPC client: it tracks
// increase/decrease calls and serves a fixed strategy table, so dispatch
// tests don't need a real Unix socket.
type fakeScheduler struct {
	mu         sync.Mutex
	increases  int
	decreases  int
	strategies map[string][]device.Type
}

func newFakeScheduler(strategies map[string][]device.Type) *fakeScheduler {
	return &fakeScheduler{strategies: strategies}
}

func (f *fakeScheduler) RegisterAbility(ctx context.Context, deviceType device.Type, taskType string, affinity float64, executorKind, artifactPath string) error {
	return nil
}

func (f *fakeScheduler) IncreaseTask(ctx context.Context, taskType string) error {
	f.mu.Lock()
	f.increases++
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) DecreaseTask(ctx context.Context, taskType string) error {
	f.mu.Lock()
	f.decreases++
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) GetStrategy(ctx context.Context, taskType string) ([]device.Type, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]device.Type, len(f.strategies[taskType]))
	copy(out, f.strategies[taskType])
	return out, nil
}

// fakeLoader echoes its input back and records how many concurrent
// computations were in flight, so tests can assert exclusive device
// access.
type fakeLoader struct {
	mu          sync.Mutex
	inFlight    map[string]int
	maxInFlight map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{inFlight: map[string]int{}, maxInFlight: map[string]int{}}
}

func (l *fakeLoader) Build(taskType, modelSource string) (string, string, error) {
	return "stub-executor", "/tmp/" + taskType, nil
}

func (l *fakeLoader) Load(executorKind, artifactPath string) (loader.Handle, error) {
	return artifactPath, nil
}

func (l *fakeLoader) Compute(executorKind string, h loader.Handle, input any) (any, error) {
	key, _ := h.(string)
	l.mu.Lock()
	l.inFlight[key]++
	if l.inFlight[key] > l.maxInFlight[key] {
		l.maxInFlight[key] = l.inFlight[key]
	}
	l.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	l.mu.Lock()
	l.inFlight[key]--
	l.mu.Unlock()
	return input, nil
}

func newTestService(t *testing.T, sched *fakeScheduler, ld *fakeLoader) *TaskService {
	t.Helper()
	return New(Config{BatchSize: 20, WorkerPoolSize: 8}, sched, ld, nil)
}

func TestRegisterTaskPopulatesExecutorsAndBusyTable(t *testing.T) {
	sched := newFakeScheduler(map[string][]device.Type{"yolo": {device.GPU}})
	ld := newFakeLoader()
	svc := newTestService(t, sched, ld)

	err := svc.RegisterTask(context.Background(), "yolo", map[device.Type]float64{device.GPU: 0.7}, "/models/yolo.onnx")
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Contains(t, svc.busy, device.GPU)
	assert.False(t, svc.busy[device.GPU])
	assert.Contains(t, svc.executors, execKey{taskType: "yolo", deviceType: device.GPU})
}

func TestRunTaskIncreasesOnFirstCallAndDecreasesWhenDrained(t *testing.T) {
	sched := newFakeScheduler(map[string][]device.Type{"yolo": {device.GPU}})
	ld := newFakeLoader()
	svc := newTestService(t, sched, ld)
	require.NoError(t, svc.RegisterTask(context.Background(), "yolo", map[device.Type]float64{device.GPU: 0.7}, "src"))

	out, err := svc.RunTask(context.Background(), "yolo", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	sched.mu.Lock()
	assert.Equal(t, 1, sched.increases)
	assert.Equal(t, 1, sched.decreases)
	sched.mu.Unlock()

	svc.mu.Lock()
	assert.Equal(t, 0, svc.counters["yolo"].In)
	assert.Equal(t, 0, svc.counters["yolo"].Out)
	svc.mu.Unlock()
}

func TestRunTaskSerializesSingleDevice(t *testing.T) {
	sched := newFakeScheduler(map[string][]device.Type{"yolo": {device.GPU}})
	ld := newFakeLoader()
	svc := newTestService(t, sched, ld)
	require.NoError(t, svc.RegisterTask(context.Background(), "yolo", map[device.Type]float64{device.GPU: 0.7}, "src"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RunTask(context.Background(), "yolo", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ld.mu.Lock()
	defer ld.mu.Unlock()
	assert.LessOrEqual(t, ld.maxInFlight["/tmp/yolo"], 1)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.False(t, svc.busy[device.GPU])
}

func TestRunTaskPrefersEarliestFreeDeviceInStrategyOrder(t *testing.T) {
	sched := newFakeScheduler(map[string][]device.Type{"yolo": {device.GPU, device.CPU}})
	ld := newFakeLoader()
	svc := newTestService(t, sched, ld)
	require.NoError(t, svc.RegisterTask(context.Background(), "yolo", map[device.Type]float64{
		device.GPU: 0.7,
		device.CPU: 0.9,
	}, "src"))

	dev, err := svc.acquireDevice([]device.Type{device.GPU, device.CPU})
	require.NoError(t, err)
	assert.Equal(t, device.GPU, dev)
	svc.releaseDevice(dev)

	_, err = svc.RunTask(context.Background(), "yolo", 1)
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.False(t, svc.busy[device.GPU])
	assert.False(t, svc.busy[device.CPU])
}

func TestRunTaskBatchPreservesOrderAndReportsSlotErrors(t *testing.T) {
	sched := newFakeScheduler(map[string][]device.Type{"yolo": {device.GPU}})
	ld := newFakeLoader()
	svc := newTestService(t, sched, ld)
	require.NoError(t, svc.RegisterTask(context.Background(), "yolo", map[device.Type]float64{device.GPU: 0.7}, "src"))

	inputs := []any{1, 2, 3, 4, 5}
	var calls int32
	fn := func(ctx context.Context, s *TaskService, in any) (any, error) {
		atomic.AddInt32(&calls, 1)
		n := in.(int)
		if n == 3 {
			return nil, assertableErr{}
		}
		return s.RunTask(ctx, "yolo", n*10)
	}

	results := svc.RunTaskBatch(context.Background(), "yolo", fn, inputs, 0)
	require.Len(t, results, 5)
	assert.Equal(t, 10, results[0])
	assert.Equal(t, 20, results[1])
	assert.Nil(t, results[2])
	assert.Equal(t, 40, results[3])
	assert.Equal(t, 50, results[4])
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
}

type assertableErr struct{}

func (assertableErr) Error() string { return "synthetic slot failure" }
