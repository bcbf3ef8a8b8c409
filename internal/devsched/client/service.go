package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/loader"
)

// Config carries the task service's tunables.
type Config struct {
	BatchSize      int
	WorkerPoolSize int
	PendingCap     int
}

// TaskService is the developer-facing API running inside each inference
// process. All exported methods are safe for concurrent use.
type TaskService struct {
	mu   sync.Mutex // clientLock
	cond *sync.Cond

	scheduler SchedulerAPI
	loader    loader.Loader
	logger    *logrus.Logger

	batchSize      int
	workerPoolSize int

	busy          map[device.Type]bool
	counters      map[string]*TaskCounters
	strategies    map[string][]device.Type
	executors     map[execKey]loader.Handle
	executorKinds map[execKey]string

	pending *PendingQueue
}

// New constructs a TaskService. scheduler is the IPC client (or a test
// fake); ld is the build/load/compute backend.
func New(cfg Config, scheduler SchedulerAPI, ld loader.Loader, logger *logrus.Logger) *TaskService {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 8
	}
	s := &TaskService{
		scheduler:      scheduler,
		loader:         ld,
		logger:         logger,
		batchSize:      cfg.BatchSize,
		workerPoolSize: cfg.WorkerPoolSize,
		busy:           make(map[device.Type]bool),
		counters:       make(map[string]*TaskCounters),
		strategies:     make(map[string][]device.Type),
		executors:      make(map[execKey]loader.Handle),
		executorKinds:  make(map[execKey]string),
		pending:        NewPendingQueue(cfg.PendingCap),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// builtExecutor is a staged build+load result awaiting commit once every
// device in a RegisterTask call has succeeded.
type builtExecutor struct {
	deviceType   device.Type
	affinity     float64
	executorKind string
	artifactPath string
	handle       loader.Handle
}

// RegisterTask builds and loads executors for taskType on every listed
// device type, forwards each ability to the scheduler over IPC, and
// ensures the device-busy table carries a free entry for every device
// type named. The operation is all-or-nothing: build/load results are
// staged locally first, and neither the scheduler nor the local caches
// see any device for this call until every device has built and loaded
// successfully. Admission is bounded by the pending queue: a 6th
// concurrent RegisterTask call (default cap 5) fails fast with
// errs.ErrQueueFull rather than piling up build/load work.
func (s *TaskService) RegisterTask(ctx context.Context, taskType string, devices map[device.Type]float64, modelSource string) error {
	if err := s.pending.Enter(); err != nil {
		return err
	}
	defer s.pending.Leave()

	staged := make([]builtExecutor, 0, len(devices))
	for deviceType, affinity := range devices {
		executorKind, artifactPath, err := s.loader.Build(taskType, modelSource)
		if err != nil {
			return fmt.Errorf("registering task %q on %s: %w", taskType, deviceType, err)
		}
		handle, err := s.loader.Load(executorKind, artifactPath)
		if err != nil {
			return fmt.Errorf("loading task %q on %s: %w", taskType, deviceType, err)
		}
		staged = append(staged, builtExecutor{
			deviceType:   deviceType,
			affinity:     affinity,
			executorKind: executorKind,
			artifactPath: artifactPath,
			handle:       handle,
		})
	}

	for _, b := range staged {
		if err := s.scheduler.RegisterAbility(ctx, b.deviceType, taskType, b.affinity, b.executorKind, b.artifactPath); err != nil {
			return fmt.Errorf("registering task %q on %s: %w", taskType, b.deviceType, err)
		}
	}

	s.mu.Lock()
	for _, b := range staged {
		key := execKey{taskType: taskType, deviceType: b.deviceType}
		s.executors[key] = b.handle
		s.executorKinds[key] = b.executorKind
		if _, ok := s.busy[b.deviceType]; !ok {
			s.busy[b.deviceType] = false
		}
	}
	if _, ok := s.counters[taskType]; !ok {
		s.counters[taskType] = &TaskCounters{}
	}
	s.mu.Unlock()
	return nil
}
