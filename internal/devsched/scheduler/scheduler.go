// Package scheduler implements the scheduler process: the authoritative
// device roster, the active-task population tracker, and the strategy
// table, all serialized by a single process-wide mutex.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/eventhub"
	"github.com/taskmesh/hetero-sched/internal/devsched/strategy"
)

// Metrics holds the Prometheus collectors the scheduler updates on every
// recomputation and population change.
type Metrics struct {
	Recomputations *prometheus.CounterVec
	ActiveTasks    prometheus.Gauge
}

// NewMetrics registers and returns the scheduler's Prometheus collectors
// against reg. Pass prometheus.NewRegistry() (or prometheus.DefaultRegisterer
// wrapped appropriately) from the caller.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Recomputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devsched_strategy_recomputations_total",
			Help: "Number of strategy recomputations performed, labeled by triggering event.",
		}, []string{"event"}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devsched_active_task_types",
			Help: "Number of currently active task types.",
		}),
	}
	reg.MustRegister(m.Recomputations, m.ActiveTasks)
	return m
}

// Scheduler is the authoritative scheduling state. All exported methods
// are safe for concurrent use: they acquire mu internally.
type Scheduler struct {
	mu sync.Mutex // schedLock: serializes registry writes, counters, event hub, strategy engine

	registry *device.Registry
	hub      *eventhub.Hub
	mode     strategy.Mode

	counters map[string]int // ActiveTaskCounter
	strat    strategy.Strategy

	strategyTimeout time.Duration

	logger  *logrus.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// Config carries the scheduler's tunables.
type Config struct {
	StrategyTimeout time.Duration
	InitialMode     strategy.Mode
}

// New constructs a Scheduler over registry, wiring up its own strategy
// engine and event hub.
func New(cfg Config, registry *device.Registry, logger *logrus.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = 500 * time.Millisecond
	}
	engine := strategy.New(logger)
	return &Scheduler{
		registry:        registry,
		hub:             eventhub.New(engine, logger),
		mode:            cfg.InitialMode,
		counters:        make(map[string]int),
		strat:           strategy.Strategy{},
		strategyTimeout: cfg.StrategyTimeout,
		logger:          logger,
		tracer:          otel.Tracer("devsched.scheduler"),
		metrics:         metrics,
	}
}

// Registry exposes the device registry for startup-time provisioning
// (addDevice calls made before the IPC endpoint is listening).
func (s *Scheduler) Registry() *device.Registry {
	return s.registry
}

// RegisterAbility delegates to the registry under schedLock.
func (s *Scheduler) RegisterAbility(deviceType device.Type, taskType string, affinity float64, executorKind, artifactPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.RegisterAbility(deviceType, taskType, affinity, executorKind, artifactPath)
}

// IncreaseTask increments the active counter for taskType; a 0->1
// transition emits NewTaskType and triggers exactly one recomputation.
func (s *Scheduler) IncreaseTask(ctx context.Context, taskType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[taskType]++
	if s.counters[taskType] == 1 {
		s.recompute(ctx, eventhub.NewTaskType)
	}
}

// DecreaseTask decrements the active counter for taskType; a 1->0
// transition emits AlgorithmDone, removes the key, and triggers exactly
// one recomputation. Decreasing an absent key is a no-op, and the
// counter never goes negative.
func (s *Scheduler) DecreaseTask(ctx context.Context, taskType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counters[taskType] <= 0 {
		return
	}
	s.counters[taskType]--
	if s.counters[taskType] == 0 {
		delete(s.counters, taskType)
		s.recompute(ctx, eventhub.AlgorithmDone)
	}
}

// SwitchMode toggles the global static/dynamic bit and triggers exactly
// one recomputation. It is invoked in-process by the operator console;
// there is no RPC to flip strategy mode remotely.
func (s *Scheduler) SwitchMode(ctx context.Context) strategy.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == strategy.Static {
		s.mode = strategy.Dynamic
	} else {
		s.mode = strategy.Static
	}
	s.recompute(ctx, eventhub.ModeSwitch)
	return s.mode
}

// Mode returns the scheduler's current assignment policy.
func (s *Scheduler) Mode() strategy.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// GetStrategy returns a deep copy of the current strategy for taskType,
// or an empty list if the task is not active.
func (s *Scheduler) GetStrategy(taskType string) []device.Type {
	s.mu.Lock()
	defer s.mu.Unlock()

	types, ok := s.strat[taskType]
	if !ok {
		return []device.Type{}
	}
	out := make([]device.Type, len(types))
	copy(out, types)
	return out
}

// Snapshot returns a copy of the roster slice (for the telemetry
// orchestrator's sweep) taken under schedLock; the device pointers in it
// are shared with the registry.
func (s *Scheduler) Snapshot() []*device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Devices are pointers; telemetry only reads TaskTypes()/Samples(),
	// which are themselves replaced wholesale on each recomputation
	// rather than mutated in place, so handing out the pointers under
	// the lock and reading them after release is safe even though the
	// sweep must not hold schedLock while pushing samples.
	out := make([]*device.Device, len(s.registry.Devices()))
	copy(out, s.registry.Devices())
	return out
}

// recompute runs the event hub under the already-held schedLock: the
// whole search runs over the registry's devices without releasing and
// reacquiring the lock mid-search. Callers must hold s.mu.
func (s *Scheduler) recompute(ctx context.Context, kind eventhub.Kind) {
	active := make([]string, 0, len(s.counters))
	for t := range s.counters {
		active = append(active, t)
	}

	_, span := s.tracer.Start(ctx, "scheduler.recompute")
	defer span.End()

	searchCtx, cancel := context.WithTimeout(ctx, s.strategyTimeout)
	defer cancel()

	s.strat = s.hub.Dispatch(searchCtx, kind, s.mode, active, s.registry.Devices())

	if s.metrics != nil {
		s.metrics.Recomputations.WithLabelValues(string(kind)).Inc()
		s.metrics.ActiveTasks.Set(float64(len(active)))
	}

	s.logger.WithFields(logrus.Fields{
		"event":        kind,
		"mode":         s.mode,
		"active_tasks": active,
	}).Info("scheduler: strategy recomputed")
}

// ActiveTaskCount returns the current counter for taskType, for tests and
// diagnostics.
func (s *Scheduler) ActiveTaskCount(taskType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[taskType]
}
