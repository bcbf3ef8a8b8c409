package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/scheduler"
)

// Orchestrator periodically sweeps the scheduler's device roster and
// fans out per-task FPS samples to whichever Hub owns that task's
// device type, adding and removing series as tasks come and go, on its
// own ticker rather than being driven inline by every dispatch.
type Orchestrator struct {
	Scheduler  *scheduler.Scheduler
	Hubs       map[device.Type]*Hub
	TickPeriod time.Duration
	Logger     *logrus.Logger

	known map[string]device.Type
}

// NewOrchestrator constructs an Orchestrator over one Hub per device
// type.
func NewOrchestrator(sched *scheduler.Scheduler, hubs map[device.Type]*Hub, tickPeriod time.Duration, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if tickPeriod <= 0 {
		tickPeriod = 100 * time.Millisecond
	}
	return &Orchestrator{
		Scheduler:  sched,
		Hubs:       hubs,
		TickPeriod: tickPeriod,
		Logger:     logger,
		known:      make(map[string]device.Type),
	}
}

// Run sweeps on every tick until ctx is cancelled. It must be started
// as its own goroutine; the sweep itself reads the scheduler's roster
// under schedLock (via Snapshot) but pushes samples without holding it.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep()
		}
	}
}

func (o *Orchestrator) sweep() {
	devices := o.Scheduler.Snapshot()
	now := time.Now()

	seen := make(map[string]device.Type, len(o.known))
	for _, d := range devices {
		hub := o.Hubs[d.Type]
		if hub == nil {
			continue
		}
		for _, taskType := range d.TaskTypes() {
			seen[taskType] = d.Type
			if _, ok := o.known[taskType]; !ok {
				hub.AddTask(taskType)
			}
			hub.PushValue(taskType, now, d.FPSFor(taskType))
		}
	}

	for taskType, dt := range o.known {
		if _, stillActive := seen[taskType]; !stillActive {
			if hub := o.Hubs[dt]; hub != nil {
				hub.RemoveTask(taskType)
			}
		}
	}
	o.known = seen
}
