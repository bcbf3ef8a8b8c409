// Package eventhub is the single point that turns a strategy-affecting
// signal (population change, mode switch) into exactly one strategy
// recomputation. It does not itself provide mutual exclusion — callers
// invoke Dispatch while already holding the scheduler's process-wide
// mutex, which is what gives "processed in submission order" its proof.
package eventhub

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/strategy"
)

// Kind identifies the category of event that triggered a recomputation.
type Kind string

const (
	NewTaskType   Kind = "new_task_type"
	AlgorithmDone Kind = "algorithm_done"
	ModeSwitch    Kind = "mode_switch"
)

// Hub serializes strategy-affecting events and maps each one to a single
// call into the strategy engine.
type Hub struct {
	engine *strategy.Engine
	logger *logrus.Logger
}

// New returns a hub that computes strategies with engine and logs events
// via logger.
func New(engine *strategy.Engine, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{engine: engine, logger: logger}
}

// Dispatch recomputes the strategy for the current active task set in
// response to one event. The caller must already hold the scheduler's
// mutex; Dispatch performs no locking of its own.
func (h *Hub) Dispatch(ctx context.Context, kind Kind, mode strategy.Mode, activeTasks []string, devices []*device.Device) strategy.Strategy {
	h.logger.WithFields(logrus.Fields{
		"event":        kind,
		"active_tasks": len(activeTasks),
	}).Debug("eventhub: dispatching strategy recomputation")

	return h.engine.Compute(ctx, mode, activeTasks, devices, time.Now())
}
