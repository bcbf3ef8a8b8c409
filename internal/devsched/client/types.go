// Package client implements the developer-facing task service that runs
// in each inference process: it registers tasks with the scheduler over
// IPC, holds a local executor cache, and dispatches each request to a
// free device under a single mutex/condition-variable pair.
package client

import (
	"context"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
)

// SchedulerAPI is the subset of the scheduler's IPC client that the task
// service needs. Defining it as an interface here (rather than importing
// ipc.Client directly) lets tests substitute an in-process fake instead
// of dialing a real Unix socket.
type SchedulerAPI interface {
	RegisterAbility(ctx context.Context, deviceType device.Type, taskType string, affinity float64, executorKind, artifactPath string) error
	IncreaseTask(ctx context.Context, taskType string) error
	DecreaseTask(ctx context.Context, taskType string) error
	GetStrategy(ctx context.Context, taskType string) ([]device.Type, error)
}

// TaskCounters tracks one task type's in-flight request accounting:
// In/Out count requests submitted vs. completed since the task last went
// idle, and Planned is the total the scheduler is notified against via
// decreaseTask once Out catches up to it. A standalone RunTask call
// grows Planned alongside In one request at a time; RunTaskBatch instead
// fixes Planned to the whole batch size up front, so decreaseTask only
// fires once every submitted job has completed, regardless of the order
// individual slots reach the dispatch loop. Invariant: Out <= In <=
// Planned. All three reset to 0 together once Out reaches Planned.
type TaskCounters struct {
	In      int
	Out     int
	Planned int
}

type execKey struct {
	taskType   string
	deviceType device.Type
}
