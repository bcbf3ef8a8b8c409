package client

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/errs"
)

// RunTask executes a single request for taskType, following the five
// numbered steps of the hot-path dispatch loop: strategy-refresh gating,
// device acquisition under the condition variable, execution outside the
// lock, release with a broadcast, and completion accounting.
func (s *TaskService) RunTask(ctx context.Context, taskType string, input any) (any, error) {
	strategyList, err := s.gateAndRefreshStrategy(ctx, taskType)
	if err != nil {
		return nil, err
	}

	dev, err := s.acquireDevice(strategyList)
	if err != nil {
		return nil, err
	}

	key := execKey{taskType: taskType, deviceType: dev}
	s.mu.Lock()
	handle, haveHandle := s.executors[key]
	executorKind := s.executorKinds[key]
	s.mu.Unlock()
	if !haveHandle {
		s.releaseDevice(dev)
		return nil, fmt.Errorf("client: no executor registered for task %q on device %s", taskType, dev)
	}

	output, computeErr := s.loader.Compute(executorKind, handle, input)

	s.releaseDevice(dev)
	s.accountCompletion(ctx, taskType)

	return output, computeErr
}

// gateAndRefreshStrategy implements dispatch step 1: under clientLock, a
// 0-in-count transition triggers increaseTask and a fresh strategy
// snapshot; otherwise every batchSize-th call re-fetches it. The whole
// gate, including the IPC round trip, holds clientLock, so two concurrent
// first-entry calls can never both observe a 0 in-count and both issue
// increaseTask, and a call arriving while a fetch is in flight waits for
// that snapshot instead of reading a missing one.
func (s *TaskService) gateAndRefreshStrategy(ctx context.Context, taskType string) ([]device.Type, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters, ok := s.counters[taskType]
	if !ok {
		counters = &TaskCounters{}
		s.counters[taskType] = counters
	}

	needsFetch := counters.In == 0
	refetch := !needsFetch && counters.In%s.batchSize == 0
	counters.In++
	if counters.Planned < counters.In {
		counters.Planned = counters.In
	}

	if needsFetch {
		if err := s.scheduler.IncreaseTask(ctx, taskType); err != nil {
			return nil, fmt.Errorf("client: increaseTask(%q): %w", taskType, err)
		}
		if err := s.refreshStrategy(ctx, taskType); err != nil {
			return nil, err
		}
	} else if refetch {
		if err := s.refreshStrategy(ctx, taskType); err != nil {
			return nil, err
		}
	}

	strategyList := make([]device.Type, len(s.strategies[taskType]))
	copy(strategyList, s.strategies[taskType])

	return strategyList, nil
}

// refreshStrategy re-fetches taskType's strategy snapshot. Callers must
// hold s.mu.
func (s *TaskService) refreshStrategy(ctx context.Context, taskType string) error {
	list, err := s.scheduler.GetStrategy(ctx, taskType)
	if err != nil {
		return fmt.Errorf("client: getStrategy(%q): %w", taskType, err)
	}
	s.strategies[taskType] = list
	return nil
}

// acquireDevice implements dispatch step 2: scan the strategy list in
// order for the first free device, mark it busy, and wait on the
// condition variable if none is free. Every device type named in a
// strategy must already have an entry in the busy table (populated by
// RegisterTask) — callers must not submit a task type with an empty
// strategy or with devices never registered on this client.
func (s *TaskService) acquireDevice(strategyList []device.Type) (device.Type, error) {
	if len(strategyList) == 0 {
		return "", errs.ErrEmptyStrategy
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for _, dev := range strategyList {
			if busy, ok := s.busy[dev]; ok && !busy {
				s.busy[dev] = true
				return dev, nil
			}
		}
		s.cond.Wait()
	}
}

// releaseDevice implements dispatch step 4: release always precedes the
// broadcast that wakes waiters.
func (s *TaskService) releaseDevice(dev device.Type) {
	s.mu.Lock()
	s.busy[dev] = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// accountCompletion implements dispatch step 5: decreaseTask fires once
// out-count reaches the task type's planned total, not merely its
// current in-count, so a batch's decrease cannot fire before every
// submitted slot has actually reached this dispatch loop.
func (s *TaskService) accountCompletion(ctx context.Context, taskType string) {
	s.mu.Lock()
	counters := s.counters[taskType]
	counters.Out++
	done := counters.Out == counters.Planned
	if done {
		counters.In, counters.Out, counters.Planned = 0, 0, 0
	}
	s.mu.Unlock()

	if done {
		if err := s.scheduler.DecreaseTask(ctx, taskType); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"task_type": taskType}).
				Warn("client: decreaseTask failed")
		}
	}
}
