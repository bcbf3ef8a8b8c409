package client

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskFunc is invoked once per batch slot; it is expected to call
// RunTask internally (possibly more than once, or on more than one task
// type) and return the value to place in that slot's output position.
type TaskFunc func(ctx context.Context, svc *TaskService, input any) (any, error)

// RunTaskBatch submits one job per input to a bounded worker pool,
// gathers results in input order, and logs (rather than fails) per-slot
// errors or timeouts — the slot is simply left empty. It records
// taskType's planned total as len(inputs) before dispatching any job, so
// completion accounting (TaskCounters.Planned) fires decreaseTask once
// every slot has completed rather than whenever out-count happens to
// catch up with however many slots have entered the dispatch loop so far.
func (s *TaskService) RunTaskBatch(ctx context.Context, taskType string, fn TaskFunc, inputs []any, perJobTimeout time.Duration) []any {
	s.mu.Lock()
	counters, ok := s.counters[taskType]
	if !ok {
		counters = &TaskCounters{}
		s.counters[taskType] = counters
	}
	counters.Planned = len(inputs)
	s.mu.Unlock()

	results := make([]any, len(inputs))
	sem := make(chan struct{}, s.workerPoolSize)
	done := make(chan struct{}, len(inputs))

	for i, in := range inputs {
		sem <- struct{}{}
		go func(slot int, input any) {
			defer func() { <-sem; done <- struct{}{} }()
			defer func() {
				if r := recover(); r != nil {
					s.logger.WithFields(logrus.Fields{
						"task_type": taskType,
						"slot":      slot,
					}).Errorf("client: panic in batch slot: %v", r)
				}
			}()

			jobCtx := ctx
			if perJobTimeout > 0 {
				var cancel context.CancelFunc
				jobCtx, cancel = context.WithTimeout(ctx, perJobTimeout)
				defer cancel()
			}

			out, err := fn(jobCtx, s, input)
			if err != nil {
				fields := logrus.Fields{"task_type": taskType, "slot": slot}
				if errors.Is(err, context.DeadlineExceeded) {
					s.logger.WithFields(fields).Warn("client: batch slot timed out")
				} else {
					s.logger.WithFields(fields).WithError(err).Error("client: batch slot failed")
				}
				return
			}
			results[slot] = out
		}(i, in)
	}

	for range inputs {
		<-done
	}
	return results
}
