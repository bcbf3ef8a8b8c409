// Package strategy computes, for a roster of devices and a set of active
// task types, the device-assignment strategy the client dispatch loop
// consults on every request. It implements both the static (greedy) and
// dynamic (exhaustive) modes described in the scheduler design.
package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/errs"
)

// Strategy maps a task type to an ordered preference list of device
// types. Order is semantically significant: the client dispatch loop
// tries devices in list order, so the first entry is the preferred one.
type Strategy map[string][]device.Type

// Clone returns a deep copy of s: mutating the copy's lists never
// affects s.
func (s Strategy) Clone() Strategy {
	out := make(Strategy, len(s))
	for k, v := range s {
		cp := make([]device.Type, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Mode is the engine's global, togglable assignment policy.
type Mode int

const (
	Static Mode = iota
	Dynamic
)

// Engine computes strategies over a device roster.
type Engine struct {
	logger *logrus.Logger
}

// New returns a strategy engine that logs fallbacks and anomalies to logger.
func New(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{logger: logger}
}

// Compute produces the strategy for the given active task types under the
// requested mode, applying a hard wall-clock budget to the dynamic search.
// Devices' task-list, equivalent-power and sample windows are updated in
// place as a side effect. now is the tick written into freshly opened
// throughput samples.
func (e *Engine) Compute(ctx context.Context, mode Mode, activeTasks []string, devices []*device.Device, now time.Time) Strategy {
	for _, d := range devices {
		d.ResetTasks()
	}
	if len(activeTasks) == 0 {
		return Strategy{}
	}

	var assignment map[string][]*device.Device
	if mode == Dynamic {
		partial, timedOut := e.dynamicAssignment(ctx, activeTasks, devices)
		switch {
		case !timedOut:
			assignment = partial
		case partial != nil:
			e.logger.WithFields(logrus.Fields{
				"mode":   "dynamic",
				"result": "partial",
			}).Warn("strategy: dynamic search exceeded its budget, using best candidate found so far")
			assignment = partial
		default:
			e.logger.WithFields(logrus.Fields{
				"mode":     "dynamic",
				"fallback": "static",
			}).Warn("strategy: dynamic search exceeded its budget with no candidate found, falling back to static result")
			assignment = e.staticAssignment(activeTasks, devices)
		}
	} else {
		assignment = e.staticAssignment(activeTasks, devices)
	}

	return e.writeBack(activeTasks, devices, assignment, now)
}

// staticAssignment picks, for every active task independently, the single
// device maximizing computePower*affinity. Ties are broken by roster
// insertion order (the first matching device in devices wins, since
// strict '>' never replaces an incumbent).
func (e *Engine) staticAssignment(activeTasks []string, devices []*device.Device) map[string][]*device.Device {
	out := make(map[string][]*device.Device, len(activeTasks))
	for _, task := range activeTasks {
		var best *device.Device
		var bestPower float64
		for _, d := range devices {
			ability, ok := d.Ability(task)
			if !ok {
				continue
			}
			power := float64(d.ComputePower) * ability.Affinity
			if power > bestPower {
				bestPower = power
				best = d
			}
		}
		if best != nil {
			out[task] = []*device.Device{best}
		} else {
			out[task] = nil
		}
	}
	return out
}

// dynamicAssignment explores the full product space of task -> device
// subset assignments via an iterative stack-based DFS, which keeps the
// search trivially cancelable between pops. It returns the winning
// assignment and whether the search was aborted by ctx before one was
// found to completion.
func (e *Engine) dynamicAssignment(ctx context.Context, activeTasks []string, devices []*device.Device) (map[string][]*device.Device, bool) {
	subsets := powerset(devices)

	type frame struct {
		remaining  []string
		assignment map[string][]*device.Device
	}

	stack := []frame{{remaining: activeTasks, assignment: map[string][]*device.Device{}}}

	var bestScore float64
	var bestAssignment map[string][]*device.Device
	haveBest := false

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return bestAssignment, true
		default:
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(top.remaining) == 0 {
			if !isRational(top.assignment) {
				continue
			}
			score := scoreAssignment(top.assignment, devices)
			if !haveBest || score > bestScore {
				haveBest = true
				bestScore = score
				bestAssignment = top.assignment
			}
			continue
		}

		task := top.remaining[0]
		rest := top.remaining[1:]
		for _, subset := range subsets {
			next := make(map[string][]*device.Device, len(top.assignment)+1)
			for k, v := range top.assignment {
				next[k] = v
			}
			next[task] = subset
			stack = append(stack, frame{remaining: rest, assignment: next})
		}
	}

	if !haveBest {
		// No rational assignment exists for any candidate: every task
		// maps to an empty list.
		out := make(map[string][]*device.Device, len(activeTasks))
		for _, t := range activeTasks {
			out[t] = nil
		}
		return out, false
	}
	return bestAssignment, false
}

// powerset returns every subset of devices, including the empty subset,
// in a stable order: subset k holds device i exactly when bit i of k is
// set (so the empty set comes first), devices within a subset in roster
// order. This determinism is what gives the
// enumeration its "ties broken by first-seen order" guarantee.
func powerset(devices []*device.Device) [][]*device.Device {
	n := len(devices)
	out := make([][]*device.Device, 0, 1<<uint(n))
	out = append(out, nil)
	for mask := 1; mask < (1 << uint(n)); mask++ {
		var subset []*device.Device
		for i := 0; i < n; i++ {
			if mask&(1<<uint(i)) != 0 {
				subset = append(subset, devices[i])
			}
		}
		out = append(out, subset)
	}
	return out
}

// isRational rejects an assignment if any (task, device) pair violates
// rationality: the device must have an ability for the task it is
// assigned.
func isRational(assignment map[string][]*device.Device) bool {
	for task, devices := range assignment {
		for _, d := range devices {
			if !d.HasAbility(task) {
				return false
			}
		}
	}
	return true
}

// scoreAssignment computes the sum of equivalentPower across all devices
// for a candidate assignment, without mutating the devices themselves
// (the caller writes the winner back separately).
func scoreAssignment(assignment map[string][]*device.Device, devices []*device.Device) float64 {
	tasksOf := make(map[*device.Device][]string, len(devices))
	for task, ds := range assignment {
		for _, d := range ds {
			tasksOf[d] = append(tasksOf[d], task)
		}
	}
	var total float64
	for _, d := range devices {
		tasks := tasksOf[d]
		if len(tasks) == 0 {
			continue
		}
		var sum float64
		for _, t := range tasks {
			ability, _ := d.Ability(t)
			sum += float64(d.ComputePower) * ability.Affinity
		}
		total += sum / float64(len(tasks))
	}
	return total
}

// writeBack commits the winning assignment into the device roster (task
// lists, equivalent power, fresh throughput windows) and returns the
// resulting Strategy map, with one entry per active task; each list keeps
// the order of the assigned devices.
func (e *Engine) writeBack(activeTasks []string, devices []*device.Device, assignment map[string][]*device.Device, now time.Time) Strategy {
	strat := make(Strategy, len(activeTasks))
	for _, task := range activeTasks {
		assigned := assignment[task]
		types := make([]device.Type, 0, len(assigned))
		for _, d := range assigned {
			d.AssignTask(task, now)
			types = append(types, d.Type)
		}
		strat[task] = types
	}

	for _, d := range devices {
		tasks := d.TaskTypes()
		if len(tasks) == 0 {
			d.EquivalentPower = 0
			continue
		}
		var sum float64
		for _, t := range tasks {
			ability, _ := d.Ability(t)
			sum += float64(d.ComputePower) * ability.Affinity
		}
		d.EquivalentPower = sum / float64(len(tasks))
	}

	return strat
}

// ErrTimeout is returned by callers that want to classify a fallback as
// the StrategyTimeout error from the error taxonomy, since Compute itself
// only logs and falls back silently to the caller's perspective.
var ErrTimeout = errs.ErrStrategyTimeout
