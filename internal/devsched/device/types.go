// Package device models the catalog of compute devices a scheduler knows
// about: their type, nominal compute power, and the abilities (task-type
// specific artifacts) registered against them.
package device

import "time"

// Type is one of the closed set of device kinds the scheduler understands.
// It is a string rather than an int enum so it serializes legibly across
// the RPC boundary and into log fields.
type Type string

const (
	CPU  Type = "CPU"
	GPU  Type = "GPU"
	NPU  Type = "NPU"
	FPGA Type = "FPGA"
)

// Ports is the deterministic telemetry port assigned to each device type.
var Ports = map[Type]int{
	CPU:  1900,
	GPU:  2000,
	NPU:  3000,
	FPGA: 4000,
}

// ValidTypes enumerates every device type known at compile time, in a
// stable order.
var ValidTypes = []Type{CPU, GPU, NPU, FPGA}

// Valid reports whether t is one of the closed set of device types.
func (t Type) Valid() bool {
	for _, v := range ValidTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Ability is the triple (affinity, executorKind, artifactPath) a device
// carries for a given task type. Affinity and the paths are immutable
// once registered.
type Ability struct {
	TaskType     string
	Affinity     float64
	ExecutorKind string
	ArtifactPath string
}

// Sample is a single throughput measurement taken for one of a device's
// currently assigned tasks: the tick it was measured at and the resulting
// frames-per-second.
type Sample struct {
	LastTick time.Time
	FPS      float64
}

// Device is one physical (or simulated) compute unit in the roster.
//
// Every field below is guarded by the scheduler's single process-wide
// mutex (see internal/devsched/scheduler); Device itself holds no lock.
type Device struct {
	Type         Type
	ID           int
	ComputePower int

	abilities map[string]Ability // task type -> ability
	taskTypes []string           // tasks currently assigned to this device
	fpsWindow []Sample           // parallel to taskTypes

	EquivalentPower float64
}

// New constructs a Device with an empty ability map.
func New(t Type, id, computePower int) *Device {
	return &Device{
		Type:         t,
		ID:           id,
		ComputePower: computePower,
		abilities:    make(map[string]Ability),
	}
}

// Ability returns the registered ability for taskType, if any.
func (d *Device) Ability(taskType string) (Ability, bool) {
	a, ok := d.abilities[taskType]
	return a, ok
}

// HasAbility reports whether the device can execute taskType at all.
func (d *Device) HasAbility(taskType string) bool {
	_, ok := d.abilities[taskType]
	return ok
}

// setAbility attaches or overwrites the ability for a task type. It is
// unexported: only the Registry mutates a device's ability map, so the
// "at most once per key" invariant lives in one place.
func (d *Device) setAbility(a Ability) {
	d.abilities[a.TaskType] = a
}

// ResetTasks clears the device's current task assignment and throughput
// window, as the strategy engine does before writing a fresh assignment.
func (d *Device) ResetTasks() {
	d.taskTypes = nil
	d.fpsWindow = nil
	d.EquivalentPower = 0
}

// AssignTask appends taskType to the device's current assignment and opens
// a fresh throughput sample for it.
func (d *Device) AssignTask(taskType string, at time.Time) {
	d.taskTypes = append(d.taskTypes, taskType)
	d.fpsWindow = append(d.fpsWindow, Sample{LastTick: at})
}

// TaskTypes returns the tasks currently assigned to the device. The slice
// is owned by the device; callers must not mutate it.
func (d *Device) TaskTypes() []string {
	return d.taskTypes
}

// RecordSample updates the throughput sample for the task at position idx
// in the device's task list (idx matches TaskTypes()/Samples() indexing).
func (d *Device) RecordSample(idx int, at time.Time, fps float64) {
	if idx < 0 || idx >= len(d.fpsWindow) {
		return
	}
	d.fpsWindow[idx] = Sample{LastTick: at, FPS: fps}
}

// Samples returns the current throughput window, parallel to TaskTypes().
func (d *Device) Samples() []Sample {
	return d.fpsWindow
}

// FPSFor returns the most recent throughput sample for taskType on this
// device, or 0 if the task is not currently assigned to it.
func (d *Device) FPSFor(taskType string) float64 {
	for i, t := range d.taskTypes {
		if t == taskType {
			return d.fpsWindow[i].FPS
		}
	}
	return 0
}
