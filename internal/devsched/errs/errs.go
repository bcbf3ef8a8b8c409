// Package errs collects the sentinel errors shared by the scheduler and
// client processes. They live in their own package so both sides of the
// IPC boundary can compare against the same strings: net/rpc only carries
// error text across the wire, so a client-side errors.Is check has to key
// off Error() rather than identity.
package errs

import "errors"

var (
	// ErrUnknownDevice is returned when an operation names a device type
	// outside the closed enum (CPU, GPU, NPU, FPGA).
	ErrUnknownDevice = errors.New("devsched: unknown device type")

	// ErrInvalidAffinity is returned when an ability is registered with
	// an affinity outside (0,1].
	ErrInvalidAffinity = errors.New("devsched: affinity must be in (0,1]")

	// ErrBuildFailed wraps a failure from the external loader's Build step.
	ErrBuildFailed = errors.New("devsched: artifact build failed")

	// ErrLoadFailed wraps a failure from the external loader's Load step.
	ErrLoadFailed = errors.New("devsched: artifact load failed")

	// ErrComputeFailed wraps a failure from the external loader's Compute step.
	ErrComputeFailed = errors.New("devsched: compute failed")

	// ErrIPCFailure indicates a scheduler RPC call failed or timed out.
	ErrIPCFailure = errors.New("devsched: ipc call failed")

	// ErrStrategyTimeout indicates the dynamic search exceeded its budget
	// and the engine fell back to the static result.
	ErrStrategyTimeout = errors.New("devsched: dynamic strategy search timed out")

	// ErrQueueFull indicates the client's pending task-definition queue is
	// at capacity.
	ErrQueueFull = errors.New("devsched: pending task queue is full")

	// ErrEmptyStrategy indicates a dispatch was attempted for a task type
	// whose strategy has no devices to select from.
	ErrEmptyStrategy = errors.New("devsched: strategy has no eligible devices")
)
