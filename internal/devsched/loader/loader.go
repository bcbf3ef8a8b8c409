// Package loader defines the boundary to the compilation/loader backend
// that the scheduler and client treat as an external collaborator: it
// produces and loads device-specific executable artifacts from a source
// model, and it is what actually runs inference on a device. This
// package only names the interface and ships a minimal filesystem-backed
// stub that honors the artifact-layout/idempotency contract, so the rest
// of the system is testable without a real compiler.
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/errs"
)

// Handle is an opaque loaded-executor reference, returned by Load and
// consumed by Compute. Its concrete shape is owned by the real backend;
// here it is just carried through.
type Handle any

// Loader is the external collaborator boundary:
// build(taskType, modelSource) -> (executorKind, artifactPath),
// load(executorKind, artifactPath) -> executorHandle,
// compute(executorKind, executorHandle, input) -> output.
type Loader interface {
	Build(taskType, modelSource string) (executorKind, artifactPath string, err error)
	Load(executorKind, artifactPath string) (Handle, error)
	Compute(executorKind string, h Handle, input any) (output any, err error)
}

// FilesystemLoader is a deterministic stand-in for the real compiler
// backend. It implements the artifact layout and idempotency rule
// (<repo>/device/<DEVICE_TYPE>/<DEVICE_TYPE>_<taskType>.{artifact,code})
// so RegisterTask's all-or-nothing commit behavior is exercisable without
// TVM, ONNX, or any real target toolchain present.
type FilesystemLoader struct {
	RepoRoot   string
	DeviceType device.Type

	// ComputeFn, when set, is invoked by Compute() to synthesize a result
	// for tests; with a nil ComputeFn, Compute returns the input unchanged.
	ComputeFn func(executorKind string, h Handle, input any) (any, error)
}

// NewFilesystemLoader returns a loader rooted at repoRoot for deviceType.
func NewFilesystemLoader(repoRoot string, deviceType device.Type) *FilesystemLoader {
	return &FilesystemLoader{RepoRoot: repoRoot, DeviceType: deviceType}
}

func (l *FilesystemLoader) artifactPaths(taskType string) (artifact, code string) {
	dir := filepath.Join(l.RepoRoot, "device", string(l.DeviceType))
	base := fmt.Sprintf("%s_%s", l.DeviceType, taskType)
	return filepath.Join(dir, base+".artifact"), filepath.Join(dir, base+".code")
}

// Build reuses the artifact on disk if it already exists; otherwise it
// creates the directory and touches both files to represent a completed
// build. modelSource is ignored: this stub does not read it.
func (l *FilesystemLoader) Build(taskType, modelSource string) (string, string, error) {
	artifactPath, codePath := l.artifactPaths(taskType)
	if _, err := os.Stat(artifactPath); err == nil {
		return "stub-executor", artifactPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(artifactPath), 0o755); err != nil {
		return "", "", fmt.Errorf("%w: %v", errs.ErrBuildFailed, err)
	}
	for _, p := range []string{artifactPath, codePath} {
		f, err := os.Create(p)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", errs.ErrBuildFailed, err)
		}
		f.Close()
	}
	return "stub-executor", artifactPath, nil
}

// Load checks that the artifact exists and returns its path as the handle.
func (l *FilesystemLoader) Load(executorKind, artifactPath string) (Handle, error) {
	if _, err := os.Stat(artifactPath); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrLoadFailed, err)
	}
	return artifactPath, nil
}

// Compute delegates to ComputeFn if set, otherwise echoes the input back.
func (l *FilesystemLoader) Compute(executorKind string, h Handle, input any) (any, error) {
	if l.ComputeFn != nil {
		out, err := l.ComputeFn(executorKind, h, input)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrComputeFailed, err)
		}
		return out, nil
	}
	return input, nil
}
