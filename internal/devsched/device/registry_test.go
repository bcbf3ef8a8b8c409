package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/hetero-sched/internal/devsched/errs"
)

func newTestRegistry() (*Registry, *Device, *Device) {
	r := NewRegistry()
	cpu := New(CPU, 0, 40)
	gpu := New(GPU, 0, 500)
	r.AddDevice(cpu)
	r.AddDevice(gpu)
	return r, cpu, gpu
}

func TestAddDeviceIdempotentByTypeAndID(t *testing.T) {
	r := NewRegistry()
	d := New(CPU, 0, 40)
	r.AddDevice(d)
	r.AddDevice(d)
	assert.Len(t, r.Devices(), 1)
}

func TestRegisterAbilityUnknownDevice(t *testing.T) {
	r, _, _ := newTestRegistry()
	err := r.RegisterAbility(NPU, "yolo", 0.5, "vm", "/tmp/a.so")
	assert.ErrorIs(t, err, errs.ErrUnknownDevice)
}

func TestRegisterAbilityInvalidAffinity(t *testing.T) {
	r, _, _ := newTestRegistry()
	require.ErrorIs(t, r.RegisterAbility(CPU, "yolo", 0, "vm", "/tmp/a.so"), errs.ErrInvalidAffinity)
	require.ErrorIs(t, r.RegisterAbility(CPU, "yolo", 1.5, "vm", "/tmp/a.so"), errs.ErrInvalidAffinity)
}

func TestRegisterAbilityIdempotent(t *testing.T) {
	r, cpu, _ := newTestRegistry()
	require.NoError(t, r.RegisterAbility(CPU, "yolo", 0.9, "relayVM", "/tmp/cpu_yolo.so"))
	a1, ok := cpu.Ability("yolo")
	require.True(t, ok)

	// Re-registering with the same affinity leaves state unchanged.
	require.NoError(t, r.RegisterAbility(CPU, "yolo", 0.9, "relayVM", "/tmp/cpu_yolo.so"))
	a2, _ := cpu.Ability("yolo")
	assert.Equal(t, a1, a2)

	// A different affinity overwrites the prior ability.
	require.NoError(t, r.RegisterAbility(CPU, "yolo", 0.5, "relayVM", "/tmp/cpu_yolo.so"))
	a3, _ := cpu.Ability("yolo")
	assert.Equal(t, 0.5, a3.Affinity)
}

func TestRegisterAbilityOnlyAffectsMatchingType(t *testing.T) {
	r, cpu, gpu := newTestRegistry()
	require.NoError(t, r.RegisterAbility(GPU, "yolo", 0.7, "relayVM", "/tmp/gpu_yolo.so"))
	assert.False(t, cpu.HasAbility("yolo"))
	assert.True(t, gpu.HasAbility("yolo"))
}
