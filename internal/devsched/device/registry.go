package device

import "github.com/taskmesh/hetero-sched/internal/devsched/errs"

// Registry is the canonical catalog of devices, keyed by (type, id) for
// idempotent addition. It holds no lock of its own: callers (the
// scheduler process) serialize access with their own mutex, per the
// ownership rule in the data model — the scheduler exclusively owns the
// device roster.
type Registry struct {
	byKey  map[key]*Device
	byType map[Type][]*Device // insertion order, used for tie-breaks
	order  []*Device          // global insertion order
}

type key struct {
	t  Type
	id int
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[key]*Device),
		byType: make(map[Type][]*Device),
	}
}

// AddDevice appends d to the roster. Adding the same (type, id) twice is a
// no-op, matching the idempotent-by-(type,id) contract.
func (r *Registry) AddDevice(d *Device) {
	k := key{d.Type, d.ID}
	if _, exists := r.byKey[k]; exists {
		return
	}
	r.byKey[k] = d
	r.byType[d.Type] = append(r.byType[d.Type], d)
	r.order = append(r.order, d)
}

// Devices returns the full roster in insertion order. The slice is owned
// by the registry; callers must not mutate it.
func (r *Registry) Devices() []*Device {
	return r.order
}

// DevicesOf returns the devices of a given type, in insertion order.
func (r *Registry) DevicesOf(t Type) []*Device {
	return r.byType[t]
}

// RegisterAbility attaches an ability to every device of deviceType whose
// ability map does not already contain taskType; a repeat registration
// with a different affinity overwrites the prior one (idempotent by
// (deviceType, taskType) when the affinity is unchanged).
func (r *Registry) RegisterAbility(deviceType Type, taskType string, affinity float64, executorKind, artifactPath string) error {
	if !deviceType.Valid() {
		return errs.ErrUnknownDevice
	}
	if affinity <= 0 || affinity > 1 {
		return errs.ErrInvalidAffinity
	}
	devices, ok := r.byType[deviceType]
	if !ok || len(devices) == 0 {
		return errs.ErrUnknownDevice
	}
	ability := Ability{
		TaskType:     taskType,
		Affinity:     affinity,
		ExecutorKind: executorKind,
		ArtifactPath: artifactPath,
	}
	for _, d := range devices {
		if existing, ok := d.Ability(taskType); !ok || existing != ability {
			d.setAbility(ability)
		}
	}
	return nil
}

// LookupAbility returns the ability a given device has for taskType, if any.
func (r *Registry) LookupAbility(d *Device, taskType string) (Ability, bool) {
	return d.Ability(taskType)
}
