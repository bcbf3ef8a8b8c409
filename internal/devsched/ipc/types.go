// Package ipc implements the scheduler's IPC endpoint: a net/rpc service
// over a Unix domain socket, authenticated with a pre-shared key, and
// exposing registerAbility / increaseTask / decreaseTask / getStrategy
// to dispatcher clients.
package ipc

// RegisterAbilityArgs is the payload for SchedulerRPC.RegisterAbility.
type RegisterAbilityArgs struct {
	DeviceType   string
	TaskType     string
	Affinity     float64
	ExecutorKind string
	ArtifactPath string
}

// RegisterAbilityReply carries no data; a non-nil RPC error means the
// registration failed (UnknownDevice / InvalidAffinity).
type RegisterAbilityReply struct{}

// IncreaseTaskArgs is the payload for SchedulerRPC.IncreaseTask.
type IncreaseTaskArgs struct {
	TaskType string
}

// IncreaseTaskReply carries no data.
type IncreaseTaskReply struct{}

// DecreaseTaskArgs is the payload for SchedulerRPC.DecreaseTask.
type DecreaseTaskArgs struct {
	TaskType string
}

// DecreaseTaskReply carries no data.
type DecreaseTaskReply struct{}

// GetStrategyArgs is the payload for SchedulerRPC.GetStrategy.
type GetStrategyArgs struct {
	TaskType string
}

// GetStrategyReply carries the ordered device-type preference list, as
// plain strings for msgpack portability.
type GetStrategyReply struct {
	Devices []string
}
