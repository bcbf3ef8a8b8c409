package ipc

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"time"

	"github.com/hashicorp/net-rpc-msgpackrpc/v2"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/errs"
)

// DefaultCallTimeout bounds a single RPC round trip when Dial is given a
// non-positive call timeout. A caller's context deadline, if earlier,
// still applies.
const DefaultCallTimeout = 2 * time.Second

// Client is a thin, context-aware wrapper around a net/rpc client dialed
// to the scheduler's Unix socket.
type Client struct {
	SocketPath   string
	PresharedKey []byte
	CallTimeout  time.Duration

	conn net.Conn
	rpc  *rpc.Client
}

// Dial connects to the scheduler's socket and performs the pre-shared-key
// handshake before any RPC call is attempted.
func Dial(socketPath string, presharedKey []byte, callTimeout time.Duration) (*Client, error) {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", errs.ErrIPCFailure, socketPath, err)
	}
	if err := clientHandshake(conn, presharedKey); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake: %v", errs.ErrIPCFailure, err)
	}

	codec := msgpackrpc.NewCodec(true, true, conn)
	return &Client{
		SocketPath:   socketPath,
		PresharedKey: presharedKey,
		CallTimeout:  callTimeout,
		conn:         conn,
		rpc:          rpc.NewClientWithCodec(codec),
	}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	ctx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()

	call := c.rpc.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case res := <-call.Done:
		if res.Error != nil {
			return fmt.Errorf("%w: %s: %v", errs.ErrIPCFailure, method, res.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", errs.ErrIPCFailure, method, ctx.Err())
	}
}

// RegisterAbility calls SchedulerRPC.RegisterAbility.
func (c *Client) RegisterAbility(ctx context.Context, deviceType device.Type, taskType string, affinity float64, executorKind, artifactPath string) error {
	args := RegisterAbilityArgs{
		DeviceType:   string(deviceType),
		TaskType:     taskType,
		Affinity:     affinity,
		ExecutorKind: executorKind,
		ArtifactPath: artifactPath,
	}
	var reply RegisterAbilityReply
	return c.call(ctx, "SchedulerRPC.RegisterAbility", args, &reply)
}

// IncreaseTask calls SchedulerRPC.IncreaseTask.
func (c *Client) IncreaseTask(ctx context.Context, taskType string) error {
	var reply IncreaseTaskReply
	return c.call(ctx, "SchedulerRPC.IncreaseTask", IncreaseTaskArgs{TaskType: taskType}, &reply)
}

// DecreaseTask calls SchedulerRPC.DecreaseTask.
func (c *Client) DecreaseTask(ctx context.Context, taskType string) error {
	var reply DecreaseTaskReply
	return c.call(ctx, "SchedulerRPC.DecreaseTask", DecreaseTaskArgs{TaskType: taskType}, &reply)
}

// GetStrategy calls SchedulerRPC.GetStrategy, translating the reply's
// string list back into device.Type values.
func (c *Client) GetStrategy(ctx context.Context, taskType string) ([]device.Type, error) {
	var reply GetStrategyReply
	if err := c.call(ctx, "SchedulerRPC.GetStrategy", GetStrategyArgs{TaskType: taskType}, &reply); err != nil {
		return nil, err
	}
	out := make([]device.Type, len(reply.Devices))
	for i, d := range reply.Devices {
		out[i] = device.Type(d)
	}
	return out, nil
}
