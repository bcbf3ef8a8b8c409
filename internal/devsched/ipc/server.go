package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/net-rpc-msgpackrpc/v2"
	"github.com/sirupsen/logrus"

	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/scheduler"
)

// SchedulerRPC is the net/rpc service exposed over the Unix socket. Every
// method signature follows the (args, *reply) error convention net/rpc
// requires; the method bodies just translate wire types to/from the
// Scheduler's native API.
type SchedulerRPC struct {
	sched *scheduler.Scheduler
}

func (r *SchedulerRPC) RegisterAbility(args RegisterAbilityArgs, reply *RegisterAbilityReply) error {
	dt := device.Type(args.DeviceType)
	if err := r.sched.RegisterAbility(dt, args.TaskType, args.Affinity, args.ExecutorKind, args.ArtifactPath); err != nil {
		return err
	}
	*reply = RegisterAbilityReply{}
	return nil
}

func (r *SchedulerRPC) IncreaseTask(args IncreaseTaskArgs, reply *IncreaseTaskReply) error {
	r.sched.IncreaseTask(context.Background(), args.TaskType)
	*reply = IncreaseTaskReply{}
	return nil
}

func (r *SchedulerRPC) DecreaseTask(args DecreaseTaskArgs, reply *DecreaseTaskReply) error {
	r.sched.DecreaseTask(context.Background(), args.TaskType)
	*reply = DecreaseTaskReply{}
	return nil
}

func (r *SchedulerRPC) GetStrategy(args GetStrategyArgs, reply *GetStrategyReply) error {
	types := r.sched.GetStrategy(args.TaskType)
	devices := make([]string, len(types))
	for i, t := range types {
		devices[i] = string(t)
	}
	*reply = GetStrategyReply{Devices: devices}
	return nil
}

// Server listens on a Unix domain socket, authenticates every connection
// with the pre-shared key before handing it to net/rpc, and serves
// SchedulerRPC.
type Server struct {
	SocketPath   string
	PresharedKey []byte
	Scheduler    *scheduler.Scheduler
	Logger       *logrus.Logger

	rpcServer *rpc.Server
	listener  net.Listener

	wg sync.WaitGroup
}

// Listen binds the Unix socket, removing a stale socket file left behind
// by a previous, uncleanly terminated run.
func (s *Server) Listen() error {
	if s.Logger == nil {
		s.Logger = logrus.New()
	}
	if err := os.RemoveAll(s.SocketPath); err != nil {
		return fmt.Errorf("devsched/ipc: removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("devsched/ipc: listening on %s: %w", s.SocketPath, err)
	}
	s.listener = ln

	s.rpcServer = rpc.NewServer()
	if err := s.rpcServer.RegisterName("SchedulerRPC", &SchedulerRPC{sched: s.Scheduler}); err != nil {
		return fmt.Errorf("devsched/ipc: registering RPC service: %w", err)
	}
	return nil
}

// Serve accepts connections until the listener is closed, authenticating
// and dispatching each on its own goroutine. It blocks until Close is
// called, at which point it returns nil.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("devsched/ipc: accept: %w", err)
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connID := uuid.NewString()
	log := s.Logger.WithField("connection_id", connID)

	if err := serverHandshake(conn, s.PresharedKey); err != nil {
		log.WithError(err).Warn("devsched/ipc: rejecting unauthenticated connection")
		return
	}
	log.Debug("devsched/ipc: connection authenticated")

	codec := msgpackrpc.NewCodec(true, true, conn)
	s.rpcServer.ServeCodec(codec)
}

// Close stops accepting new connections and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.RemoveAll(s.SocketPath)
	return err
}
