package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskmesh/hetero-sched/internal/devsched/client"
	"github.com/taskmesh/hetero-sched/internal/devsched/device"
	"github.com/taskmesh/hetero-sched/internal/devsched/ipc"
	"github.com/taskmesh/hetero-sched/internal/devsched/loader"
	"github.com/taskmesh/hetero-sched/pkg/config"
)

// main drives a demo inference process: it dials the scheduler, registers
// one task type on the CPU, GPU and NPU device types, and fires a batch of
// requests through the dispatch loop.
func main() {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Demo inference client for the heterogeneous-device scheduler",
		Run:   runAgent,
	}

	rootCmd.Flags().String("config", "", "config file path")
	rootCmd.Flags().String("environment", "development", "environment name")
	rootCmd.Flags().String("task-type", "yolo", "task type to register and run")
	rootCmd.Flags().String("model-source", "models/yolo.onnx", "model source path passed to the loader's Build step")
	rootCmd.Flags().Int("batch", 16, "number of requests to submit")

	viper.BindPFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	mgr := config.NewManager(viper.GetString("environment"), viper.GetString("config"))
	cfg, err := mgr.Load()
	if err != nil {
		logger.WithError(err).Fatal("agent: failed to load configuration")
	}

	rpcClient, err := ipc.Dial(cfg.IPC.SocketPath, []byte(cfg.IPC.PresharedKey), cfg.IPC.CallTimeout)
	if err != nil {
		logger.WithError(err).Fatal("agent: failed to dial scheduler")
	}
	defer rpcClient.Close()

	repoRoot, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Fatal("agent: failed to resolve working directory")
	}

	taskType := viper.GetString("task-type")
	modelSource := viper.GetString("model-source")

	ld := loader.NewFilesystemLoader(repoRoot, device.GPU)

	svc := client.New(client.Config{
		BatchSize:      cfg.Client.BatchSize,
		WorkerPoolSize: cfg.Client.WorkerPoolSize,
		PendingCap:     cfg.Client.PendingCap,
	}, rpcClient, ld, logger)

	ctx := context.Background()
	affinities := map[device.Type]float64{
		device.CPU: 0.9,
		device.GPU: 0.7,
		device.NPU: 0.8,
	}
	if err := svc.RegisterTask(ctx, taskType, affinities, modelSource); err != nil {
		logger.WithError(err).Fatal("agent: failed to register task")
	}
	logger.WithField("task_type", taskType).Info("agent: task registered with scheduler")

	n := viper.GetInt("batch")
	inputs := make([]any, n)
	for i := range inputs {
		inputs[i] = i
	}

	results := svc.RunTaskBatch(ctx, taskType, func(ctx context.Context, svc *client.TaskService, input any) (any, error) {
		return svc.RunTask(ctx, taskType, input)
	}, inputs, 5*time.Second)

	succeeded := 0
	for _, r := range results {
		if r != nil {
			succeeded++
		}
	}
	logger.WithFields(logrus.Fields{
		"task_type": taskType,
		"submitted": n,
		"succeeded": succeeded,
	}).Info("agent: batch complete")
}
