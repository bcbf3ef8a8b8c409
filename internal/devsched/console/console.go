// Package console implements the scheduler operator's interactive
// mode-switch loop: a stdin REPL running as a goroutine inside the
// scheduler process, never exposed over IPC. It only posts events into
// the scheduler's existing serialization point (SwitchMode, which itself
// drives the event hub) rather than sharing any mutable state of its own.
package console

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/taskmesh/hetero-sched/internal/devsched/strategy"
)

// ModeSwitcher is the single operation the REPL drives.
type ModeSwitcher interface {
	SwitchMode(ctx context.Context) strategy.Mode
}

// REPL reads newline-delimited commands from r and drives sched.
// Recognized commands: "switch" (toggle static/dynamic mode) and "exit"
// (stop the loop without shutting down the process).
type REPL struct {
	Scheduler ModeSwitcher
	Logger    *logrus.Logger
	Input     io.Reader
}

// New constructs a REPL reading from in (typically os.Stdin).
func New(sched ModeSwitcher, in io.Reader, logger *logrus.Logger) *REPL {
	if logger == nil {
		logger = logrus.New()
	}
	return &REPL{Scheduler: sched, Logger: logger, Input: in}
}

// Run blocks processing commands until ctx is cancelled, the input
// stream is exhausted, or an "exit" command is read.
func (r *REPL) Run(ctx context.Context) {
	scanner := bufio.NewScanner(r.Input)
	lines := make(chan string)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if r.dispatch(ctx, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// dispatch handles one command; it returns true when the loop should
// stop.
func (r *REPL) dispatch(ctx context.Context, cmd string) bool {
	switch cmd {
	case "":
		return false
	case "switch":
		mode := r.Scheduler.SwitchMode(ctx)
		r.Logger.WithField("mode", mode).Info("console: strategy mode switched")
		return false
	case "exit":
		r.Logger.Info("console: exiting REPL")
		return true
	default:
		r.Logger.WithField("command", cmd).Warn("console: unrecognized command")
		return false
	}
}
