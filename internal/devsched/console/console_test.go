package console

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskmesh/hetero-sched/internal/devsched/strategy"
)

type fakeSwitcher struct {
	calls int32
	mode  strategy.Mode
}

func (f *fakeSwitcher) SwitchMode(ctx context.Context) strategy.Mode {
	atomic.AddInt32(&f.calls, 1)
	if f.mode == strategy.Static {
		f.mode = strategy.Dynamic
	} else {
		f.mode = strategy.Static
	}
	return f.mode
}

func TestRunProcessesSwitchThenExit(t *testing.T) {
	sw := &fakeSwitcher{}
	r := New(sw, strings.NewReader("switch\nswitch\nexit\n"), nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("REPL did not exit on \"exit\" command")
	}

	assert.EqualValues(t, 2, atomic.LoadInt32(&sw.calls))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sw := &fakeSwitcher{}
	r := New(sw, strings.NewReader(""), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("REPL did not stop after context cancellation")
	}
}

func TestUnrecognizedCommandDoesNotStopLoop(t *testing.T) {
	sw := &fakeSwitcher{}
	r := New(sw, strings.NewReader("bogus\nswitch\nexit\n"), nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("REPL did not exit")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&sw.calls))
}
