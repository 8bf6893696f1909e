// Package term provides terminal utilities used around package tool runs.
package term

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
)

// ErrFlushUnsupported is returned when the platform can't discard a terminal input queue.
var ErrFlushUnsupported = errors.New("terminal input flush not supported")

// IsTerminal returns true if the file is a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// InterruptGuard keeps the process alive on interactive interrupts while a
// child that ignores them is running.
type InterruptGuard interface {
	// Acquire starts discarding the interrupt signals, the returned function
	// restores the previous handling and can be called multiple times.
	Acquire() (release func())
}

var interruptSignals = []os.Signal{syscall.SIGINT, syscall.SIGQUIT}

// SignalGuard catches and discards SIGINT and SIGQUIT while acquired, so they
// don't terminate the process. Other signal.Notify registrations keep
// receiving them, and release only removes the guard's own registration.
// Signals already ignored by the process are left as they are.
var SignalGuard InterruptGuard = signalGuard{}

type signalGuard struct{}

func (signalGuard) Acquire() func() {
	var sigs []os.Signal
	for _, s := range interruptSignals {
		if !signal.Ignored(s) {
			sigs = append(sigs, s)
		}
	}
	if len(sigs) == 0 {
		return func() {}
	}

	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)
	go func() {
		for {
			select {
			case <-ch:
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

// NoopGuard doesn't touch the signal dispositions.
var NoopGuard InterruptGuard = noopGuard{}

type noopGuard struct{}

func (noopGuard) Acquire() func() { return func() {} }
