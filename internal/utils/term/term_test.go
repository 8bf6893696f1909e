package term_test

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/dpkgdrv/internal/utils/term"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, term.IsTerminal(nil))

	f, err := os.Create(filepath.Join(t.TempDir(), "regular"))
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, term.IsTerminal(f))
}

func TestFlushInputIgnoresNonTerminals(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	assert.NoError(t, term.FlushInput(r))
}

func TestGuardsReleaseIsIdempotent(t *testing.T) {
	tests := map[string]struct {
		guard term.InterruptGuard
	}{
		"Signal guard.": {guard: term.SignalGuard},
		"Noop guard.":   {guard: term.NoopGuard},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			release := test.guard.Acquire()
			release()
			release()
		})
	}
}

func TestSignalGuardKeepsProcessAlive(t *testing.T) {
	release := term.SignalGuard.Acquire()
	defer release()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGQUIT))
	// Give the runtime time to handle the signal while the guard is held.
	time.Sleep(100 * time.Millisecond)
}

func TestSignalGuardKeepsOtherListeners(t *testing.T) {
	tests := map[string]struct {
		sig syscall.Signal
	}{
		"SIGINT.":  {sig: syscall.SIGINT},
		"SIGQUIT.": {sig: syscall.SIGQUIT},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, test.sig)
			defer signal.Stop(ch)

			release := term.SignalGuard.Acquire()
			release()

			require.NoError(t, syscall.Kill(os.Getpid(), test.sig))
			select {
			case s := <-ch:
				assert.Equal(t, test.sig, s)
			case <-time.After(5 * time.Second):
				t.Fatalf("%s listener lost after the guard release", test.sig)
			}
		})
	}
}
