package dpkg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/status"
	"github.com/slok/dpkgdrv/internal/utils/env"
	"github.com/slok/dpkgdrv/internal/utils/term"
)

// toolEnv is added to the package tool environment so it doesn't stop itself
// on job control signals.
var toolEnv = map[string]string{"DPKG_NO_TSTP": "yes"}

// statusFD is the descriptor number of the status pipe on the package tool,
// the first one after the standard ones.
func statusFD(cmd *exec.Cmd) int { return 3 + len(cmd.ExtraFiles) }

// runBatch runs the package tool and feeds its status stream to the parser
// until the tool exits.
func (d *Driver) runBatch(ctx context.Context, b model.Batch, parser *status.Parser) error {
	logger := d.logger.WithCtxValues(ctx)

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("could not create status pipe: %w: %w", model.ErrSpawn, err)
	}
	defer r.Close()

	cmd := exec.Command(d.tool)
	args, err := BuildArgs(d.tool, d.options, statusFD(cmd), b)
	if err != nil {
		w.Close()
		return err
	}
	cmd.Args = args
	cmd.ExtraFiles = append(cmd.ExtraFiles, w)
	cmd.Dir = d.runDir
	cmd.Env = env.Child(d.env, toolEnv)
	cmd.Stdin = d.stdin
	cmd.Stdout = d.stdout
	cmd.Stderr = d.stderr

	logger.Debugf("running %s", strings.Join(args, " "))

	if d.flushStdin {
		if f, ok := d.stdin.(*os.File); ok {
			if err := term.FlushInput(f); err != nil {
				logger.Warningf("could not flush stdin: %s", err)
			}
		}
	}

	release := d.guard.Acquire()
	defer release()

	err = cmd.Start()
	// The write end is only used by the tool.
	w.Close()
	if err != nil {
		return fmt.Errorf("could not start %s: %w: %w", d.tool, model.ErrSpawn, err)
	}

	lines := make(chan string)
	go readLines(r, lines, logger)

	waitC := make(chan error, 1)
	go func() { waitC <- cmd.Wait() }()

	var (
		waitErr error
		exited  bool
	)
	for !exited || lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			_ = parser.HandleLine(line)
		case waitErr = <-waitC:
			exited = true
			waitC = nil
			// Children of the tool can keep the pipe open, don't wait for them.
			if err := r.SetReadDeadline(time.Now().Add(d.drainTimeout)); err != nil {
				logger.Debugf("could not set status pipe deadline: %s", err)
			}
		}
	}
	release()

	return d.exitError(waitErr)
}

// readLines reads the status pipe sending every complete line until the pipe
// is closed or the read deadline is reached.
func readLines(r *os.File, lines chan<- string, logger log.Logger) {
	defer close(lines)

	lb := status.NewLineBuffer(status.MaxLineLength)
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			ls, ferr := lb.Feed(buf[:n])
			if ferr != nil {
				logger.Debugf("dropping status data: %s", ferr)
			}
			for _, l := range ls {
				lines <- l
			}
		}
		if err != nil {
			if lb.Pending() > 0 {
				logger.Debugf("dropping %d bytes of unterminated status line", lb.Pending())
			}
			return
		}
	}
}

func (d *Driver) exitError(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("could not wait %s: %w: %w", d.tool, model.ErrSpawn, err)
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return &model.ToolCrashError{Tool: d.tool, Signal: ws.Signal()}
	}

	if code := exitErr.ExitCode(); code > 0 {
		return &model.ToolExitError{Tool: d.tool, ExitCode: code}
	}

	return &model.ToolCrashError{Tool: d.tool}
}
