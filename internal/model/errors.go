package model

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrInvalidOperation is returned when an operation can't be queued.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrSpawn is returned when a child process could not be set up or started.
	ErrSpawn = errors.New("could not spawn process")
	// ErrHookFailure is returned when a configured hook fails.
	ErrHookFailure = errors.New("hook failed")
	// ErrToolCrash is returned when the package tool is killed by a signal.
	ErrToolCrash = errors.New("package tool crashed")
	// ErrToolNonZeroExit is returned when the package tool exits with a non-zero status.
	ErrToolNonZeroExit = errors.New("package tool returned an error code")
	// ErrInternal is returned when a precondition of the caller has been violated.
	ErrInternal = errors.New("internal error")
	// ErrMalformedStatusLine is used when a status stream line can't be parsed.
	// It never reaches the caller of a run.
	ErrMalformedStatusLine = errors.New("malformed status line")
)

// HookError is returned when a hook command fails.
type HookError struct {
	// Hook is the configuration hook name (e.g. Pre-Invoke).
	Hook string
	// Command is the configured command string that failed, empty when unknown.
	Command  string
	ExitCode int
}

func (e *HookError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("problem executing %s scripts: sub-process returned an error code (%d)", e.Hook, e.ExitCode)
	}
	return fmt.Sprintf("problem executing %s script %q: sub-process returned an error code (%d)", e.Hook, e.Command, e.ExitCode)
}

func (e *HookError) Unwrap() error { return ErrHookFailure }

// ToolExitError is returned when the package tool exits with a non-zero status.
type ToolExitError struct {
	Tool     string
	ExitCode int
}

func (e *ToolExitError) Error() string {
	return fmt.Sprintf("sub-process %s returned an error code (%d)", e.Tool, e.ExitCode)
}

func (e *ToolExitError) Unwrap() error { return ErrToolNonZeroExit }

// ToolCrashError is returned when the package tool terminates abnormally.
type ToolCrashError struct {
	Tool string
	// Signal is the signal that killed the tool, zero when unknown.
	Signal syscall.Signal
}

// Segfault returns true if the tool was killed by a segmentation fault.
func (e *ToolCrashError) Segfault() bool { return e.Signal == syscall.SIGSEGV }

func (e *ToolCrashError) Error() string {
	switch {
	case e.Segfault():
		return fmt.Sprintf("sub-process %s received a segmentation fault", e.Tool)
	case e.Signal != 0:
		return fmt.Sprintf("sub-process %s exited unexpectedly (%s)", e.Tool, e.Signal)
	default:
		return fmt.Sprintf("sub-process %s exited unexpectedly", e.Tool)
	}
}

func (e *ToolCrashError) Unwrap() error { return ErrToolCrash }
