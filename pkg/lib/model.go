package lib

import (
	"errors"
	"time"

	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/progress"
)

// OperationKind is the kind of action requested on a package.
type OperationKind string

const (
	// OperationInstall unpacks a package archive.
	OperationInstall OperationKind = "install"
	// OperationConfigure configures an unpacked package.
	OperationConfigure OperationKind = "configure"
	// OperationRemove removes a package keeping its configuration files.
	OperationRemove OperationKind = "remove"
	// OperationPurge removes a package and its configuration files.
	OperationPurge OperationKind = "purge"
)

// Operation is a requested operation on a package.
type Operation struct {
	Kind OperationKind
	// Package is the package name (required).
	Package string
	// Archive is the absolute archive path, required for installs only.
	Archive string
	// Version is the version provided by the archive, optional.
	Version string
}

// Package is a package of the catalog.
type Package struct {
	Name         string
	Architecture string
	// CurrentVersion is the installed version, empty when not installed.
	CurrentVersion string
	// CandidateVersion is the last version requested for install.
	CandidateVersion string
}

// RunStatus is the status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the record of a dpkg run.
type Run struct {
	ID     string
	Status RunStatus
	// Error is the failure message of a failed run.
	Error      string
	Operations int
	Batches    int
	TotalSteps int
	DoneSteps  int
	Packages   []PackageProgress
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Percentage returns the completion percentage of the run.
func (r Run) Percentage() float64 {
	if r.TotalSteps == 0 {
		return 0
	}
	return float64(r.DoneSteps) / float64(r.TotalSteps) * 100.0
}

// PackageProgress is the progress a package reached on a run.
type PackageProgress struct {
	Name       string
	Operations []OperationKind
	DoneSteps  int
	TotalSteps int
}

// Invocation is a planned dpkg invocation.
type Invocation struct {
	Kind     OperationKind
	Packages []string
	Args     []string
}

// Plan is the set of dpkg invocations operations would run.
type Plan struct {
	Invocations []Invocation
	TotalSteps  int
}

// EventKind is the kind of a progress event.
type EventKind string

const (
	// EventStatus is sent when a package reaches an expected state.
	EventStatus EventKind = "pmstatus"
	// EventError is sent when dpkg reports an error processing a package.
	EventError EventKind = "pmerror"
	// EventConffile is sent when dpkg prompts about a configuration file.
	EventConffile EventKind = "pmconffile"
)

// Event is a progress event of a run.
type Event struct {
	Kind    EventKind
	Package string
	// Percentage is the global completion percentage when the event was sent.
	Percentage float64
	Message    string
}

// CheckStatus is the status of a preflight check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = "ok"
	CheckStatusWarning CheckStatus = "warning"
	CheckStatusError   CheckStatus = "error"
)

// CheckResult is the outcome of a preflight check.
type CheckResult struct {
	ID      string
	Message string
	Status  CheckStatus
}

var (
	// ErrNotFound is returned when a package or run doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrNotValid is returned when the input is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidOperation is returned when an operation can't be queued.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrSpawn is returned when dpkg or a hook could not be started.
	ErrSpawn = errors.New("could not spawn process")
	// ErrHookFailure is returned when a configured hook fails.
	ErrHookFailure = errors.New("hook failed")
	// ErrToolCrash is returned when dpkg is killed by a signal.
	ErrToolCrash = errors.New("package tool crashed")
	// ErrToolNonZeroExit is returned when dpkg exits with an error code.
	ErrToolNonZeroExit = errors.New("package tool returned an error code")
)

var errorMappings = []struct {
	internal error
	public   error
}{
	{model.ErrNotFound, ErrNotFound},
	{model.ErrInvalidOperation, ErrInvalidOperation},
	{model.ErrNotValid, ErrNotValid},
	{model.ErrSpawn, ErrSpawn},
	{model.ErrHookFailure, ErrHookFailure},
	{model.ErrToolCrash, ErrToolCrash},
	{model.ErrToolNonZeroExit, ErrToolNonZeroExit},
}

// mapError makes internal errors match the public sentinels with errors.Is.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.internal) {
			return &mappedError{original: err, sentinel: m.public}
		}
	}

	return err
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool { return target == e.sentinel }

func (e *mappedError) Unwrap() error { return e.original }

func toInternalRequests(ops []Operation) []model.OperationRequest {
	reqs := make([]model.OperationRequest, 0, len(ops))
	for _, op := range ops {
		reqs = append(reqs, model.OperationRequest{
			Kind:        model.OperationKind(op.Kind),
			Package:     op.Package,
			ArchivePath: op.Archive,
			Version:     op.Version,
		})
	}
	return reqs
}

func fromInternalPackage(p model.Package) Package {
	return Package{
		Name:             p.Name,
		Architecture:     p.Architecture,
		CurrentVersion:   p.CurrentVersion,
		CandidateVersion: p.CandidateVersion,
	}
}

func fromInternalRun(r model.Run) Run {
	run := Run{
		ID:         r.ID,
		Status:     RunStatus(r.Status),
		Error:      r.Error,
		Operations: r.Operations,
		Batches:    r.Batches,
		TotalSteps: r.TotalSteps,
		DoneSteps:  r.DoneSteps,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, p := range r.Packages {
		kinds := make([]OperationKind, 0, len(p.Kinds))
		for _, k := range p.Kinds {
			kinds = append(kinds, OperationKind(k))
		}
		run.Packages = append(run.Packages, PackageProgress{
			Name:       p.Name,
			Operations: kinds,
			DoneSteps:  p.DoneSteps,
			TotalSteps: p.TotalSteps,
		})
	}
	return run
}

func fromInternalInvocation(inv model.Invocation) Invocation {
	pkgs := make([]string, 0, len(inv.Batch.Operations))
	for _, op := range inv.Batch.Operations {
		pkgs = append(pkgs, op.Package.Name)
	}
	return Invocation{
		Kind:     OperationKind(inv.Batch.Kind),
		Packages: pkgs,
		Args:     inv.Args,
	}
}

func fromInternalCheckResults(rs []model.CheckResult) []CheckResult {
	result := make([]CheckResult, len(rs))
	for i, r := range rs {
		result[i] = CheckResult{ID: r.ID, Message: r.Message, Status: CheckStatus(r.Status)}
	}
	return result
}

// reporterFunc adapts a progress callback to the driver reporter.
type reporterFunc func(Event)

func (f reporterFunc) Report(ev progress.Event) error {
	f(Event{
		Kind:       EventKind(ev.Kind),
		Package:    ev.Package,
		Percentage: ev.Percentage,
		Message:    ev.Message,
	})
	return nil
}
