package model

import "time"

// RunStatus represents the status of a driver run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusSucceeded indicates the run ended without errors.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed indicates the run ended with an error.
	RunStatusFailed RunStatus = "failed"
)

// Run is the journal record of a driver run.
type Run struct {
	ID         string
	Status     RunStatus
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
