package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/dpkgdrv/internal/model"
)

// JSONPrinter prints driver information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type planOutput struct {
	TotalSteps  int                `json:"total_steps"`
	Invocations []invocationOutput `json:"invocations"`
}

type invocationOutput struct {
	Kind     string   `json:"kind"`
	Packages []string `json:"packages"`
	Bytes    int      `json:"bytes"`
	Args     []string `json:"args"`
}

type runOutput struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Operations int              `json:"operations"`
	Batches    int              `json:"batches"`
	TotalSteps int              `json:"total_steps"`
	DoneSteps  int              `json:"done_steps"`
	Percentage float64          `json:"percentage"`
	Packages   []packageOutcome `json:"packages,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at"`
}

type packageOutcome struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations"`
	DoneSteps  int      `json:"done_steps"`
	TotalSteps int      `json:"total_steps"`
}

type packageOutput struct {
	Name             string `json:"name"`
	Architecture     string `json:"architecture,omitempty"`
	CurrentVersion   string `json:"current_version,omitempty"`
	CandidateVersion string `json:"candidate_version,omitempty"`
}

type checkOutput struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintPlan prints the planned invocations in JSON format.
func (j *JSONPrinter) PrintPlan(invocations []model.Invocation, totalSteps int) error {
	output := planOutput{
		TotalSteps:  totalSteps,
		Invocations: make([]invocationOutput, 0, len(invocations)),
	}
	for _, inv := range invocations {
		pkgs := make([]string, 0, len(inv.Batch.Operations))
		for _, op := range inv.Batch.Operations {
			pkgs = append(pkgs, op.Package.Name)
		}
		output.Invocations = append(output.Invocations, invocationOutput{
			Kind:     string(inv.Batch.Kind),
			Packages: pkgs,
			Bytes:    inv.Batch.Bytes(),
			Args:     inv.Args,
		})
	}

	return j.encode(output)
}

// PrintRuns prints the journal runs in JSON format.
func (j *JSONPrinter) PrintRuns(runs []model.Run) error {
	items := make([]runOutput, 0, len(runs))
	for _, r := range runs {
		items = append(items, newRunOutput(r))
	}

	return j.encode(items)
}

// PrintRun prints a run in JSON format.
func (j *JSONPrinter) PrintRun(r model.Run) error {
	return j.encode(newRunOutput(r))
}

// PrintPackages prints catalog packages in JSON format.
func (j *JSONPrinter) PrintPackages(pkgs []model.Package) error {
	items := make([]packageOutput, 0, len(pkgs))
	for _, p := range pkgs {
		items = append(items, packageOutput{
			Name:             p.Name,
			Architecture:     p.Architecture,
			CurrentVersion:   p.CurrentVersion,
			CandidateVersion: p.CandidateVersion,
		})
	}

	return j.encode(items)
}

// PrintChecks prints preflight check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	items := make([]checkOutput, 0, len(results))
	for _, r := range results {
		items = append(items, checkOutput{ID: r.ID, Status: string(r.Status), Message: r.Message})
	}

	return j.encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunOutput(r model.Run) runOutput {
	output := runOutput{
		ID:         r.ID,
		Status:     string(r.Status),
		Error:      r.Error,
		Operations: r.Operations,
		Batches:    r.Batches,
		TotalSteps: r.TotalSteps,
		DoneSteps:  r.DoneSteps,
		Percentage: r.Percentage(),
		StartedAt:  r.StartedAt.UTC(),
	}

	if r.FinishedAt != nil {
		utcTime := r.FinishedAt.UTC()
		output.FinishedAt = &utcTime
	}

	for _, p := range r.Packages {
		kinds := make([]string, 0, len(p.Kinds))
		for _, k := range p.Kinds {
			kinds = append(kinds, string(k))
		}
		output.Packages = append(output.Packages, packageOutcome{
			Name:       p.Name,
			Operations: kinds,
			DoneSteps:  p.DoneSteps,
			TotalSteps: p.TotalSteps,
		})
	}

	return output
}
