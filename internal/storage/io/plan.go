package io

import (
	"context"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/slok/dpkgdrv/internal/model"
)

// PlanYAMLRepository loads operation plans from YAML files.
type PlanYAMLRepository struct {
	fs fs.FS
}

// NewPlanYAMLRepository creates a new YAML plan repository.
func NewPlanYAMLRepository(filesystem fs.FS) *PlanYAMLRepository {
	return &PlanYAMLRepository{fs: filesystem}
}

// GetPlan loads a plan from a YAML file and returns the validated operation requests in order.
func (r *PlanYAMLRepository) GetPlan(ctx context.Context, path string) ([]model.OperationRequest, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	reqs, err := plan.toModel()
	if err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	return reqs, nil
}

// Plan represents the YAML structure of a plan file.
type Plan struct {
	Operations []PlanOperation `yaml:"operations"`
}

// PlanOperation represents the YAML structure of a single planned operation.
type PlanOperation struct {
	Kind    string `yaml:"kind"`
	Package string `yaml:"package"`
	Archive string `yaml:"archive"`
	Version string `yaml:"version"`
}

func (p Plan) toModel() ([]model.OperationRequest, error) {
	if len(p.Operations) == 0 {
		return nil, fmt.Errorf("at least one operation is required: %w", model.ErrNotValid)
	}

	reqs := make([]model.OperationRequest, 0, len(p.Operations))
	for i, op := range p.Operations {
		kind, err := model.ParseOperationKind(op.Kind)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		if op.Package == "" {
			return nil, fmt.Errorf("operation %d: package is required: %w", i, model.ErrNotValid)
		}
		if kind == model.OperationKindInstall && op.Archive == "" {
			return nil, fmt.Errorf("operation %d: install requires an archive: %w", i, model.ErrNotValid)
		}
		if kind != model.OperationKindInstall && op.Archive != "" {
			return nil, fmt.Errorf("operation %d: only installs can have an archive: %w", i, model.ErrNotValid)
		}

		reqs = append(reqs, model.OperationRequest{
			Kind:        kind,
			Package:     op.Package,
			ArchivePath: op.Archive,
			Version:     op.Version,
		})
	}

	return reqs, nil
}
