package storage

import (
	"context"

	"github.com/slok/dpkgdrv/internal/model"
)

// PackageRepository is the interface for the package catalog persistence.
type PackageRepository interface {
	GetPackage(ctx context.Context, name string) (*model.Package, error)
	ListPackages(ctx context.Context) ([]model.Package, error)
	// SavePackage creates or replaces a package by name.
	SavePackage(ctx context.Context, p model.Package) error
}

// RunRepository is the interface for the run journal persistence.
type RunRepository interface {
	CreateRun(ctx context.Context, r model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// ListRuns returns the runs, most recent first.
	ListRuns(ctx context.Context) ([]model.Run, error)
	UpdateRun(ctx context.Context, r model.Run) error
}

// Repository is the full persistence interface.
type Repository interface {
	PackageRepository
	RunRepository
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name Repository --structname MockRepository --filename mocks.go
