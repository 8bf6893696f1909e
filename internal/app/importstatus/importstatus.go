package importstatus

import (
	"context"
	"fmt"

	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/storage"
)

// StatusRepository lists the installed packages of a package tool status database.
type StatusRepository interface {
	ListInstalled(ctx context.Context, path string) ([]model.Package, error)
}

// ServiceConfig is the configuration for the import service.
type ServiceConfig struct {
	StatusRepository StatusRepository
	Repository       storage.PackageRepository
	Logger           log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.StatusRepository == nil {
		return fmt.Errorf("status repository is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ImportStatus"})
	return nil
}

// Service syncs the package catalog installed versions with a status database.
type Service struct {
	repo   storage.PackageRepository
	source StatusRepository
	logger log.Logger
}

// NewService creates a new import service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		source: cfg.StatusRepository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the import request parameters.
type Request struct {
	// StatusPath is the path of the status database.
	StatusPath string
}

// Response is the import result.
type Response struct {
	// Installed is the number of installed packages found.
	Installed int
	// Cleared is the number of catalog packages no longer installed.
	Cleared int
}

// Run imports the installed versions. Packages known by the catalog that are
// not installed anymore keep their candidate version but lose the installed one.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if req.StatusPath == "" {
		return nil, fmt.Errorf("status path is required: %w", model.ErrNotValid)
	}

	installed, err := s.source.ListInstalled(ctx, req.StatusPath)
	if err != nil {
		return nil, fmt.Errorf("could not read status database: %w", err)
	}

	known, err := s.repo.ListPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list packages: %w", err)
	}
	byName := make(map[string]model.Package, len(known))
	for _, p := range known {
		byName[p.Name] = p
	}

	resp := &Response{Installed: len(installed)}
	seen := make(map[string]bool, len(installed))
	for _, p := range installed {
		seen[p.Name] = true
		if k, ok := byName[p.Name]; ok {
			p.CandidateVersion = k.CandidateVersion
		}
		if err := s.repo.SavePackage(ctx, p); err != nil {
			return nil, fmt.Errorf("could not save package %s: %w", p.Name, err)
		}
	}

	for _, k := range known {
		if seen[k.Name] || !k.Installed() {
			continue
		}
		k.CurrentVersion = ""
		if err := s.repo.SavePackage(ctx, k); err != nil {
			return nil, fmt.Errorf("could not save package %s: %w", k.Name, err)
		}
		resp.Cleared++
	}

	s.logger.Infof("Imported %d installed packages (%d cleared)", resp.Installed, resp.Cleared)

	return resp, nil
}
