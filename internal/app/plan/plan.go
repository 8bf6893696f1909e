package plan

import (
	"context"
	"fmt"

	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/queue"
	"github.com/slok/dpkgdrv/internal/storage"
)

// statusFDPlaceholder is the status descriptor shown on planned invocations,
// the one the package tool gets when run by the driver.
const statusFDPlaceholder = 3

// Planner splits operations in package tool invocations.
type Planner interface {
	Plan(ops []model.Operation) []model.Batch
	Args(statusFD int, b model.Batch) ([]string, error)
}

// ServiceConfig is the configuration for the plan service.
type ServiceConfig struct {
	Planner    Planner
	Repository storage.PackageRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Planner == nil {
		return fmt.Errorf("planner is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Plan"})
	return nil
}

// Service shows how operations would be run without running anything.
type Service struct {
	planner Planner
	repo    storage.PackageRepository
	logger  log.Logger
}

// NewService creates a new plan service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		planner: cfg.Planner,
		repo:    cfg.Repository,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the plan request parameters.
type Request struct {
	Operations []model.OperationRequest
}

// Response is the computed plan.
type Response struct {
	Operations  []model.Operation
	Invocations []model.Invocation
	TotalSteps  int
}

// Run computes the plan. Install requests register their packages only for
// the plan, the catalog is not changed.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	candidates, err := queue.InstallCandidates(ctx, s.repo, req.Operations)
	if err != nil {
		return nil, fmt.Errorf("could not resolve install candidates: %w", err)
	}

	q, err := queue.NewQueue(queue.QueueConfig{
		Resolver: queue.OverlayResolver{Packages: candidates, Resolver: s.repo},
		Logger:   s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create queue: %w", err)
	}
	for i, r := range req.Operations {
		if err := q.Enqueue(ctx, r); err != nil {
			return nil, fmt.Errorf("could not queue operation %d: %w", i, err)
		}
	}

	ops := q.Operations()
	resp := &Response{
		Operations: ops,
		TotalSteps: model.TotalSteps(ops),
	}
	for _, b := range s.planner.Plan(ops) {
		args, err := s.planner.Args(statusFDPlaceholder, b)
		if err != nil {
			return nil, fmt.Errorf("could not build %s invocation: %w", b.Kind, err)
		}
		resp.Invocations = append(resp.Invocations, model.Invocation{Batch: b, Args: args})
	}

	s.logger.Debugf("planned %d operations in %d invocations", len(ops), len(resp.Invocations))

	return resp, nil
}
