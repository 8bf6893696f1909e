package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/dpkgdrv/internal/dpkg"
	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/queue"
	"github.com/slok/dpkgdrv/internal/storage"
)

// Driver runs operations with the package tool.
type Driver interface {
	Go(ctx context.Context, ops []model.Operation) (dpkg.Result, error)
}

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	Driver     Driver
	Repository storage.Repository
	// IDGenerator defaults to ULIDs.
	IDGenerator func() string
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Driver == nil {
		return fmt.Errorf("driver is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.IDGenerator == nil {
		c.IDGenerator = func() string { return ulid.Make().String() }
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})
	return nil
}

// Service queues operations, runs them with the package tool and keeps the
// run journal and the package catalog up to date.
type Service struct {
	driver Driver
	repo   storage.Repository
	newID  func() string
	now    func() time.Time
	logger log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		driver: cfg.Driver,
		repo:   cfg.Repository,
		newID:  cfg.IDGenerator,
		now:    cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Request represents the run request parameters.
type Request struct {
	Operations []model.OperationRequest
}

// Run runs the requested operations. Invalid requests fail before anything is
// run or recorded. Once the package tool is involved the run is recorded and
// returned even when it fails.
func (s *Service) Run(ctx context.Context, req Request) (*model.Run, error) {
	if len(req.Operations) == 0 {
		return nil, fmt.Errorf("at least one operation is required: %w", model.ErrNotValid)
	}

	ops, err := s.queue(ctx, req.Operations)
	if err != nil {
		return nil, err
	}

	run := model.Run{
		ID:         s.newID(),
		Status:     model.RunStatusRunning,
		Operations: len(ops),
		TotalSteps: model.TotalSteps(ops),
		StartedAt:  s.now().UTC(),
	}
	ctx = s.logger.SetValuesOnCtx(ctx, log.Kv{"run-id": run.ID})
	logger := s.logger.WithCtxValues(ctx)

	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("could not create run: %w", err)
	}
	logger.Infof("Running %d operations (%d steps)", run.Operations, run.TotalSteps)

	res, runErr := s.driver.Go(ctx, ops)

	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.Batches = res.Batches
	run.DoneSteps = res.DoneSteps
	run.Packages = res.Packages
	run.Status = model.RunStatusSucceeded
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	}

	// The journal is updated even if the run was cancelled.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.repo.UpdateRun(saveCtx, run); err != nil {
		err = fmt.Errorf("could not update run: %w", err)
		if runErr != nil {
			return &run, errors.Join(runErr, err)
		}
		return &run, err
	}

	if err := s.applyResults(saveCtx, ops, res.Packages); err != nil {
		logger.Warningf("could not update package catalog: %s", err)
	}

	if runErr != nil {
		return &run, fmt.Errorf("run %s failed: %w", run.ID, runErr)
	}

	logger.Infof("Run finished: %d/%d steps", run.DoneSteps, run.TotalSteps)

	return &run, nil
}

// queue registers the install candidates on the catalog and resolves the requests.
func (s *Service) queue(ctx context.Context, reqs []model.OperationRequest) ([]model.Operation, error) {
	candidates, err := queue.InstallCandidates(ctx, s.repo, reqs)
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
	for i, r := range reqs {
		if err := q.Enqueue(ctx, r); err != nil {
			return nil, fmt.Errorf("could not queue operation %d: %w", i, err)
		}
	}

	for _, p := range candidates {
		if err := s.repo.SavePackage(ctx, p); err != nil {
			return nil, fmt.Errorf("could not save package %s: %w", p.Name, err)
		}
	}

	return q.Operations(), nil
}

// applyResults updates the installed version of the packages that reached
// their final state.
func (s *Service) applyResults(ctx context.Context, ops []model.Operation, progress []model.PackageProgress) error {
	last := map[string]model.Operation{}
	for _, op := range ops {
		last[op.Package.Name] = op
	}

	for _, p := range progress {
		if !p.Finished() || p.TotalSteps == 0 {
			continue
		}
		op, ok := last[p.Name]
		if !ok {
			continue
		}

		pkg := op.Package
		switch op.Kind {
		case model.OperationKindInstall, model.OperationKindConfigure:
			if pkg.CandidateVersion == "" {
				continue
			}
			pkg.CurrentVersion = pkg.CandidateVersion
		case model.OperationKindRemove, model.OperationKindPurge:
			pkg.CurrentVersion = ""
		}

		if err := s.repo.SavePackage(ctx, pkg); err != nil {
			return fmt.Errorf("could not save package %s: %w", pkg.Name, err)
		}
	}

	return nil
}
