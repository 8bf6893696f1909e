// Package queue holds the ordered operations of a driver run.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
)

// Resolver resolves package names into known package identities.
type Resolver interface {
	GetPackage(ctx context.Context, name string) (*model.Package, error)
}

// QueueConfig is the configuration of the operation queue.
type QueueConfig struct {
	Resolver Resolver
	Logger   log.Logger
}

func (c *QueueConfig) defaults() error {
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "queue.Queue"})

	return nil
}

// Queue is the ordered list of pending operations. It is not safe for concurrent use.
type Queue struct {
	resolver Resolver
	logger   log.Logger
	ops      []model.Operation
}

// NewQueue returns an empty operation queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Queue{
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
	}, nil
}

// EnqueueInstall queues the unpack of a package archive.
func (q *Queue) EnqueueInstall(ctx context.Context, name, archivePath string) error {
	if archivePath == "" {
		return fmt.Errorf("install of %s requires an archive path: %w", name, model.ErrInvalidOperation)
	}

	return q.enqueue(ctx, model.OperationKindInstall, name, archivePath)
}

// EnqueueConfigure queues the configuration of a package.
func (q *Queue) EnqueueConfigure(ctx context.Context, name string) error {
	return q.enqueue(ctx, model.OperationKindConfigure, name, "")
}

// EnqueueRemove queues the removal of a package, purge also removes its configuration files.
func (q *Queue) EnqueueRemove(ctx context.Context, name string, purge bool) error {
	kind := model.OperationKindRemove
	if purge {
		kind = model.OperationKindPurge
	}

	return q.enqueue(ctx, kind, name, "")
}

// Enqueue queues an operation request.
func (q *Queue) Enqueue(ctx context.Context, req model.OperationRequest) error {
	switch req.Kind {
	case model.OperationKindInstall:
		return q.EnqueueInstall(ctx, req.Package, req.ArchivePath)
	case model.OperationKindConfigure:
		return q.EnqueueConfigure(ctx, req.Package)
	case model.OperationKindRemove:
		return q.EnqueueRemove(ctx, req.Package, false)
	case model.OperationKindPurge:
		return q.EnqueueRemove(ctx, req.Package, true)
	}

	return fmt.Errorf("unknown operation kind %q: %w", req.Kind, model.ErrInvalidOperation)
}

func (q *Queue) enqueue(ctx context.Context, kind model.OperationKind, name, archivePath string) error {
	if err := model.ValidatePackageName(name); err != nil {
		return err
	}

	pkg, err := q.resolver.GetPackage(ctx, name)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("could not resolve package %s: %w", name, model.ErrInvalidOperation)
		}
		return fmt.Errorf("could not resolve package %s: %w", name, err)
	}

	op := model.Operation{
		Kind:        kind,
		Package:     *pkg,
		ArchivePath: archivePath,
	}
	if err := op.Validate(); err != nil {
		return err
	}

	q.ops = append(q.ops, op)
	q.logger.Debugf("queued %s of %s", kind, name)

	return nil
}

// Reset clears the queue.
func (q *Queue) Reset() { q.ops = nil }

// Len returns the number of queued operations.
func (q *Queue) Len() int { return len(q.ops) }

// Operations returns a copy of the queued operations in order.
func (q *Queue) Operations() []model.Operation {
	ops := make([]model.Operation, len(q.ops))
	copy(ops, q.ops)
	return ops
}

// InstallCandidates returns the packages registered by the install requests:
// the known package, or a new one when unknown, with the requested version as
// candidate. The last request of a package wins.
func InstallCandidates(ctx context.Context, resolver Resolver, reqs []model.OperationRequest) (map[string]model.Package, error) {
	pkgs := map[string]model.Package{}
	for _, req := range reqs {
		if req.Kind != model.OperationKindInstall {
			continue
		}
		if err := model.ValidatePackageName(req.Package); err != nil {
			return nil, err
		}

		p, ok := pkgs[req.Package]
		if !ok {
			known, err := resolver.GetPackage(ctx, req.Package)
			switch {
			case err == nil:
				p = *known
			case errors.Is(err, model.ErrNotFound):
				p = model.Package{Name: req.Package}
			default:
				return nil, fmt.Errorf("could not resolve package %s: %w", req.Package, err)
			}
		}
		if req.Version != "" {
			p.CandidateVersion = req.Version
		}
		pkgs[req.Package] = p
	}

	return pkgs, nil
}

// OverlayResolver resolves packages from Packages first and then from Resolver.
type OverlayResolver struct {
	Packages map[string]model.Package
	Resolver Resolver
}

func (o OverlayResolver) GetPackage(ctx context.Context, name string) (*model.Package, error) {
	if p, ok := o.Packages[name]; ok {
		return &p, nil
	}
	return o.Resolver.GetPackage(ctx, name)
}
