package dpkg

import (
	"fmt"
	"strconv"

	"github.com/slok/dpkgdrv/internal/model"
)

// Partition splits the operations in batches of consecutive same kind
// operations. Every batch has at most maxArgs operations and its arguments
// fit in maxBytes, except when a single argument is bigger than maxBytes, in
// that case the operation is a batch on its own.
func Partition(ops []model.Operation, maxArgs, maxBytes int) []model.Batch {
	if maxArgs <= 0 {
		maxArgs = 1
	}

	var batches []model.Batch
	for i := 0; i < len(ops); {
		b := model.Batch{Kind: ops[i].Kind}
		size := 0
		for j := i; j < len(ops) && ops[j].Kind == b.Kind && len(b.Operations) < maxArgs; j++ {
			n := len(ops[j].Argument())
			if len(b.Operations) > 0 && size+n > maxBytes {
				break
			}
			b.Operations = append(b.Operations, ops[j])
			size += n
		}

		batches = append(batches, b)
		i += len(b.Operations)
	}

	return batches
}

// kindFlags are the package tool flags of each operation kind.
var kindFlags = map[model.OperationKind][]string{
	model.OperationKindInstall:   {"--unpack"},
	model.OperationKindConfigure: {"--configure"},
	model.OperationKindRemove:    {"--force-depends", "--force-remove-essential", "--remove"},
	model.OperationKindPurge:     {"--force-depends", "--force-remove-essential", "--purge"},
}

// BuildArgs returns the package tool argument vector of a batch, the first
// item is the tool binary.
func BuildArgs(tool string, options []string, statusFD int, b model.Batch) ([]string, error) {
	flags, ok := kindFlags[b.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown batch kind %q: %w", b.Kind, model.ErrInternal)
	}

	args := make([]string, 0, 1+len(options)+2+len(flags)+len(b.Operations))
	args = append(args, tool)
	args = append(args, options...)
	args = append(args, "--status-fd", strconv.Itoa(statusFD))
	args = append(args, flags...)

	for _, op := range b.Operations {
		if op.Kind != b.Kind {
			return nil, fmt.Errorf("%s of %s on a %s batch: %w", op.Kind, op.Package.Name, b.Kind, model.ErrInternal)
		}
		if op.Kind == model.OperationKindInstall && !op.HasAbsoluteArchive() {
			return nil, fmt.Errorf("pathname to install is not absolute %q: %w", op.ArchivePath, model.ErrInternal)
		}
		args = append(args, op.Argument())
	}

	return args, nil
}
