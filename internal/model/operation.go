package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// OperationKind is the kind of action requested on a package.
type OperationKind string

const (
	// OperationKindInstall unpacks a package archive.
	OperationKindInstall OperationKind = "install"
	// OperationKindConfigure configures an unpacked package.
	OperationKindConfigure OperationKind = "configure"
	// OperationKindRemove removes a package keeping its configuration files.
	OperationKindRemove OperationKind = "remove"
	// OperationKindPurge removes a package and its configuration files.
	OperationKindPurge OperationKind = "purge"
)

// ParseOperationKind parses a kind from its string representation.
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case OperationKindInstall, OperationKindConfigure, OperationKindRemove, OperationKindPurge:
		return k, nil
	}

	return "", fmt.Errorf("unknown operation kind %q: %w", s, ErrNotValid)
}

// Operation is one pending unit of work on a single package.
// Operations are immutable once created.
type Operation struct {
	Kind    OperationKind
	Package Package
	// ArchivePath is the absolute path to the package archive, only set for installs.
	ArchivePath string
}

// Argument returns the argument this operation contributes to a package tool invocation.
func (o Operation) Argument() string {
	if o.Kind == OperationKindInstall {
		return o.ArchivePath
	}
	return o.Package.Name
}

// Validate validates the operation shape.
func (o Operation) Validate() error {
	if err := ValidatePackageName(o.Package.Name); err != nil {
		return err
	}

	switch o.Kind {
	case OperationKindInstall:
		if o.ArchivePath == "" {
			return fmt.Errorf("install of %s requires an archive path: %w", o.Package.Name, ErrInvalidOperation)
		}
	case OperationKindConfigure, OperationKindRemove, OperationKindPurge:
		if o.ArchivePath != "" {
			return fmt.Errorf("%s of %s can't have an archive path: %w", o.Kind, o.Package.Name, ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("unknown operation kind %q: %w", o.Kind, ErrInvalidOperation)
	}

	return nil
}

// HasAbsoluteArchive returns true when the operation is an install with an absolute archive path.
func (o Operation) HasAbsoluteArchive() bool {
	return o.Kind == OperationKindInstall && filepath.IsAbs(o.ArchivePath)
}

// Package names with an optional architecture qualifier, mixed case is accepted.
var packageNameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+._-]*(:[a-z0-9-]+)?$`)

// ValidatePackageName checks a package name is usable as a package identity.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name is required: %w", ErrInvalidOperation)
	}
	if !packageNameRegexp.MatchString(name) {
		return fmt.Errorf("invalid package name %q: %w", name, ErrInvalidOperation)
	}
	return nil
}

// Batch is a run of same kind operations dispatched on a single package tool invocation.
type Batch struct {
	Kind       OperationKind
	Operations []Operation
}

// Bytes returns the cumulative byte length of the operation arguments of the batch.
func (b Batch) Bytes() int {
	total := 0
	for _, op := range b.Operations {
		total += len(op.Argument())
	}
	return total
}

// OperationRequest is a caller request to queue an operation, before the
// package identity is resolved.
type OperationRequest struct {
	Kind        OperationKind
	Package     string
	ArchivePath string
	// Version is the version provided by the archive, optional.
	Version string
}

// Invocation is a package tool invocation for a batch.
type Invocation struct {
	Batch Batch
	Args  []string
}
