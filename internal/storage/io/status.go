package io

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/textproto"
	"strings"

	"github.com/slok/dpkgdrv/internal/model"
)

// DpkgStatusRepository reads the installed packages from a dpkg status database.
type DpkgStatusRepository struct {
	fs fs.FS
}

// NewDpkgStatusRepository creates a new dpkg status database repository.
func NewDpkgStatusRepository(filesystem fs.FS) *DpkgStatusRepository {
	return &DpkgStatusRepository{fs: filesystem}
}

// ListInstalled returns the packages of the status database that have an
// installed version, in database order.
func (r *DpkgStatusRepository) ListInstalled(ctx context.Context, path string) ([]model.Package, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening status file: %w", err)
	}
	defer f.Close()

	return ParseDpkgStatus(ctx, f)
}

// ParseDpkgStatus parses deb822 status stanzas. Packages whose state is
// not-installed, or that only keep their config files, are skipped.
func ParseDpkgStatus(ctx context.Context, r io.Reader) ([]model.Package, error) {
	tp := textproto.NewReader(bufio.NewReader(r))

	var pkgs []model.Package
	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		stanza, err := tp.ReadMIMEHeader()
		if len(stanza) > 0 {
			p, ok, perr := stanzaPackage(stanza)
			if perr != nil {
				return nil, fmt.Errorf("stanza %d: %w", n, perr)
			}
			if ok {
				pkgs = append(pkgs, p)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return pkgs, nil
			}
			return nil, fmt.Errorf("parsing stanza %d: %w", n, err)
		}
	}
}

func stanzaPackage(stanza textproto.MIMEHeader) (model.Package, bool, error) {
	name := strings.TrimSpace(stanza.Get("Package"))
	if name == "" {
		return model.Package{}, false, fmt.Errorf("missing Package field: %w", model.ErrNotValid)
	}

	// Status is "<want> <flag> <state>".
	fields := strings.Fields(stanza.Get("Status"))
	if len(fields) != 3 {
		return model.Package{}, false, fmt.Errorf("package %s has an invalid Status field: %w", name, model.ErrNotValid)
	}
	switch fields[2] {
	case "not-installed", "config-files":
		return model.Package{}, false, nil
	}

	return model.Package{
		Name:           name,
		Architecture:   strings.TrimSpace(stanza.Get("Architecture")),
		CurrentVersion: strings.TrimSpace(stanza.Get("Version")),
	}, true, nil
}
