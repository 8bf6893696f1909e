package lib_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/dpkgdrv/pkg/lib"
)

// fakeDpkg writes a dpkg stand-in that reports every package argument
// through all the states of its operation.
func fakeDpkg(t *testing.T, exitCode string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dpkg")
	script := `#!/bin/sh
fd=$2
shift 2
states=""
while [ $# -gt 0 ]; do
	case "$1" in
	--unpack) states="half-installed unpacked" ;;
	--configure) states="unpacked half-configured installed" ;;
	--remove) states="half-configured half-installed config-files" ;;
	--purge) states="config-files not-installed" ;;
	--*) ;;
	*)
		name=$(basename "$1" .deb)
		for s in $states; do
			echo "status: $name : $s : " >&$fd
		done
		;;
	esac
	shift
done
exit ` + exitCode + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func newTestClient(t *testing.T, dpkg string, cfg lib.Config) *lib.Client {
	t.Helper()

	var out bytes.Buffer
	cfg.Settings = append(cfg.Settings, "Dir::Bin::dpkg="+dpkg, "DPkg::Run-Directory="+t.TempDir())
	cfg.Stdin = strings.NewReader("")
	cfg.Stdout = &out
	cfg.Stderr = &out

	client, err := lib.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestClientRun(t *testing.T) {
	tests := map[string]struct {
		exitCode   string
		packages   []lib.Package
		ops        []lib.Operation
		expStatus  lib.RunStatus
		expErrIs   error
		expEvents  []string
		expCatalog []lib.Package
	}{
		"Installing and configuring a package should report the progress and update the catalog.": {
			exitCode: "0",
			ops: []lib.Operation{
				{Kind: lib.OperationInstall, Package: "pkgA", Archive: "/var/cache/pkgA.deb", Version: "1.0-1"},
				{Kind: lib.OperationConfigure, Package: "pkgA"},
			},
			expStatus: lib.RunStatusSucceeded,
			expEvents: []string{
				"20 Preparing pkgA",
				"40 Unpacking pkgA",
				"60 Preparing to configure pkgA",
				"80 Configuring pkgA",
				"100 Installed pkgA",
			},
			expCatalog: []lib.Package{{Name: "pkgA", CurrentVersion: "1.0-1", CandidateVersion: "1.0-1"}},
		},

		"Removing a known package should clear its installed version.": {
			exitCode:  "0",
			packages:  []lib.Package{{Name: "pkgB", CurrentVersion: "2.0"}},
			ops:       []lib.Operation{{Kind: lib.OperationRemove, Package: "pkgB"}},
			expStatus: lib.RunStatusSucceeded,
			expEvents: []string{
				"33 Preparing for removal of pkgB",
				"67 Removing pkgB",
				"100 Removed pkgB",
			},
			expCatalog: []lib.Package{{Name: "pkgB"}},
		},

		"A failing dpkg should return a failed run keeping the reached states.": {
			exitCode:  "2",
			packages:  []lib.Package{{Name: "pkgB", CurrentVersion: "2.0"}},
			ops:       []lib.Operation{{Kind: lib.OperationPurge, Package: "pkgB"}},
			expStatus: lib.RunStatusFailed,
			expErrIs:  lib.ErrToolNonZeroExit,
			expEvents: []string{
				"50 Preparing to completely remove pkgB",
				"100 Completely removed pkgB",
			},
			expCatalog: []lib.Package{{Name: "pkgB"}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			var events []string
			client := newTestClient(t, fakeDpkg(t, test.exitCode), lib.Config{
				OnProgress: func(ev lib.Event) {
					events = append(events, formatEvent(ev))
				},
			})
			for _, p := range test.packages {
				require.NoError(client.SetPackage(ctx, p))
			}

			run, err := client.Run(ctx, test.ops)
			if test.expErrIs != nil {
				assert.ErrorIs(err, test.expErrIs)
			} else {
				assert.NoError(err)
			}
			require.NotNil(run)
			assert.Equal(test.expStatus, run.Status)
			assert.Equal(test.expEvents, events)

			pkgs, err := client.ListPackages(ctx)
			require.NoError(err)
			assert.Equal(test.expCatalog, pkgs)

			runs, err := client.History(ctx, 0)
			require.NoError(err)
			require.Len(runs, 1)
			assert.Equal(run.ID, runs[0].ID)
		})
	}
}

// formatEvent rounds percentages to keep the expectations readable.
func formatEvent(ev lib.Event) string {
	return fmt.Sprintf("%.0f %s", ev.Percentage, ev.Message)
}

func TestClientRunInvalidOperations(t *testing.T) {
	client := newTestClient(t, fakeDpkg(t, "0"), lib.Config{})

	_, err := client.Run(context.Background(), []lib.Operation{{Kind: lib.OperationConfigure, Package: "unknown"}})
	assert.ErrorIs(t, err, lib.ErrInvalidOperation)

	_, err = client.Run(context.Background(), nil)
	assert.ErrorIs(t, err, lib.ErrNotValid)

	runs, err := client.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestClientMissingDpkg(t *testing.T) {
	client := newTestClient(t, filepath.Join(t.TempDir(), "missing-dpkg"), lib.Config{})
	require.NoError(t, client.SetPackage(context.Background(), lib.Package{Name: "pkgA"}))

	run, err := client.Run(context.Background(), []lib.Operation{{Kind: lib.OperationConfigure, Package: "pkgA"}})
	assert.True(t, errors.Is(err, lib.ErrSpawn))
	require.NotNil(t, run)
	assert.Equal(t, lib.RunStatusFailed, run.Status)
}

func TestClientImportStatus(t *testing.T) {
	status := filepath.Join(t.TempDir(), "status")
	err := os.WriteFile(status, []byte(`Package: pkgA
Status: install ok installed
Architecture: amd64
Version: 1.2-3

Package: pkgB
Status: deinstall ok config-files
Architecture: all
Version: 0.1
`), 0o644)
	require.NoError(t, err)

	client := newTestClient(t, fakeDpkg(t, "0"), lib.Config{})
	n, err := client.ImportStatus(context.Background(), status)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pkgs, err := client.ListPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []lib.Package{{Name: "pkgA", Architecture: "amd64", CurrentVersion: "1.2-3"}}, pkgs)
}

func TestClientSetPackageInvalidName(t *testing.T) {
	client := newTestClient(t, fakeDpkg(t, "0"), lib.Config{})
	err := client.SetPackage(context.Background(), lib.Package{Name: "bad name"})
	assert.ErrorIs(t, err, lib.ErrInvalidOperation)
}

func TestClientDoctor(t *testing.T) {
	client := newTestClient(t, fakeDpkg(t, "0"), lib.Config{})
	results, err := client.Doctor(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "dpkg_binary", results[0].ID)
	assert.Equal(t, lib.CheckStatusOK, results[0].Status)
}
