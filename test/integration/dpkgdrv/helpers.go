package dpkgdrv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/slok/dpkgdrv/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "dpkgdrv"
	}

	// go test changes the CWD to the test package directory, relative paths
	// would be resolved from there.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("DPKGDRV_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("dpkgdrv binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "DPKGDRV_INTEGRATION"
		envBinary     = "DPKGDRV_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Binary: os.Getenv(envBinary)}
	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// Env is an isolated environment for a test: a database, a run directory and
// a fake dpkg.
type Env struct {
	Config Config
	Dir    string
	DBPath string
	Dpkg   string
}

// NewEnv creates an isolated test environment whose fake dpkg exits with exitCode.
func NewEnv(t *testing.T, config Config, exitCode int) Env {
	t.Helper()

	dir := t.TempDir()
	e := Env{
		Config: config,
		Dir:    dir,
		DBPath: filepath.Join(dir, "dpkgdrv.db"),
		Dpkg:   filepath.Join(dir, "dpkg"),
	}

	if err := os.WriteFile(e.Dpkg, []byte(fakeDpkgScript(exitCode)), 0o755); err != nil {
		t.Fatalf("could not write fake dpkg: %s", err)
	}

	return e
}

// fakeDpkgScript reports every package argument through all the states of
// its operation on the status descriptor.
func fakeDpkgScript(exitCode int) string {
	return fmt.Sprintf(`#!/bin/sh
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
		name=${name%%%%_*}
		for s in $states; do
			echo "status: $name : $s : " >&$fd
		done
		;;
	esac
	shift
done
exit %d
`, exitCode)
}

// WriteFile writes a file in the environment directory and returns its path.
func (e Env) WriteFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(e.Dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("could not write %s: %s", name, err)
	}

	return path
}

// Run runs a dpkgdrv command on the environment database and fake dpkg,
// extra global arguments go before the command ones.
func (e Env) Run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	base := []string{
		"--no-log",
		"--db-path", e.DBPath,
		"--set", "Dir::Bin::dpkg=" + e.Dpkg,
		"--set", "DPkg::Run-Directory=" + e.Dir,
	}

	return testutils.RunDpkgdrvArgs(ctx, nil, e.Config.Binary, append(base, args...), true)
}
