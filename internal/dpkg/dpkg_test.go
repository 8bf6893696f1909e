package dpkg_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/dpkgdrv/internal/config"
	"github.com/slok/dpkgdrv/internal/dpkg"
	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/progress"
	"github.com/slok/dpkgdrv/internal/utils/term"
)

// fakeTool writes a shell script standing for the package tool. Every
// invocation appends its arguments to the returned invocations file followed
// by a `---` line, then runs body.
func fakeTool(t *testing.T, body string) (tool string, invocations string) {
	t.Helper()

	dir := t.TempDir()
	tool = filepath.Join(dir, "dpkg")
	invocations = filepath.Join(dir, "invocations")

	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" >> '" + invocations + "'\n" +
		"echo --- >> '" + invocations + "'\n" +
		body + "\n"
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	return tool, invocations
}

func readInvocations(t *testing.T, path string) [][]string {
	t.Helper()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)

	var res [][]string
	for _, inv := range strings.Split(strings.TrimSuffix(string(data), "---\n"), "---\n") {
		res = append(res, strings.Split(strings.TrimSuffix(inv, "\n"), "\n"))
	}
	return res
}

type hookCall struct {
	hook string
	ops  int
}

type fakeHooks struct {
	calls []hookCall
	errs  map[string]error
}

func (f *fakeHooks) RunHooks(_ context.Context, hook string) error {
	f.calls = append(f.calls, hookCall{hook: hook})
	return f.errs[hook]
}

func (f *fakeHooks) RunHooksWithPendingFiles(_ context.Context, hook string, ops []model.Operation) error {
	f.calls = append(f.calls, hookCall{hook: hook, ops: len(ops)})
	return f.errs[hook]
}

var allHookCalls = func(ops int) []hookCall {
	return []hookCall{
		{hook: config.HookPreInvoke},
		{hook: config.HookPreInstallPkgs, ops: ops},
		{hook: config.HookPostInvoke},
	}
}

func newDriver(t *testing.T, tool string, values map[string]any, hooks dpkg.HookRunner, rep progress.Reporter) *dpkg.Driver {
	t.Helper()

	if values == nil {
		values = map[string]any{}
	}
	values[config.KeyDpkgPath] = tool
	cfg, err := config.New(values)
	require.NoError(t, err)

	var out bytes.Buffer
	d, err := dpkg.NewDriver(dpkg.DriverConfig{
		Config:         cfg,
		Hooks:          hooks,
		Reporter:       rep,
		Stdin:          strings.NewReader(""),
		Stdout:         &out,
		Stderr:         &out,
		InterruptGuard: term.NoopGuard,
		DrainTimeout:   100 * time.Millisecond,
		Logger:         log.Noop,
	})
	require.NoError(t, err)

	return d
}

func TestNewDriver(t *testing.T) {
	_, err := dpkg.NewDriver(dpkg.DriverConfig{})
	assert.Error(t, err)
}

func TestDriverGo(t *testing.T) {
	tests := map[string]struct {
		body           string
		values         map[string]any
		ops            []model.Operation
		hookErrs       map[string]error
		expInvocations [][]string
		expEvents      []progress.Event
		expHookCalls   []hookCall
		expResult      dpkg.Result
		expErr         func(t *testing.T, tool string, err error)
	}{
		"Installing a package should unpack it and report the progress.": {
			body: `echo 'status: pkgA : half-installed : ' >&3
echo 'status: pkgA : unpacked : ' >&3`,
			ops: []model.Operation{install("pkgA", "/var/cache/a.deb")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--unpack", "/var/cache/a.deb"},
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 50, Message: "Preparing pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 100, Message: "Unpacking pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 2, DoneSteps: 2, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, DoneSteps: 2, TotalSteps: 2},
			}},
		},

		"Removing a package should report the progress by thirds.": {
			body: `echo 'status: pkgB : half-configured :' >&3
echo 'status: pkgB : half-installed :' >&3
echo 'status: pkgB : config-files :' >&3`,
			values: map[string]any{"DPkg::Options": []any{"--force-confold"}},
			ops:    []model.Operation{op(model.OperationKindRemove, "pkgB")},
			expInvocations: [][]string{
				{"--force-confold", "--status-fd", "3", "--force-depends", "--force-remove-essential", "--remove", "pkgB"},
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgB", Percentage: 100.0 / 3.0, Message: "Preparing for removal of pkgB"},
				{Kind: progress.EventKindStatus, Package: "pkgB", Percentage: 200.0 / 3.0, Message: "Removing pkgB"},
				{Kind: progress.EventKindStatus, Package: "pkgB", Percentage: 100, Message: "Removed pkgB"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 3, DoneSteps: 3, Packages: []model.PackageProgress{
				{Name: "pkgB", Kinds: []model.OperationKind{model.OperationKindRemove}, DoneSteps: 3, TotalSteps: 3},
			}},
		},

		"A non zero exit should fail and still run the post hooks.": {
			body: `exit 2`,
			ops:  []model.Operation{op(model.OperationKindConfigure, "pkgA")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--configure", "pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 3, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindConfigure}, TotalSteps: 3},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				var exitErr *model.ToolExitError
				require.True(t, errors.As(err, &exitErr))
				assert.Equal(t, 2, exitErr.ExitCode)
				assert.Equal(t, tool, exitErr.Tool)
				assert.Contains(t, err.Error(), tool)
				assert.Contains(t, err.Error(), "(2)")
				assert.ErrorIs(t, err, model.ErrToolNonZeroExit)
			},
		},

		"A tool error line should be reported without progress.": {
			body: `echo 'status: pkgA : half-installed : ' >&3
echo 'status: /var/cache/archives/bad.deb : error : trying to overwrite /usr/share/x' >&3
exit 1`,
			ops: []model.Operation{install("pkgA", "/var/cache/archives/bad.deb")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--unpack", "/var/cache/archives/bad.deb"},
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 50, Message: "Preparing pkgA"},
				{Kind: progress.EventKindError, Package: "/var/cache/archives/bad.deb", Percentage: 50, Message: "trying to overwrite /usr/share/x"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 2, DoneSteps: 1, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, DoneSteps: 1, TotalSteps: 2},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				assert.ErrorIs(t, err, model.ErrToolNonZeroExit)
			},
		},

		"Installs over the byte budget should run in separate invocations.": {
			body:   `exit 0`,
			values: map[string]any{config.KeyMaxArgBytes: 20},
			ops:    []model.Operation{install("pkgA", "/var/cache/a.deb"), install("pkgB", "/var/cache/b.deb")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--unpack", "/var/cache/a.deb"},
				{"--status-fd", "3", "--unpack", "/var/cache/b.deb"},
			},
			expHookCalls: allHookCalls(2),
			expResult: dpkg.Result{Batches: 2, TotalSteps: 4, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, TotalSteps: 2},
				{Name: "pkgB", Kinds: []model.OperationKind{model.OperationKindInstall}, TotalSteps: 2},
			}},
		},

		"A failed batch should stop the next batches.": {
			body: `exit 1`,
			ops:  []model.Operation{op(model.OperationKindConfigure, "pkgA"), op(model.OperationKindRemove, "pkgB")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--configure", "pkgA"},
			},
			expHookCalls: allHookCalls(2),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 6, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindConfigure}, TotalSteps: 3},
				{Name: "pkgB", Kinds: []model.OperationKind{model.OperationKindRemove}, TotalSteps: 3},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				assert.ErrorIs(t, err, model.ErrToolNonZeroExit)
			},
		},

		"A segmentation fault should be reported.": {
			body: `kill -SEGV $$`,
			ops:  []model.Operation{op(model.OperationKindPurge, "pkgA")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--force-depends", "--force-remove-essential", "--purge", "pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 2, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindPurge}, TotalSteps: 2},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				var crashErr *model.ToolCrashError
				require.True(t, errors.As(err, &crashErr))
				assert.True(t, crashErr.Segfault())
				assert.Contains(t, err.Error(), "segmentation fault")
				assert.ErrorIs(t, err, model.ErrToolCrash)
			},
		},

		"Other signals should be reported as a crash.": {
			body: `kill -KILL $$`,
			ops:  []model.Operation{op(model.OperationKindPurge, "pkgA")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--force-depends", "--force-remove-essential", "--purge", "pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 2, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindPurge}, TotalSteps: 2},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				var crashErr *model.ToolCrashError
				require.True(t, errors.As(err, &crashErr))
				assert.False(t, crashErr.Segfault())
				assert.Equal(t, syscall.SIGKILL, crashErr.Signal)
			},
		},

		"A relative install path should fail without running the tool.": {
			body:         `exit 0`,
			ops:          []model.Operation{install("pkgA", "cache/a.deb")},
			expHookCalls: allHookCalls(1)[:2],
			expResult: dpkg.Result{TotalSteps: 2, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, TotalSteps: 2},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				assert.ErrorIs(t, err, model.ErrInternal)
			},
		},

		"A failed pre invoke hook should not run the tool.": {
			body:         `exit 0`,
			ops:          []model.Operation{op(model.OperationKindConfigure, "pkgA")},
			hookErrs:     map[string]error{config.HookPreInvoke: &model.HookError{Hook: config.HookPreInvoke, Command: "false", ExitCode: 101}},
			expHookCalls: allHookCalls(1)[:1],
			expResult: dpkg.Result{TotalSteps: 3, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindConfigure}, TotalSteps: 3},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				assert.ErrorIs(t, err, model.ErrHookFailure)
			},
		},

		"A failed pending files hook should not run the tool.": {
			body:         `exit 0`,
			ops:          []model.Operation{op(model.OperationKindConfigure, "pkgA")},
			hookErrs:     map[string]error{config.HookPreInstallPkgs: &model.HookError{Hook: config.HookPreInstallPkgs, ExitCode: 1}},
			expHookCalls: allHookCalls(1)[:2],
			expResult: dpkg.Result{TotalSteps: 3, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindConfigure}, TotalSteps: 3},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				assert.ErrorIs(t, err, model.ErrHookFailure)
			},
		},

		"A failed post invoke hook should fail a successful run.": {
			body: `exit 0`,
			ops:  []model.Operation{op(model.OperationKindConfigure, "pkgA")},
			hookErrs: map[string]error{
				config.HookPostInvoke: &model.HookError{Hook: config.HookPostInvoke, ExitCode: 101},
			},
			expInvocations: [][]string{
				{"--status-fd", "3", "--configure", "pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 3, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindConfigure}, TotalSteps: 3},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				assert.ErrorIs(t, err, model.ErrHookFailure)
			},
		},

		"A failed post invoke hook should not hide a tool failure.": {
			body: `exit 3`,
			ops:  []model.Operation{op(model.OperationKindConfigure, "pkgA")},
			hookErrs: map[string]error{
				config.HookPostInvoke: &model.HookError{Hook: config.HookPostInvoke, ExitCode: 101},
			},
			expInvocations: [][]string{
				{"--status-fd", "3", "--configure", "pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 3, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindConfigure}, TotalSteps: 3},
			}},
			expErr: func(t *testing.T, tool string, err error) {
				assert.ErrorIs(t, err, model.ErrToolNonZeroExit)
				assert.NotErrorIs(t, err, model.ErrHookFailure)
			},
		},

		"Status lines written right before the exit should be processed.": {
			body: `printf 'status: pkgA : unpacked : \nstatus: pkgA : half-configured : \nstatus: pkgA : installed : \n' >&3
exit 0`,
			ops: []model.Operation{op(model.OperationKindConfigure, "pkgA")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--configure", "pkgA"},
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 100.0 / 3.0, Message: "Preparing to configure pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 200.0 / 3.0, Message: "Configuring pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 100, Message: "Installed pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 3, DoneSteps: 3, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindConfigure}, DoneSteps: 3, TotalSteps: 3},
			}},
		},

		"An unterminated last status line should be dropped.": {
			body: `printf 'status: pkgA : half-installed : \nstatus: pkgA : unpacked : ' >&3`,
			ops:  []model.Operation{install("pkgA", "/a.deb")},
			expInvocations: [][]string{
				{"--status-fd", "3", "--unpack", "/a.deb"},
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 50, Message: "Preparing pkgA"},
			},
			expHookCalls: allHookCalls(1),
			expResult: dpkg.Result{Batches: 1, TotalSteps: 2, DoneSteps: 1, Packages: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, DoneSteps: 1, TotalSteps: 2},
			}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			tool, invocations := fakeTool(t, test.body)
			hooks := &fakeHooks{errs: test.hookErrs}
			rec := &progress.Recorder{}
			d := newDriver(t, tool, test.values, hooks, rec)

			res, err := d.Go(context.Background(), test.ops)
			if test.expErr != nil {
				require.Error(err)
				test.expErr(t, tool, err)
			} else {
				require.NoError(err)
			}

			assert.Equal(test.expResult, res)
			assert.Equal(test.expHookCalls, hooks.calls)
			assert.Equal(test.expInvocations, readInvocations(t, invocations))

			evs := rec.Events()
			require.Len(evs, len(test.expEvents))
			for i, exp := range test.expEvents {
				assert.Equal(exp.Kind, evs[i].Kind)
				assert.Equal(exp.Package, evs[i].Package)
				assert.Equal(exp.Message, evs[i].Message)
				assert.InDelta(exp.Percentage, evs[i].Percentage, 0.0001)
			}
		})
	}
}

func TestDriverGoToolEnvironment(t *testing.T) {
	runDir := t.TempDir()
	out := filepath.Join(t.TempDir(), "env")
	tool, _ := fakeTool(t, `echo "$DPKG_NO_TSTP $EXTRA $(pwd -P)" > '`+out+`'`)

	cfg, err := config.New(map[string]any{
		config.KeyDpkgPath:     tool,
		config.KeyRunDirectory: runDir,
	})
	require.NoError(t, err)

	d, err := dpkg.NewDriver(dpkg.DriverConfig{
		Config:         cfg,
		Hooks:          &fakeHooks{},
		Env:            map[string]string{"EXTRA": "value"},
		Stdin:          strings.NewReader(""),
		Stdout:         &bytes.Buffer{},
		Stderr:         &bytes.Buffer{},
		InterruptGuard: term.NoopGuard,
	})
	require.NoError(t, err)

	_, err = d.Go(context.Background(), []model.Operation{op(model.OperationKindConfigure, "pkgA")})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	realRunDir, err := filepath.EvalSymlinks(runDir)
	require.NoError(t, err)
	assert.Equal(t, "yes value "+realRunDir+"\n", string(data))
}

func TestDriverGoDoesNotWaitForToolChildren(t *testing.T) {
	tool, _ := fakeTool(t, `sleep 5 </dev/null >/dev/null 2>&1 &
echo 'status: pkgA : unpacked : ' >&3`)
	rec := &progress.Recorder{}
	d := newDriver(t, tool, nil, &fakeHooks{}, rec)

	start := time.Now()
	res, err := d.Go(context.Background(), []model.Operation{op(model.OperationKindConfigure, "pkgA")})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, 1, res.DoneSteps)
	assert.Len(t, rec.Events(), 1)
}

func TestDriverGoCancelled(t *testing.T) {
	tool, invocations := fakeTool(t, `exit 0`)
	hooks := &fakeHooks{}
	d := newDriver(t, tool, nil, hooks, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Go(ctx, []model.Operation{op(model.OperationKindConfigure, "pkgA")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, readInvocations(t, invocations))
	assert.Equal(t, allHookCalls(1), hooks.calls)
}

func TestDriverGoMissingTool(t *testing.T) {
	d := newDriver(t, filepath.Join(t.TempDir(), "missing-dpkg"), nil, &fakeHooks{}, nil)

	_, err := d.Go(context.Background(), []model.Operation{op(model.OperationKindConfigure, "pkgA")})
	assert.ErrorIs(t, err, model.ErrSpawn)
}

func TestDriverGoRealHooks(t *testing.T) {
	tool, _ := fakeTool(t, `exit 2`)
	marker := filepath.Join(t.TempDir(), "post-invoke")

	cfg, err := config.New(map[string]any{
		config.KeyDpkgPath:   tool,
		"DPkg::Post-Invoke": []any{"touch '" + marker + "'"},
	})
	require.NoError(t, err)

	d, err := dpkg.NewDriver(dpkg.DriverConfig{
		Config:         cfg,
		Stdin:          strings.NewReader(""),
		Stdout:         &bytes.Buffer{},
		Stderr:         &bytes.Buffer{},
		InterruptGuard: term.NoopGuard,
	})
	require.NoError(t, err)

	_, err = d.Go(context.Background(), []model.Operation{op(model.OperationKindConfigure, "pkgA")})
	assert.ErrorIs(t, err, model.ErrToolNonZeroExit)
	assert.FileExists(t, marker)
}

func TestDriverCheck(t *testing.T) {
	tool, _ := fakeTool(t, `exit 0`)
	d := newDriver(t, tool, map[string]any{config.KeyRunDirectory: t.TempDir()}, &fakeHooks{}, nil)

	results := d.Check(context.Background())
	require.Len(t, results, 3)
	assert.False(t, model.HasErrors(results))

	d = newDriver(t, filepath.Join(t.TempDir(), "missing"), map[string]any{config.KeyRunDirectory: "/nonexistent-dir"}, &fakeHooks{}, nil)
	results = d.Check(context.Background())
	errs, _ := model.CheckSummary(results)
	assert.Equal(t, 2, errs)
}
