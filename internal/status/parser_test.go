package status_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/progress"
	"github.com/slok/dpkgdrv/internal/status"
)

func install(name, path string) model.Operation {
	return model.Operation{Kind: model.OperationKindInstall, Package: model.Package{Name: name}, ArchivePath: path}
}

func op(kind model.OperationKind, name string) model.Operation {
	return model.Operation{Kind: kind, Package: model.Package{Name: name}}
}

func TestParserTotalSteps(t *testing.T) {
	tests := map[string]struct {
		ops      []model.Operation
		expTotal int
	}{
		"No operations.": {
			expTotal: 0,
		},
		"Install.": {
			ops:      []model.Operation{install("pkgA", "/a.deb")},
			expTotal: 2,
		},
		"Configure.": {
			ops:      []model.Operation{op(model.OperationKindConfigure, "pkgA")},
			expTotal: 3,
		},
		"Remove.": {
			ops:      []model.Operation{op(model.OperationKindRemove, "pkgA")},
			expTotal: 3,
		},
		"Purge.": {
			ops:      []model.Operation{op(model.OperationKindPurge, "pkgA")},
			expTotal: 2,
		},
		"Mixed operations, including the same package twice.": {
			ops: []model.Operation{
				install("pkgA", "/a.deb"),
				install("pkgB", "/b.deb"),
				op(model.OperationKindConfigure, "pkgA"),
				op(model.OperationKindConfigure, "pkgB"),
				op(model.OperationKindPurge, "pkgC"),
			},
			expTotal: 2 + 2 + 3 + 3 + 2,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := status.NewParser(status.ParserConfig{Operations: test.ops})
			require.NoError(t, err)
			assert.Equal(t, test.expTotal, p.TotalSteps())
			assert.Equal(t, 0, p.DoneSteps())
			assert.Equal(t, 0.0, p.Percentage())
		})
	}
}

func TestParserHandleLine(t *testing.T) {
	tests := map[string]struct {
		ops         []model.Operation
		lines       []string
		expEvents   []progress.Event
		expDone     int
		expProgress []model.PackageProgress
	}{
		"Install should report unpack progress.": {
			ops: []model.Operation{install("pkgA", "/var/cache/a.deb")},
			lines: []string{
				"status: pkgA : half-installed : \n",
				"status: pkgA : unpacked : \n",
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 50, Message: "Preparing pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 100, Message: "Unpacking pkgA"},
			},
			expDone: 2,
			expProgress: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, DoneSteps: 2, TotalSteps: 2},
			},
		},

		"Remove should report removal progress.": {
			ops: []model.Operation{op(model.OperationKindRemove, "pkgB")},
			lines: []string{
				"status: pkgB : half-configured :",
				"status: pkgB : half-installed :",
				"status: pkgB : config-files :",
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgB", Percentage: 100.0 / 3.0, Message: "Preparing for removal of pkgB"},
				{Kind: progress.EventKindStatus, Package: "pkgB", Percentage: 200.0 / 3.0, Message: "Removing pkgB"},
				{Kind: progress.EventKindStatus, Package: "pkgB", Percentage: 100, Message: "Removed pkgB"},
			},
			expDone: 3,
			expProgress: []model.PackageProgress{
				{Name: "pkgB", Kinds: []model.OperationKind{model.OperationKindRemove}, DoneSteps: 3, TotalSteps: 3},
			},
		},

		"Errors should be reported with the current percentage without progressing.": {
			ops: []model.Operation{install("pkgA", "/var/cache/archives/bad.deb")},
			lines: []string{
				"status: pkgA : half-installed : ",
				"status: /var/cache/archives/bad.deb : error : trying to overwrite /usr/share/x",
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 50, Message: "Preparing pkgA"},
				{Kind: progress.EventKindError, Package: "/var/cache/archives/bad.deb", Percentage: 50, Message: "trying to overwrite /usr/share/x"},
			},
			expDone: 1,
			expProgress: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, DoneSteps: 1, TotalSteps: 2},
			},
		},

		"Conffile prompts should be reported keeping colons of the detail.": {
			ops: []model.Operation{op(model.OperationKindConfigure, "pkgC")},
			lines: []string{
				"status: pkgC : conffile-prompt : '/etc/c.conf' '/etc/c.conf.dpkg-new' 1 1: x",
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindConffile, Package: "pkgC", Percentage: 0, Message: "'/etc/c.conf' '/etc/c.conf.dpkg-new' 1 1: x"},
			},
			expProgress: []model.PackageProgress{
				{Name: "pkgC", Kinds: []model.OperationKind{model.OperationKindConfigure}, DoneSteps: 0, TotalSteps: 3},
			},
		},

		"Repeated and out of order states should be ignored.": {
			ops: []model.Operation{install("pkgA", "/a.deb")},
			lines: []string{
				"status: pkgA : unpacked : ",
				"status: pkgA : half-installed : ",
				"status: pkgA : half-installed : ",
				"status: pkgA : unpacked : ",
				"status: pkgA : unpacked : ",
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 50, Message: "Preparing pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 100, Message: "Unpacking pkgA"},
			},
			expDone: 2,
			expProgress: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, DoneSteps: 2, TotalSteps: 2},
			},
		},

		"Unknown packages and malformed lines should be ignored.": {
			ops: []model.Operation{install("pkgA", "/a.deb")},
			lines: []string{
				"status: other : half-installed : ",
				"processing: install: pkgA",
				"garbage",
				"",
			},
			expProgress: []model.PackageProgress{
				{Name: "pkgA", Kinds: []model.OperationKind{model.OperationKindInstall}, DoneSteps: 0, TotalSteps: 2},
			},
		},

		"Architecture qualified names should match the package.": {
			ops: []model.Operation{op(model.OperationKindPurge, "pkgD")},
			lines: []string{
				"status: pkgD:amd64 : config-files : ",
				"status: pkgD:amd64 : not-installed : ",
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgD", Percentage: 50, Message: "Preparing to completely remove pkgD"},
				{Kind: progress.EventKindStatus, Package: "pkgD", Percentage: 100, Message: "Completely removed pkgD"},
			},
			expDone: 2,
			expProgress: []model.PackageProgress{
				{Name: "pkgD", Kinds: []model.OperationKind{model.OperationKindPurge}, DoneSteps: 2, TotalSteps: 2},
			},
		},

		"A package queued twice should follow both state tables in order.": {
			ops: []model.Operation{
				install("pkgA", "/a.deb"),
				op(model.OperationKindConfigure, "pkgA"),
			},
			lines: []string{
				"status: pkgA : half-installed : ",
				"status: pkgA : unpacked : ",
				"status: pkgA : unpacked : ",
				"status: pkgA : half-configured : ",
				"status: pkgA : installed : ",
			},
			expEvents: []progress.Event{
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 20, Message: "Preparing pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 40, Message: "Unpacking pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 60, Message: "Preparing to configure pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 80, Message: "Configuring pkgA"},
				{Kind: progress.EventKindStatus, Package: "pkgA", Percentage: 100, Message: "Installed pkgA"},
			},
			expDone: 5,
			expProgress: []model.PackageProgress{
				{
					Name:       "pkgA",
					Kinds:      []model.OperationKind{model.OperationKindInstall, model.OperationKindConfigure},
					DoneSteps:  5,
					TotalSteps: 5,
				},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			rec := &progress.Recorder{}
			p, err := status.NewParser(status.ParserConfig{
				Operations: test.ops,
				Reporter:   rec,
				Logger:     log.Noop,
			})
			require.NoError(err)

			for _, l := range test.lines {
				_ = p.HandleLine(l)
			}

			evs := rec.Events()
			require.Len(evs, len(test.expEvents))
			for i, exp := range test.expEvents {
				assert.Equal(exp.Kind, evs[i].Kind)
				assert.Equal(exp.Package, evs[i].Package)
				assert.Equal(exp.Message, evs[i].Message)
				assert.InDelta(exp.Percentage, evs[i].Percentage, 0.0001)
			}
			assert.Equal(test.expDone, p.DoneSteps())
			assert.Equal(test.expProgress, p.Progress())
		})
	}
}

func TestParserPercentageIsMonotonic(t *testing.T) {
	ops := []model.Operation{
		install("pkgA", "/a.deb"),
		op(model.OperationKindRemove, "pkgB"),
		op(model.OperationKindPurge, "pkgC"),
	}
	lines := []string{
		"status: pkgA : half-installed : ",
		"status: pkgB : half-configured : ",
		"status: pkgA : unpacked : ",
		"status: pkgC : config-files : ",
		"status: pkgB : half-installed : ",
		"status: pkgB : config-files : ",
		"status: pkgC : not-installed : ",
	}

	rec := &progress.Recorder{}
	p, err := status.NewParser(status.ParserConfig{Operations: ops, Reporter: rec})
	require.NoError(t, err)

	prev := 0.0
	for i, l := range lines {
		require.NoError(t, p.HandleLine(l))
		assert.Equal(t, i+1, p.DoneSteps())
		assert.GreaterOrEqual(t, p.Percentage(), prev)
		assert.LessOrEqual(t, p.Percentage(), 100.0)
		prev = p.Percentage()
	}
	assert.Equal(t, 100.0, p.Percentage())
	assert.Len(t, rec.Events(), len(lines))
}

type failingReporter struct{}

func (failingReporter) Report(progress.Event) error { return errors.New("closed") }

func TestParserReporterFailureDoesNotStopParsing(t *testing.T) {
	p, err := status.NewParser(status.ParserConfig{
		Operations: []model.Operation{install("pkgA", "/a.deb")},
		Reporter:   failingReporter{},
	})
	require.NoError(t, err)

	require.NoError(t, p.HandleLine("status: pkgA : half-installed : "))
	require.NoError(t, p.HandleLine("status: pkgA : unpacked : "))
	assert.Equal(t, 2, p.DoneSteps())
}

func TestParseLine(t *testing.T) {
	tests := map[string]struct {
		line    string
		expLine status.Line
		expErr  bool
	}{
		"Status line.": {
			line:    "status: pkgA : unpacked : \n",
			expLine: status.Line{Status: "status", Package: "pkgA", Action: "unpacked"},
		},
		"Detail with colons.": {
			line:    "status: /a.deb : error : a: b: c",
			expLine: status.Line{Status: "status", Package: "/a.deb", Action: "error", Detail: "a: b: c"},
		},
		"Architecture qualified package.": {
			line:    "status: pkgD:amd64 : config-files : \n",
			expLine: status.Line{Status: "status", Package: "pkgD:amd64", Action: "config-files"},
		},
		"Architecture qualified package with detail colons.": {
			line:    "status: libc6:i386 : conffile : /etc/ld.so.conf : 'new':'old' ",
			expLine: status.Line{Status: "status", Package: "libc6:i386", Action: "conffile", Detail: "/etc/ld.so.conf : 'new':'old'"},
		},
		"Line ending on a separator.": {
			line:    "status: pkgA : unpacked :",
			expLine: status.Line{Status: "status", Package: "pkgA", Action: "unpacked"},
		},
		"Architecture qualified package with three fields.": {
			line:   "status: pkgD:amd64 : config-files",
			expErr: true,
		},
		"Three fields.": {
			line:   "processing: install: pkgA",
			expErr: true,
		},
		"Empty.": {
			line:   "",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			l, err := status.ParseLine(test.line)
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrMalformedStatusLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expLine, l)
		})
	}
}
