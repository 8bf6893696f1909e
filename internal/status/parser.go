// Package status parses the package tool machine status stream into
// per-package progress.
package status

import (
	"fmt"
	"strings"

	"github.com/slok/dpkgdrv/internal/log"
	"github.com/slok/dpkgdrv/internal/model"
	"github.com/slok/dpkgdrv/internal/progress"
)

// ParserConfig is the configuration of the status stream parser.
type ParserConfig struct {
	// Operations are all the operations of the run, in queue order.
	Operations []model.Operation
	Reporter   progress.Reporter
	Logger     log.Logger
}

func (c *ParserConfig) defaults() error {
	if c.Reporter == nil {
		c.Reporter = progress.Noop
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "status.Parser"})

	return nil
}

type packageState struct {
	name  string
	kinds []model.OperationKind
	steps []model.StateStep
	done  int
}

func (p *packageState) next() (model.StateStep, bool) {
	if p.done >= len(p.steps) {
		return model.StateStep{}, false
	}
	return p.steps[p.done], true
}

// Parser tracks the progress of a run from the status lines of the package tool.
// It is not safe for concurrent use, it's owned by the run supervision loop.
type Parser struct {
	packages map[string]*packageState
	order    []string
	total    int
	done     int
	reporter progress.Reporter
	logger   log.Logger
}

// NewParser returns a parser ready to track the progress of the operations.
func NewParser(cfg ParserConfig) (*Parser, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Parser{
		packages: map[string]*packageState{},
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
	}

	for _, op := range cfg.Operations {
		name := op.Package.Name
		st, ok := p.packages[name]
		if !ok {
			st = &packageState{name: name}
			p.packages[name] = st
			p.order = append(p.order, name)
		}

		steps := model.StateSteps(op.Kind)
		st.kinds = append(st.kinds, op.Kind)
		st.steps = append(st.steps, steps...)
		p.total += len(steps)
	}

	return p, nil
}

// TotalSteps returns the number of expected state transitions of the run.
func (p *Parser) TotalSteps() int { return p.total }

// DoneSteps returns the number of observed state transitions.
func (p *Parser) DoneSteps() int { return p.done }

// Percentage returns the current completion percentage.
func (p *Parser) Percentage() float64 {
	if p.total == 0 {
		return 0
	}
	return float64(p.done) / float64(p.total) * 100.0
}

// Progress returns a snapshot of the per-package progress, in queue order.
func (p *Parser) Progress() []model.PackageProgress {
	res := make([]model.PackageProgress, 0, len(p.order))
	for _, name := range p.order {
		st := p.packages[name]
		kinds := make([]model.OperationKind, len(st.kinds))
		copy(kinds, st.kinds)
		res = append(res, model.PackageProgress{
			Name:       st.name,
			Kinds:      kinds,
			DoneSteps:  st.done,
			TotalSteps: len(st.steps),
		})
	}
	return res
}

// Line is a parsed status stream line.
type Line struct {
	Status  string
	Package string
	Action  string
	Detail  string
}

// ParseLine splits a `status: <package> : <state> : <detail>` line. Fields are
// separated by a colon followed by a space or the line end, so architecture
// qualified names (pkg:amd64) stay whole and colons on the detail are kept.
// Lines that don't have exactly four fields are malformed.
func ParseLine(line string) (Line, error) {
	fields := splitFields(strings.TrimSuffix(line, "\n"), 4)
	if len(fields) != 4 {
		return Line{}, fmt.Errorf("expected 4 fields, got %d: %w", len(fields), model.ErrMalformedStatusLine)
	}

	return Line{
		Status:  strings.TrimSpace(fields[0]),
		Package: strings.TrimSpace(fields[1]),
		Action:  strings.TrimSpace(fields[2]),
		Detail:  strings.TrimSpace(fields[3]),
	}, nil
}

// splitFields splits s in at most n fields, the last one holds the rest.
func splitFields(s string, n int) []string {
	var fields []string
	start := 0
	for i := 0; i < len(s) && len(fields) < n-1; i++ {
		if s[i] != ':' {
			continue
		}
		if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\t' {
			continue
		}
		fields = append(fields, s[start:i])
		start = i + 1
	}
	if s == "" {
		return nil
	}
	return append(fields, s[start:])
}

// HandleLine processes a single status line. Malformed lines return an error
// wrapping model.ErrMalformedStatusLine, the parser state is not changed.
// States that are not the next expected state of the package are ignored.
func (p *Parser) HandleLine(raw string) error {
	line, err := ParseLine(raw)
	if err != nil {
		p.logger.Debugf("dropping status line %q: %s", raw, err)
		return err
	}

	switch {
	case strings.HasPrefix(line.Action, "error"):
		p.report(progress.Event{
			Kind:       progress.EventKindError,
			Package:    line.Package,
			Percentage: p.Percentage(),
			Message:    line.Detail,
		})
		return nil
	case strings.HasPrefix(line.Action, "conffile"):
		p.report(progress.Event{
			Kind:       progress.EventKindConffile,
			Package:    line.Package,
			Percentage: p.Percentage(),
			Message:    line.Detail,
		})
		return nil
	}

	st := p.lookup(line.Package)
	if st == nil {
		p.logger.Debugf("ignoring state %q of unknown package %q", line.Action, line.Package)
		return nil
	}

	step, ok := st.next()
	if !ok || step.State != line.Action {
		p.logger.Debugf("ignoring unexpected state %q of package %q", line.Action, st.name)
		return nil
	}

	st.done++
	p.done++
	p.report(progress.Event{
		Kind:       progress.EventKindStatus,
		Package:    st.name,
		Percentage: p.Percentage(),
		Message:    fmt.Sprintf(step.Message, st.name),
	})

	return nil
}

// lookup finds the package state by name, the tool may qualify names with
// the architecture (pkg:amd64).
func (p *Parser) lookup(name string) *packageState {
	if st, ok := p.packages[name]; ok {
		return st
	}
	if base, _, ok := strings.Cut(name, ":"); ok {
		return p.packages[base]
	}
	return nil
}

func (p *Parser) report(ev progress.Event) {
	// Reporting is best effort, it never breaks the stream parsing.
	if err := p.reporter.Report(ev); err != nil {
		p.logger.Warningf("could not report progress: %s", err)
	}
}
