// Package progress reports package tool progress to an external observer.
package progress

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/slok/dpkgdrv/internal/log"
)

// EventKind is the kind of a progress event.
type EventKind string

const (
	// EventKindStatus is a package reaching the next expected state.
	EventKindStatus EventKind = "pmstatus"
	// EventKindError is an error reported by the package tool.
	EventKindError EventKind = "pmerror"
	// EventKindConffile is a configuration file prompt reported by the package tool.
	EventKindConffile EventKind = "pmconffile"
)

// Event is a single progress event.
type Event struct {
	Kind EventKind
	// Package is the package name, or the archive path for some tool errors.
	Package    string
	Percentage float64
	// Message is the formatted status message, or the tool detail for errors and prompts.
	Message string
}

// Reporter reports progress events.
type Reporter interface {
	Report(ev Event) error
}

// Noop reporter doesn't report anything.
const Noop = noop(0)

type noop int

func (noop) Report(Event) error { return nil }

// FormatPercentage formats a percentage with up to 6 significant digits,
// the way the package tool frontends do (50, 33.3333, 100).
func FormatPercentage(p float64) string {
	return strconv.FormatFloat(p, 'g', 6, 64)
}

// LineReporter writes events using the line protocol:
//
//	pmstatus:<package>:<percentage>:<message>
//	pmerror:<package-or-path>:<percentage>:<detail>
//	pmconffile:<package-or-path>:<percentage>:<detail>
//
// Each line is written with a single write call on the underlying writer,
// no buffering is done.
type LineReporter struct {
	w      io.Writer
	logger log.Logger
	mu     sync.Mutex
}

// NewLineReporter returns a new line protocol reporter.
func NewLineReporter(w io.Writer, logger log.Logger) *LineReporter {
	if logger == nil {
		logger = log.Noop
	}

	return &LineReporter{
		w:      w,
		logger: logger.WithValues(log.Kv{"svc": "progress.LineReporter"}),
	}
}

func (r *LineReporter) Report(ev Event) error {
	line := fmt.Sprintf("%s:%s:%s:%s\n", ev.Kind, ev.Package, FormatPercentage(ev.Percentage), ev.Message)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := io.WriteString(r.w, line); err != nil {
		r.logger.Warningf("could not write progress line: %s", err)
		return fmt.Errorf("could not write progress line: %w", err)
	}

	return nil
}

// TextReporter writes human readable progress lines like `[ 50%] Unpacking pkgA`.
type TextReporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewTextReporter returns a new human readable reporter.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) Report(ev Event) error {
	var msg string
	switch ev.Kind {
	case EventKindError:
		msg = fmt.Sprintf("Error processing %s: %s", ev.Package, ev.Message)
	case EventKindConffile:
		msg = fmt.Sprintf("Configuration file prompt for %s: %s", ev.Package, ev.Message)
	default:
		msg = ev.Message
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := fmt.Fprintf(r.w, "[%3.0f%%] %s\n", ev.Percentage, msg)
	return err
}

// Multi returns a reporter that reports to all reporters. All reporters are
// called even if one fails, the first error is returned.
func Multi(reporters ...Reporter) Reporter {
	return multi(reporters)
}

type multi []Reporter

func (m multi) Report(ev Event) error {
	var firstErr error
	for _, r := range m {
		if err := r.Report(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recorder stores the reported events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Report(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := make([]Event, len(r.events))
	copy(evs, r.events)
	return evs
}
