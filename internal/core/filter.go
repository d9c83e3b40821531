package core

import (
	"strings"
	"sync"
)

// NoOpCommand is sent when an inserted clear script expands to nothing.
const NoOpCommand = "G4 P0"

type FilterMode int

const (
	FilterPassthrough FilterMode = iota
	// FilterClearScript emits the clear script followed by the current line.
	FilterClearScript
	// FilterClearScriptThenStripStart emits only the clear script and then
	// suppresses lines until the start marker.
	FilterClearScriptThenStripStart
	FilterStripStart
	FilterStripEnd
)

func (m FilterMode) String() string {
	switch m {
	case FilterPassthrough:
		return "passthrough"
	case FilterClearScript:
		return "clear_script"
	case FilterClearScriptThenStripStart:
		return "clear_script_then_strip_start"
	case FilterStripStart:
		return "strip_start"
	case FilterStripEnd:
		return "strip_end"
	default:
		return "unknown"
	}
}

type FilterAction int

const (
	ActionForward FilterAction = iota
	ActionSuppress
	ActionReplace
)

// FilterResult is the verdict for one line. Lines is set only for
// ActionForward (the original line) and ActionReplace.
type FilterResult struct {
	Action FilterAction
	Lines  []string
}

func Forward(line string) FilterResult {
	return FilterResult{Action: ActionForward, Lines: []string{line}}
}

func Suppress() FilterResult {
	return FilterResult{Action: ActionSuppress}
}

func Replace(lines []string) FilterResult {
	return FilterResult{Action: ActionReplace, Lines: lines}
}

// FilterState is everything the per-line decision depends on.
type FilterState struct {
	Mode        FilterMode
	StartMarker string
	EndMarker   string
	ClearScript string
	// Remaining is the number of jobs left in the queue, current included.
	Remaining int
}

// Step decides what happens to line and returns the state for the next
// line. Marker toggles never affect the line that carries the marker.
func Step(line string, st FilterState, process func(string) (string, bool)) (FilterResult, FilterState) {
	var res FilterResult
	next := st

	switch st.Mode {
	case FilterClearScript, FilterClearScriptThenStripStart:
		lines := expandScript(st.ClearScript, process)
		if st.Mode == FilterClearScript {
			lines = append(lines, line)
			next.Mode = FilterPassthrough
		} else {
			next.Mode = FilterStripStart
		}
		if len(lines) == 0 {
			lines = []string{NoOpCommand}
		}
		res = Replace(lines)
	case FilterStripStart, FilterStripEnd:
		res = Suppress()
	default:
		res = Forward(line)
	}

	trimmed := strings.TrimRight(line, " \t\r\n")
	if st.StartMarker != "" && trimmed == st.StartMarker {
		if next.Mode == FilterStripStart {
			next.Mode = FilterPassthrough
		}
	} else if st.EndMarker != "" && trimmed == st.EndMarker && st.Remaining > 1 {
		next.Mode = FilterStripEnd
	}

	return res, next
}

func expandScript(script string, process func(string) (string, bool)) []string {
	var lines []string
	for _, raw := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n") {
		l := raw
		ok := strings.TrimSpace(l) != ""
		if process != nil {
			l, ok = process(raw)
		}
		if ok {
			lines = append(lines, l)
		}
	}
	return lines
}

// LineFilter guards a FilterState shared between the orchestrator and the
// engine's streaming goroutine.
type LineFilter struct {
	mu      sync.Mutex
	state   FilterState
	process func(string) (string, bool)
	metrics Metrics
}

func NewLineFilter(process func(string) (string, bool), metrics Metrics) *LineFilter {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &LineFilter{process: process, metrics: metrics}
}

// Filter is installed as the engine's LineHook.
func (f *LineFilter) Filter(line string) FilterResult {
	f.mu.Lock()
	res, next := Step(line, f.state, f.process)
	f.state = next
	f.mu.Unlock()

	switch res.Action {
	case ActionSuppress:
		f.metrics.LineSuppressed()
	case ActionReplace:
		f.metrics.ClearScriptInserted()
	}
	return res
}

// Begin captures the markers for the job that is starting.
func (f *LineFilter) Begin(startMarker, endMarker string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.StartMarker = startMarker
	f.state.EndMarker = endMarker
}

// ArmBetweenJobs schedules the clear script for the next line and, when
// stripStart is set, suppression up to the start marker.
func (f *LineFilter) ArmBetweenJobs(clearScript string, stripStart bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.ClearScript = clearScript
	if stripStart {
		f.state.Mode = FilterClearScriptThenStripStart
	} else {
		f.state.Mode = FilterClearScript
	}
}

// StopStripping clears both stripping modes but keeps a pending clear
// script.
func (f *LineFilter) StopStripping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state.Mode {
	case FilterStripStart, FilterStripEnd:
		f.state.Mode = FilterPassthrough
	case FilterClearScriptThenStripStart:
		f.state.Mode = FilterClearScript
	}
}

func (f *LineFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Mode = FilterPassthrough
}

func (f *LineFilter) SetRemaining(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Remaining = n
}

func (f *LineFilter) State() FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
