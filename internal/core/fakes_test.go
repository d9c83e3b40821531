package core

import (
	"context"
	"sync"
)

type fakeEngine struct {
	mu       sync.Mutex
	state    EngineState
	current  string
	started  []string
	pauses   int
	resumes  int
	hookFile string
	hook     LineHook
	startErr error
}

func (f *fakeEngine) State() EngineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) CurrentFile() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeEngine) SelectAndStart(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, path)
	return f.startErr
}

func (f *fakeEngine) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != EnginePrinting {
		return ErrNotPrinting
	}
	f.pauses++
	return nil
}

func (f *fakeEngine) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != EnginePaused {
		return ErrNotPaused
	}
	f.resumes++
	return nil
}

func (f *fakeEngine) InstallLineHook(path string, hook LineHook) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hook != nil && f.hookFile == path {
		return false
	}
	f.hookFile = path
	f.hook = hook
	return true
}

func (f *fakeEngine) ProcessLine(line string) (string, bool) {
	return SanitizeLine(line)
}

func (f *fakeEngine) set(state EngineState, current string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.current = current
}

func (f *fakeEngine) startedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

type fakeSettings struct {
	mu       sync.Mutex
	settings Settings
	saves    [][]Job
	loadErr  error
}

func (f *fakeSettings) LoadSettings(context.Context) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings
	s.Playlist = append([]Job(nil), f.settings.Playlist...)
	return s, f.loadErr
}

func (f *fakeSettings) SavePlaylist(_ context.Context, playlist []Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, append([]Job(nil), playlist...))
	f.settings.Playlist = append([]Job(nil), playlist...)
	return nil
}

type removal struct {
	playlist []Job
	file     string
}

type fakeNotifier struct {
	mu       sync.Mutex
	snaps    []QueueSnapshot
	removals []removal
}

func (f *fakeNotifier) QueueChanged(s QueueSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, s)
}

func (f *fakeNotifier) FileRemoved(playlist []Job, file string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, removal{playlist: playlist, file: file})
}

func (f *fakeNotifier) snapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

type fakeRuns struct {
	starts   []string
	finishes map[string]RunStatus
}

func (f *fakeRuns) RecordStart(_ context.Context, jobID, fileName string) error {
	f.starts = append(f.starts, jobID+":"+fileName)
	return nil
}

func (f *fakeRuns) RecordFinish(_ context.Context, fileName string, status RunStatus) error {
	if f.finishes == nil {
		f.finishes = make(map[string]RunStatus)
	}
	f.finishes[fileName] = status
	return nil
}
