package core

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateJobID   = errors.New("duplicate job id in queue")
	ErrEmptyFileName    = errors.New("job has no file name")
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
)

// Job is one queued unit of print work. IDs are only unique within a single
// submitted queue.
type Job struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
}

type EngineState int

const (
	EngineIdle EngineState = iota
	EnginePrinting
	EnginePaused
	EngineOffline
)

func (s EngineState) String() string {
	switch s {
	case EngineIdle:
		return "idle"
	case EnginePrinting:
		return "printing"
	case EnginePaused:
		return "paused"
	case EngineOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Active reports whether the engine has a job loaded (printing or paused).
func (s EngineState) Active() bool {
	return s == EnginePrinting || s == EnginePaused
}

// LineHook inspects one raw instruction line before the engine strips
// comments from it.
type LineHook func(line string) FilterResult

// PrintEngine is the machine the orchestrator drives. Commands are fire and
// forget; outcomes arrive later as events.
type PrintEngine interface {
	State() EngineState
	CurrentFile() string
	SelectAndStart(ctx context.Context, path string) error
	Pause() error
	Resume() error
	// InstallLineHook attaches hook to the stream of the selected file. It
	// returns false when a hook is already installed for that file.
	InstallLineHook(path string, hook LineHook) bool
	// ProcessLine applies the engine's own line preprocessing. ok is false
	// when nothing is left to send.
	ProcessLine(line string) (out string, ok bool)
}

// QueueSnapshot is what listeners receive whenever the queue changes.
type QueueSnapshot struct {
	Playlist      []Job  `json:"playlist"`
	CurrentFileID string `json:"current_file"`
}

// Notifier pushes queue changes to external listeners.
type Notifier interface {
	QueueChanged(snap QueueSnapshot)
	FileRemoved(playlist []Job, removedFile string)
}

// Settings mirrors the persisted playlist configuration.
type Settings struct {
	BedClearScript    string `json:"bed_clear_script"`
	StripStartMarker  string `json:"strip_start_marker"`
	StripEndMarker    string `json:"strip_end_marker"`
	AutoStartQueue    bool   `json:"auto_start_queue"`
	AutoQueueFiles    bool   `json:"auto_queue_files"`
	Playlist          []Job  `json:"playlist"`
	StartTime         string `json:"start_time"`
	BlackoutStartTime string `json:"blackout_start_time"`
	BlackoutStopTime  string `json:"blackout_stop_time"`
	AutoRepeatQueue   bool   `json:"auto_repeat_queue"`
}

// SettingsStore is the configuration store. Only the playlist is written.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (Settings, error)
	SavePlaylist(ctx context.Context, playlist []Job) error
}

type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

// JobRun is one historical execution of a queued job.
type JobRun struct {
	ID         int64      `json:"id"`
	JobID      string     `json:"job_id"`
	FileName   string     `json:"file_name"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunRecorder keeps the job run history. Optional.
type RunRecorder interface {
	RecordStart(ctx context.Context, jobID, fileName string) error
	RecordFinish(ctx context.Context, fileName string, status RunStatus) error
}

// Metrics receives orchestration counters. Optional.
type Metrics interface {
	JobStarted()
	JobFinished(failed bool)
	LineSuppressed()
	ClearScriptInserted()
	TriggerFired(action TriggerAction)
	QueueLength(n int)
}

type nopMetrics struct{}

func (nopMetrics) JobStarted()                {}
func (nopMetrics) JobFinished(bool)           {}
func (nopMetrics) LineSuppressed()            {}
func (nopMetrics) ClearScriptInserted()       {}
func (nopMetrics) TriggerFired(TriggerAction) {}
func (nopMetrics) QueueLength(int)            {}
