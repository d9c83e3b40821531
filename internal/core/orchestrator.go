package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// SyntheticJobID marks a job the orchestrator inserted because the
	// engine started a file that was not at the head of the queue.
	SyntheticJobID = "0"

	tagAutoStart      = "playlist"
	tagBlackoutStart  = "blackout_start_time"
	tagBlackoutStop   = "blackout_stop_time"
	defaultEventQueue = 256
)

type OrchestratorConfig struct {
	Engine    PrintEngine
	Settings  SettingsStore
	Notifier  Notifier
	Scheduler *Scheduler
	Runs      RunRecorder
	Metrics   Metrics
	Log       logrus.FieldLogger
	// NewID mints ids for jobs that arrive without one.
	NewID func() string
}

// Orchestrator owns the queue and the filter state and decides what the
// engine does next. Every entry point is serialized by mu.
type Orchestrator struct {
	mu        sync.Mutex
	engine    PrintEngine
	settings  SettingsStore
	notifier  Notifier
	scheduler *Scheduler
	runs      RunRecorder
	metrics   Metrics
	log       logrus.FieldLogger
	newID     func() string

	queue  *Queue
	filter *LineFilter
	// inJob is set once the engine has taken up a job, so an Idle report
	// that merely follows a reconnect does not consume the queue head.
	inJob    bool
	armedFor string
	// begunFor names the file whose markers printFromQueue already captured.
	begunFor string

	events chan Event
	done   chan struct{}
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler(defaultPollInterval, cfg.Log)
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Orchestrator{
		engine:    cfg.Engine,
		settings:  cfg.Settings,
		notifier:  cfg.Notifier,
		scheduler: cfg.Scheduler,
		runs:      cfg.Runs,
		metrics:   cfg.Metrics,
		log:       cfg.Log.WithField("component", "orchestrator"),
		newID:     cfg.NewID,
		queue:     NewQueue(nil),
		filter:    NewLineFilter(cfg.Engine.ProcessLine, cfg.Metrics),
		events:    make(chan Event, defaultEventQueue),
		done:      make(chan struct{}),
	}
}

// Filter exposes the line filter installed on the engine.
func (o *Orchestrator) Filter() *LineFilter {
	return o.filter
}

func (o *Orchestrator) Snapshot() QueueSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

// Post hands an event to the loop started by Run. Engine callbacks and
// scheduler triggers go through here.
func (o *Orchestrator) Post(ev Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// Run processes posted events until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.events:
			o.Handle(ctx, ev)
		}
	}
}

// Handle applies one event to the state machine.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.log.WithField("event", ev.eventName()).Debug("handling event")

	switch e := ev.(type) {
	case FileSelected:
		if !o.engine.InstallLineHook(e.Path, o.filter.Filter) {
			o.log.WithField("file", e.Path).Debug("line hook already installed")
		}
	case PrintStarted:
		o.onPrintStarted(ctx, e.Path)
	case PrintCompleted:
		o.filter.StopStripping()
		o.recordFinish(ctx, e.Path, RunStatusFinished)
		o.metrics.JobFinished(false)
	case PrintFailed:
		o.log.WithField("file", e.Path).WithError(e.Err).Warn("print failed, advancing queue as if completed")
		o.inJob = true
		o.filter.StopStripping()
		o.recordFinish(ctx, e.Path, RunStatusFailed)
		o.metrics.JobFinished(true)
	case StateChanged:
		o.log.WithField("state", e.State.String()).Info("printer state changed")
		if e.State == EngineIdle {
			o.onIdle(ctx)
		}
	case TriggerFired:
		o.metrics.TriggerFired(e.Action)
		o.onTrigger(ctx, e.Action)
	case FileAdded:
		o.onFileAdded(ctx, e.Path)
	case FileRemoved:
		o.onFileRemoved(ctx, e.Path)
	case SettingsUpdated:
		o.reloadSettings(ctx)
	case ClientConnected:
		o.notifier.QueueChanged(o.snapshot())
	default:
		o.log.WithField("event", ev.eventName()).Warn("unhandled event")
	}
}

// SubmitQueue replaces the live queue with jobs, keeping the job the engine
// is working on pinned at the head.
func (o *Orchestrator) SubmitQueue(ctx context.Context, jobs []Job) error {
	if err := ValidateJobs(jobs); err != nil {
		return err
	}
	jobs = o.withIDs(jobs)

	o.mu.Lock()
	defer o.mu.Unlock()

	last := o.queue.Jobs()
	next := jobs
	forceNotify := false

	state := o.engine.State()
	if state.Active() {
		if active := o.engine.CurrentFile(); active != "" && (len(next) == 0 || next[0].FileName != active) {
			pinned := pinnedJob(active, next, last, o.queue.ActiveID())
			next = withoutFile(next, active)
			next = append([]Job{pinned}, next...)
			if sameJobs(next, last) {
				// the client's view is stale; resend so it gets corrected
				forceNotify = true
			}
		}
	}

	o.queue.Replace(next)
	o.syncQueue()
	if forceNotify || !sameJobs(next, last) {
		o.notifier.QueueChanged(o.snapshot())
	}

	if state == EngineIdle {
		settings, err := o.settings.LoadSettings(ctx)
		if err != nil {
			o.log.WithError(err).Warn("failed to load settings")
			return nil
		}
		if settings.AutoStartQueue {
			o.printFromQueue(ctx)
		}
	}
	return nil
}

// StartQueue replaces the queue outright and starts its first job.
func (o *Orchestrator) StartQueue(ctx context.Context, jobs []Job) error {
	if err := ValidateJobs(jobs); err != nil {
		return err
	}
	jobs = o.withIDs(jobs)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.queue.Replace(jobs)
	o.syncQueue()
	o.printFromQueue(ctx)
	return nil
}

// SavePlaylist persists jobs as the saved playlist and applies it like any
// other settings change.
func (o *Orchestrator) SavePlaylist(ctx context.Context, jobs []Job) error {
	if err := ValidateJobs(jobs); err != nil {
		return err
	}
	jobs = o.withIDs(jobs)
	if err := o.settings.SavePlaylist(ctx, jobs); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.reloadSettings(ctx)
	return nil
}

func (o *Orchestrator) onPrintStarted(ctx context.Context, path string) {
	if o.begunFor != path {
		// started outside the queue
		settings, err := o.settings.LoadSettings(ctx)
		if err != nil {
			o.log.WithError(err).Warn("failed to load settings, markers disabled for this job")
		}
		o.filter.Begin(settings.StripStartMarker, settings.StripEndMarker)
	}
	o.begunFor = ""
	if o.armedFor != path {
		o.filter.Reset()
	}
	o.armedFor = ""
	o.inJob = true

	if head, ok := o.queue.Head(); !ok || head.FileName != path {
		o.queue.Prepend(Job{ID: SyntheticJobID, FileName: path})
	}
	o.syncQueue()
	o.notifier.QueueChanged(o.snapshot())

	o.metrics.JobStarted()
	if o.runs != nil {
		if err := o.runs.RecordStart(ctx, o.queue.ActiveID(), path); err != nil {
			o.log.WithError(err).Warn("failed to record job start")
		}
	}
}

func (o *Orchestrator) onIdle(ctx context.Context) {
	o.filter.Reset()
	o.armedFor = ""
	if !o.inJob {
		return
	}
	o.inJob = false

	if _, ok := o.queue.PopFront(); !ok {
		return
	}
	o.syncQueue()
	o.notifier.QueueChanged(o.snapshot())

	settings, err := o.settings.LoadSettings(ctx)
	if err != nil {
		o.log.WithError(err).Warn("failed to load settings")
	}

	if o.queue.Len() > 0 {
		head, _ := o.queue.Head()
		stripStart := o.filter.State().StartMarker != ""
		o.filter.ArmBetweenJobs(settings.BedClearScript, stripStart)
		o.armedFor = head.FileName
		o.printFromQueue(ctx)
		return
	}

	if settings.AutoRepeatQueue {
		o.log.Info("restarting print queue from beginning")
		o.createAndPrintQueue(ctx, settings)
	}
}

func (o *Orchestrator) onTrigger(ctx context.Context, action TriggerAction) {
	switch action {
	case TriggerAutoStart:
		settings, err := o.settings.LoadSettings(ctx)
		if err != nil {
			o.log.WithError(err).Warn("failed to load settings for scheduled start")
			return
		}
		o.log.Info("starting scheduled print queue")
		o.createAndPrintQueue(ctx, settings)
	case TriggerBlackoutPause:
		if o.engine.State() != EnginePrinting || o.queue.Len() == 0 {
			o.log.Debug("blackout start ignored, nothing printing")
			return
		}
		o.log.Info("pausing print queue for blackout")
		if err := o.engine.Pause(); err != nil {
			o.log.WithError(err).Warn("failed to pause printer")
		}
	case TriggerBlackoutResume:
		if o.engine.State() != EnginePaused || o.queue.Len() == 0 {
			o.log.Debug("blackout stop ignored, nothing paused")
			return
		}
		o.log.Info("resuming print queue after blackout")
		if err := o.engine.Resume(); err != nil {
			o.log.WithError(err).Warn("failed to resume printer")
		}
	}
}

func (o *Orchestrator) onFileAdded(ctx context.Context, path string) {
	settings, err := o.settings.LoadSettings(ctx)
	if err != nil {
		o.log.WithError(err).Warn("failed to load settings")
		return
	}
	if !settings.AutoQueueFiles {
		return
	}
	o.queue.Append(Job{ID: o.newID(), FileName: path})
	o.syncQueue()
	o.notifier.QueueChanged(o.snapshot())
}

func (o *Orchestrator) onFileRemoved(ctx context.Context, path string) {
	pinned := o.engine.State().Active() && o.engine.CurrentFile() == path
	liveChanged := o.queue.RemoveWhere(func(j Job) bool {
		return j.FileName == path
	})
	if pinned && liveChanged {
		// the engine still holds the file; keep it at the head
		o.queue.Prepend(Job{ID: o.queue.ActiveID(), FileName: path})
	}
	o.syncQueue()

	settings, err := o.settings.LoadSettings(ctx)
	if err != nil {
		o.log.WithError(err).Warn("failed to load settings")
		return
	}
	persisted := settings.Playlist
	remaining := withoutFile(persisted, path)
	if sameJobs(remaining, persisted) {
		if liveChanged {
			o.notifier.QueueChanged(o.snapshot())
		}
		return
	}

	if err := o.settings.SavePlaylist(ctx, remaining); err != nil {
		o.log.WithError(err).Warn("failed to persist playlist")
		return
	}
	o.notifier.FileRemoved(remaining, path)
}

func (o *Orchestrator) reloadSettings(ctx context.Context) {
	settings, err := o.settings.LoadSettings(ctx)
	if err != nil {
		o.log.WithError(err).Warn("failed to load settings")
		return
	}

	o.log.Info("clearing scheduled jobs")
	o.scheduler.ClearAll()
	if settings.AutoStartQueue && settings.StartTime != "" {
		o.register(tagAutoStart, settings.StartTime, TriggerAutoStart)
	}
	if settings.BlackoutStartTime != "" {
		o.register(tagBlackoutStart, settings.BlackoutStartTime, TriggerBlackoutPause)
	}
	if settings.BlackoutStopTime != "" {
		o.register(tagBlackoutStop, settings.BlackoutStopTime, TriggerBlackoutResume)
	}
	if o.scheduler.Start() {
		o.log.Info("started scheduler poll")
	}

	if o.queue.Len() == 0 {
		return
	}
	tail, ok := tailFrom(settings.Playlist, o.queue.ActiveID())
	if !ok {
		o.log.WithField("job_id", o.queue.ActiveID()).Debug("active job not in saved playlist, keeping live queue")
		return
	}
	o.log.Info("updating currently running playlist")
	o.queue.Replace(tail)
	o.syncQueue()
	o.notifier.QueueChanged(o.snapshot())
}

func (o *Orchestrator) register(tag, at string, action TriggerAction) {
	err := o.scheduler.RegisterDaily(tag, at, func() {
		o.Post(TriggerFired{Action: action})
	})
	if err != nil {
		o.log.WithField("trigger", tag).WithError(err).Warn("ignoring invalid schedule")
	}
}

// createAndPrintQueue reloads the saved playlist, resuming from the active
// job when one is mid-flight.
func (o *Orchestrator) createAndPrintQueue(ctx context.Context, settings Settings) {
	jobs := settings.Playlist
	if id := o.queue.ActiveID(); id != "" {
		if tail, ok := tailFrom(jobs, id); ok {
			jobs = tail
		}
	}
	busy := o.engine.State().Active()
	if active := o.engine.CurrentFile(); busy && active != "" && (len(jobs) == 0 || jobs[0].FileName != active) {
		// keep the running job at the head so its completion pops it, not
		// the first reloaded entry
		pinned := pinnedJob(active, jobs, o.queue.Jobs(), o.queue.ActiveID())
		jobs = append([]Job{pinned}, withoutFile(jobs, active)...)
	}
	o.queue.Replace(jobs)
	o.syncQueue()
	o.notifier.QueueChanged(o.snapshot())

	if busy {
		o.log.Info("printer busy, scheduled queue will continue after the current job")
		return
	}
	o.printFromQueue(ctx)
}

func (o *Orchestrator) printFromQueue(ctx context.Context) {
	head, ok := o.queue.Head()
	if !ok {
		return
	}
	o.queue.SetActiveID(head.ID)
	settings, err := o.settings.LoadSettings(ctx)
	if err != nil {
		o.log.WithError(err).Warn("failed to load settings, markers disabled for this job")
	}
	// markers and hook are in place before the first streamed line
	o.filter.Begin(settings.StripStartMarker, settings.StripEndMarker)
	o.begunFor = head.FileName
	o.engine.InstallLineHook(head.FileName, o.filter.Filter)
	o.log.WithFields(logrus.Fields{"file": head.FileName, "job_id": head.ID}).Info("attempting to select and print file")
	if err := o.engine.SelectAndStart(ctx, head.FileName); err != nil {
		o.begunFor = ""
		o.log.WithField("file", head.FileName).WithError(err).Warn("failed to start print")
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, path string, status RunStatus) {
	if o.runs == nil {
		return
	}
	if err := o.runs.RecordFinish(ctx, path, status); err != nil {
		o.log.WithError(err).Warn("failed to record job finish")
	}
}

func (o *Orchestrator) syncQueue() {
	if head, ok := o.queue.Head(); ok {
		o.queue.SetActiveID(head.ID)
	} else {
		o.queue.SetActiveID("")
	}
	o.filter.SetRemaining(o.queue.Len())
	o.metrics.QueueLength(o.queue.Len())
}

func (o *Orchestrator) snapshot() QueueSnapshot {
	return QueueSnapshot{Playlist: o.queue.Jobs(), CurrentFileID: o.queue.ActiveID()}
}

func (o *Orchestrator) withIDs(jobs []Job) []Job {
	return AssignIDs(jobs, o.newID)
}

// pinnedJob picks the entry that represents the engine's active file,
// preferring the client's own entry so its id survives.
func pinnedJob(active string, submitted, last []Job, activeID string) Job {
	for _, j := range submitted {
		if j.FileName == active {
			return j
		}
	}
	if len(last) > 0 && last[0].FileName == active {
		return last[0]
	}
	if activeID == "" {
		activeID = SyntheticJobID
	}
	return Job{ID: activeID, FileName: active}
}

func withoutFile(jobs []Job, path string) []Job {
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.FileName != path {
			out = append(out, j)
		}
	}
	return out
}

type nopNotifier struct{}

func (nopNotifier) QueueChanged(QueueSnapshot)  {}
func (nopNotifier) FileRemoved([]Job, string) {}
