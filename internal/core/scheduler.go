package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultPollInterval = time.Minute

type dailyTrigger struct {
	tag    string
	hour   int
	minute int
	second int
	next   time.Time
	fn     func()
}

// Scheduler runs daily callbacks from a periodic poll instead of precise
// timers, so a suspended host or a clock change only delays a trigger.
type Scheduler struct {
	mu       sync.Mutex
	triggers []*dailyTrigger
	interval time.Duration
	now      func() time.Time
	log      logrus.FieldLogger
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(interval time.Duration, log logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		interval: interval,
		now:      time.Now,
		log:      log.WithField("component", "scheduler"),
	}
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (hour, minute, second int, err error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
}

// RegisterDaily schedules fn for every day at timeOfDay (local time).
func (s *Scheduler) RegisterDaily(tag, timeOfDay string, fn func()) error {
	h, m, sec, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := &dailyTrigger{tag: tag, hour: h, minute: m, second: sec, fn: fn}
	t.next = nextDaily(s.now(), h, m, sec)
	s.triggers = append(s.triggers, t)
	s.log.WithFields(logrus.Fields{"trigger": tag, "next_run": t.next.Format(time.RFC3339)}).Info("scheduled daily trigger")
	return nil
}

// ClearAll drops every registered trigger.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = nil
}

// Pending returns the tags of registered triggers in registration order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := make([]string, 0, len(s.triggers))
	for _, t := range s.triggers {
		tags = append(tags, t.tag)
	}
	return tags
}

// NextRuns maps each tag to its next due time.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.triggers))
	for _, t := range s.triggers {
		out[t.tag] = t.next
	}
	return out
}

// RunPending fires every trigger that is due. Callbacks run without the
// scheduler lock held.
func (s *Scheduler) RunPending() {
	s.mu.Lock()
	now := s.now()
	var due []*dailyTrigger
	for _, t := range s.triggers {
		if !now.Before(t.next) {
			due = append(due, t)
			t.next = nextDaily(now, t.hour, t.minute, t.second)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].hour*3600+due[i].minute*60+due[i].second < due[j].hour*3600+due[j].minute*60+due[j].second
	})
	for _, t := range due {
		s.log.WithField("trigger", t.tag).Info("running scheduled trigger")
		t.fn()
	}
}

// Start launches the poll loop. It is a no-op when already running and
// reports whether a loop was started.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pollLoop(stopCh)
	return true
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) pollLoop(stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.RunPending()
		}
	}
}

func nextDaily(now time.Time, hour, minute, second int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, second, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
