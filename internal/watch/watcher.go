package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rjeczalik/notify"
	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/core"
)

// DefaultExtensions are the file types treated as printable jobs.
var DefaultExtensions = []string{".gcode", ".gco", ".g"}

// Watcher reports printable files appearing in or leaving the uploads
// directory tree as core.FileAdded and core.FileRemoved events with paths
// relative to the directory root.
type Watcher struct {
	root       string
	extensions map[string]bool
	publish    func(core.Event)
	log        logrus.FieldLogger
	fsEvents   chan notify.EventInfo
}

func NewWatcher(root string, extensions []string, publish func(core.Event), log logrus.FieldLogger) *Watcher {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{
		root:       root,
		extensions: exts,
		publish:    publish,
		log:        log.WithField("component", "watch"),
		fsEvents:   make(chan notify.EventInfo, 64),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}
	root, err := filepath.Abs(w.root)
	if err != nil {
		return fmt.Errorf("failed to resolve uploads directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	w.root = root

	if err := notify.Watch(filepath.Join(root, "..."), w.fsEvents, notify.Create, notify.Remove, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	defer notify.Stop(w.fsEvents)

	w.log.WithField("dir", root).Info("watching uploads directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ei := <-w.fsEvents:
			if ev, ok := w.translate(ei); ok {
				w.log.WithField("file", ei.Path()).Debugf("upload event %s", ei.Event())
				w.publish(ev)
			}
		}
	}
}

// translate maps a filesystem notification to a queue event. A rename is
// reported by both its source and destination, so the file's presence
// decides which one this is.
func (w *Watcher) translate(ei notify.EventInfo) (core.Event, bool) {
	path := ei.Path()
	if !w.extensions[strings.ToLower(filepath.Ext(path))] {
		return nil, false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, false
	}
	rel = filepath.ToSlash(rel)

	switch ei.Event() {
	case notify.Create:
		if !isFile(path) {
			return nil, false
		}
		return core.FileAdded{Path: rel}, true
	case notify.Remove:
		return core.FileRemoved{Path: rel}, true
	case notify.Rename:
		if isFile(path) {
			return core.FileAdded{Path: rel}, true
		}
		return core.FileRemoved{Path: rel}, true
	}
	return nil, false
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
