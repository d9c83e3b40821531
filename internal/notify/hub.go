package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/core"
)

const (
	EventQueueChanged = "queue_changed"
	EventFileRemoved  = "file_removed"

	defaultBuffer = 16
)

// Message is one notification delivered to a subscriber.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type FileRemovedData struct {
	Playlist    []core.Job `json:"playlist"`
	RemovedFile string     `json:"removed_file"`
}

// Subscription is a live feed of queue notifications.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan Message
	cancel func()
	once   sync.Once
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan Message {
	return s.events
}

// Close is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Hub fans queue notifications out to in-process subscribers such as the
// HTTP event stream. A subscriber that falls behind loses messages rather
// than stalling the publisher.
type Hub struct {
	mu          sync.Mutex
	subs        map[int]chan Message
	next        int
	buffer      int
	onSubscribe func()
	log         logrus.FieldLogger
}

func NewHub(buffer int, log logrus.FieldLogger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		subs:   make(map[int]chan Message),
		buffer: buffer,
		log:    log.WithField("component", "notify"),
	}
}

// OnSubscribe registers fn to run after every new subscription, typically
// posting core.ClientConnected so the newcomer receives the current queue.
func (h *Hub) OnSubscribe(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSubscribe = fn
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	hook := h.onSubscribe
	h.mu.Unlock()

	if hook != nil {
		hook()
	}

	return &Subscription{
		events: ch,
		cancel: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		},
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) QueueChanged(snap core.QueueSnapshot) {
	h.broadcast(Message{Event: EventQueueChanged, Data: snap})
}

func (h *Hub) FileRemoved(playlist []core.Job, removedFile string) {
	h.broadcast(Message{Event: EventFileRemoved, Data: FileRemovedData{Playlist: playlist, RemovedFile: removedFile}})
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.log.WithFields(logrus.Fields{"subscriber": id, "event": msg.Event}).Warn("subscriber too slow, dropping message")
		}
	}
}

// Multi forwards every notification to each notifier in order.
type Multi []core.Notifier

func (m Multi) QueueChanged(snap core.QueueSnapshot) {
	for _, n := range m {
		n.QueueChanged(snap)
	}
}

func (m Multi) FileRemoved(playlist []core.Job, removedFile string) {
	for _, n := range m {
		n.FileRemoved(playlist, removedFile)
	}
}
