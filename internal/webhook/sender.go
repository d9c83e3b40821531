package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orrn/playlist/internal/core"
	"github.com/orrn/playlist/internal/db"
)

type WebhookEvent string

const (
	EventQueueChanged WebhookEvent = "queue_changed"
	EventFileRemoved  WebhookEvent = "file_removed"
	EventTest         WebhookEvent = "test"
)

// ValidEvents lists the events a webhook can subscribe to.
var ValidEvents = []WebhookEvent{EventQueueChanged, EventFileRemoved}

func IsValidEvent(event string) bool {
	for _, e := range ValidEvents {
		if string(e) == event {
			return true
		}
	}
	return false
}

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type FileRemovedData struct {
	Playlist    []core.Job `json:"playlist"`
	RemovedFile string     `json:"removed_file"`
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

// WebhookStore is the subset of db.WebhookOperations the sender reads.
type WebhookStore interface {
	ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*db.Webhook, error)
	GetWebhookByID(ctx context.Context, id int64) (*db.Webhook, error)
}

type webhookTask struct {
	event   WebhookEvent
	payload *WebhookPayload
}

type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http error: %d", e.StatusCode)
}

// WebhookSender delivers queue notifications to registered webhooks from a
// worker pool. It implements core.Notifier and never blocks the caller.
type WebhookSender struct {
	store       WebhookStore
	httpClient  *http.Client
	log         logrus.FieldLogger
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewWebhookSender(store WebhookStore, config WebhookConfig, log logrus.FieldLogger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &WebhookSender{
		store: store,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		log:         log.WithField("component", "webhook"),
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *WebhookSender) QueueChanged(snap core.QueueSnapshot) {
	s.enqueue(EventQueueChanged, snap)
}

func (s *WebhookSender) FileRemoved(playlist []core.Job, removedFile string) {
	s.enqueue(EventFileRemoved, FileRemovedData{Playlist: playlist, RemovedFile: removedFile})
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	task := &webhookTask{
		event: event,
		payload: &WebhookPayload{
			Event:     string(event),
			Timestamp: time.Now(),
			Data:      data,
		},
	}

	select {
	case s.queue <- task:
	default:
		s.log.WithField("event", event).Warn("queue full, dropping webhook event")
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			s.dispatch(id, task)
		}
	}
}

// dispatch fans one event out to every webhook subscribed to it.
func (s *WebhookSender) dispatch(workerID int, task *webhookTask) {
	webhooks, err := s.store.ListActiveWebhooksForEvent(context.Background(), string(task.event))
	if err != nil {
		s.log.WithField("event", task.event).WithError(err).Error("failed to get webhooks for event")
		return
	}

	for _, w := range webhooks {
		payload := *task.payload
		attempts, err := s.sendWithRetry(w, &payload)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"worker":     workerID,
				"webhook_id": w.ID,
				"event":      task.event,
				"attempts":   attempts,
			}).WithError(err).Error("failed to send webhook")
		}
	}
}

func (s *WebhookSender) sendWithRetry(w *db.Webhook, payload *WebhookPayload) (int, error) {
	var lastErr error
	attempt := 0
	for attempt < s.retryCount {
		attempt++

		err := s.sendRequest(w, payload)
		if err == nil {
			return attempt, nil
		}

		lastErr = err

		if isClientError(err) {
			s.log.WithField("webhook_id", w.ID).WithError(err).Warn("client error, not retrying")
			return attempt, err
		}

		if attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(attempt-1))
			s.log.WithFields(logrus.Fields{
				"webhook_id": w.ID,
				"attempt":    attempt,
				"backoff":    backoff.String(),
			}).WithError(err).Warn("retrying webhook")

			select {
			case <-s.stopCh:
				return attempt, fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return attempt, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// SendTest posts a test payload to one webhook synchronously.
func (s *WebhookSender) SendTest(ctx context.Context, webhookID int64) error {
	w, err := s.store.GetWebhookByID(ctx, webhookID)
	if err != nil {
		return err
	}
	payload := &WebhookPayload{
		Event:     string(EventTest),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"test":       true,
			"message":    "Test webhook from playlist",
			"webhook_id": webhookID,
		},
	}
	return s.sendRequest(w, payload)
}

func (s *WebhookSender) sendRequest(w *db.Webhook, payload *WebhookPayload) error {
	payloadBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if w.Secret != "" {
		payload.Signature = SignPayload(payloadBytes, w.Secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &httpError{StatusCode: resp.StatusCode}
	}

	return nil
}

// SignPayload is the hex HMAC-SHA256 of the JSON-encoded data field.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500
}
