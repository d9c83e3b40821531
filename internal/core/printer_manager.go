package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/orrn/playlist/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	ErrPrinterOffline   = errors.New("printer is offline")
	ErrConnectionFailed = errors.New("connection failed")
	ErrPrinterBusy      = errors.New("printer is busy")
	ErrNotPrinting      = errors.New("printer is not printing")
	ErrNotPaused        = errors.New("printer is not paused")
	ErrPrinterError     = errors.New("printer reported an error")
	ErrPrintCancelled   = errors.New("print cancelled")
)

const (
	defaultTCPPort          = 9100
	defaultReadWriteTimeout = 10 * time.Second
	defaultAckTimeout       = 5 * time.Minute
	statusCommand           = "M105"
	maxLineLength           = 1 << 20
)

type PrinterStatus struct {
	State       EngineState `json:"state"`
	StateName   string      `json:"state_name"`
	CurrentFile string      `json:"current_file,omitempty"`
	LinesSent   int64       `json:"lines_sent"`
	IsOnline    bool        `json:"is_online"`
	LastChecked time.Time   `json:"last_checked"`
}

// PrinterManager streams G-code files to a printer reachable over TCP and
// reports lifecycle events. It implements PrintEngine.
type PrinterManager struct {
	config *config.PrinterConfig
	log    logrus.FieldLogger

	mu          sync.RWMutex
	conn        net.Conn
	reader      *bufio.Reader
	state       EngineState
	current     string
	hookFile    string
	hook        LineHook
	pauseGate   chan struct{}
	cancel      context.CancelFunc
	linesSent   int64
	lastChecked time.Time
	publish     func(Event)

	// ioMu serializes request/ack exchanges on the connection.
	ioMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPrinterManager(cfg *config.PrinterConfig, log logrus.FieldLogger) *PrinterManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PrinterManager{
		config: cfg,
		log:    log.WithField("component", "printer"),
		state:  EngineOffline,
		stopCh: make(chan struct{}),
	}
}

// SetEventSink routes lifecycle events, normally to Orchestrator.Post.
func (pm *PrinterManager) SetEventSink(fn func(Event)) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.publish = fn
}

func (pm *PrinterManager) Start() {
	pm.wg.Add(1)
	go pm.healthCheckLoop()
}

func (pm *PrinterManager) Stop() {
	close(pm.stopCh)

	pm.mu.Lock()
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.mu.Unlock()

	pm.wg.Wait()
	pm.disconnect()
}

func (pm *PrinterManager) State() EngineState {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.state
}

func (pm *PrinterManager) CurrentFile() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.current
}

func (pm *PrinterManager) Status() PrinterStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return PrinterStatus{
		State:       pm.state,
		StateName:   pm.state.String(),
		CurrentFile: pm.current,
		LinesSent:   pm.linesSent,
		IsOnline:    pm.conn != nil,
		LastChecked: pm.lastChecked,
	}
}

// ProcessLine strips comments and surrounding whitespace.
func (pm *PrinterManager) ProcessLine(line string) (string, bool) {
	return SanitizeLine(line)
}

func SanitizeLine(line string) (string, bool) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	return line, line != ""
}

func (pm *PrinterManager) InstallLineHook(path string, hook LineHook) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.hook != nil && pm.hookFile == path {
		return false
	}
	pm.hookFile = path
	pm.hook = hook
	return true
}

func (pm *PrinterManager) SelectAndStart(ctx context.Context, path string) error {
	pm.mu.Lock()
	if pm.conn == nil {
		pm.mu.Unlock()
		return ErrPrinterOffline
	}
	if pm.state.Active() {
		pm.mu.Unlock()
		return ErrPrinterBusy
	}

	// an unopenable file never becomes a job, so nothing is emitted
	f, err := os.Open(pm.resolve(path))
	if err != nil {
		pm.mu.Unlock()
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	if pm.hookFile != path {
		pm.hook = nil
		pm.hookFile = ""
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	pm.current = path
	pm.state = EnginePrinting
	pm.pauseGate = nil
	pm.linesSent = 0
	pm.mu.Unlock()

	pm.log.WithField("file", path).Info("starting print")
	pm.emit(FileSelected{Path: path})
	pm.emit(PrintStarted{Path: path})
	pm.emit(StateChanged{State: EnginePrinting})

	pm.wg.Add(1)
	go pm.stream(streamCtx, f, path)
	return nil
}

func (pm *PrinterManager) Pause() error {
	pm.mu.Lock()
	if pm.state != EnginePrinting {
		pm.mu.Unlock()
		return ErrNotPrinting
	}
	pm.state = EnginePaused
	pm.pauseGate = make(chan struct{})
	pm.mu.Unlock()

	pm.emit(StateChanged{State: EnginePaused})
	return nil
}

func (pm *PrinterManager) Resume() error {
	pm.mu.Lock()
	if pm.state != EnginePaused {
		pm.mu.Unlock()
		return ErrNotPaused
	}
	pm.state = EnginePrinting
	close(pm.pauseGate)
	pm.pauseGate = nil
	pm.mu.Unlock()

	pm.emit(StateChanged{State: EnginePrinting})
	return nil
}

// Cancel aborts the running job. The stream reports it as a failure.
func (pm *PrinterManager) Cancel() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.state.Active() || pm.cancel == nil {
		return ErrNotPrinting
	}
	pm.cancel()
	return nil
}

func (pm *PrinterManager) resolve(path string) string {
	return filepath.Join(pm.config.UploadsDir, filepath.Clean("/"+path))
}

func (pm *PrinterManager) stream(ctx context.Context, f *os.File, path string) {
	defer pm.wg.Done()
	defer f.Close()

	err := pm.streamLines(ctx, f)

	pm.mu.Lock()
	pm.current = ""
	pm.cancel = nil
	pm.pauseGate = nil
	next := EngineIdle
	if err != nil && !errors.Is(err, ErrPrintCancelled) && !errors.Is(err, ErrPrinterError) {
		next = EngineOffline
	}
	pm.state = next
	pm.mu.Unlock()

	if next == EngineOffline {
		pm.disconnect()
	}

	if err != nil {
		pm.log.WithField("file", path).WithError(err).Warn("print ended early")
		pm.emit(PrintFailed{Path: path, Err: err})
	} else {
		pm.log.WithField("file", path).Info("print done")
		pm.emit(PrintCompleted{Path: path})
	}
	pm.emit(StateChanged{State: next})
}

func (pm *PrinterManager) streamLines(ctx context.Context, f *os.File) error {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	for scanner.Scan() {
		if err := pm.waitWhilePaused(ctx); err != nil {
			return err
		}

		raw := scanner.Text()
		lines := []string{raw}

		pm.mu.RLock()
		hook := pm.hook
		pm.mu.RUnlock()
		if hook != nil {
			res := hook(raw)
			if res.Action == ActionSuppress {
				continue
			}
			lines = res.Lines
		}

		for _, l := range lines {
			out, ok := pm.ProcessLine(l)
			if !ok {
				continue
			}
			if err := pm.sendLine(ctx, out); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read job file: %w", err)
	}
	return nil
}

func (pm *PrinterManager) waitWhilePaused(ctx context.Context) error {
	pm.mu.RLock()
	gate := pm.pauseGate
	pm.mu.RUnlock()

	if ctx.Err() != nil {
		return ErrPrintCancelled
	}
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ErrPrintCancelled
	}
}

// sendLine writes one command and waits for the printer's "ok".
func (pm *PrinterManager) sendLine(ctx context.Context, line string) error {
	if ctx.Err() != nil {
		return ErrPrintCancelled
	}

	pm.ioMu.Lock()
	defer pm.ioMu.Unlock()

	pm.mu.RLock()
	conn, reader := pm.conn, pm.reader
	pm.mu.RUnlock()
	if conn == nil {
		return ErrPrinterOffline
	}

	timeout := pm.config.AckTimeout
	if timeout == 0 {
		timeout = defaultAckTimeout
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	for {
		reply, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		reply = strings.TrimSpace(reply)
		switch {
		case strings.HasPrefix(reply, "ok"):
			pm.mu.Lock()
			pm.linesSent++
			pm.mu.Unlock()
			return nil
		case strings.HasPrefix(reply, "Error"), strings.HasPrefix(reply, "!!"):
			return fmt.Errorf("%w: %s", ErrPrinterError, reply)
		}
	}
}

func (pm *PrinterManager) connect() error {
	address := fmt.Sprintf("%s:%d", pm.config.Address, pm.port())
	timeout := pm.config.ConnectionTimeout
	if timeout == 0 {
		timeout = defaultReadWriteTimeout
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	pm.mu.Lock()
	pm.conn = conn
	pm.reader = bufio.NewReader(conn)
	pm.mu.Unlock()
	return nil
}

func (pm *PrinterManager) disconnect() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.conn != nil {
		pm.conn.Close()
	}
	pm.conn = nil
	pm.reader = nil
}

func (pm *PrinterManager) port() int {
	if pm.config.Port == 0 {
		return defaultTCPPort
	}
	return pm.config.Port
}

// CheckStatus connects when needed and probes an idle printer.
func (pm *PrinterManager) CheckStatus() PrinterStatus {
	pm.mu.RLock()
	online := pm.conn != nil
	state := pm.state
	pm.mu.RUnlock()

	if !online {
		if err := pm.connect(); err != nil {
			pm.setState(EngineOffline)
			return pm.Status()
		}
		pm.log.WithField("address", pm.config.Address).Info("printer connected")
	} else if !state.Active() {
		if err := pm.sendLine(context.Background(), statusCommand); err != nil {
			pm.log.WithError(err).Warn("status probe failed")
			pm.disconnect()
			pm.setState(EngineOffline)
			return pm.Status()
		}
	}

	if !pm.State().Active() {
		pm.setState(EngineIdle)
	}
	return pm.Status()
}

// setState records an idle/offline transition and reports it when the
// state actually changes.
func (pm *PrinterManager) setState(s EngineState) {
	pm.mu.Lock()
	old := pm.state
	pm.lastChecked = time.Now()
	if old.Active() && s != EngineOffline {
		pm.mu.Unlock()
		return
	}
	pm.state = s
	pm.mu.Unlock()

	if old != s {
		pm.emit(StateChanged{State: s})
	}
}

func (pm *PrinterManager) healthCheckLoop() {
	defer pm.wg.Done()

	interval := pm.config.HealthCheckInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.CheckStatus()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.CheckStatus()
		}
	}
}

func (pm *PrinterManager) emit(ev Event) {
	pm.mu.RLock()
	publish := pm.publish
	pm.mu.RUnlock()
	if publish != nil {
		publish(ev)
	}
}
