package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/playlist/internal/config"
	"github.com/orrn/playlist/internal/core"
	"github.com/orrn/playlist/internal/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeQueue struct {
	mu        sync.Mutex
	snap      core.QueueSnapshot
	submitted [][]core.Job
	started   [][]core.Job
	saved     [][]core.Job
}

func (f *fakeQueue) Snapshot() core.QueueSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeQueue) apply(dst *[][]core.Job, jobs []core.Job) error {
	if err := core.ValidateJobs(jobs); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	*dst = append(*dst, jobs)
	f.snap = core.QueueSnapshot{Playlist: jobs}
	return nil
}

func (f *fakeQueue) SubmitQueue(_ context.Context, jobs []core.Job) error {
	return f.apply(&f.submitted, jobs)
}

func (f *fakeQueue) StartQueue(_ context.Context, jobs []core.Job) error {
	return f.apply(&f.started, jobs)
}

func (f *fakeQueue) SavePlaylist(_ context.Context, jobs []core.Job) error {
	return f.apply(&f.saved, jobs)
}

type fakePrinter struct {
	status core.PrinterStatus
	err    error
	calls  []string
}

func (f *fakePrinter) Status() core.PrinterStatus { return f.status }

func (f *fakePrinter) CheckStatus() core.PrinterStatus {
	f.calls = append(f.calls, "check")
	return f.status
}

func (f *fakePrinter) Pause() error  { f.calls = append(f.calls, "pause"); return f.err }
func (f *fakePrinter) Resume() error { f.calls = append(f.calls, "resume"); return f.err }
func (f *fakePrinter) Cancel() error { f.calls = append(f.calls, "cancel"); return f.err }

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "playlist.db")})
	require.NoError(t, err)
	store := db.NewStore(conn)
	t.Cleanup(func() { store.Close() })
	return store
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newRouter(register func(read, write *gin.RouterGroup)) *gin.Engine {
	r := gin.New()
	api := r.Group("/api")
	register(api, api)
	return r
}

func TestParseJobs(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []core.Job
		skipped int
		wantErr bool
	}{
		{"empty array", `[]`, []core.Job{}, 0, false},
		{"string ids", `[{"id":"1","fileName":"a.gcode"},{"id":"2","fileName":"b.gcode"}]`,
			[]core.Job{{ID: "1", FileName: "a.gcode"}, {ID: "2", FileName: "b.gcode"}}, 0, false},
		{"numeric id", `[{"id":7,"fileName":"a.gcode"}]`, []core.Job{{ID: "7", FileName: "a.gcode"}}, 0, false},
		{"missing id", `[{"fileName":"a.gcode"}]`, []core.Job{{FileName: "a.gcode"}}, 0, false},
		{"malformed entries skipped", `[{"id":"1","fileName":"a.gcode"}, 5, {"id":"2"}, {"id":{},"fileName":"c.gcode"}, {"id":"3","fileName":"  "}]`,
			[]core.Job{{ID: "1", FileName: "a.gcode"}}, 4, false},
		{"not an array", `{"id":"1"}`, nil, 0, true},
		{"garbage", `nope`, nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, skipped, err := ParseJobs([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, jobs)
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}

func TestSubmitQueue(t *testing.T) {
	store := newTestStore(t)
	q := &fakeQueue{}
	h := NewQueueHandler(q, store.Settings, store.Audit, nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterQueueRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodPost, "/api/queue", `[{"id":"1","fileName":"a.gcode"}, "junk"]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp QueueResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []core.Job{{ID: "1", FileName: "a.gcode"}}, resp.Playlist)
	assert.Equal(t, 1, resp.Skipped)
	assert.Len(t, q.submitted, 1)

	logs, err := store.Audit.ListAuditLogs(context.Background(), db.AuditFilter{Action: "queue_submitted"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"files":["a.gcode"]}`, logs[0].DetailsJSON)
}

func TestSubmitQueueRejectsDuplicateIDs(t *testing.T) {
	store := newTestStore(t)
	q := &fakeQueue{}
	h := NewQueueHandler(q, store.Settings, store.Audit, nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterQueueRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodPost, "/api/queue", `[{"id":"1","fileName":"a.gcode"},{"id":"1","fileName":"b.gcode"}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, q.submitted)

	w = doJSON(t, r, http.MethodPost, "/api/start", `{"not":"a list"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, q.started)
}

func TestStartAndSaveQueue(t *testing.T) {
	store := newTestStore(t)
	q := &fakeQueue{}
	h := NewQueueHandler(q, store.Settings, nil, nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterQueueRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodPost, "/api/start", `[{"id":"1","fileName":"a.gcode"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, q.started, 1)

	w = doJSON(t, r, http.MethodPut, "/api/queue/saved", `[{"id":"1","fileName":"b.gcode"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [][]core.Job{{{ID: "1", FileName: "b.gcode"}}}, q.saved)
}

func TestGetQueues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Settings.SavePlaylist(ctx, []core.Job{{ID: "9", FileName: "saved.gcode"}}))

	q := &fakeQueue{snap: core.QueueSnapshot{Playlist: []core.Job{{ID: "1", FileName: "live.gcode"}}, CurrentFileID: "1"}}
	h := NewQueueHandler(q, store.Settings, nil, nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterQueueRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"playlist":[{"id":"9","fileName":"saved.gcode"}],"current_file":""}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/queue/live", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"playlist":[{"id":"1","fileName":"live.gcode"}],"current_file":"1"}`, w.Body.String())
}

func TestUpdateSettingsPublishesAndKeepsPlaylist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Settings.SavePlaylist(ctx, []core.Job{{ID: "1", FileName: "a.gcode"}}))

	var events []core.Event
	h := NewSettingsHandler(store.Settings, func(ev core.Event) { events = append(events, ev) }, config.Default(), nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterSettingsRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodPut, "/api/settings", map[string]interface{}{
		"strip_start_marker":  ";START",
		"auto_start_queue":    true,
		"blackout_start_time": "22:00",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []core.Event{core.SettingsUpdated{}}, events)

	s, err := store.Settings.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, ";START", s.StripStartMarker)
	assert.True(t, s.AutoStartQueue)
	assert.Equal(t, "22:00", s.BlackoutStartTime)
	assert.Equal(t, []core.Job{{ID: "1", FileName: "a.gcode"}}, s.Playlist)

	w = doJSON(t, r, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"strip_start_marker":";START"`)
}

func TestUpdateSettingsMintsMissingIDs(t *testing.T) {
	store := newTestStore(t)
	h := NewSettingsHandler(store.Settings, func(core.Event) {}, config.Default(), nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterSettingsRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodPut, "/api/settings", `{"playlist":[{"fileName":"a.gcode"},{"id":"","fileName":"b.gcode"},{"id":"7","fileName":"c.gcode"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	s, err := store.Settings.LoadSettings(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Playlist, 3)
	assert.NotEmpty(t, s.Playlist[0].ID)
	assert.NotEmpty(t, s.Playlist[1].ID)
	assert.NotEqual(t, s.Playlist[0].ID, s.Playlist[1].ID)
	assert.Equal(t, "7", s.Playlist[2].ID)
	assert.Equal(t, []string{"a.gcode", "b.gcode", "c.gcode"}, []string{s.Playlist[0].FileName, s.Playlist[1].FileName, s.Playlist[2].FileName})
}

func TestUpdateSettingsValidation(t *testing.T) {
	store := newTestStore(t)
	var events []core.Event
	h := NewSettingsHandler(store.Settings, func(ev core.Event) { events = append(events, ev) }, config.Default(), nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterSettingsRoutes(read, write, h) })

	tests := []struct {
		name string
		body string
	}{
		{"bad time", `{"start_time":"25:99"}`},
		{"duplicate playlist ids", `{"playlist":[{"id":"1","fileName":"a"},{"id":"1","fileName":"b"}]}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPut, "/api/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, events)
}

func TestServerConfig(t *testing.T) {
	store := newTestStore(t)
	h := NewSettingsHandler(store.Settings, nil, config.Default(), nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterSettingsRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodGet, "/api/settings/server", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ServerConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 8080, resp.Port)
	assert.Equal(t, "127.0.0.1", resp.PrinterAddress)
	assert.Equal(t, "1m0s", resp.PollInterval)
}

func TestPrinterRoutes(t *testing.T) {
	p := &fakePrinter{status: core.PrinterStatus{
		State:       core.EnginePrinting,
		StateName:   core.EnginePrinting.String(),
		CurrentFile: "a.gcode",
		IsOnline:    true,
	}}
	h := NewPrinterHandler(p, nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterPrinterRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodGet, "/api/printer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status PrinterStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "a.gcode", status.CurrentFile)
	assert.False(t, status.CanPrint)

	doJSON(t, r, http.MethodGet, "/api/printer?refresh=true", nil)
	for _, path := range []string{"pause", "resume", "cancel"} {
		w = doJSON(t, r, http.MethodPost, "/api/printer/"+path, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"success":true`)
	}
	assert.Equal(t, []string{"check", "pause", "resume", "cancel"}, p.calls)
}

func TestPrinterStateConflictsAreNotErrors(t *testing.T) {
	p := &fakePrinter{err: core.ErrNotPrinting}
	h := NewPrinterHandler(p, nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterPrinterRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodPost, "/api/printer/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)

	p.err = core.ErrPrinterOffline
	w = doJSON(t, r, http.MethodPost, "/api/printer/cancel", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type fakeTester struct {
	ids []int64
	err error
}

func (f *fakeTester) SendTest(_ context.Context, id int64) error {
	f.ids = append(f.ids, id)
	return f.err
}

func TestWebhookCRUD(t *testing.T) {
	store := newTestStore(t)
	tester := &fakeTester{}
	h := NewWebhookHandler(store.Webhooks, tester)
	r := gin.New()
	RegisterWebhookRoutes(r.Group("/api"), h)

	w := doJSON(t, r, http.MethodPost, "/api/webhooks", CreateWebhookRequest{
		Name: "ci", URL: "http://example.com/hook", Events: []string{"queue_changed"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, []string{"queue_changed"}, created.Events)
	assert.True(t, created.Enabled)

	w = doJSON(t, r, http.MethodPost, "/api/webhooks", CreateWebhookRequest{
		Name: "bad", URL: "http://example.com/hook", Events: []string{"job_started"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	disabled := false
	w = doJSON(t, r, http.MethodPut, "/api/webhooks/1", UpdateWebhookRequest{
		Events: []string{"queue_changed", "file_removed"}, Enabled: &disabled,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":false`)

	w = doJSON(t, r, http.MethodPost, "/api/webhooks/1/test", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1}, tester.ids)

	w = doJSON(t, r, http.MethodGet, "/api/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, []string{"queue_changed", "file_removed"}, list[0].Events)

	w = doJSON(t, r, http.MethodDelete, "/api/webhooks/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/webhooks/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/webhooks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Runs.RecordStart(ctx, "1", "a.gcode"))
	require.NoError(t, store.Runs.RecordFinish(ctx, "a.gcode", core.RunStatusFinished))
	require.NoError(t, store.Runs.RecordStart(ctx, "2", "b.gcode"))

	h := NewHistoryHandler(store.Runs, store.Audit, nil)
	r := newRouter(func(read, write *gin.RouterGroup) { RegisterHistoryRoutes(read, write, h) })

	w := doJSON(t, r, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "b.gcode", resp.Runs[0].FileName)
	assert.Equal(t, int64(1), resp.Totals[core.RunStatusRunning])
	assert.Equal(t, int64(1), resp.Totals[core.RunStatusFinished])

	w = doJSON(t, r, http.MethodGet, "/api/history?status=finished", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "a.gcode", resp.Runs[0].FileName)

	w = doJSON(t, r, http.MethodGet, "/api/history?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/history/archives", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
