package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/playlist/internal/core"
)

// Store groups the table operations around one connection.
type Store struct {
	DB       *sql.DB
	Settings *SettingsOperations
	Webhooks *WebhookOperations
	Runs     *RunOperations
	Audit    *AuditOperations
}

func NewStore(conn *sql.DB) *Store {
	return &Store{
		DB:       conn,
		Settings: &SettingsOperations{db: conn},
		Webhooks: &WebhookOperations{db: conn},
		Runs:     &RunOperations{db: conn},
		Audit:    &AuditOperations{db: conn},
	}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

type WebhookOperations struct {
	db *sql.DB
}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	result, err := o.db.ExecContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w := &Webhook{}
	err := o.db.QueryRowContext(ctx, GetWebhookByID, id).Scan(
		&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := o.db.QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

func (o *WebhookOperations) ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := "%\"" + event + "\"%"
	rows, err := o.db.QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	_, err := o.db.ExecContext(ctx, UpdateWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, w.Enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(
			&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &w.Enabled, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

type SettingsOperations struct {
	db *sql.DB
}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{Key: key}
	err := o.db.QueryRowContext(ctx, GetSetting, key).Scan(&s.Value, &s.Encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	_, err := o.db.ExecContext(ctx, SetSetting, key, value, encrypted, value, encrypted)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	_, err := o.db.ExecContext(ctx, DeleteSetting, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) ListSettings(ctx context.Context) ([]*Setting, error) {
	rows, err := o.db.QueryContext(ctx, ListSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []*Setting
	for rows.Next() {
		s := &Setting{}
		if err := rows.Scan(&s.Key, &s.Value, &s.Encrypted, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// RunOperations stores the job run history and implements core.RunRecorder.
type RunOperations struct {
	db  *sql.DB
	now func() time.Time
}

func (o *RunOperations) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

func (o *RunOperations) RecordStart(ctx context.Context, jobID, fileName string) error {
	_, err := o.db.ExecContext(ctx, InsertJobRun, jobID, fileName, string(core.RunStatusRunning), o.clock())
	if err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}
	return nil
}

// RecordFinish closes the latest running entry for fileName. A finish with
// no matching start is ignored.
func (o *RunOperations) RecordFinish(ctx context.Context, fileName string, status core.RunStatus) error {
	_, err := o.db.ExecContext(ctx, FinishJobRun, string(status), o.clock(), fileName)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	return nil
}

// FailRunning marks runs interrupted by a restart as failed.
func (o *RunOperations) FailRunning(ctx context.Context) (int64, error) {
	result, err := o.db.ExecContext(ctx, FailRunningJobRuns, o.clock())
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

func (o *RunOperations) ListRuns(ctx context.Context, filter RunFilter) ([]core.JobRun, error) {
	var conditions []string
	var args []interface{}

	if filter.FileName != "" {
		conditions = append(conditions, "file_name = ?")
		args = append(args, filter.FileName)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT id, job_id, file_name, status, started_at, finished_at FROM job_runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit, filter.Offset)

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	runs := []core.JobRun{}
	for rows.Next() {
		var r core.JobRun
		var status string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.JobID, &r.FileName, &status, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		r.Status = core.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (o *RunOperations) CountByStatus(ctx context.Context) (map[core.RunStatus]int64, error) {
	rows, err := o.db.QueryContext(ctx, CountJobRunsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count job runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.RunStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job run count: %w", err)
		}
		counts[core.RunStatus(status)] = n
	}
	return counts, rows.Err()
}

type AuditOperations struct {
	db *sql.DB
}

func (o *AuditOperations) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.DetailsJSON == "" {
		log.DetailsJSON = "{}"
	}
	result, err := o.db.ExecContext(ctx, InsertAuditLog,
		log.Action, log.EntityType, log.EntityID, log.DetailsJSON, log.IPAddress)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit log id: %w", err)
	}
	log.ID = id
	return nil
}

func (o *AuditOperations) ListAuditLogs(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, error) {
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType)
	}

	query := "SELECT id, action, entity_type, entity_id, details_json, ip_address, created_at FROM audit_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		log := &AuditLog{}
		if err := rows.Scan(
			&log.ID, &log.Action, &log.EntityType, &log.EntityID,
			&log.DetailsJSON, &log.IPAddress, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
