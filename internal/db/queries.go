package db

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY name ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT value, encrypted FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = ?, encrypted = ?, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`

	ListSettings = `SELECT key, value, encrypted, updated_at FROM settings ORDER BY key ASC`
)

const (
	InsertJobRun = `
		INSERT INTO job_runs (job_id, file_name, status, started_at)
		VALUES (?, ?, ?, ?)
	`

	FinishJobRun = `
		UPDATE job_runs SET status = ?, finished_at = ?
		WHERE id = (
			SELECT id FROM job_runs WHERE file_name = ? AND status = 'running'
			ORDER BY id DESC LIMIT 1
		)
	`

	FailRunningJobRuns = `
		UPDATE job_runs SET status = 'failed', finished_at = ? WHERE status = 'running'
	`

	CountJobRunsByStatus = `
		SELECT status, COUNT(*) FROM job_runs GROUP BY status
	`
)

const (
	InsertAuditLog = `
		INSERT INTO audit_log (action, entity_type, entity_id, details_json, ip_address)
		VALUES (?, ?, ?, ?, ?)
	`
)

const (
	GetMigrationStatus = `
		SELECT version, applied_at FROM schema_migrations ORDER BY version ASC
	`

	GetAppliedMigrations = `
		SELECT version FROM schema_migrations
	`
)
