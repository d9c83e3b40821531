package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const archiveInterval = 24 * time.Hour

// Archiver moves finished job runs older than the retention window out of
// the live database into monthly sqlite files.
type Archiver struct {
	db          *sql.DB
	archivePath string
	archiveDays int
	now         func() time.Time
	log         logrus.FieldLogger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	RunCount  int       `json:"run_count"`
	Month     string    `json:"month"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
}

type archivedRun struct {
	ID         int64
	JobID      string
	FileName   string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

func NewArchiver(db *sql.DB, config ArchiveConfig, log logrus.FieldLogger) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	if err := os.MkdirAll(config.ArchivePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		db:          db,
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		now:         time.Now,
		log:         log.WithField("component", "archive"),
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.runDailyArchive()
}

func (a *Archiver) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Archiver) runDailyArchive() {
	defer a.wg.Done()

	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			n, err := a.RunArchive(context.Background())
			if err != nil {
				a.log.WithError(err).Error("history archive failed")
				continue
			}
			if n > 0 {
				a.log.WithField("runs", n).Info("archived job history")
			}
		}
	}
}

// RunArchive moves every finished run that ended before the retention
// cutoff and returns how many were moved. Runs are grouped into one file per
// month of completion.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().AddDate(0, 0, -a.archiveDays)

	runs, err := a.getRunsForArchival(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get runs for archival: %w", err)
	}
	if len(runs) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]*archivedRun)
	for _, r := range runs {
		month := r.FinishedAt.Format("2006_01")
		byMonth[month] = append(byMonth[month], r)
	}

	moved := 0
	for month, batch := range byMonth {
		path := filepath.Join(a.archivePath, fmt.Sprintf("archive_%s.db", month))
		if err := a.writeArchive(ctx, path, batch); err != nil {
			return moved, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
		if err := a.deleteArchivedRuns(ctx, batch); err != nil {
			return moved, fmt.Errorf("failed to delete archived runs: %w", err)
		}
		moved += len(batch)
	}
	return moved, nil
}

func (a *Archiver) getRunsForArchival(ctx context.Context, cutoff time.Time) ([]*archivedRun, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, job_id, file_name, status, started_at, finished_at
		FROM job_runs
		WHERE status IN ('finished', 'failed')
		AND finished_at IS NOT NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*archivedRun
	for rows.Next() {
		r := &archivedRun{}
		if err := rows.Scan(&r.ID, &r.JobID, &r.FileName, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		if r.FinishedAt.Before(cutoff) {
			runs = append(runs, r)
		}
	}
	return runs, rows.Err()
}

func openArchiveDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS job_runs (
			id INTEGER PRIMARY KEY,
			job_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_runs_finished_at ON job_runs(finished_at);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (a *Archiver) writeArchive(ctx context.Context, path string, runs []*archivedRun) error {
	archiveDB, err := openArchiveDB(path)
	if err != nil {
		return err
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, r := range runs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO job_runs (id, job_id, file_name, status, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, r.JobID, r.FileName, r.Status, r.StartedAt, r.FinishedAt); err != nil {
			tx.Rollback()
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, a.now()); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (a *Archiver) deleteArchivedRuns(ctx context.Context, runs []*archivedRun) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, r := range runs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM job_runs WHERE id = ?", r.ID); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	archives := []*ArchiveFile{}
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "archive_") || !strings.HasSuffix(name, ".db") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		af := &ArchiveFile{
			Filename:  name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Month:     strings.TrimSuffix(strings.TrimPrefix(name, "archive_"), ".db"),
		}
		if n, err := countRuns(filepath.Join(a.archivePath, name)); err == nil {
			af.RunCount = n
		}
		archives = append(archives, af)
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].Month < archives[j].Month })
	return archives, nil
}

func countRuns(path string) (int, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM job_runs").Scan(&count)
	return count, err
}
