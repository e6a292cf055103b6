package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orrn/makerspool/internal/core"
	"github.com/orrn/makerspool/internal/db"
)

type Reason string

const (
	ReasonDeleted Reason = "delete"
	ReasonCleaned Reason = "clean"
	ReasonFlushed Reason = "flush"
)

const filePrefix = "archive_"

// Archiver keeps a history of jobs that have left the fleet. Fresh entries
// live in the main database; RunArchive rotates entries older than the
// retention window into one sqlite file per month.
type Archiver struct {
	archivePath string
	archiveDays int
	clock       core.Clock
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	Month     string    `json:"month"`
}

type ArchiveConfig struct {
	ArchivePath string
	ArchiveDays int
	Clock       core.Clock
	Logger      *slog.Logger
}

func NewArchiver(config ArchiveConfig) (*Archiver, error) {
	if config.ArchivePath == "" {
		config.ArchivePath = "./data/archives"
	}
	if config.ArchiveDays <= 0 {
		config.ArchiveDays = 30
	}
	if config.Clock == nil {
		config.Clock = core.SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if err := os.MkdirAll(config.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		archivePath: config.ArchivePath,
		archiveDays: config.ArchiveDays,
		clock:       config.Clock,
		logger:      config.Logger.With("component", "archive"),
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
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			n, err := a.RunArchive(context.Background())
			if err != nil {
				a.logger.Error("archive run failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("archive run complete", "jobs", n)
			}
		}
	}
}

// Record stores jobs removed from the fleet for the given reason.
func (a *Archiver) Record(ctx context.Context, jobs []*core.Job, reason Reason) error {
	if err := db.Archive.ArchiveJobs(ctx, jobs, string(reason), a.clock.Now()); err != nil {
		return fmt.Errorf("failed to record archived jobs: %w", err)
	}
	return nil
}

func (a *Archiver) List(ctx context.Context, filter db.ArchiveFilter) ([]*db.ArchivedJob, error) {
	return db.Archive.ListArchivedJobs(ctx, filter)
}

// RunArchive moves history entries past the retention window into monthly
// archive files and returns how many were moved.
func (a *Archiver) RunArchive(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.clock.Now().AddDate(0, 0, -a.archiveDays)
	jobs, err := db.Archive.ArchivedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]*db.ArchivedJob)
	for _, job := range jobs {
		month := job.ArchivedAt.UTC().Format("2006_01")
		byMonth[month] = append(byMonth[month], job)
	}

	moved := 0
	for month, batch := range byMonth {
		path := filepath.Join(a.archivePath, filePrefix+month+".db")
		if err := a.writeArchiveFile(ctx, path, batch); err != nil {
			return moved, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}

		ids := make([]int64, len(batch))
		for i, job := range batch {
			ids[i] = job.ID
		}
		if err := db.Archive.DeleteArchivedJobs(ctx, ids); err != nil {
			return moved, fmt.Errorf("failed to delete archived jobs: %w", err)
		}
		moved += len(batch)
	}

	return moved, nil
}

func (a *Archiver) writeArchiveFile(ctx context.Context, path string, jobs []*db.ArchivedJob) error {
	archiveDB, err := openOrCreateArchiveDB(path)
	if err != nil {
		return err
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	for _, job := range jobs {
		tags, err := json.Marshal(job.Tags)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO archived_jobs (id, name, machine_name, owner, added_at, started_at, priority, status, duration_minutes, note, tags_json, reason, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, job.ID, job.Name, job.MachineName, job.Owner,
			job.AddedAt.UTC().Format(time.RFC3339Nano), job.StartedAt.UTC().Format(time.RFC3339Nano),
			job.Priority, job.Status, job.Duration, job.Note, string(tags),
			job.Reason, job.ArchivedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to insert job to archive: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, a.clock.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}

	return tx.Commit()
}

func openOrCreateArchiveDB(path string) (*sql.DB, error) {
	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = archiveDB.Exec(`
		CREATE TABLE IF NOT EXISTS archived_jobs (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			machine_name TEXT NOT NULL,
			owner TEXT NOT NULL,
			added_at TEXT NOT NULL,
			started_at TEXT NOT NULL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			note TEXT NOT NULL,
			tags_json TEXT NOT NULL,
			reason TEXT NOT NULL,
			archived_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at TEXT,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_jobs_archived_at ON archived_jobs(archived_at);
	`)
	if err != nil {
		archiveDB.Close()
		return nil, err
	}

	return archiveDB, nil
}

// ListArchives describes the monthly archive files, newest month first.
func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		archiveFile := &ArchiveFile{
			Filename:  name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Month:     strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".db"),
		}
		if count, err := countArchiveFile(filepath.Join(a.archivePath, name)); err == nil {
			archiveFile.JobCount = count
		} else {
			a.logger.Warn("failed to count archive file", "file", name, "error", err)
		}
		archives = append(archives, archiveFile)
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Month > archives[j].Month
	})
	return archives, nil
}

func countArchiveFile(path string) (int, error) {
	archiveDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, err
	}
	defer archiveDB.Close()

	var count int
	err = archiveDB.QueryRow("SELECT COUNT(*) FROM archived_jobs").Scan(&count)
	return count, err
}

func (a *Archiver) ArchivePath() string {
	return a.archivePath
}
