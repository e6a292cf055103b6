package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orrn/makerspool/internal/core"
	"github.com/orrn/makerspool/internal/db"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "makerspool-archive-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := db.Init(db.Config{Path: filepath.Join(dir, "main.db")}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func queuedJob(t *testing.T, name string, added time.Time) *core.Job {
	t.Helper()
	job, err := core.NewJob(core.JobSpec{Name: name, MachineName: "printerA", Owner: "alice", Duration: 20}, added)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func TestRecordAndRotate(t *testing.T) {
	if _, err := db.GetDB().Exec("DELETE FROM archived_jobs"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	ctx := context.Background()
	clock := &stepClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	a, err := NewArchiver(ArchiveConfig{ArchivePath: t.TempDir(), ArchiveDays: 30, Clock: clock})
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}

	if err := a.Record(ctx, []*core.Job{queuedJob(t, "old1", clock.now), queuedJob(t, "old2", clock.now)}, ReasonFlushed); err != nil {
		t.Fatalf("Record: %v", err)
	}
	clock.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := a.Record(ctx, []*core.Job{queuedJob(t, "fresh", clock.now)}, ReasonDeleted); err != nil {
		t.Fatalf("Record: %v", err)
	}

	moved, err := a.RunArchive(ctx)
	if err != nil {
		t.Fatalf("RunArchive: %v", err)
	}
	if moved != 2 {
		t.Fatalf("moved %d jobs, want 2", moved)
	}

	remaining, err := a.List(ctx, db.ArchiveFilter{})
	if err != nil || len(remaining) != 1 || remaining[0].Name != "fresh" {
		t.Fatalf("remaining = %+v, %v", remaining, err)
	}

	files, err := a.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(files) != 1 || files[0].Month != "2024_01" || files[0].JobCount != 2 {
		t.Fatalf("files = %+v", files)
	}

	moved, err = a.RunArchive(ctx)
	if err != nil || moved != 0 {
		t.Fatalf("second RunArchive = %d, %v", moved, err)
	}
}
