package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orrn/makerspool/internal/core"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "makerspool-db-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := Init(Config{Path: filepath.Join(dir, "test.db")}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"jobs", "machines", "admins", "settings", "archived_jobs", "audit_log"} {
		if _, err := GetDB().Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testFleet(t *testing.T) *core.Scheduler {
	t.Helper()
	s := core.NewScheduler(core.Options{})
	caller := core.Caller{Identity: "alice", Authorized: true}
	for _, name := range []string{"printerA", "printerB"} {
		if _, err := s.AddMachine(caller, name, core.MachineStatusEnabled); err != nil {
			t.Fatalf("AddMachine: %v", err)
		}
	}
	specs := []core.JobSpec{
		{Name: "benchy", MachineName: "printerA", Duration: 45, Tags: []string{"pla"}},
		{Name: "bracket", MachineName: "printerA", Priority: core.PriorityUrgent, Duration: 90, Note: "two walls"},
		{Name: "vase", MachineName: "printerB", Duration: 300},
	}
	for _, spec := range specs {
		if _, err := s.AddJob(caller, spec); err != nil {
			t.Fatalf("AddJob(%s): %v", spec.Name, err)
		}
	}
	if _, err := s.StartJob(caller, "vase"); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if _, err := s.DisableMachine(caller, "printerA"); err != nil {
		t.Fatalf("DisableMachine: %v", err)
	}
	return s
}

func TestMigrationsAreIdempotent(t *testing.T) {
	if err := runMigrations(GetDB()); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
	var count int
	if err := GetDB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("applied %d migrations, want %d", count, len(migrations))
	}
}

func TestFleetSnapshotRoundTrip(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	s := testFleet(t)

	if err := Fleet.SaveSnapshot(ctx, s.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	fleet, err := Fleet.LoadFleet(ctx)
	if err != nil {
		t.Fatalf("LoadFleet: %v", err)
	}

	restored := core.NewScheduler(core.Options{})
	if err := restored.Restore(fleet); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	for _, name := range []string{"benchy", "bracket", "vase"} {
		want, _ := s.FindJob(name)
		got, err := restored.FindJob(name)
		if err != nil {
			t.Fatalf("FindJob(%s): %v", name, err)
		}
		if !got.IsIdentical(want) {
			t.Fatalf("%s not identical after round trip:\n got %+v\nwant %+v", name, got, want)
		}
		if got.Status != want.Status || got.Priority != want.Priority || got.Note != want.Note {
			t.Fatalf("%s lost state: got %+v want %+v", name, got, want)
		}
	}
	vase, _ := restored.FindJob("vase")
	if vase.Status != core.JobStatusRunning {
		t.Fatalf("running job recovered as %s", vase.Status)
	}
	benchy, _ := restored.FindJob("benchy")
	if len(benchy.Tags) != 1 || benchy.Tags[0] != "pla" {
		t.Fatalf("tags = %v", benchy.Tags)
	}
	m, err := restored.FindMachine("printerA")
	if err != nil || m.Status != core.MachineStatusDisabled {
		t.Fatalf("printerA = %+v, %v", m, err)
	}
}

func TestFleetSnapshotDropsRemovedMachines(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	s := testFleet(t)
	if err := Fleet.SaveSnapshot(ctx, s.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	caller := core.Caller{Identity: "alice", Authorized: true}
	if _, err := s.FlushMachine(caller, "printerA"); err != nil {
		t.Fatalf("FlushMachine: %v", err)
	}
	if err := s.RemoveMachine(caller, "printerA"); err != nil {
		t.Fatalf("RemoveMachine: %v", err)
	}
	if err := Fleet.SaveSnapshot(ctx, s.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	if _, err := Machines.GetMachine(ctx, "printerA"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected removed machine to be gone, got %v", err)
	}
	m, err := Machines.GetMachine(ctx, "printerB")
	if err != nil || m.JobCount != 1 {
		t.Fatalf("printerB = %+v, %v", m, err)
	}
	count, err := Jobs.CountJobs(ctx)
	if err != nil || count != 1 {
		t.Fatalf("CountJobs = %d, %v", count, err)
	}
}

func TestAdmins(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	if err := Admins.CreateAdmin(ctx, "alice", "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := Admins.CreateAdmin(ctx, "alice", "correct-horse"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if err := Admins.CreateAdmin(ctx, "alice", "another-pass"); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("expected ErrAdminExists, got %v", err)
	}

	if _, err := Admins.Authenticate(ctx, "alice", "wrong-pass"); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}
	if _, err := Admins.Authenticate(ctx, "bob", "correct-horse"); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin for unknown user, got %v", err)
	}
	a, err := Admins.Authenticate(ctx, "alice", "correct-horse")
	if err != nil || a.Username != "alice" {
		t.Fatalf("Authenticate = %v, %v", a, err)
	}

	if err := Admins.ChangePassword(ctx, "alice", "correct-horse", "battery-staple"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := Admins.Authenticate(ctx, "alice", "battery-staple"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	count, err := Admins.CountAdmins(ctx)
	if err != nil || count != 1 {
		t.Fatalf("CountAdmins = %d, %v", count, err)
	}
}

func TestSettings(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	if _, err := Settings.GetSetting(ctx, "jwt_secret"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if err := Settings.SetSetting(ctx, "jwt_secret", "abc"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := Settings.SetSetting(ctx, "jwt_secret", "def"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	s, err := Settings.GetSetting(ctx, "jwt_secret")
	if err != nil || s.Value != "def" {
		t.Fatalf("GetSetting = %+v, %v", s, err)
	}
}

func TestAuditLog(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	events := []core.FocusEvent{
		{Action: core.ActionJobAdded, JobName: "benchy", MachineName: "printerA", Actor: "alice", At: t0},
		{Action: core.ActionJobMoved, JobName: "benchy", MachineName: "printerB", Actor: "bob", At: t0.Add(time.Minute)},
		{Action: core.ActionMachineFlushed, MachineName: "printerA", Actor: "alice", At: t0.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := Audit.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := Audit.ListAuditLogs(ctx, AuditFilter{}, 10, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListAuditLogs = %d, %v", len(all), err)
	}
	if all[0].Action != string(core.ActionMachineFlushed) {
		t.Fatalf("newest entry first, got %s", all[0].Action)
	}

	mine, err := Audit.ListAuditLogs(ctx, AuditFilter{JobName: "benchy", Actor: "bob"}, 10, 0)
	if err != nil || len(mine) != 1 || mine[0].MachineName != "printerB" {
		t.Fatalf("filtered = %+v, %v", mine, err)
	}
	if !mine[0].CreatedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("created at = %v", mine[0].CreatedAt)
	}
}

func TestArchiveOperations(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	s := testFleet(t)
	jobs, err := s.Jobs("printerA")
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}

	if err := Archive.ArchiveJobs(ctx, jobs, "flush", t0); err != nil {
		t.Fatalf("ArchiveJobs: %v", err)
	}
	if err := Archive.ArchiveJobs(ctx, jobs[:1], "delete", t0.Add(48*time.Hour)); err != nil {
		t.Fatalf("ArchiveJobs: %v", err)
	}

	flushed, err := Archive.ListArchivedJobs(ctx, ArchiveFilter{Reason: "flush"})
	if err != nil || len(flushed) != 2 {
		t.Fatalf("ListArchivedJobs = %d, %v", len(flushed), err)
	}

	old, err := Archive.ArchivedBefore(ctx, t0.Add(24*time.Hour))
	if err != nil || len(old) != 2 {
		t.Fatalf("ArchivedBefore = %d, %v", len(old), err)
	}
	ids := []int64{old[0].ID, old[1].ID}
	if err := Archive.DeleteArchivedJobs(ctx, ids); err != nil {
		t.Fatalf("DeleteArchivedJobs: %v", err)
	}
	rest, err := Archive.ListArchivedJobs(ctx, ArchiveFilter{})
	if err != nil || len(rest) != 1 || rest[0].Reason != "delete" {
		t.Fatalf("remaining = %+v, %v", rest, err)
	}
}
