package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/makerspool/internal/core"
)

var (
	ErrAdminExists      = errors.New("admin already exists")
	ErrInvalidLogin     = errors.New("invalid username or password")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
)

const minPasswordLength = 8

// storageLayout has a fixed-width fraction so stored timestamps compare
// correctly as strings.
const storageLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timeLayouts = []string{
	storageLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(storageLayout)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type MachineOperations struct{}

func (o *MachineOperations) GetMachine(ctx context.Context, name string) (*Machine, error) {
	m, err := scanMachine(GetDB().QueryRowContext(ctx, GetMachineByName, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get machine: %w", err)
	}
	return m, nil
}

func (o *MachineOperations) ListMachines(ctx context.Context) ([]*Machine, error) {
	rows, err := GetDB().QueryContext(ctx, ListMachines)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	var machines []*Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func scanMachine(row rowScanner) (*Machine, error) {
	m := &Machine{}
	var created, updated string
	if err := row.Scan(&m.Name, &m.Status, &m.JobCount, &created, &updated); err != nil {
		return nil, err
	}
	m.CreatedAt, _ = parseTime(created)
	m.UpdatedAt, _ = parseTime(updated)
	return m, nil
}

type JobOperations struct{}

func (o *JobOperations) ListJobs(ctx context.Context, machine string) ([]*core.Job, error) {
	var rows *sql.Rows
	var err error
	if machine != "" {
		rows, err = GetDB().QueryContext(ctx, ListJobsByMachine, machine)
	} else {
		rows, err = GetDB().QueryContext(ctx, ListJobs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (o *JobOperations) CountJobs(ctx context.Context) (int, error) {
	var count int
	if err := GetDB().QueryRowContext(ctx, CountJobs).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// scanJob rebuilds a persisted job through the recovery constructor so its
// status and timestamps survive the round trip.
func scanJob(row rowScanner) (*core.Job, error) {
	var rec core.JobRecord
	var added, started, priority, status, tagsJSON string
	if err := row.Scan(&rec.Name, &rec.MachineName, &rec.Owner, &added, &started,
		&priority, &status, &rec.Duration, &rec.Note, &tagsJSON); err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	var err error
	if rec.AddedAt, err = parseTime(added); err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.Name, err)
	}
	if rec.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.Name, err)
	}
	if rec.Priority, err = core.ParsePriority(priority); err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.Name, err)
	}
	rec.Status = core.JobStatus(status)
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return nil, fmt.Errorf("job %s: failed to decode tags: %w", rec.Name, err)
	}

	job, err := core.RecoverJob(rec)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", rec.Name, err)
	}
	return job, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(b), nil
}

// FleetOperations persists whole-fleet snapshots taken from the scheduler.
type FleetOperations struct{}

// SaveSnapshot replaces the stored fleet with machines in one transaction.
// Queue order is kept in the position column.
func (o *FleetOperations) SaveSnapshot(ctx context.Context, machines []*core.Machine) error {
	tx, err := GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, DeleteAllJobs); err != nil {
		return fmt.Errorf("failed to clear jobs: %w", err)
	}

	keep := make(map[string]bool, len(machines))
	for _, m := range machines {
		keep[m.Name] = true
		if _, err := tx.ExecContext(ctx, UpsertMachine, m.Name, string(m.Status)); err != nil {
			return fmt.Errorf("failed to save machine %s: %w", m.Name, err)
		}
		for i, job := range m.Jobs() {
			tags, err := encodeTags(job.Tags)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, InsertJob,
				job.Name, m.Name, i, job.Owner,
				formatTime(job.AddedAt), formatTime(job.StartedAt),
				job.Priority.String(), string(job.Status), job.Duration, job.Note, tags); err != nil {
				return fmt.Errorf("failed to save job %s: %w", job.Name, err)
			}
		}
	}

	rows, err := tx.QueryContext(ctx, ListMachineNames)
	if err != nil {
		return fmt.Errorf("failed to list stored machines: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan machine name: %w", err)
		}
		if !keep[name] {
			stale = append(stale, name)
		}
	}
	rows.Close()
	for _, name := range stale {
		if _, err := tx.ExecContext(ctx, DeleteMachine, name); err != nil {
			return fmt.Errorf("failed to delete machine %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LoadFleet reads every stored machine with its jobs, ready for
// Scheduler.Restore.
func (o *FleetOperations) LoadFleet(ctx context.Context) ([]*core.Machine, error) {
	stored, err := Machines.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := Jobs.ListJobs(ctx, "")
	if err != nil {
		return nil, err
	}

	byMachine := make(map[string][]*core.Job)
	for _, job := range jobs {
		byMachine[job.MachineName] = append(byMachine[job.MachineName], job)
	}

	fleet := make([]*core.Machine, 0, len(stored))
	for _, m := range stored {
		status, err := core.ParseMachineStatus(m.Status)
		if err != nil {
			return nil, fmt.Errorf("machine %s: %w", m.Name, err)
		}
		fleet = append(fleet, core.RestoredMachine(m.Name, status, byMachine[m.Name]))
	}
	return fleet, nil
}

type AdminOperations struct{}

func (o *AdminOperations) CreateAdmin(ctx context.Context, username, password string) error {
	if err := core.ValidateName("username", username); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if _, err := GetDB().ExecContext(ctx, InsertAdmin, username, string(hash)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAdminExists, username)
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

func (o *AdminOperations) GetAdmin(ctx context.Context, username string) (*Admin, error) {
	a, err := scanAdmin(GetDB().QueryRowContext(ctx, GetAdminByUsername, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return a, nil
}

// Authenticate checks a username and password pair. Unknown users and wrong
// passwords both report ErrInvalidLogin.
func (o *AdminOperations) Authenticate(ctx context.Context, username, password string) (*Admin, error) {
	a, err := o.GetAdmin(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidLogin
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidLogin
	}
	return a, nil
}

func (o *AdminOperations) ChangePassword(ctx context.Context, username, current, next string) error {
	if _, err := o.Authenticate(ctx, username, current); err != nil {
		return err
	}
	if len(next) < minPasswordLength {
		return ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if _, err := GetDB().ExecContext(ctx, UpdateAdminPassword, string(hash), username); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (o *AdminOperations) ListAdmins(ctx context.Context) ([]*Admin, error) {
	rows, err := GetDB().QueryContext(ctx, ListAdmins)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var admins []*Admin
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	return admins, rows.Err()
}

func (o *AdminOperations) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := GetDB().QueryRowContext(ctx, CountAdmins).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count admins: %w", err)
	}
	return count, nil
}

func scanAdmin(row rowScanner) (*Admin, error) {
	a := &Admin{}
	var created string
	if err := row.Scan(&a.Username, &a.PasswordHash, &created); err != nil {
		return nil, err
	}
	a.CreatedAt, _ = parseTime(created)
	return a, nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{}
	var updated string
	err := GetDB().QueryRowContext(ctx, GetSetting, key).Scan(&s.Key, &s.Value, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	s.UpdatedAt, _ = parseTime(updated)
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string) error {
	if _, err := GetDB().ExecContext(ctx, UpsertSetting, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (o *SettingsOperations) DeleteSetting(ctx context.Context, key string) error {
	if _, err := GetDB().ExecContext(ctx, DeleteSetting, key); err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}
	return nil
}

type AuditOperations struct{}

func (o *AuditOperations) Record(ctx context.Context, ev core.FocusEvent) error {
	_, err := GetDB().ExecContext(ctx, InsertAuditLog,
		string(ev.Action), ev.JobName, ev.MachineName, ev.Actor, formatTime(ev.At))
	if err != nil {
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

func (o *AuditOperations) ListAuditLogs(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, error) {
	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.JobName != "" {
		conditions = append(conditions, "job_name = ?")
		args = append(args, filter.JobName)
	}
	if filter.MachineName != "" {
		conditions = append(conditions, "machine_name = ?")
		args = append(args, filter.MachineName)
	}
	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}

	query := "SELECT id, action, job_name, machine_name, actor, created_at FROM audit_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		entry := &AuditLog{}
		var created string
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.JobName,
			&entry.MachineName, &entry.Actor, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entry.CreatedAt, _ = parseTime(created)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

type ArchiveOperations struct{}

// ArchiveJobs records jobs that have left the fleet.
func (o *ArchiveOperations) ArchiveJobs(ctx context.Context, jobs []*core.Job, reason string, at time.Time) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	for _, job := range jobs {
		tags, err := encodeTags(job.Tags)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, InsertArchivedJob,
			job.Name, job.MachineName, job.Owner,
			formatTime(job.AddedAt), formatTime(job.StartedAt),
			job.Priority.String(), string(job.Status), job.Duration, job.Note, tags,
			reason, formatTime(at)); err != nil {
			return fmt.Errorf("failed to archive job %s: %w", job.Name, err)
		}
	}
	return tx.Commit()
}

func (o *ArchiveOperations) ListArchivedJobs(ctx context.Context, filter ArchiveFilter) ([]*ArchivedJob, error) {
	var conditions []string
	var args []any

	if filter.MachineName != "" {
		conditions = append(conditions, "machine_name = ?")
		args = append(args, filter.MachineName)
	}
	if filter.Owner != "" {
		conditions = append(conditions, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Reason != "" {
		conditions = append(conditions, "reason = ?")
		args = append(args, filter.Reason)
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := "SELECT " + archivedJobColumns + " FROM archived_jobs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}
	defer rows.Close()
	return scanArchivedJobs(rows)
}

func (o *ArchiveOperations) ArchivedBefore(ctx context.Context, cutoff time.Time) ([]*ArchivedJob, error) {
	rows, err := GetDB().QueryContext(ctx, ListArchivedJobsBefore, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query archived jobs: %w", err)
	}
	defer rows.Close()
	return scanArchivedJobs(rows)
}

func (o *ArchiveOperations) DeleteArchivedJobs(ctx context.Context, ids []int64) error {
	tx, err := GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, DeleteArchivedJob, id); err != nil {
			return fmt.Errorf("failed to delete archived job %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func scanArchivedJobs(rows *sql.Rows) ([]*ArchivedJob, error) {
	var out []*ArchivedJob
	for rows.Next() {
		a := &ArchivedJob{}
		var added, started, archived, tagsJSON string
		if err := rows.Scan(&a.ID, &a.Name, &a.MachineName, &a.Owner, &added, &started,
			&a.Priority, &a.Status, &a.Duration, &a.Note, &tagsJSON, &a.Reason, &archived); err != nil {
			return nil, fmt.Errorf("failed to scan archived job: %w", err)
		}
		a.AddedAt, _ = parseTime(added)
		a.StartedAt, _ = parseTime(started)
		a.ArchivedAt, _ = parseTime(archived)
		if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
			return nil, fmt.Errorf("archived job %d: failed to decode tags: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var (
	Machines = &MachineOperations{}
	Jobs     = &JobOperations{}
	Fleet    = &FleetOperations{}
	Admins   = &AdminOperations{}
	Settings = &SettingsOperations{}
	Audit    = &AuditOperations{}
	Archive  = &ArchiveOperations{}
)
