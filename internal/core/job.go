package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityNormal: "NORMAL",
	PriorityHigh:   "HIGH",
	PriorityUrgent: "URGENT",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "URGENT":
		return PriorityUrgent, nil
	case "HIGH":
		return PriorityHigh, nil
	case "NORMAL", "":
		return PriorityNormal, nil
	}
	return PriorityNormal, invalidField("priority", s, "must be URGENT, HIGH or NORMAL")
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, invalidField("priority", p.String(), "unknown priority")
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusPaused    JobStatus = "PAUSED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusFinished  JobStatus = "FINISHED"
	JobStatusDeleting  JobStatus = "DELETING"
)

func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case JobStatusQueued, JobStatusRunning, JobStatusPaused,
		JobStatusCancelled, JobStatusFinished, JobStatusDeleting:
		return status, nil
	}
	return "", invalidField("status", s, "unknown job status")
}

// Removable reports whether a clean pass may drop a job in this status.
func (s JobStatus) Removable() bool {
	return s == JobStatusDeleting || s == JobStatusFinished || s == JobStatusCancelled
}

const noteSeparator = "; \n"

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Job is a single print task. The zero value is not usable; build jobs with
// NewJob or RecoverJob.
type Job struct {
	Name        string
	Owner       string
	MachineName string
	AddedAt     time.Time
	StartedAt   time.Time
	Priority    Priority
	Status      JobStatus
	Duration    int64
	Note        string
	Tags        []string
}

type JobSpec struct {
	Name        string
	MachineName string
	Owner       string
	Priority    Priority
	Duration    int64
	Note        string
	Tags        []string
}

// JobRecord carries every persisted field of a job.
type JobRecord struct {
	Name        string
	Owner       string
	MachineName string
	AddedAt     time.Time
	StartedAt   time.Time
	Priority    Priority
	Status      JobStatus
	Duration    int64
	Note        string
	Tags        []string
}

// NewJob creates a QUEUED job stamped with now.
func NewJob(spec JobSpec, now time.Time) (*Job, error) {
	tags, err := validateJobFields(spec.Name, spec.MachineName, spec.Owner, spec.Priority, spec.Duration, spec.Tags)
	if err != nil {
		return nil, err
	}
	return &Job{
		Name:        spec.Name,
		Owner:       spec.Owner,
		MachineName: spec.MachineName,
		AddedAt:     now,
		StartedAt:   now,
		Priority:    spec.Priority,
		Status:      JobStatusQueued,
		Duration:    spec.Duration,
		Note:        spec.Note,
		Tags:        tags,
	}, nil
}

// RecoverJob rebuilds a job from storage, keeping its status and timestamps.
func RecoverJob(rec JobRecord) (*Job, error) {
	tags, err := validateJobFields(rec.Name, rec.MachineName, rec.Owner, rec.Priority, rec.Duration, rec.Tags)
	if err != nil {
		return nil, err
	}
	status, err := ParseJobStatus(string(rec.Status))
	if err != nil {
		return nil, err
	}
	if rec.AddedAt.IsZero() {
		return nil, invalidField("added time", "", "must be set")
	}
	return &Job{
		Name:        rec.Name,
		Owner:       rec.Owner,
		MachineName: rec.MachineName,
		AddedAt:     rec.AddedAt,
		StartedAt:   rec.StartedAt,
		Priority:    rec.Priority,
		Status:      status,
		Duration:    rec.Duration,
		Note:        rec.Note,
		Tags:        tags,
	}, nil
}

func validateJobFields(name, machine, owner string, priority Priority, duration int64, tags []string) ([]string, error) {
	if err := ValidateName("job name", name); err != nil {
		return nil, err
	}
	if err := ValidateName("machine name", machine); err != nil {
		return nil, err
	}
	if strings.TrimSpace(owner) == "" {
		return nil, invalidField("owner", owner, "must not be blank")
	}
	if !priority.Valid() {
		return nil, invalidField("priority", priority.String(), "must be URGENT, HIGH or NORMAL")
	}
	if duration < 0 {
		return nil, invalidField("duration", fmt.Sprint(duration), "must not be negative")
	}
	return normalizeTags(tags)
}

// ValidateName checks the alphanumeric token rule shared by job and machine
// names.
func ValidateName(field, name string) error {
	if !tokenPattern.MatchString(name) {
		return invalidField(field, name, "must be a non-empty alphanumeric token")
	}
	return nil
}

func normalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if !tokenPattern.MatchString(tag) {
			return nil, invalidField("tag", tag, "must be a non-empty alphanumeric token")
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}

// Start moves the job into RUNNING. Machine-level preconditions are checked
// by the owning machine.
func (j *Job) Start(now time.Time) error {
	switch j.Status {
	case JobStatusQueued, JobStatusPaused, JobStatusCancelled:
	case JobStatusRunning:
		return fmt.Errorf("%w: %s", ErrJobOngoing, j.Name)
	default:
		return fmt.Errorf("%w: cannot start %s job %s", ErrInvalidTransition, j.Status, j.Name)
	}
	j.Status = JobStatusRunning
	j.StartedAt = now
	return nil
}

func (j *Job) Restart(now time.Time) error {
	return j.Start(now)
}

func (j *Job) Pause() {
	j.Status = JobStatusPaused
}

func (j *Job) Cancel() {
	j.Status = JobStatusCancelled
}

func (j *Job) Finish() {
	j.Status = JobStatusFinished
}

func (j *Job) RequestDeletion() {
	j.Status = JobStatusDeleting
}

// IsFinished reports whether a running job has outlived its duration.
func (j *Job) IsFinished(now time.Time) (bool, error) {
	if j.Status != JobStatusRunning {
		return false, fmt.Errorf("%w: %s is %s", ErrJobNotStarted, j.Name, j.Status)
	}
	return now.Sub(j.StartedAt) > j.DurationTime(), nil
}

func (j *Job) DurationTime() time.Duration {
	return time.Duration(j.Duration) * time.Minute
}

func (j *Job) SetNote(note string) {
	j.Note = note
}

func (j *Job) AddNote(addition string) {
	if j.Note == "" {
		j.Note = addition
		return
	}
	j.Note = j.Note + noteSeparator + addition
}

func (j *Job) SetPriority(p Priority) error {
	if !p.Valid() {
		return invalidField("priority", p.String(), "must be URGENT, HIGH or NORMAL")
	}
	j.Priority = p
	return nil
}

// IsSameJob compares identity only: two records denote the same job when
// their names match.
func (j *Job) IsSameJob(other *Job) bool {
	if other == nil {
		return false
	}
	return j.Name == other.Name
}

// IsIdentical compares the fields that survive a storage round trip. Added
// times match to the second.
func (j *Job) IsIdentical(other *Job) bool {
	if other == nil {
		return false
	}
	return j.Name == other.Name &&
		j.MachineName == other.MachineName &&
		j.Owner == other.Owner &&
		j.AddedAt.Truncate(time.Second).Equal(other.AddedAt.Truncate(time.Second))
}

func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (j *Job) Clone() *Job {
	c := *j
	c.Tags = append([]string(nil), j.Tags...)
	return &c
}

func (j *Job) Record() JobRecord {
	return JobRecord{
		Name:        j.Name,
		Owner:       j.Owner,
		MachineName: j.MachineName,
		AddedAt:     j.AddedAt,
		StartedAt:   j.StartedAt,
		Priority:    j.Priority,
		Status:      j.Status,
		Duration:    j.Duration,
		Note:        j.Note,
		Tags:        append([]string(nil), j.Tags...),
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s on %s (%s, %s)", j.Name, j.MachineName, j.Priority, j.Status)
}
