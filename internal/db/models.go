package db

import (
	"time"
)

type Machine struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	JobCount  int       `json:"job_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Admin struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArchivedJob is a job that has left the fleet through delete, clean or
// flush.
type ArchivedJob struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	MachineName string    `json:"machine_name"`
	Owner       string    `json:"owner"`
	AddedAt     time.Time `json:"added_at"`
	StartedAt   time.Time `json:"started_at"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Duration    int64     `json:"duration_minutes"`
	Note        string    `json:"note"`
	Tags        []string  `json:"tags"`
	Reason      string    `json:"reason"`
	ArchivedAt  time.Time `json:"archived_at"`
}

type ArchiveFilter struct {
	MachineName string
	Owner       string
	Reason      string
	Limit       int
	Offset      int
}

type AuditLog struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	JobName     string    `json:"job_name,omitempty"`
	MachineName string    `json:"machine_name,omitempty"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
}

type AuditFilter struct {
	Action      string
	JobName     string
	MachineName string
	Actor       string
}
