package handlers

import (
	"time"

	"github.com/orrn/makerspool/internal/core"
)

type JobResponse struct {
	Name        string     `json:"name"`
	MachineName string     `json:"machine_name"`
	Owner       string     `json:"owner"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	Duration    int64      `json:"duration_minutes"`
	Note        string     `json:"note"`
	Tags        []string   `json:"tags"`
	AddedAt     time.Time  `json:"added_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ExpectedEnd *time.Time `json:"expected_end,omitempty"`
}

type MachineResponse struct {
	Name             string        `json:"name"`
	Status           string        `json:"status"`
	JobCount         int           `json:"job_count"`
	RemainingMinutes int64         `json:"remaining_minutes"`
	RunningJob       string        `json:"running_job,omitempty"`
	Jobs             []JobResponse `json:"jobs,omitempty"`
}

func jobToResponse(job *core.Job) JobResponse {
	resp := JobResponse{
		Name:        job.Name,
		MachineName: job.MachineName,
		Owner:       job.Owner,
		Priority:    job.Priority.String(),
		Status:      string(job.Status),
		Duration:    job.Duration,
		Note:        job.Note,
		Tags:        job.Tags,
		AddedAt:     job.AddedAt,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if !job.StartedAt.IsZero() {
		started := job.StartedAt
		resp.StartedAt = &started
		if job.Status == core.JobStatusRunning {
			end := started.Add(job.DurationTime())
			resp.ExpectedEnd = &end
		}
	}
	return resp
}

func jobsToResponse(jobs []*core.Job) []JobResponse {
	out := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobToResponse(job))
	}
	return out
}

func machineToResponse(m *core.Machine, withJobs bool) MachineResponse {
	resp := MachineResponse{
		Name:             m.Name,
		Status:           string(m.Status),
		JobCount:         m.Len(),
		RemainingMinutes: m.RemainingDuration(),
	}
	if running := m.RunningJob(); running != nil {
		resp.RunningJob = running.Name
	}
	if withJobs {
		resp.Jobs = jobsToResponse(m.Jobs())
	}
	return resp
}
