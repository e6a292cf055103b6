package core

import (
	"fmt"
	"strings"
)

type MachineStatus string

const (
	MachineStatusEnabled  MachineStatus = "ENABLED"
	MachineStatusDisabled MachineStatus = "DISABLED"
)

func ParseMachineStatus(s string) (MachineStatus, error) {
	switch MachineStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case MachineStatusEnabled, "":
		return MachineStatusEnabled, nil
	case MachineStatusDisabled:
		return MachineStatusDisabled, nil
	}
	return "", invalidField("machine status", s, "must be ENABLED or DISABLED")
}

// Machine owns an ordered queue of jobs. It is not safe for concurrent use;
// the Scheduler serialises access.
type Machine struct {
	Name   string
	Status MachineStatus
	jobs   []*Job
}

func NewMachine(name string, status MachineStatus) (*Machine, error) {
	if err := ValidateName("machine name", name); err != nil {
		return nil, err
	}
	if status == "" {
		status = MachineStatusEnabled
	}
	if status != MachineStatusEnabled && status != MachineStatusDisabled {
		return nil, invalidField("machine status", string(status), "must be ENABLED or DISABLED")
	}
	return &Machine{Name: name, Status: status}, nil
}

func (m *Machine) IsEnabled() bool {
	return m.Status == MachineStatusEnabled
}

func (m *Machine) Len() int {
	return len(m.jobs)
}

// Add appends job to the end of the queue and points its back-reference at
// this machine. Callers re-sort afterwards.
func (m *Machine) Add(job *Job) error {
	if m.indexOf(job.Name) >= 0 {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateJob, job.Name, m.Name)
	}
	job.MachineName = m.Name
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *Machine) Remove(name string) (*Job, error) {
	i := m.indexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrJobNotFound, name, m.Name)
	}
	job := m.jobs[i]
	m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
	return job, nil
}

// Replace substitutes replacement for old at old's position.
func (m *Machine) Replace(old, replacement *Job) error {
	i := m.indexOf(old.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s on %s", ErrJobNotFound, old.Name, m.Name)
	}
	if old.Name != replacement.Name && m.indexOf(replacement.Name) >= 0 {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateJob, replacement.Name, m.Name)
	}
	replacement.MachineName = m.Name
	m.jobs[i] = replacement
	return nil
}

// Shift moves the named job delta positions (negative is towards the front),
// clamping at either end of the queue. The result is deliberately left
// unsorted.
func (m *Machine) Shift(name string, delta int) error {
	from := m.indexOf(name)
	if from < 0 {
		return fmt.Errorf("%w: %s on %s", ErrJobNotFound, name, m.Name)
	}
	to := from + delta
	if to < 0 {
		to = 0
	}
	if to > len(m.jobs)-1 {
		to = len(m.jobs) - 1
	}
	if to == from {
		return nil
	}
	job := m.jobs[from]
	if to < from {
		copy(m.jobs[to+1:from+1], m.jobs[to:from])
	} else {
		copy(m.jobs[from:to], m.jobs[from+1:to+1])
	}
	m.jobs[to] = job
	return nil
}

func (m *Machine) exchange(a, b string) error {
	i, j := m.indexOf(a), m.indexOf(b)
	if i < 0 {
		return fmt.Errorf("%w: %s on %s", ErrJobNotFound, a, m.Name)
	}
	if j < 0 {
		return fmt.Errorf("%w: %s on %s", ErrJobNotFound, b, m.Name)
	}
	m.jobs[i], m.jobs[j] = m.jobs[j], m.jobs[i]
	return nil
}

func (m *Machine) ReSort() {
	SortJobs(m.jobs)
}

// Flush empties the queue regardless of job status and returns what it
// removed.
func (m *Machine) Flush() []*Job {
	removed := m.jobs
	m.jobs = nil
	return removed
}

// Clean drops deleting, finished and cancelled jobs and returns them.
func (m *Machine) Clean() []*Job {
	var removed []*Job
	kept := m.jobs[:0]
	for _, job := range m.jobs {
		if job.Status.Removable() {
			removed = append(removed, job)
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(m.jobs); i++ {
		m.jobs[i] = nil
	}
	m.jobs = kept
	return removed
}

func (m *Machine) Find(name string) (*Job, bool) {
	i := m.indexOf(name)
	if i < 0 {
		return nil, false
	}
	return m.jobs[i], true
}

func (m *Machine) RunningJob() *Job {
	for _, job := range m.jobs {
		if job.Status == JobStatusRunning {
			return job
		}
	}
	return nil
}

// RemainingDuration sums the durations, in minutes, of jobs that still have
// printing ahead of them.
func (m *Machine) RemainingDuration() int64 {
	var total int64
	for _, job := range m.jobs {
		if job.Status.Removable() {
			continue
		}
		total += job.Duration
	}
	return total
}

func (m *Machine) IsTopJob(name string) bool {
	return len(m.jobs) > 0 && m.jobs[0].Name == name
}

// Jobs returns copies of the queued jobs in queue order.
func (m *Machine) Jobs() []*Job {
	out := make([]*Job, len(m.jobs))
	for i, job := range m.jobs {
		out[i] = job.Clone()
	}
	return out
}

func (m *Machine) Clone() *Machine {
	return &Machine{
		Name:   m.Name,
		Status: m.Status,
		jobs:   m.Jobs(),
	}
}

func (m *Machine) indexOf(name string) int {
	for i, job := range m.jobs {
		if job.Name == name {
			return i
		}
	}
	return -1
}
