package core

import (
	"time"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Caller is the authorization fact supplied by the session layer for a
// single operation.
type Caller struct {
	Identity   string
	Authorized bool
}

// SystemCaller is used for mutations the scheduler performs on its own
// behalf, such as finishing jobs whose duration has elapsed.
var SystemCaller = Caller{Identity: "system", Authorized: true}

type FocusAction string

const (
	ActionJobAdded          FocusAction = "job_added"
	ActionJobStarted        FocusAction = "job_started"
	ActionJobRestarted      FocusAction = "job_restarted"
	ActionJobPaused         FocusAction = "job_paused"
	ActionJobCancelled      FocusAction = "job_cancelled"
	ActionJobFinished       FocusAction = "job_finished"
	ActionJobDeletionMarked FocusAction = "job_deletion_requested"
	ActionJobDeleted        FocusAction = "job_deleted"
	ActionJobsSwapped       FocusAction = "jobs_swapped"
	ActionJobMoved          FocusAction = "job_moved"
	ActionJobShifted        FocusAction = "job_shifted"
	ActionJobUpdated        FocusAction = "job_updated"
	ActionMachineAdded      FocusAction = "machine_added"
	ActionMachineRemoved    FocusAction = "machine_removed"
	ActionMachineEnabled    FocusAction = "machine_enabled"
	ActionMachineDisabled   FocusAction = "machine_disabled"
	ActionMachineFlushed    FocusAction = "machine_flushed"
	ActionMachineCleaned    FocusAction = "machine_cleaned"
)

// FocusEvent names the (job, machine) pair an observer should highlight
// after a mutation. JobName is empty for machine-level operations.
type FocusEvent struct {
	Action      FocusAction `json:"action"`
	JobName     string      `json:"job_name,omitempty"`
	MachineName string      `json:"machine_name"`
	Actor       string      `json:"actor"`
	At          time.Time   `json:"at"`
}

type Notifier interface {
	FocusChanged(ev FocusEvent)
}

type NotifierFunc func(ev FocusEvent)

func (f NotifierFunc) FocusChanged(ev FocusEvent) {
	f(ev)
}

// MultiNotifier fans an event out to every non-nil notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) FocusChanged(ev FocusEvent) {
	for _, n := range m {
		if n != nil {
			n.FocusChanged(ev)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) FocusChanged(FocusEvent) {}
