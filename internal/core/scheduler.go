package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Options struct {
	Clock    Clock
	Notifier Notifier
	Logger   *slog.Logger
}

// Scheduler is the single entry point for reading and mutating the fleet.
// Every public method runs under one lock scoped to the whole registry, and
// every mutation validates fully before it changes anything.
type Scheduler struct {
	mu       sync.Mutex
	registry *Registry
	clock    Clock
	notifier Notifier
	logger   *slog.Logger
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		registry: NewRegistry(),
		clock:    opts.Clock,
		notifier: opts.Notifier,
		logger:   opts.Logger.With("component", "scheduler"),
	}
}

func authorize(caller Caller) error {
	if !caller.Authorized {
		return ErrUnauthorized
	}
	return nil
}

func (s *Scheduler) emit(action FocusAction, caller Caller, jobName, machineName string) {
	s.logger.Info("focus changed",
		"action", action, "job", jobName, "machine", machineName, "actor", caller.Identity)
	s.notifier.FocusChanged(FocusEvent{
		Action:      action,
		JobName:     jobName,
		MachineName: machineName,
		Actor:       caller.Identity,
		At:          s.clock.Now(),
	})
}

// ---- machines ----

func (s *Scheduler) AddMachine(caller Caller, name string, status MachineStatus) (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	m, err := NewMachine(name, status)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Add(m); err != nil {
		return nil, err
	}
	s.emit(ActionMachineAdded, caller, "", m.Name)
	return m.Clone(), nil
}

// RemoveMachine deletes an empty machine. Machines holding a running job
// report ErrJobOngoing; any other job must be flushed or cleaned first.
func (s *Scheduler) RemoveMachine(caller Caller, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return err
	}
	m, err := s.registry.Find(name)
	if err != nil {
		return err
	}
	if running := m.RunningJob(); running != nil {
		return fmt.Errorf("%w: %s is running on %s", ErrJobOngoing, running.Name, m.Name)
	}
	if m.Len() > 0 {
		return fmt.Errorf("%w: %s has %d jobs", ErrMachineNotEmpty, m.Name, m.Len())
	}
	if _, err := s.registry.Remove(name); err != nil {
		return err
	}
	s.emit(ActionMachineRemoved, caller, "", name)
	return nil
}

func (s *Scheduler) EnableMachine(caller Caller, name string) (*Machine, error) {
	return s.setMachineStatus(caller, name, MachineStatusEnabled, ActionMachineEnabled)
}

// DisableMachine stops further jobs from entering RUNNING on the machine. A
// job that is already running is left alone.
func (s *Scheduler) DisableMachine(caller Caller, name string) (*Machine, error) {
	return s.setMachineStatus(caller, name, MachineStatusDisabled, ActionMachineDisabled)
}

func (s *Scheduler) setMachineStatus(caller Caller, name string, status MachineStatus, action FocusAction) (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	m, err := s.registry.Find(name)
	if err != nil {
		return nil, err
	}
	m.Status = status
	s.emit(action, caller, "", m.Name)
	return m.Clone(), nil
}

// FlushMachine removes every job from the machine, running ones included,
// and returns copies of what was removed.
func (s *Scheduler) FlushMachine(caller Caller, name string) ([]*Job, error) {
	return s.purgeMachine(caller, name, (*Machine).Flush, ActionMachineFlushed)
}

// CleanMachine removes deleting, finished and cancelled jobs.
func (s *Scheduler) CleanMachine(caller Caller, name string) ([]*Job, error) {
	return s.purgeMachine(caller, name, (*Machine).Clean, ActionMachineCleaned)
}

func (s *Scheduler) purgeMachine(caller Caller, name string, purge func(*Machine) []*Job, action FocusAction) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	m, err := s.registry.Find(name)
	if err != nil {
		return nil, err
	}
	removed := purge(m)
	m.ReSort()
	s.emit(action, caller, "", m.Name)
	return removed, nil
}

// ---- jobs ----

// AddJob creates a queued job. An empty spec.MachineName assigns the job to
// the most free machine.
func (s *Scheduler) AddJob(caller Caller, spec JobSpec) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	var m *Machine
	var err error
	if spec.MachineName == "" {
		m, err = s.registry.MostFree()
	} else {
		m, err = s.registry.Find(spec.MachineName)
	}
	if err != nil {
		return nil, err
	}
	spec.MachineName = m.Name
	if spec.Owner == "" {
		spec.Owner = caller.Identity
	}
	job, err := NewJob(spec, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if _, _, err := s.registry.FindJob(job.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	if err := m.Add(job); err != nil {
		return nil, err
	}
	m.ReSort()
	s.emit(ActionJobAdded, caller, job.Name, m.Name)
	return job.Clone(), nil
}

func (s *Scheduler) StartJob(caller Caller, name string) (*Job, error) {
	return s.run(caller, name, ActionJobStarted, (*Job).Start)
}

// RestartJob re-enters RUNNING, typically from CANCELLED. It shares every
// precondition with StartJob.
func (s *Scheduler) RestartJob(caller Caller, name string) (*Job, error) {
	return s.run(caller, name, ActionJobRestarted, (*Job).Restart)
}

func (s *Scheduler) run(caller Caller, name string, action FocusAction, transition func(*Job, time.Time) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	job, m, err := s.registry.FindJob(name)
	if err != nil {
		return nil, err
	}
	if !m.IsEnabled() {
		return nil, fmt.Errorf("%w: %s", ErrMachineDisabled, m.Name)
	}
	if running := m.RunningJob(); running != nil && running != job {
		return nil, fmt.Errorf("%w: %s is already running on %s", ErrJobOngoing, running.Name, m.Name)
	}
	if err := transition(job, s.clock.Now()); err != nil {
		return nil, err
	}
	m.ReSort()
	s.emit(action, caller, job.Name, m.Name)
	return job.Clone(), nil
}

func (s *Scheduler) PauseJob(caller Caller, name string) (*Job, error) {
	return s.update(caller, name, ActionJobPaused, func(job *Job, _ *Machine) error {
		if job.Status != JobStatusRunning {
			return fmt.Errorf("%w: %s is %s", ErrJobNotStarted, job.Name, job.Status)
		}
		job.Pause()
		return nil
	})
}

func (s *Scheduler) CancelJob(caller Caller, name string) (*Job, error) {
	return s.update(caller, name, ActionJobCancelled, func(job *Job, _ *Machine) error {
		job.Cancel()
		return nil
	})
}

func (s *Scheduler) FinishJob(caller Caller, name string) (*Job, error) {
	return s.update(caller, name, ActionJobFinished, func(job *Job, _ *Machine) error {
		job.Finish()
		return nil
	})
}

// RequestDeletion marks the job DELETING. The job stays queued until it is
// deleted or its machine is cleaned.
func (s *Scheduler) RequestDeletion(caller Caller, name string) (*Job, error) {
	return s.update(caller, name, ActionJobDeletionMarked, func(job *Job, _ *Machine) error {
		job.RequestDeletion()
		return nil
	})
}

func (s *Scheduler) SetPriority(caller Caller, name string, p Priority) (*Job, error) {
	return s.update(caller, name, ActionJobUpdated, func(job *Job, _ *Machine) error {
		return job.SetPriority(p)
	})
}

// EditNote replaces the job note, or appends to it when appendNote is set.
func (s *Scheduler) EditNote(caller Caller, name, note string, appendNote bool) (*Job, error) {
	return s.update(caller, name, ActionJobUpdated, func(job *Job, _ *Machine) error {
		if appendNote {
			job.AddNote(note)
		} else {
			job.SetNote(note)
		}
		return nil
	})
}

// update applies a single-job mutation and re-sorts the owning queue. mutate
// must either fail without side effects or succeed.
func (s *Scheduler) update(caller Caller, name string, action FocusAction, mutate func(*Job, *Machine) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	job, m, err := s.registry.FindJob(name)
	if err != nil {
		return nil, err
	}
	if err := mutate(job, m); err != nil {
		return nil, err
	}
	m.ReSort()
	s.emit(action, caller, job.Name, m.Name)
	return job.Clone(), nil
}

// DeleteJob removes a job whose deletion was requested.
func (s *Scheduler) DeleteJob(caller Caller, name string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	job, m, err := s.registry.FindJob(name)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusDeleting {
		return nil, fmt.Errorf("%w: %s is %s", ErrDeletionNotRequested, job.Name, job.Status)
	}
	if _, err := m.Remove(job.Name); err != nil {
		return nil, err
	}
	m.ReSort()
	s.emit(ActionJobDeleted, caller, job.Name, m.Name)
	return job, nil
}

// SwapJobs exchanges two jobs between their queues (or within one queue) and
// re-sorts both. A single focus event names the second job on the machine it
// now occupies.
func (s *Scheduler) SwapJobs(caller Caller, nameA, nameB string) (*Job, *Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, nil, err
	}
	jobA, machineA, err := s.registry.FindJob(nameA)
	if err != nil {
		return nil, nil, err
	}
	jobB, machineB, err := s.registry.FindJob(nameB)
	if err != nil {
		return nil, nil, err
	}
	for _, job := range []*Job{jobA, jobB} {
		if job.Status == JobStatusRunning {
			return nil, nil, fmt.Errorf("%w: %s cannot be relocated", ErrJobOngoing, job.Name)
		}
	}

	if machineA == machineB {
		if err := machineA.exchange(jobA.Name, jobB.Name); err != nil {
			return nil, nil, err
		}
		machineA.ReSort()
	} else {
		if err := machineA.Replace(jobA, jobB); err != nil {
			return nil, nil, err
		}
		if err := machineB.Replace(jobB, jobA); err != nil {
			return nil, nil, err
		}
		machineA.ReSort()
		machineB.ReSort()
	}
	s.emit(ActionJobsSwapped, caller, jobB.Name, jobB.MachineName)
	return jobA.Clone(), jobB.Clone(), nil
}

// MoveJob reassigns a job that is not running to another machine.
func (s *Scheduler) MoveJob(caller Caller, name, target string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	job, source, err := s.registry.FindJob(name)
	if err != nil {
		return nil, err
	}
	if job.Status == JobStatusRunning {
		return nil, fmt.Errorf("%w: %s cannot be relocated", ErrJobOngoing, job.Name)
	}
	dest, err := s.registry.Find(target)
	if err != nil {
		return nil, err
	}
	return s.relocate(caller, job, source, dest)
}

// MoveToMostFree reassigns a job to the most free machine other than the one
// it is on.
func (s *Scheduler) MoveToMostFree(caller Caller, name string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	job, source, err := s.registry.FindJob(name)
	if err != nil {
		return nil, err
	}
	if job.Status == JobStatusRunning {
		return nil, fmt.Errorf("%w: %s cannot be relocated", ErrJobOngoing, job.Name)
	}
	dest, err := s.registry.MostFreeExcept(source.Name)
	if err != nil {
		return nil, err
	}
	return s.relocate(caller, job, source, dest)
}

func (s *Scheduler) relocate(caller Caller, job *Job, source, dest *Machine) (*Job, error) {
	if _, err := source.Remove(job.Name); err != nil {
		return nil, err
	}
	source.ReSort()
	if err := dest.Add(job); err != nil {
		_ = source.Add(job)
		source.ReSort()
		return nil, err
	}
	dest.ReSort()
	s.emit(ActionJobMoved, caller, job.Name, dest.Name)
	return job.Clone(), nil
}

// ShiftJob moves a job delta places within its queue as a manual override of
// the ordering policy. The queue is not re-sorted afterwards; the next add,
// removal or priority change on that machine restores policy order.
func (s *Scheduler) ShiftJob(caller Caller, name string, delta int) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(caller); err != nil {
		return nil, err
	}
	job, m, err := s.registry.FindJob(name)
	if err != nil {
		return nil, err
	}
	if job.Status == JobStatusRunning {
		return nil, fmt.Errorf("%w: %s cannot be reordered", ErrJobOngoing, job.Name)
	}
	if err := m.Shift(job.Name, delta); err != nil {
		return nil, err
	}
	s.emit(ActionJobShifted, caller, job.Name, m.Name)
	return job.Clone(), nil
}

// CheckFinished finishes every running job whose duration has elapsed and
// returns copies of them. Each finished job gets its own focus event.
func (s *Scheduler) CheckFinished() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var finished []*Job
	for _, m := range s.registry.List() {
		job := m.RunningJob()
		if job == nil {
			continue
		}
		done, err := job.IsFinished(now)
		if err != nil || !done {
			continue
		}
		job.Finish()
		m.ReSort()
		s.emit(ActionJobFinished, SystemCaller, job.Name, m.Name)
		finished = append(finished, job.Clone())
	}
	return finished
}

// ---- reads ----

func (s *Scheduler) FindJob(name string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, _, err := s.registry.FindJob(name)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

func (s *Scheduler) FindMachine(name string) (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.registry.Find(name)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// Machines returns a deep copy of every machine, ordered by name.
func (s *Scheduler) Machines() []*Machine {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.registry.List()
	out := make([]*Machine, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

func (s *Scheduler) Jobs(machine string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.registry.Find(machine)
	if err != nil {
		return nil, err
	}
	return m.Jobs(), nil
}

func (s *Scheduler) MostFreeMachine() (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.registry.MostFree()
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (s *Scheduler) TotalJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.TotalJobs()
}

func (s *Scheduler) IsTopJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, m, err := s.registry.FindJob(name)
	if err != nil {
		return false
	}
	return m.IsTopJob(name)
}

// Snapshot is Machines under the name the storage layer uses.
func (s *Scheduler) Snapshot() []*Machine {
	return s.Machines()
}

// Restore replaces the whole fleet with machines loaded from storage. The
// input is validated before anything is swapped in; queues are re-sorted and
// back-references rewritten. No focus events are emitted.
func (s *Scheduler) Restore(machines []*Machine) error {
	registry := NewRegistry()
	seenJobs := make(map[string]string)
	for _, src := range machines {
		m, err := NewMachine(src.Name, src.Status)
		if err != nil {
			return err
		}
		for _, job := range src.jobs {
			if owner, dup := seenJobs[job.Name]; dup {
				return fmt.Errorf("%w: %s on %s and %s", ErrDuplicateJob, job.Name, owner, m.Name)
			}
			seenJobs[job.Name] = m.Name
			if job.Status == JobStatusRunning {
				if running := m.RunningJob(); running != nil {
					return fmt.Errorf("%w: %s and %s both running on %s", ErrJobOngoing, running.Name, job.Name, m.Name)
				}
			}
			if err := m.Add(job.Clone()); err != nil {
				return err
			}
		}
		m.ReSort()
		if err := registry.Add(m); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = registry
	s.logger.Info("fleet restored", "machines", registry.Len(), "jobs", registry.TotalJobs())
	return nil
}

// RestoredMachine assembles a machine and its jobs for Restore.
func RestoredMachine(name string, status MachineStatus, jobs []*Job) *Machine {
	return &Machine{Name: name, Status: status, jobs: jobs}
}
