package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orrn/makerspool/internal/core"
	"github.com/orrn/makerspool/internal/db"
)

// Fleet is the part of the scheduler the tracker drives.
type Fleet interface {
	CheckFinished() []*core.Job
	Snapshot() []*core.Machine
}

type Config struct {
	FinishCheckInterval time.Duration
	SnapshotInterval    time.Duration
	BufferSize          int
	Logger              *slog.Logger
}

// Tracker is the scheduler's persistence companion. It records every focus
// event in the audit log, periodically finishes overdue jobs, and writes a
// fleet snapshot whenever something changed since the last one.
//
// FocusChanged is called with the scheduler lock held, so it only hands the
// event to the tracker goroutine and never calls back into the scheduler.
type Tracker struct {
	finishInterval   time.Duration
	snapshotInterval time.Duration
	events           chan core.FocusEvent
	dirty            atomic.Bool
	logger           *slog.Logger
	stopCh           chan struct{}
	wg               sync.WaitGroup
	saveMu           sync.Mutex
	fleet            Fleet
}

func New(cfg Config) *Tracker {
	if cfg.FinishCheckInterval <= 0 {
		cfg.FinishCheckInterval = 30 * time.Second
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Minute
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{
		finishInterval:   cfg.FinishCheckInterval,
		snapshotInterval: cfg.SnapshotInterval,
		events:           make(chan core.FocusEvent, cfg.BufferSize),
		logger:           cfg.Logger.With("component", "tracker"),
		stopCh:           make(chan struct{}),
	}
}

func (t *Tracker) FocusChanged(ev core.FocusEvent) {
	t.dirty.Store(true)
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("event buffer full, audit entry dropped", "action", ev.Action, "job", ev.JobName)
	}
}

func (t *Tracker) Start(fleet Fleet) {
	t.fleet = fleet
	t.wg.Add(1)
	go t.loop()
}

// Stop drains pending events and writes a final snapshot.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Tracker) loop() {
	defer t.wg.Done()

	finish := time.NewTicker(t.finishInterval)
	defer finish.Stop()
	snapshot := time.NewTicker(t.snapshotInterval)
	defer snapshot.Stop()

	for {
		select {
		case <-t.stopCh:
			t.drain()
			if err := t.Save(context.Background()); err != nil {
				t.logger.Error("final snapshot failed", "error", err)
			}
			return
		case ev := <-t.events:
			t.record(ev)
		case <-finish.C:
			if done := t.fleet.CheckFinished(); len(done) > 0 {
				t.logger.Info("jobs finished", "count", len(done))
			}
		case <-snapshot.C:
			if err := t.Save(context.Background()); err != nil {
				t.logger.Error("snapshot failed", "error", err)
			}
		}
	}
}

func (t *Tracker) drain() {
	for {
		select {
		case ev := <-t.events:
			t.record(ev)
		default:
			return
		}
	}
}

func (t *Tracker) record(ev core.FocusEvent) {
	if err := db.Audit.Record(context.Background(), ev); err != nil {
		t.logger.Error("audit write failed", "action", ev.Action, "job", ev.JobName, "error", err)
	}
}

// Save persists the fleet if anything changed since the previous save.
func (t *Tracker) Save(ctx context.Context) error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	if !t.dirty.Swap(false) {
		return nil
	}
	if err := db.Fleet.SaveSnapshot(ctx, t.fleet.Snapshot()); err != nil {
		t.dirty.Store(true)
		return err
	}
	t.logger.Debug("fleet snapshot saved")
	return nil
}
