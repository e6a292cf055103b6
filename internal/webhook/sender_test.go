package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orrn/makerspool/internal/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSenderDeliversSignedPayload(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSender(Config{
		Targets: []Target{{URL: srv.URL, Secret: "s3cret"}},
		Logger:  quietLogger(),
	})
	s.Start()
	defer s.Stop()

	ev := core.FocusEvent{
		Action:      core.ActionJobMoved,
		JobName:     "print1",
		MachineName: "printerB",
		Actor:       "alice",
		At:          time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	s.FocusChanged(ev)

	var req *http.Request
	select {
	case req = <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery")
	}
	body := <-bodies

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Event != string(core.ActionJobMoved) || payload.Data.JobName != "print1" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.ID == "" || req.Header.Get(HeaderDelivery) != payload.ID {
		t.Fatalf("delivery id header %q, payload %q", req.Header.Get(HeaderDelivery), payload.ID)
	}

	data, _ := json.Marshal(ev)
	if want := Sign(data, "s3cret"); req.Header.Get(HeaderSignature) != want {
		t.Fatalf("signature = %q, want %q", req.Header.Get(HeaderSignature), want)
	}
}

func TestSenderRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(Config{
		Targets:    []Target{{URL: srv.URL}},
		RetryCount: 3,
		RetryDelay: 5 * time.Millisecond,
		Logger:     quietLogger(),
	})
	s.Start()
	defer s.Stop()

	s.FocusChanged(core.FocusEvent{Action: core.ActionJobStarted, JobName: "j1", MachineName: "m1"})
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 3 })
}

func TestSenderDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	s := NewSender(Config{
		Targets:    []Target{{URL: srv.URL}},
		RetryCount: 3,
		RetryDelay: 5 * time.Millisecond,
		Logger:     quietLogger(),
	})
	s.Start()

	s.FocusChanged(core.FocusEvent{Action: core.ActionJobStarted, JobName: "j1", MachineName: "m1"})
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 1 })
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestTargetEventFilter(t *testing.T) {
	s := NewSender(Config{
		Targets: []Target{
			{URL: "http://a.invalid", Events: []string{"job_finished"}},
			{URL: "http://b.invalid"},
		},
		QueueSize: 10,
		Logger:    quietLogger(),
	})

	s.FocusChanged(core.FocusEvent{Action: core.ActionJobAdded})
	if len(s.queue) != 1 {
		t.Fatalf("queued %d deliveries, want 1", len(s.queue))
	}
	s.FocusChanged(core.FocusEvent{Action: core.ActionJobFinished})
	if len(s.queue) != 3 {
		t.Fatalf("queued %d deliveries, want 3", len(s.queue))
	}
}

func TestFocusChangedDropsWhenFull(t *testing.T) {
	s := NewSender(Config{
		Targets:   []Target{{URL: "http://a.invalid"}},
		QueueSize: 1,
		Logger:    quietLogger(),
	})
	s.FocusChanged(core.FocusEvent{Action: core.ActionJobAdded})
	s.FocusChanged(core.FocusEvent{Action: core.ActionJobAdded})
	if len(s.queue) != 1 {
		t.Fatalf("queue length = %d", len(s.queue))
	}
}

func TestPing(t *testing.T) {
	events := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events <- r.Header.Get(HeaderEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(Config{
		Targets: []Target{{URL: srv.URL, Events: []string{"job_finished"}}},
		Logger:  quietLogger(),
	})
	if err := s.Ping(context.Background(), 0, "alice"); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got := <-events; got != EventPing {
		t.Fatalf("event header = %q", got)
	}
	if err := s.Ping(context.Background(), 3, "alice"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}
