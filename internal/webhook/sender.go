package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/makerspool/internal/core"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// EventPing is only sent by Ping and ignores target event filters.
const EventPing = "ping"

var (
	ErrUnknownTarget = errors.New("unknown webhook target")
	errShutdown      = errors.New("shutdown requested")
)

type Payload struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      core.FocusEvent `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

type Target struct {
	URL    string
	Secret string
	// Events limits delivery to the listed focus actions; empty means all.
	Events []string
}

func (t Target) wants(action core.FocusAction) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == string(action) {
			return true
		}
	}
	return false
}

type Config struct {
	Targets     []Target
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
	Logger      *slog.Logger
}

type task struct {
	target  Target
	payload *Payload
	attempt int
}

// Sender delivers focus events to HTTP endpoints from a pool of workers.
// FocusChanged never blocks: when the queue is full the delivery is dropped
// and logged.
type Sender struct {
	targets    []Target
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *task
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     *slog.Logger
}

func NewSender(config Config) *Sender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Sender{
		targets: config.Targets,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount: config.RetryCount,
		retryDelay: config.RetryDelay,
		workers:    config.WorkerCount,
		queue:      make(chan *task, config.QueueSize),
		stopCh:     make(chan struct{}),
		logger:     config.Logger.With("component", "webhook"),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *Sender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sender) FocusChanged(ev core.FocusEvent) {
	for _, target := range s.targets {
		if !target.wants(ev.Action) {
			continue
		}
		t := &task{
			target: target,
			payload: &Payload{
				ID:        uuid.NewString(),
				Event:     string(ev.Action),
				Timestamp: ev.At,
				Data:      ev,
			},
		}

		select {
		case s.queue <- t:
		default:
			s.logger.Warn("queue full, dropping delivery", "url", target.URL, "event", ev.Action)
		}
	}
}

func (s *Sender) Targets() []Target {
	out := make([]Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// Ping delivers a single "ping" event to the target at index synchronously,
// without retries, and reports the outcome.
func (s *Sender) Ping(ctx context.Context, index int, actor string) error {
	if index < 0 || index >= len(s.targets) {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, index)
	}
	payload := &Payload{
		ID:        uuid.NewString(),
		Event:     EventPing,
		Timestamp: time.Now(),
		Data:      core.FocusEvent{Action: EventPing, Actor: actor, At: time.Now()},
	}
	return s.sendRequest(ctx, s.targets[index], payload)
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.logger.Error("delivery failed",
					"worker", id, "url", t.target.URL, "event", t.payload.Event,
					"delivery", t.payload.ID, "attempts", t.attempt, "error", err)
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < s.retryCount {
		t.attempt++

		err := s.sendRequest(context.Background(), t.target, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			s.logger.Warn("client error, not retrying", "url", t.target.URL, "error", err)
			return err
		}

		if t.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			s.logger.Info("retrying delivery",
				"attempt", t.attempt, "max", s.retryCount, "url", t.target.URL, "backoff", backoff, "error", err)

			select {
			case <-s.stopCh:
				return errShutdown
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func (s *Sender) sendRequest(ctx context.Context, target Target, payload *Payload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if target.Secret != "" {
		payload.Signature = Sign(dataBytes, target.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, payload.Signature)
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderDelivery, payload.ID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret, as sent in the
// signature header.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 400 && se.code < 500
	}
	return false
}
