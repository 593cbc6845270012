// Package connwatch tracks whether the services hassist depends on are
// reachable: Home Assistant, the LLM provider and the MQTT broker.
//
// httpkit retries sub-second dial errors inside a single request. This
// package covers longer outages. Each service is probed on its own
// goroutine: every Interval while healthy, and on a doubling backoff
// (MinBackoff up to MaxBackoff) while it is failing. Transitions between
// up and down are logged and reported to OnChange.
package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Probe checks one service. nil means healthy.
type Probe func(ctx context.Context) error

// Schedule controls probe timing. Zero fields take the defaults.
type Schedule struct {
	Interval   time.Duration // between probes while healthy (60s)
	MinBackoff time.Duration // first retry after a failure (2s)
	MaxBackoff time.Duration // backoff ceiling (60s)
	Timeout    time.Duration // per probe (10s)
}

func (s Schedule) withDefaults() Schedule {
	if s.Interval <= 0 {
		s.Interval = 60 * time.Second
	}
	if s.MinBackoff <= 0 {
		s.MinBackoff = 2 * time.Second
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = 60 * time.Second
	}
	if s.MaxBackoff < s.MinBackoff {
		s.MaxBackoff = s.MinBackoff
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	return s
}

// Service is one watched dependency.
type Service struct {
	Name  string
	Probe Probe

	// OnChange is called after every up/down transition, including the
	// first probe result. It runs on the watcher goroutine and must not
	// block for long.
	OnChange func(up bool, err error)
}

// Status is the last known state of a service, shaped for the health
// endpoint.
type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Checked   time.Time `json:"checked"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

// ErrDuplicate is returned by Watch when a name is already watched.
var ErrDuplicate = errors.New("connwatch: service already watched")

// Monitor runs watchers for a set of services.
type Monitor struct {
	schedule Schedule
	logger   *slog.Logger

	mu     sync.RWMutex
	status map[string]Status
	wg     sync.WaitGroup
	cancel []context.CancelFunc
}

// NewMonitor creates an empty monitor.
func NewMonitor(schedule Schedule, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		schedule: schedule.withDefaults(),
		logger:   logger,
		status:   make(map[string]Status),
	}
}

// Watch starts probing svc immediately. It stops when ctx is cancelled
// or Stop is called.
func (m *Monitor) Watch(ctx context.Context, svc Service) error {
	if svc.Name == "" || svc.Probe == nil {
		return errors.New("connwatch: service needs a name and a probe")
	}

	m.mu.Lock()
	if _, ok := m.status[svc.Name]; ok {
		m.mu.Unlock()
		return ErrDuplicate
	}
	m.status[svc.Name] = Status{Name: svc.Name}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = append(m.cancel, cancel)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, svc)
	}()
	return nil
}

func (m *Monitor) run(ctx context.Context, svc Service) {
	logger := m.logger.With("service", svc.Name)
	backoff := m.schedule.MinBackoff
	first := true

	for {
		err := m.probe(ctx, svc.Probe)
		if ctx.Err() != nil {
			return
		}

		prev := m.record(svc.Name, err)
		changed := first || prev.Up != (err == nil)
		first = false

		var wait time.Duration
		if err == nil {
			backoff = m.schedule.MinBackoff
			wait = m.schedule.Interval
			if changed {
				logger.Info("service up")
			}
		} else {
			wait = backoff
			backoff = min(backoff*2, m.schedule.MaxBackoff)
			if changed {
				logger.Warn("service down", "error", err)
			} else {
				logger.Debug("service still down", "error", err, "retry_in", wait)
			}
		}
		if changed && svc.OnChange != nil {
			svc.OnChange(err == nil, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) probe(ctx context.Context, p Probe) error {
	ctx, cancel := context.WithTimeout(ctx, m.schedule.Timeout)
	defer cancel()
	return p(ctx)
}

// record stores a probe result and returns the previous status.
func (m *Monitor) record(name string, err error) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.status[name]
	next := Status{Name: name, Up: err == nil, Checked: time.Now()}
	if err != nil {
		next.LastError = err.Error()
		next.Failures = prev.Failures + 1
	}
	m.status[name] = next
	return prev
}

// Up reports whether name answered its last probe.
func (m *Monitor) Up(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status[name].Up
}

// Status returns a copy of every service's status.
func (m *Monitor) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.status)
}

// Stop cancels every watcher and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancels := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	m.wg.Wait()
}
